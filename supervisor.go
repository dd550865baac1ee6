package tokenflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrDuplicateTask is returned by Supervisor.Add for an id already tracked.
var ErrDuplicateTask = errors.New("tokenflow: task already supervised")

// Supervisor tracks many running tasks and controls them uniformly through
// the ManagedTask surface.
//
// Typical usage:
//
//	sup := tokenflow.NewSupervisor(logger)
//	_ = sup.Add(machineA)
//	_ = sup.Add(machineB)
//	...
//	results := sup.StopAll(ctx, "shutdown")
type Supervisor struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tasks map[string]ManagedTask
}

// NewSupervisor returns an empty Supervisor. If logger is nil,
// slog.Default() is used.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{logger: logger, tasks: make(map[string]ManagedTask)}
}

// Add starts tracking task under its TaskID.
func (s *Supervisor) Add(task ManagedTask) error {
	if task == nil {
		return errors.New("tokenflow: task is required")
	}
	id := task.TaskID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	s.tasks[id] = task
	return nil
}

// Remove stops tracking taskID without stopping it. It reports whether the
// task was tracked.
func (s *Supervisor) Remove(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[taskID]
	delete(s.tasks, taskID)
	return ok
}

// Get returns the task tracked under taskID.
func (s *Supervisor) Get(taskID string) (ManagedTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	return t, ok
}

// Len returns the number of tracked tasks.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// TaskIDs returns the tracked ids in sorted order.
func (s *Supervisor) TaskIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// States returns the current state of every tracked task.
func (s *Supervisor) States() map[string]RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]RunState, len(s.tasks))
	for id, t := range s.tasks {
		out[id] = t.State()
	}
	return out
}

func (s *Supervisor) snapshot() []ManagedTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ManagedTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// PauseAll requests a pause of every tracked task concurrently and reports
// per task whether the pause was accepted.
func (s *Supervisor) PauseAll(ctx context.Context) map[string]bool {
	tasks := s.snapshot()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]bool, len(tasks))
	)
	wg.Add(len(tasks))
	for _, t := range tasks {
		go func() {
			defer wg.Done()
			ok := t.RequestPause(ctx)
			if !ok {
				s.logger.DebugContext(ctx, "pause rejected",
					slog.String("task_id", t.TaskID()),
					slog.String("state", string(t.State())),
				)
			}
			mu.Lock()
			out[t.TaskID()] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// StopAll requests a stop of every tracked task concurrently and waits for
// all of them. Stopped tasks stay tracked so their final state remains
// observable.
func (s *Supervisor) StopAll(ctx context.Context, reason string) map[string]StopResult {
	tasks := s.snapshot()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]StopResult, len(tasks))
	)
	wg.Add(len(tasks))
	for _, t := range tasks {
		go func() {
			defer wg.Done()
			res := t.RequestStop(ctx, reason)
			if !res.Success {
				s.logger.WarnContext(ctx, "stop failed",
					slog.String("task_id", t.TaskID()),
					slog.String("code", res.Code),
					slog.Any("error", res.Err),
				)
			}
			mu.Lock()
			out[t.TaskID()] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}
