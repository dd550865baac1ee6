package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/tokenflow/pkg/api"
)

// ErrLeaseLost reports that the processing lease expired or was taken over
// during a drain pass.
var ErrLeaseLost = errors.New("processing lease lost")

// HandleEvent enqueues ev and, when the machine is READY, schedules a drain.
// It never fails: events for disposed or cancelled machines and events
// rejected by ShouldHandleEvent are dropped silently.
func (m *Machine) HandleEvent(ctx context.Context, ev api.Event) {
	if m.hooks.ShouldHandleEvent != nil && !m.hooks.ShouldHandleEvent(ev) {
		return
	}

	m.mu.Lock()
	if m.disposed || m.state == api.StateCancelled {
		m.mu.Unlock()
		return
	}
	dropped := m.queue.push(ev)
	if m.state == api.StateReady {
		m.scheduleDrainLocked(m.drainDelay)
	}
	m.mu.Unlock()

	if dropped > 0 {
		m.logger.WarnContext(ctx, "event queue overflow", slog.Int("dropped", dropped))
		m.observer.OnEventDropped(ctx, m.taskID, dropped)
	}
}

// ScheduleDrain debounces a drain: any pending one is cancelled first.
func (m *Machine) ScheduleDrain(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleDrainLocked(delay)
}

// scheduleDrainLocked requires m.mu. A drain already in progress is asked to
// rerun once it finishes instead of starting a second one.
func (m *Machine) scheduleDrainLocked(delay time.Duration) {
	if m.disposed || m.state == api.StatePaused {
		return
	}
	if m.draining {
		m.rerun = true
		return
	}
	m.cancelDrainLocked()

	m.scheduled = true
	gen := m.gen
	if delay <= 0 {
		go m.drain(m.baseCtx, gen)
		return
	}
	m.timer = time.AfterFunc(delay, func() {
		m.drain(m.baseCtx, gen)
	})
}

// cancelDrainLocked drops a pending drain. m.mu must be held.
func (m *Machine) cancelDrainLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	if m.scheduled {
		m.scheduled = false
		m.notifyLocked()
	}
}

// DrainNow runs a drain pass on the calling goroutine.
func (m *Machine) DrainNow(ctx context.Context) {
	m.mu.Lock()
	m.cancelDrainLocked()
	gen := m.gen
	m.scheduled = true
	m.mu.Unlock()

	m.drain(ctx, gen)
}

// drain processes queued events until the queue is empty, the machine leaves
// RUNNING, or it is disposed. The processing lock is held for the whole pass;
// a renewable lease is renewed before every event and in the background, and
// losing it ends the pass with the remaining events still queued.
func (m *Machine) drain(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		// Superseded or cancelled after being scheduled.
		m.mu.Unlock()
		return
	}
	m.scheduled = false
	m.timer = nil
	if m.draining {
		m.rerun = true
		m.notifyLocked()
		m.mu.Unlock()
		return
	}
	if m.disposed || (m.state != api.StateRunning && m.state != api.StateReady) {
		m.notifyLocked()
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	defer m.finishDrain()

	key := api.LockKey(m.taskID, m.coordination.Key())
	acquired, err := m.lock.Acquire(ctx, key)
	if err != nil || !acquired {
		if err != nil {
			m.logger.WarnContext(ctx, "processing lock acquire failed",
				slog.String("lock_key", key),
				slog.Any("error", err),
			)
		}
		// Another holder is draining this run; events stay queued.
		m.observer.OnDrainSkipped(ctx, m.taskID, key, err)
		return
	}
	m.mu.Lock()
	m.heldKey = key
	m.mu.Unlock()
	defer m.releaseLock(ctx)

	passCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if renewer, ok := m.lock.(api.LockRenewer); ok {
		stop := make(chan struct{})
		defer close(stop)
		go m.keepAlive(passCtx, renewer, key, cancel, stop)
	}

	m.transitionFrom(ctx, api.StateReady, api.StateRunning, "drain")

	for {
		m.mu.Lock()
		if m.disposed || m.state != api.StateRunning {
			m.mu.Unlock()
			return
		}
		if m.queue.len() == 0 {
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()

		if err := m.renewLease(passCtx, key); err != nil {
			m.lostLease(ctx, key, err)
			return
		}

		m.mu.Lock()
		ev, ok := m.queue.pop()
		m.mu.Unlock()
		if !ok {
			break
		}

		start := time.Now()
		perr := m.processEvent(passCtx, ev)
		m.observer.OnEventProcessed(ctx, m.taskID, ev, perr, time.Since(start))
		if perr == nil {
			continue
		}
		if m.hooks.IsErrorFatal != nil && m.hooks.IsErrorFatal(perr, ev) {
			m.logger.ErrorContext(ctx, "fatal event processing error",
				slog.String("event_type", ev.Type),
				slog.Any("error", perr),
			)
			// A pause that landed during the event does not absorb the failure.
			m.transitionVia(ctx, api.StateFailed, perr.Error())
			return
		}
		m.logger.WarnContext(ctx, "event processing error",
			slog.String("event_type", ev.Type),
			slog.Any("error", perr),
		)
	}

	if !m.transitionFrom(ctx, api.StateRunning, api.StateReady, "drain complete") {
		return
	}

	m.mu.Lock()
	pending := m.queue.len() > 0 && !m.disposed
	if pending {
		m.rerun = true
	}
	m.mu.Unlock()

	if !pending && m.hooks.OnIdle != nil {
		if err := m.hooks.OnIdle(ctx); err != nil {
			m.logger.WarnContext(ctx, "idle hook failed", slog.Any("error", err))
		}
	}
}

// renewLease extends the held lease before the next event. Locks without
// expiring leases need no renewal.
func (m *Machine) renewLease(ctx context.Context, key string) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	renewer, ok := m.lock.(api.LockRenewer)
	if !ok {
		return nil
	}
	return renewer.Renew(ctx, key)
}

// keepAlive renews the lease every third of its TTL until stop is closed. A
// failed renewal cancels the pass so a long-running event can observe it.
func (m *Machine) keepAlive(ctx context.Context, r api.LockRenewer, key string, cancel context.CancelCauseFunc, stop <-chan struct{}) {
	interval := r.TTL() / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Renew(ctx, key); err != nil {
				cancel(fmt.Errorf("%w: %w", ErrLeaseLost, err))
				return
			}
		}
	}
}

// lostLease ends a pass whose lease can no longer be renewed. The lease
// belongs to someone else now, so it is not released.
func (m *Machine) lostLease(ctx context.Context, key string, err error) {
	m.logger.WarnContext(ctx, "processing lock lost",
		slog.String("lock_key", key),
		slog.Any("error", err),
	)
	m.mu.Lock()
	if m.heldKey == key {
		m.heldKey = ""
	}
	m.mu.Unlock()
	m.observer.OnDrainSkipped(ctx, m.taskID, key, err)
	m.transitionFrom(ctx, api.StateRunning, api.StateReady, "processing lock lost")
}

// finishDrain clears the draining flag and starts a follow-up drain if one
// was requested while this pass was running.
func (m *Machine) finishDrain() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.draining = false
	rerun := m.rerun
	m.rerun = false
	if rerun && !m.disposed && m.state == api.StateReady {
		m.scheduleDrainLocked(0)
	}
	m.notifyLocked()
}

func (m *Machine) processEvent(ctx context.Context, ev api.Event) (err error) {
	if m.hooks.ProcessEvent == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("process event %s: panic: %v", ev.Type, r)
		}
	}()
	return m.hooks.ProcessEvent(ctx, ev)
}

// releaseLock releases the held processing lock, if any. Failures are
// logged and the reference is cleared so the machine cannot deadlock on it.
func (m *Machine) releaseLock(ctx context.Context) {
	m.mu.Lock()
	key := m.heldKey
	m.heldKey = ""
	m.mu.Unlock()

	if key == "" {
		return
	}
	if err := m.lock.Release(ctx, key); err != nil {
		m.logger.WarnContext(ctx, "processing lock release failed",
			slog.String("lock_key", key),
			slog.Any("error", err),
		)
	}
}
