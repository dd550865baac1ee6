package machine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/tokenflow/pkg/api"
)

// Start registers a bus subscription for every pattern returned by the
// EventPatterns hook. Delivered events are fed to HandleEvent. Calling Start
// more than once is a no-op.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return fmt.Errorf("%w: machine %s is disposed", api.ErrInvalidState, m.taskID)
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if m.bus == nil || m.hooks.EventPatterns == nil {
		return nil
	}

	handler := func(hctx context.Context, ev api.Event) error {
		m.HandleEvent(hctx, ev)
		return nil
	}
	for _, pattern := range m.hooks.EventPatterns() {
		id, err := m.bus.Subscribe(ctx, pattern, handler)
		if err != nil {
			return fmt.Errorf("subscribe %q: %w", pattern, err)
		}
		m.mu.Lock()
		m.subs = append(m.subs, subscription{pattern: pattern, id: id})
		m.mu.Unlock()
	}
	return nil
}

// Subscriptions returns the patterns currently subscribed.
func (m *Machine) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s.pattern)
	}
	return out
}

// Initialize drives UNINITIALIZED -> LOADING -> (CONFIGURING ->) READY using
// the OnLoad and OnConfigure hooks. A hook failure moves the machine to
// FAILED and is returned.
func (m *Machine) Initialize(ctx context.Context) error {
	if !m.TransitionTo(ctx, api.StateLoading, "initialize") {
		return fmt.Errorf("%w: cannot initialize from %s", api.ErrInvalidState, m.State())
	}

	needsConfigure := false
	if m.hooks.OnLoad != nil {
		var err error
		needsConfigure, err = m.hooks.OnLoad(ctx)
		if err != nil {
			m.TransitionTo(ctx, api.StateFailed, "load failed: "+err.Error())
			return fmt.Errorf("load: %w", err)
		}
	}

	if needsConfigure {
		if !m.TransitionTo(ctx, api.StateConfiguring, "configure") {
			return fmt.Errorf("%w: cannot configure from %s", api.ErrInvalidState, m.State())
		}
		if m.hooks.OnConfigure != nil {
			if err := m.hooks.OnConfigure(ctx); err != nil {
				m.TransitionTo(ctx, api.StateFailed, "configure failed: "+err.Error())
				return fmt.Errorf("configure: %w", err)
			}
		}
	}

	if !m.TransitionTo(ctx, api.StateReady, "initialized") {
		return fmt.Errorf("%w: cannot become ready from %s", api.ErrInvalidState, m.State())
	}

	m.mu.Lock()
	if m.queue.len() > 0 {
		m.scheduleDrainLocked(0)
	}
	m.mu.Unlock()
	return nil
}

// Pause is accepted from RUNNING or READY. It cancels any scheduled drain,
// moves to PAUSED and runs the OnPause hook.
func (m *Machine) Pause(ctx context.Context) bool {
	m.mu.Lock()
	if m.disposed || (m.state != api.StateRunning && m.state != api.StateReady) {
		m.mu.Unlock()
		return false
	}
	m.cancelDrainLocked()
	m.mu.Unlock()

	if !m.TransitionTo(ctx, api.StatePaused, "pause") {
		return false
	}
	if m.hooks.OnPause != nil {
		if err := m.hooks.OnPause(ctx); err != nil {
			m.logger.WarnContext(ctx, "pause hook failed", slog.Any("error", err))
		}
	}
	return true
}

// Resume is accepted from PAUSED or SUSPENDED. It moves to READY, runs the
// OnResume hook and schedules a drain.
func (m *Machine) Resume(ctx context.Context) bool {
	m.mu.Lock()
	if m.disposed || (m.state != api.StatePaused && m.state != api.StateSuspended) {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	if !m.TransitionTo(ctx, api.StateReady, "resume") {
		return false
	}
	if m.hooks.OnResume != nil {
		if err := m.hooks.OnResume(ctx); err != nil {
			m.logger.WarnContext(ctx, "resume hook failed", slog.Any("error", err))
		}
	}
	m.ScheduleDrain(0)
	return true
}

// Stop tears the machine down. Terminal machines succeed immediately.
// A graceful stop requires a stoppable state and ends in COMPLETED; a forced
// stop always proceeds and ends in CANCELLED. Any failure during teardown
// moves the machine to FAILED and is reported in the result.
func (m *Machine) Stop(ctx context.Context, mode api.StopMode, reason string) (res api.StopResult) {
	m.mu.Lock()
	state := m.state
	if state.IsTerminal() {
		m.disposed = true
		m.mu.Unlock()
		return api.StopResult{Success: true}
	}
	if mode != api.StopForce && !state.IsStoppable() {
		m.mu.Unlock()
		return api.StopResult{
			Success: false,
			Code:    api.CodeInvalidState,
			Err:     fmt.Errorf("%w: cannot stop gracefully from %s", api.ErrInvalidState, state),
		}
	}
	// Mark disposed first so an in-flight drain exits after its current event.
	m.disposed = true
	m.cancelDrainLocked()
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			res = m.failStop(ctx, fmt.Errorf("stop: panic: %v", r))
		}
	}()

	m.unsubscribeAll(ctx)
	m.releaseLock(ctx)

	var finalState any
	if m.hooks.OnStop != nil {
		var err error
		finalState, err = m.hooks.OnStop(ctx, mode, reason)
		if err != nil {
			return m.failStop(ctx, fmt.Errorf("stop hook: %w", err))
		}
	}

	target := api.StateCompleted
	if mode == api.StopForce {
		target = api.StateCancelled
	}
	if reason == "" {
		reason = string(mode) + " stop"
	}
	if !m.transitionVia(ctx, target, reason) {
		return m.failStop(ctx, fmt.Errorf("%w: %s -> %s", api.ErrInvalidTransition, m.State(), target))
	}
	return api.StopResult{Success: true, FinalState: finalState}
}

func (m *Machine) failStop(ctx context.Context, err error) api.StopResult {
	m.logger.ErrorContext(ctx, "stop failed", slog.Any("error", err))
	if !m.State().IsTerminal() {
		m.transitionVia(ctx, api.StateFailed, err.Error())
	}
	return api.StopResult{Success: false, Err: err}
}

// unsubscribeAll removes every subscription, logging individual failures
// without aborting the rest.
func (m *Machine) unsubscribeAll(ctx context.Context) {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	if m.bus == nil {
		return
	}
	for _, s := range subs {
		if err := m.bus.Unsubscribe(ctx, s.id); err != nil {
			m.logger.WarnContext(ctx, "unsubscribe failed",
				slog.String("pattern", s.pattern),
				slog.Any("error", err),
			)
		}
	}
}
