// Package machine implements the lifecycle state machine that owns a run's
// state, its bounded event queue, drain scheduling and event subscriptions.
//
// Per-workflow behavior is injected through Hooks rather than subtyping.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/tokenflow/pkg/api"
)

// Hooks are the extension points a concrete workflow supplies.
// Every field is optional.
type Hooks struct {
	// ProcessEvent handles one dequeued event.
	ProcessEvent func(ctx context.Context, ev api.Event) error

	// IsErrorFatal classifies a ProcessEvent error. Nil means every error
	// is recoverable.
	IsErrorFatal func(err error, ev api.Event) bool

	// ShouldHandleEvent rejects events that do not belong to this run.
	// Nil accepts every event.
	ShouldHandleEvent func(ev api.Event) bool

	// EventPatterns lists the bus patterns to subscribe to in Start.
	EventPatterns func() []string

	// OnLoad runs during Initialize while LOADING. Returning
	// needsConfigure=true routes through CONFIGURING and OnConfigure.
	OnLoad      func(ctx context.Context) (needsConfigure bool, err error)
	OnConfigure func(ctx context.Context) error

	OnIdle   func(ctx context.Context) error
	OnPause  func(ctx context.Context) error
	OnResume func(ctx context.Context) error

	// OnStop runs during Stop and returns opaque final-state data.
	OnStop func(ctx context.Context, mode api.StopMode, reason string) (any, error)
}

// Config describes how to construct a Machine.
type Config struct {
	TaskID       string
	Coordination api.CoordinationConfig
	Hooks        Hooks

	Bus       api.EventBus
	Publisher api.Publisher
	Lock      api.ProcessingLock
	Observer  api.Observer
	Logger    *slog.Logger

	// QueueCapacity defaults to DefaultQueueCapacity.
	QueueCapacity int

	// DrainDelay is the debounce applied when HandleEvent schedules a drain.
	// Zero drains immediately.
	DrainDelay time.Duration

	// Context is the base context for asynchronous drains and subscription
	// callbacks. Defaults to context.Background().
	Context context.Context
}

type subscription struct {
	pattern string
	id      string
}

// Machine is a single concrete lifecycle engine. It is safe for concurrent
// use; events for one Machine are processed strictly one at a time.
type Machine struct {
	taskID       string
	coordination api.CoordinationConfig
	hooks        Hooks
	bus          api.EventBus
	publisher    api.Publisher
	lock         api.ProcessingLock
	observer     api.Observer
	logger       *slog.Logger
	drainDelay   time.Duration
	baseCtx      context.Context

	mu        sync.Mutex
	state     api.RunState
	queue     *boundedQueue
	disposed  bool
	started   bool
	subs      []subscription
	heldKey   string
	timer     *time.Timer
	gen       uint64
	scheduled bool
	draining  bool
	rerun     bool
	idleCh    chan struct{}
}

// Ensure Machine implements the managed-task control surface.
var _ api.ManagedTask = (*Machine)(nil)

// New constructs a Machine in StateUninitialized.
func New(cfg Config) (*Machine, error) {
	if cfg.TaskID == "" {
		return nil, errors.New("machine: task id is required")
	}

	m := &Machine{
		taskID:       cfg.TaskID,
		coordination: cfg.Coordination,
		hooks:        cfg.Hooks,
		bus:          cfg.Bus,
		publisher:    cfg.Publisher,
		lock:         cfg.Lock,
		observer:     cfg.Observer,
		logger:       cfg.Logger,
		drainDelay:   cfg.DrainDelay,
		baseCtx:      cfg.Context,
		state:        api.StateUninitialized,
		queue:        newBoundedQueue(cfg.QueueCapacity),
		idleCh:       make(chan struct{}),
	}
	if m.publisher == nil {
		m.publisher = api.NoopPublisher{}
	}
	if m.lock == nil {
		m.lock = api.NoopLock{}
	}
	if m.observer == nil {
		m.observer = api.NoopObserver{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.baseCtx == nil {
		m.baseCtx = context.Background()
	}
	m.logger = m.logger.With(slog.String("task_id", m.taskID))
	return m, nil
}

// TaskID returns the configured task id.
func (m *Machine) TaskID() string {
	return m.taskID
}

// Coordination returns the immutable coordination identifiers.
func (m *Machine) Coordination() api.CoordinationConfig {
	return m.coordination
}

// State returns the current run state.
func (m *Machine) State() api.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Disposed reports whether Stop has run.
func (m *Machine) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// QueueLen returns the number of pending events.
func (m *Machine) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// PendingEvents returns a copy of the pending events, oldest first.
func (m *Machine) PendingEvents() []api.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.snapshot()
}

// TransitionTo applies a single edge of the transition table. Edges not in
// the table are rejected with a warning: the state is left unchanged and no
// state-changed event is emitted.
func (m *Machine) TransitionTo(ctx context.Context, next api.RunState, reason string) bool {
	m.mu.Lock()
	prev := m.state
	if !prev.CanTransitionTo(next) {
		m.mu.Unlock()
		m.rejectTransition(ctx, prev, next, reason)
		return false
	}
	m.state = next
	m.mu.Unlock()

	m.emitStateChange(ctx, prev, next, reason)
	return true
}

// transitionFrom applies prev -> next only if the machine is still in prev.
// A state that moved on concurrently is left alone without a warning.
func (m *Machine) transitionFrom(ctx context.Context, prev, next api.RunState, reason string) bool {
	m.mu.Lock()
	if m.state != prev {
		m.mu.Unlock()
		return false
	}
	if !prev.CanTransitionTo(next) {
		m.mu.Unlock()
		m.rejectTransition(ctx, prev, next, reason)
		return false
	}
	m.state = next
	m.mu.Unlock()

	m.emitStateChange(ctx, prev, next, reason)
	return true
}

// transitionVia moves to target directly, or through READY when the direct
// edge is missing but both legs are in the table. Both legs are applied
// under one lock hold so nothing can interleave between them.
func (m *Machine) transitionVia(ctx context.Context, target api.RunState, reason string) bool {
	m.mu.Lock()
	cur := m.state
	var hops []api.RunState
	switch {
	case cur == target:
		m.mu.Unlock()
		return true
	case cur.CanTransitionTo(target):
		hops = []api.RunState{target}
	case cur.CanTransitionTo(api.StateReady) && api.StateReady.CanTransitionTo(target):
		hops = []api.RunState{api.StateReady, target}
	default:
		m.mu.Unlock()
		m.rejectTransition(ctx, cur, target, reason)
		return false
	}
	m.state = target
	m.mu.Unlock()

	prev := cur
	for _, next := range hops {
		m.emitStateChange(ctx, prev, next, reason)
		prev = next
	}
	return true
}

func (m *Machine) rejectTransition(ctx context.Context, prev, next api.RunState, reason string) {
	m.logger.WarnContext(ctx, "invalid state transition",
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
		slog.String("reason", reason),
	)
	m.observer.OnTransitionRejected(ctx, m.taskID, prev, next)
}

// Restore seeds a freshly constructed machine with a state loaded from
// external storage. It is not a transition and emits a state change with
// reason "restored".
func (m *Machine) Restore(ctx context.Context, state api.RunState) error {
	if !state.Valid() {
		return fmt.Errorf("machine: unknown state %q", state)
	}
	m.mu.Lock()
	if m.state != api.StateUninitialized || m.disposed {
		cur := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: restore requires %s, machine is %s", api.ErrInvalidState, api.StateUninitialized, cur)
	}
	m.state = state
	m.mu.Unlock()

	m.emitStateChange(ctx, api.StateUninitialized, state, "restored")
	return nil
}

func (m *Machine) emitStateChange(ctx context.Context, prev, next api.RunState, reason string) {
	change := api.StateChange{
		TaskID:       m.taskID,
		Previous:     prev,
		Next:         next,
		Reason:       reason,
		At:           time.Now(),
		Coordination: m.coordination,
	}
	m.observer.OnStateChanged(ctx, change)

	// State has already advanced; a failing publisher must not roll it back.
	res, err := m.publisher.Emit(ctx, api.EventStateChanged, change, m.coordination.Metadata())
	if err != nil {
		m.logger.ErrorContext(ctx, "state change publish failed",
			slog.String("to", string(next)),
			slog.Any("error", err),
		)
		return
	}
	if !res.Proceed {
		m.logger.WarnContext(ctx, "state change publish not proceeding",
			slog.String("to", string(next)),
			slog.String("reason", res.Reason),
		)
	}
}

// WaitIdle blocks until no drain is scheduled or running, or ctx is done.
func (m *Machine) WaitIdle(ctx context.Context) error {
	for {
		m.mu.Lock()
		if !m.scheduled && !m.draining && !m.rerun {
			m.mu.Unlock()
			return nil
		}
		ch := m.idleCh
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// notifyLocked wakes WaitIdle callers. m.mu must be held.
func (m *Machine) notifyLocked() {
	close(m.idleCh)
	m.idleCh = make(chan struct{})
}

// RequestPause implements api.ManagedTask.
func (m *Machine) RequestPause(ctx context.Context) bool {
	return m.Pause(ctx)
}

// RequestStop implements api.ManagedTask with a graceful stop.
func (m *Machine) RequestStop(ctx context.Context, reason string) api.StopResult {
	return m.Stop(ctx, api.StopGraceful, reason)
}
