package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from state machines for logging and metrics.
//
// Implementations should be fast and non-blocking; they are invoked on the
// drain goroutine.
type Observer interface {
	// OnStateChanged is called after every successful transition.
	OnStateChanged(ctx context.Context, change StateChange)

	// OnTransitionRejected is called when an edge is not in the table.
	OnTransitionRejected(ctx context.Context, taskID string, from, to RunState)

	// OnEventProcessed is called after ProcessEvent returns, for both
	// successes and failures (err != nil).
	OnEventProcessed(ctx context.Context, taskID string, ev Event, err error, duration time.Duration)

	// OnEventDropped is called once per eviction round with the number of
	// events removed from the head of the queue.
	OnEventDropped(ctx context.Context, taskID string, dropped int)

	// OnDrainSkipped is called when the processing lock could not be taken.
	OnDrainSkipped(ctx context.Context, taskID string, key string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnStateChanged(ctx context.Context, change StateChange) {}
func (NoopObserver) OnTransitionRejected(ctx context.Context, taskID string, from, to RunState) {
}
func (NoopObserver) OnEventProcessed(ctx context.Context, taskID string, ev Event, err error, d time.Duration) {
}
func (NoopObserver) OnEventDropped(ctx context.Context, taskID string, dropped int) {}
func (NoopObserver) OnDrainSkipped(ctx context.Context, taskID string, key string, err error) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnStateChanged(ctx context.Context, change StateChange) {
	for _, o := range c.observers {
		o.OnStateChanged(ctx, change)
	}
}

func (c *CompositeObserver) OnTransitionRejected(ctx context.Context, taskID string, from, to RunState) {
	for _, o := range c.observers {
		o.OnTransitionRejected(ctx, taskID, from, to)
	}
}

func (c *CompositeObserver) OnEventProcessed(ctx context.Context, taskID string, ev Event, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnEventProcessed(ctx, taskID, ev, err, d)
	}
}

func (c *CompositeObserver) OnEventDropped(ctx context.Context, taskID string, dropped int) {
	for _, o := range c.observers {
		o.OnEventDropped(ctx, taskID, dropped)
	}
}

func (c *CompositeObserver) OnDrainSkipped(ctx context.Context, taskID string, key string, err error) {
	for _, o := range c.observers {
		o.OnDrainSkipped(ctx, taskID, key, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs lifecycle events using
// the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnStateChanged(ctx context.Context, change StateChange) {
	o.Logger.InfoContext(ctx, "state_changed",
		slog.String("task_id", change.TaskID),
		slog.String("from", string(change.Previous)),
		slog.String("to", string(change.Next)),
		slog.String("reason", change.Reason),
	)
}

func (o *LoggingObserver) OnTransitionRejected(ctx context.Context, taskID string, from, to RunState) {
	o.Logger.WarnContext(ctx, "transition_rejected",
		slog.String("task_id", taskID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (o *LoggingObserver) OnEventProcessed(ctx context.Context, taskID string, ev Event, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "event_processed",
		slog.String("task_id", taskID),
		slog.String("event_type", ev.Type),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnEventDropped(ctx context.Context, taskID string, dropped int) {
	o.Logger.WarnContext(ctx, "event_dropped",
		slog.String("task_id", taskID),
		slog.Int("dropped", dropped),
	)
}

func (o *LoggingObserver) OnDrainSkipped(ctx context.Context, taskID string, key string, err error) {
	o.Logger.DebugContext(ctx, "drain_skipped",
		slog.String("task_id", taskID),
		slog.String("lock_key", key),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate processing durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	transitions      atomic.Int64
	rejected         atomic.Int64
	eventsProcessed  atomic.Int64
	eventsFailed     atomic.Int64
	eventsDropped    atomic.Int64
	drainsSkipped    atomic.Int64
	totalProcessTime atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Transitions        int64
	RejectedTransition int64
	EventsProcessed    int64
	EventsFailed       int64
	EventsDropped      int64
	DrainsSkipped      int64
	AvgProcessDuration time.Duration
}

func (m *BasicMetrics) OnStateChanged(ctx context.Context, change StateChange) {
	m.transitions.Add(1)
}

func (m *BasicMetrics) OnTransitionRejected(ctx context.Context, taskID string, from, to RunState) {
	m.rejected.Add(1)
}

func (m *BasicMetrics) OnEventProcessed(ctx context.Context, taskID string, ev Event, err error, d time.Duration) {
	if err != nil {
		m.eventsFailed.Add(1)
		return
	}
	m.eventsProcessed.Add(1)
	m.totalProcessTime.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnEventDropped(ctx context.Context, taskID string, dropped int) {
	m.eventsDropped.Add(int64(dropped))
}

func (m *BasicMetrics) OnDrainSkipped(ctx context.Context, taskID string, key string, err error) {
	m.drainsSkipped.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	processed := m.eventsProcessed.Load()
	totalNs := m.totalProcessTime.Load()

	var avg time.Duration
	if processed > 0 {
		avg = time.Duration(totalNs / processed)
	}

	return BasicMetricsSnapshot{
		Transitions:        m.transitions.Load(),
		RejectedTransition: m.rejected.Load(),
		EventsProcessed:    processed,
		EventsFailed:       m.eventsFailed.Load(),
		EventsDropped:      m.eventsDropped.Load(),
		DrainsSkipped:      m.drainsSkipped.Load(),
		AvgProcessDuration: avg,
	}
}
