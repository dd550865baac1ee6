package process

import (
	"encoding/gob"
	"slices"
	"time"

	"github.com/google/uuid"
)

func init() {
	// Fired events travel over gob-encoded transports with these payloads.
	gob.Register(EventInstance{})
	gob.Register(TimerEvent{})
	gob.Register(ErrorRecord{})
	gob.Register(MessageEvent{})
	gob.Register(SignalEvent{})
}

// TimerEvent is the runtime instance of a timer boundary event. It exists
// from the first evaluation of the event until it fires.
type TimerEvent struct {
	ID         string
	EventID    string
	AttachedTo string

	Duration string
	DueDate  string
	Cycle    string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// ErrorRecord is an error raised by an activity, matched by error boundary
// events.
type ErrorRecord struct {
	Code    string
	Message string
	NodeID  string
	At      time.Time
}

// MessageEvent is an external message input. Only received messages
// (non-zero ReceivedAt) are matched.
type MessageEvent struct {
	ID             string
	MessageRef     string
	CorrelationKey string
	Payload        any
	ReceivedAt     time.Time
}

// SignalEvent is an external broadcast input. Only received signals are
// matched; matching never consumes them.
type SignalEvent struct {
	ID         string
	SignalRef  string
	Payload    any
	ReceivedAt time.Time
}

// EventInstance is the write-once record of a fired boundary event.
type EventInstance struct {
	ID      string
	EventID string
	Kind    EventKind
	Payload any
	FiredAt time.Time

	// Source is the activity the event was attached to.
	Source string
}

// Context is the immutable execution context seen by the evaluator.
//
// The zero value is an empty context. Every With/Without method returns a
// modified copy and leaves the receiver untouched, so a Context may be read
// concurrently while a new one is derived from it.
type Context struct {
	variables map[string]any
	timers    map[string]TimerEvent
	errors    []ErrorRecord
	messages  []MessageEvent
	signals   []SignalEvent
	fired     []EventInstance
}

// NewContext returns a context seeded with a copy of vars.
func NewContext(vars map[string]any) Context {
	var c Context
	if len(vars) > 0 {
		c.variables = make(map[string]any, len(vars))
		for k, v := range vars {
			c.variables[k] = v
		}
	}
	return c
}

// Variable returns the value stored under key.
func (c Context) Variable(key string) (any, bool) {
	v, ok := c.variables[key]
	return v, ok
}

// Variables returns a copy of all variables.
func (c Context) Variables() map[string]any {
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

func (c Context) WithVariable(key string, value any) Context {
	vars := make(map[string]any, len(c.variables)+1)
	for k, v := range c.variables {
		vars[k] = v
	}
	vars[key] = value
	c.variables = vars
	return c
}

// Timer returns the runtime timer registered for a boundary event.
func (c Context) Timer(eventID string) (TimerEvent, bool) {
	t, ok := c.timers[eventID]
	return t, ok
}

// Timers returns a copy of all registered timers keyed by event id.
func (c Context) Timers() map[string]TimerEvent {
	out := make(map[string]TimerEvent, len(c.timers))
	for k, v := range c.timers {
		out[k] = v
	}
	return out
}

func (c Context) WithTimer(t TimerEvent) Context {
	timers := make(map[string]TimerEvent, len(c.timers)+1)
	for k, v := range c.timers {
		timers[k] = v
	}
	timers[t.EventID] = t
	c.timers = timers
	return c
}

func (c Context) WithoutTimer(eventID string) Context {
	if _, ok := c.timers[eventID]; !ok {
		return c
	}
	timers := make(map[string]TimerEvent, len(c.timers))
	for k, v := range c.timers {
		if k != eventID {
			timers[k] = v
		}
	}
	c.timers = timers
	return c
}

// Errors returns a copy of the recorded errors, oldest first.
func (c Context) Errors() []ErrorRecord {
	return slices.Clone(c.errors)
}

// RecordError appends rec. A zero At is stamped with the current time.
func (c Context) RecordError(rec ErrorRecord) Context {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	c.errors = append(slices.Clip(c.errors), rec)
	return c
}

// Messages returns a copy of the pending messages.
func (c Context) Messages() []MessageEvent {
	return slices.Clone(c.messages)
}

// WithMessage adds a pending message. Use ReceiveMessage to add one that is
// ready to be matched. A message without an id gets a generated one.
func (c Context) WithMessage(msg MessageEvent) Context {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	c.messages = append(slices.Clip(c.messages), msg)
	return c
}

// ReceiveMessage adds msg marked as received. A zero ReceivedAt is stamped
// with the current time.
func (c Context) ReceiveMessage(msg MessageEvent) Context {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	return c.WithMessage(msg)
}

// WithoutMessage removes the first message with the given id.
func (c Context) WithoutMessage(id string) Context {
	return c.withoutMessageAt(slices.IndexFunc(c.messages, func(m MessageEvent) bool { return m.ID == id }))
}

func (c Context) withoutMessageAt(i int) Context {
	if i < 0 || i >= len(c.messages) {
		return c
	}
	c.messages = slices.Delete(slices.Clone(c.messages), i, i+1)
	return c
}

// Signals returns a copy of the broadcast signals.
func (c Context) Signals() []SignalEvent {
	return slices.Clone(c.signals)
}

// BroadcastSignal adds sig marked as received. A zero ReceivedAt is stamped
// with the current time.
func (c Context) BroadcastSignal(sig SignalEvent) Context {
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now()
	}
	c.signals = append(slices.Clip(c.signals), sig)
	return c
}

// FiredEvents returns a copy of the fired-event history, oldest first.
func (c Context) FiredEvents() []EventInstance {
	return slices.Clone(c.fired)
}

func (c Context) withFired(ev EventInstance) Context {
	c.fired = append(slices.Clip(c.fired), ev)
	return c
}
