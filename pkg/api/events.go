package api

import (
	"context"
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(StateChange{})
}

// EventStateChanged is emitted after every successful state transition.
const EventStateChanged = "run.state_changed"

// EventBoundaryFired is emitted by hosts that publish fired boundary events.
const EventBoundaryFired = "process.boundary_fired"

// Event is a tagged record consumed exactly once by a state machine drain.
type Event struct {
	Type    string
	Payload any

	// Metadata carries small correlation values (context id, chat id, ...).
	Metadata map[string]string
}

// Handler receives events delivered by an EventBus.
type Handler func(ctx context.Context, ev Event) error

// EventBus is the subscribe side of the external message transport.
//
// Patterns are either an exact event type, "*" for every event, or a
// prefix terminated by "*" (for example "run.*").
type EventBus interface {
	Subscribe(ctx context.Context, pattern string, handler Handler) (string, error)
	Unsubscribe(ctx context.Context, subscriptionID string) error
}

// EmitResult reports whether downstream consumers allowed the emission.
type EmitResult struct {
	Proceed bool
	Reason  string
}

// Publisher is the emit side of the external message transport.
type Publisher interface {
	Emit(ctx context.Context, eventType string, payload any, metadata map[string]string) (EmitResult, error)
}

// NoopPublisher accepts and drops every emission.
type NoopPublisher struct{}

func (NoopPublisher) Emit(ctx context.Context, eventType string, payload any, metadata map[string]string) (EmitResult, error) {
	return EmitResult{Proceed: true}, nil
}

// StateChange is the payload of EventStateChanged.
type StateChange struct {
	TaskID   string
	Previous RunState
	Next     RunState
	Reason   string
	At       time.Time

	Coordination CoordinationConfig
}

// MatchPattern reports whether eventType is selected by pattern.
func MatchPattern(pattern, eventType string) bool {
	switch {
	case pattern == "*":
		return true
	case len(pattern) > 0 && pattern[len(pattern)-1] == '*':
		prefix := pattern[:len(pattern)-1]
		return len(eventType) >= len(prefix) && eventType[:len(prefix)] == prefix
	default:
		return pattern == eventType
	}
}
