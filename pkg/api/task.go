package api

import (
	"context"
	"errors"
)

var (
	// ErrInvalidTransition is reported when an edge is not in the table.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is reported when an operation is not accepted in the
	// current state.
	ErrInvalidState = errors.New("invalid state")
)

// CodeInvalidState is the StopResult code for a rejected graceful stop.
const CodeInvalidState = "INVALID_STATE"

// StopMode selects how a machine is stopped.
type StopMode string

const (
	StopGraceful StopMode = "graceful"
	StopForce    StopMode = "force"
)

// StopResult is the structured outcome of a stop request.
type StopResult struct {
	Success bool

	// FinalState is whatever the OnStop hook returned.
	FinalState any

	// Code is set on failure (for example CodeInvalidState).
	Code string
	Err  error
}

// CoordinationConfig identifies the logical run a machine belongs to.
// It is a value type and is never mutated after construction.
type CoordinationConfig struct {
	ContextID string
	SwarmID   string
	ChatID    string
}

// Key returns the first non-empty identifier, used as the lock cycle.
func (c CoordinationConfig) Key() string {
	switch {
	case c.ContextID != "":
		return c.ContextID
	case c.SwarmID != "":
		return c.SwarmID
	default:
		return c.ChatID
	}
}

// Metadata renders the non-empty identifiers as event metadata.
func (c CoordinationConfig) Metadata() map[string]string {
	md := make(map[string]string, 3)
	if c.ContextID != "" {
		md["context_id"] = c.ContextID
	}
	if c.SwarmID != "" {
		md["swarm_id"] = c.SwarmID
	}
	if c.ChatID != "" {
		md["chat_id"] = c.ChatID
	}
	return md
}

// ManagedTask is the minimal control contract an orchestrator needs to
// supervise many running instances uniformly.
type ManagedTask interface {
	TaskID() string
	State() RunState
	RequestPause(ctx context.Context) bool
	RequestStop(ctx context.Context, reason string) StopResult
}
