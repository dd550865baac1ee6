// Package persistence stores the observable history of runs: every state
// change and every fired boundary event, plus the latest state per task so
// a machine can be restored after a restart.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/tokenflow/pkg/api"
)

// ErrTaskNotFound is returned by StateStore.LoadState for unknown tasks.
var ErrTaskNotFound = errors.New("task not found")

// HistoryType classifies a HistoryRecord.
type HistoryType string

const (
	HistoryStateChanged  HistoryType = "state_changed"
	HistoryBoundaryFired HistoryType = "boundary_fired"
)

// HistoryRecord is one append-only history entry for a task.
type HistoryRecord struct {
	TaskID string
	At     time.Time
	Type   HistoryType

	// Previous and Next are set for state changes.
	Previous api.RunState
	Next     api.RunState

	// Detail is a free-form description (transition reason, fired event id).
	Detail string
}

// EventStore is an append-only history store.
type EventStore interface {
	Append(ctx context.Context, rec HistoryRecord) error
	// List returns the records of taskID in append order.
	List(ctx context.Context, taskID string) ([]HistoryRecord, error)
}

// StateStore keeps the latest known state of each task.
type StateStore interface {
	SaveState(ctx context.Context, taskID string, state api.RunState, at time.Time) error
	LoadState(ctx context.Context, taskID string) (api.RunState, error)
}

// NoopEventStore discards all records.
type NoopEventStore struct{}

func (NoopEventStore) Append(ctx context.Context, rec HistoryRecord) error { return nil }
func (NoopEventStore) List(ctx context.Context, taskID string) ([]HistoryRecord, error) {
	return nil, nil
}

func stamp(rec HistoryRecord) HistoryRecord {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	return rec
}
