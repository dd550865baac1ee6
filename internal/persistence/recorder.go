package persistence

import (
	"context"
	"log/slog"

	"github.com/petrijr/tokenflow/internal/process"
	"github.com/petrijr/tokenflow/pkg/api"
)

// RecordingPublisher is an api.Publisher that records state changes and
// fired boundary events before forwarding every emission to Next.
//
// Storage failures are logged and never block the emission.
type RecordingPublisher struct {
	Next   api.Publisher
	Events EventStore
	States StateStore
	Logger *slog.Logger
}

var _ api.Publisher = (*RecordingPublisher)(nil)

// NewRecordingPublisher wires a recorder in front of next. Nil stores are
// skipped.
func NewRecordingPublisher(next api.Publisher, events EventStore, states StateStore, logger *slog.Logger) *RecordingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingPublisher{Next: next, Events: events, States: states, Logger: logger}
}

func (p *RecordingPublisher) Emit(ctx context.Context, eventType string, payload any, metadata map[string]string) (api.EmitResult, error) {
	switch v := payload.(type) {
	case api.StateChange:
		p.recordStateChange(ctx, v)
	case process.EventInstance:
		p.recordFired(ctx, metadata, v)
	}

	if p.Next == nil {
		return api.EmitResult{Proceed: true}, nil
	}
	return p.Next.Emit(ctx, eventType, payload, metadata)
}

func (p *RecordingPublisher) recordStateChange(ctx context.Context, change api.StateChange) {
	if p.Events != nil {
		err := p.Events.Append(ctx, HistoryRecord{
			TaskID:   change.TaskID,
			At:       change.At,
			Type:     HistoryStateChanged,
			Previous: change.Previous,
			Next:     change.Next,
			Detail:   change.Reason,
		})
		if err != nil {
			p.logger().WarnContext(ctx, "history append failed",
				slog.String("task_id", change.TaskID),
				slog.Any("error", err),
			)
		}
	}
	if p.States != nil {
		if err := p.States.SaveState(ctx, change.TaskID, change.Next, change.At); err != nil {
			p.logger().WarnContext(ctx, "state save failed",
				slog.String("task_id", change.TaskID),
				slog.Any("error", err),
			)
		}
	}
}

// recordFired stores a fired boundary event. The owning task is taken from
// the "task_id" metadata key.
func (p *RecordingPublisher) recordFired(ctx context.Context, metadata map[string]string, ev process.EventInstance) {
	if p.Events == nil {
		return
	}
	taskID := metadata["task_id"]
	if taskID == "" {
		p.logger().WarnContext(ctx, "fired event without task_id metadata", slog.String("event_id", ev.EventID))
		return
	}
	err := p.Events.Append(ctx, HistoryRecord{
		TaskID: taskID,
		At:     ev.FiredAt,
		Type:   HistoryBoundaryFired,
		Detail: ev.Kind.String() + ":" + ev.EventID,
	})
	if err != nil {
		p.logger().WarnContext(ctx, "history append failed",
			slog.String("task_id", taskID),
			slog.Any("error", err),
		)
	}
}

func (p *RecordingPublisher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
