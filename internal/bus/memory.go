// Package bus provides api.EventBus and api.Publisher implementations.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/petrijr/tokenflow/pkg/api"
)

// ErrSubscriptionNotFound is returned when unsubscribing an unknown id.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// ReasonNoSubscribers is the EmitResult reason when nothing matched.
const ReasonNoSubscribers = "no subscribers"

type memorySub struct {
	pattern string
	handler api.Handler
}

// Memory is an in-process bus. Emit delivers synchronously to every
// matching handler in subscription order. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]memorySub
	order  []string
	logger *slog.Logger
}

var (
	_ api.EventBus  = (*Memory)(nil)
	_ api.Publisher = (*Memory)(nil)
)

// NewMemory creates an empty bus. If logger is nil, slog.Default() is used.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		subs:   make(map[string]memorySub),
		logger: logger,
	}
}

func (b *Memory) Subscribe(ctx context.Context, pattern string, handler api.Handler) (string, error) {
	if handler == nil {
		return "", errors.New("bus: handler is required")
	}
	id := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = memorySub{pattern: pattern, handler: handler}
	b.order = append(b.order, id)
	return id, nil
}

func (b *Memory) Unsubscribe(ctx context.Context, subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[subscriptionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	delete(b.subs, subscriptionID)
	for i, id := range b.order {
		if id == subscriptionID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of active subscriptions.
func (b *Memory) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit delivers the event to all matching subscribers. Handler errors are
// logged and do not stop delivery to the remaining subscribers.
func (b *Memory) Emit(ctx context.Context, eventType string, payload any, metadata map[string]string) (api.EmitResult, error) {
	b.mu.RLock()
	var handlers []api.Handler
	for _, id := range b.order {
		s := b.subs[id]
		if api.MatchPattern(s.pattern, eventType) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return api.EmitResult{Proceed: false, Reason: ReasonNoSubscribers}, nil
	}

	ev := api.Event{Type: eventType, Payload: payload, Metadata: metadata}
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			b.logger.WarnContext(ctx, "bus handler failed",
				slog.String("event_type", eventType),
				slog.Any("error", err),
			)
		}
	}
	return api.EmitResult{Proceed: true}, nil
}
