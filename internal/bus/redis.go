package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/tokenflow/internal/persistence"
	"github.com/petrijr/tokenflow/pkg/api"
)

type redisSub struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// Redis is a bus backed by Redis pub/sub. Events are published on the
// channel <prefix><event type>; payloads must be gob-registered.
//
// Delivery is at-most-once: events published while no subscriber is
// connected are lost.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*redisSub
}

var (
	_ api.EventBus  = (*Redis)(nil)
	_ api.Publisher = (*Redis)(nil)
)

// NewRedis creates a Redis bus. prefix defaults to "tokenflow:events:".
func NewRedis(client *redis.Client, prefix string, logger *slog.Logger) (*Redis, error) {
	if client == nil {
		return nil, errors.New("bus: redis client is required")
	}
	if prefix == "" {
		prefix = "tokenflow:events:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger,
		subs:   make(map[string]*redisSub),
	}, nil
}

// Emit publishes the event. Proceed is false when no subscriber received it.
func (b *Redis) Emit(ctx context.Context, eventType string, payload any, metadata map[string]string) (api.EmitResult, error) {
	data, err := persistence.EncodeEvent(api.Event{Type: eventType, Payload: payload, Metadata: metadata})
	if err != nil {
		return api.EmitResult{}, err
	}
	n, err := b.client.Publish(ctx, b.prefix+eventType, data).Result()
	if err != nil {
		return api.EmitResult{}, fmt.Errorf("bus: publish %s: %w", eventType, err)
	}
	if n == 0 {
		return api.EmitResult{Proceed: false, Reason: ReasonNoSubscribers}, nil
	}
	return api.EmitResult{Proceed: true}, nil
}

// Subscribe registers handler for pattern. The subscription is confirmed by
// Redis before Subscribe returns. Handlers run on a dedicated goroutine per
// subscription, in publish order.
func (b *Redis) Subscribe(ctx context.Context, pattern string, handler api.Handler) (string, error) {
	if handler == nil {
		return "", errors.New("bus: handler is required")
	}

	ps := b.client.PSubscribe(context.WithoutCancel(ctx), b.prefix+channelPattern(pattern))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return "", fmt.Errorf("bus: subscribe %q: %w", pattern, err)
	}

	id := uuid.NewString()
	sub := &redisSub{pubsub: ps, done: make(chan struct{})}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go b.deliver(sub, pattern, handler)
	return id, nil
}

// deliveringKey marks handler contexts with the subscription delivering them.
type deliveringKey struct{}

func (b *Redis) deliver(sub *redisSub, pattern string, handler api.Handler) {
	defer close(sub.done)

	ctx := context.WithValue(context.Background(), deliveringKey{}, sub)
	for msg := range sub.pubsub.Channel() {
		ev, err := persistence.DecodeEvent([]byte(msg.Payload))
		if err != nil {
			b.logger.Warn("bus event decode failed",
				slog.String("channel", msg.Channel),
				slog.Any("error", err),
			)
			continue
		}
		if err := handler(ctx, ev); err != nil {
			b.logger.Warn("bus handler failed",
				slog.String("pattern", pattern),
				slog.String("event_type", ev.Type),
				slog.Any("error", err),
			)
		}
	}
}

// Unsubscribe closes the subscription and waits for its handler goroutine
// to return. Called from that subscription's own handler with the handler's
// context, it returns without waiting; the goroutine exits once the handler
// does.
func (b *Redis) Unsubscribe(ctx context.Context, subscriptionID string) error {
	b.mu.Lock()
	sub, ok := b.subs[subscriptionID]
	delete(b.subs, subscriptionID)
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	if err := sub.pubsub.Close(); err != nil {
		return err
	}
	if cur, _ := ctx.Value(deliveringKey{}).(*redisSub); cur == sub {
		return nil
	}
	select {
	case <-sub.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops every subscription and waits for their handlers. It must not
// be called from a handler.
func (b *Redis) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*redisSub)
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
		<-sub.done
	}
	return errors.Join(errs...)
}

// channelPattern turns a bus pattern into a Redis glob. Only a trailing "*"
// stays a wildcard; other glob metacharacters are escaped.
func channelPattern(pattern string) string {
	trailing := strings.HasSuffix(pattern, "*")
	if trailing {
		pattern = pattern[:len(pattern)-1]
	}
	var sb strings.Builder
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	if trailing {
		sb.WriteByte('*')
	}
	return sb.String()
}
