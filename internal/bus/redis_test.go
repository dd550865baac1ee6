package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/tokenflow/internal/testutil"
	"github.com/petrijr/tokenflow/pkg/api"
)

type RedisBusTestSuite struct {
	suite.Suite
	client *redis.Client
	bus    *Redis
}

func TestRedisBusTestSuite(t *testing.T) {
	addr := testutil.GetRedisAddress(t)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}
	suite.Run(t, &RedisBusTestSuite{client: client})
}

func (r *RedisBusTestSuite) SetupTest() {
	b, err := NewRedis(r.client, "tokenflow:test:events:", discardLogger())
	r.Require().NoError(err)
	r.bus = b
}

func (r *RedisBusTestSuite) TearDownTest() {
	r.NoError(r.bus.Close())
}

func (r *RedisBusTestSuite) TestDeliversDecodedEvents() {
	ctx := context.Background()
	var c collector
	_, err := r.bus.Subscribe(ctx, "run.*", c.handle)
	r.Require().NoError(err)

	change := api.StateChange{TaskID: "t1", Previous: api.StateReady, Next: api.StateRunning, At: time.Unix(1, 0).UTC()}
	res, err := r.bus.Emit(ctx, api.EventStateChanged, change, map[string]string{"task_id": "t1"})
	r.Require().NoError(err)
	r.True(res.Proceed)

	r.Eventually(func() bool { return len(c.types()) == 1 }, 5*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	r.Equal(api.EventStateChanged, c.events[0].Type)
	r.Equal(change, c.events[0].Payload)
	r.Equal(map[string]string{"task_id": "t1"}, c.events[0].Metadata)
}

func (r *RedisBusTestSuite) TestPatternIsolation() {
	ctx := context.Background()
	var exact collector
	_, err := r.bus.Subscribe(ctx, "order.created", exact.handle)
	r.Require().NoError(err)

	res, err := r.bus.Emit(ctx, "order.shipped", nil, nil)
	r.Require().NoError(err)
	r.False(res.Proceed)
	r.Equal(ReasonNoSubscribers, res.Reason)

	res, err = r.bus.Emit(ctx, "order.created", nil, nil)
	r.Require().NoError(err)
	r.True(res.Proceed)

	r.Eventually(func() bool { return len(exact.types()) == 1 }, 5*time.Second, 10*time.Millisecond)
	r.Equal([]string{"order.created"}, exact.types())
}

func (r *RedisBusTestSuite) TestUnsubscribeStopsDelivery() {
	ctx := context.Background()
	var c collector
	id, err := r.bus.Subscribe(ctx, "*", c.handle)
	r.Require().NoError(err)

	r.Require().NoError(r.bus.Unsubscribe(ctx, id))
	r.ErrorIs(r.bus.Unsubscribe(ctx, id), ErrSubscriptionNotFound)

	res, err := r.bus.Emit(ctx, "e", nil, nil)
	r.Require().NoError(err)
	r.False(res.Proceed)
}

func (r *RedisBusTestSuite) TestHandlerCanUnsubscribeItself() {
	ctx := context.Background()
	ids := make(chan string, 1)
	unsubscribed := make(chan error, 1)

	var once sync.Once
	id, err := r.bus.Subscribe(ctx, "once", func(hctx context.Context, ev api.Event) error {
		once.Do(func() { unsubscribed <- r.bus.Unsubscribe(hctx, <-ids) })
		return nil
	})
	r.Require().NoError(err)
	ids <- id

	_, err = r.bus.Emit(ctx, "once", nil, nil)
	r.Require().NoError(err)

	select {
	case err := <-unsubscribed:
		r.NoError(err)
	case <-time.After(5 * time.Second):
		r.FailNow("unsubscribe from inside the handler did not return")
	}

	r.Eventually(func() bool {
		res, err := r.bus.Emit(ctx, "once", nil, nil)
		return err == nil && !res.Proceed
	}, 5*time.Second, 10*time.Millisecond)
}

func (r *RedisBusTestSuite) TestNewRedis_RequiresClient() {
	_, err := NewRedis(nil, "", nil)
	r.Error(err)
}
