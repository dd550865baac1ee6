package machine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/tokenflow/pkg/api"
)

func TestBoundedQueue_EvictionSize(t *testing.T) {
	cases := []struct {
		capacity int
		want     int
	}{
		{capacity: 1, want: 1},
		{capacity: 5, want: 1},
		{capacity: 10, want: 1},
		{capacity: 11, want: 2},
		{capacity: 95, want: 10},
		{capacity: 1000, want: 100},
	}
	for _, tc := range cases {
		q := newBoundedQueue(tc.capacity)
		require.Equal(t, tc.want, q.evictionSize(), "capacity %d", tc.capacity)
	}
}

func TestBoundedQueue_DefaultCapacity(t *testing.T) {
	q := newBoundedQueue(0)
	require.Equal(t, DefaultQueueCapacity, q.capacity)
}

func TestBoundedQueue_FIFO(t *testing.T) {
	q := newBoundedQueue(10)
	for i := 0; i < 5; i++ {
		require.Zero(t, q.push(api.Event{Type: "e", Payload: i}))
	}
	require.Equal(t, 5, q.len())

	for i := 0; i < 5; i++ {
		ev, ok := q.pop()
		require.True(t, ok)
		require.Equal(t, i, ev.Payload)
	}
	_, ok := q.pop()
	require.False(t, ok)
}

func TestBoundedQueue_EvictsOldestAndKeepsNewest(t *testing.T) {
	q := newBoundedQueue(1000)

	dropped := 0
	for i := 1; i <= 1200; i++ {
		dropped += q.push(api.Event{Type: "e", Payload: i})
	}

	require.Equal(t, 1000, q.len())
	require.Equal(t, 200, dropped)

	events := q.snapshot()
	require.Equal(t, 201, events[0].Payload)
	require.Equal(t, 1200, events[len(events)-1].Payload)
}

func TestBoundedQueue_SingleSlot(t *testing.T) {
	q := newBoundedQueue(1)
	require.Zero(t, q.push(api.Event{Payload: "a"}))
	require.Equal(t, 1, q.push(api.Event{Payload: "b"}))

	ev, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, "b", ev.Payload)
}

func TestBoundedQueue_SnapshotIsCopy(t *testing.T) {
	q := newBoundedQueue(4)
	q.push(api.Event{Payload: 1})
	snap := q.snapshot()
	snap[0].Payload = 99

	ev, _ := q.pop()
	require.Equal(t, 1, ev.Payload)
}
