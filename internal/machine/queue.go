package machine

import "github.com/petrijr/tokenflow/pkg/api"

// DefaultQueueCapacity is used when no capacity is configured.
const DefaultQueueCapacity = 1000

// boundedQueue is a FIFO buffer of pending events that never blocks the
// producer. When full, the oldest ceil(capacity/10) events are evicted
// before the new event is appended.
//
// Not safe for concurrent use; the Machine guards it with its mutex.
type boundedQueue struct {
	events   []api.Event
	capacity int
}

func newBoundedQueue(capacity int) *boundedQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &boundedQueue{
		events:   make([]api.Event, 0, min(capacity, 64)),
		capacity: capacity,
	}
}

// evictionSize is ceil(capacity * 0.1), at least 1.
func (q *boundedQueue) evictionSize() int {
	return (q.capacity + 9) / 10
}

// push appends ev and returns the number of events evicted to make room.
func (q *boundedQueue) push(ev api.Event) int {
	dropped := 0
	if len(q.events) >= q.capacity {
		dropped = min(q.evictionSize(), len(q.events))
		// Clear the evicted slots so their payloads can be collected.
		for i := 0; i < dropped; i++ {
			q.events[i] = api.Event{}
		}
		q.events = append(q.events[:0], q.events[dropped:]...)
	}
	q.events = append(q.events, ev)
	return dropped
}

// pop removes and returns the oldest event.
func (q *boundedQueue) pop() (api.Event, bool) {
	if len(q.events) == 0 {
		return api.Event{}, false
	}
	ev := q.events[0]
	q.events[0] = api.Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return ev, true
}

func (q *boundedQueue) len() int {
	return len(q.events)
}

// snapshot returns a copy of the queued events, oldest first.
func (q *boundedQueue) snapshot() []api.Event {
	out := make([]api.Event, len(q.events))
	copy(out, q.events)
	return out
}
