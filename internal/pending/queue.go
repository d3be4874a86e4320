package pending

import (
	"sync"

	"github.com/Juancal1728/multichat-relay/internal/model"
)

// Queue holds per-identity FIFO queues of undelivered events, drained by
// polling clients. Queues are unbounded; no backpressure is applied.
type Queue struct {
	queues sync.Map // identity -> *entryList
}

// entryList is one identity's queue. Once drained it is marked closed so
// a racing Enqueue retries against a fresh list instead of appending to
// a batch that was already handed out.
type entryList struct {
	mu     sync.Mutex
	closed bool
	items  []model.Event
}

// New creates an empty queue set.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends an event to the identity's queue.
func (q *Queue) Enqueue(identity string, ev model.Event) {
	for {
		v, _ := q.queues.LoadOrStore(identity, &entryList{})
		list := v.(*entryList)

		list.mu.Lock()
		if list.closed {
			list.mu.Unlock()
			continue // lost the race against a drain, retry
		}
		list.items = append(list.items, ev)
		list.mu.Unlock()
		return
	}
}

// Drain atomically returns and clears the identity's queue. Two
// concurrent drains never duplicate or lose entries: the list is swapped
// out of the map first and only then emptied.
func (q *Queue) Drain(identity string) []model.Event {
	v, ok := q.queues.LoadAndDelete(identity)
	if !ok {
		return nil
	}
	list := v.(*entryList)

	list.mu.Lock()
	list.closed = true
	items := list.items
	list.items = nil
	list.mu.Unlock()

	return items
}

// Discard drops the identity's queue without returning it.
func (q *Queue) Discard(identity string) {
	q.Drain(identity)
}

// Len reports the number of queued events for an identity.
func (q *Queue) Len(identity string) int {
	v, ok := q.queues.Load(identity)
	if !ok {
		return 0
	}
	list := v.(*entryList)

	list.mu.Lock()
	defer list.mu.Unlock()
	return len(list.items)
}
