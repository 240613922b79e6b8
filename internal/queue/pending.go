// ABOUTME: Mutex-guarded FIFO of classified events awaiting a decision
// ABOUTME: Decouples the stream's arrival rate from the drain cycle's processing rate

package queue

import (
	"sync"

	"github.com/2389/chaos-relay/internal/event"
)

// Pending is an unbounded FIFO of events. Push and DrainAll are safe to call
// from different goroutines; neither blocks on anything but the mutex.
type Pending struct {
	mu     sync.Mutex
	events []event.Event
}

// New creates an empty queue.
func New() *Pending {
	return &Pending{}
}

// Push appends an event to the tail.
func (q *Pending) Push(ev event.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// DrainAll removes and returns every queued event in arrival order,
// leaving the queue empty. Returns nil when there is nothing queued.
func (q *Pending) DrainAll() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	drained := q.events
	q.events = nil
	return drained
}

// Len reports the current queue depth.
func (q *Pending) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
