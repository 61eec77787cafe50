package taskqueue

import (
	"context"
)

// DefaultCapacity is the buffer used when NewInMemoryQueue gets a
// non-positive capacity.
const DefaultCapacity = 1024

// InMemoryQueue hands Event ids from a Poller to Workers in the same
// process, in the order they were enqueued. It is safe for concurrent use.
//
// The queue does not deduplicate: the same Event id may sit in it more
// than once, and the per-Event lock plus the CREATED re-check turn the
// extra copies into no-ops. Tasks still buffered when the process exits
// are lost; their Events stay due and a later poll enqueues them again.
type InMemoryQueue struct {
	tasks chan Task
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue returns a queue buffering up to capacity tasks.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryQueue{tasks: make(chan Task, capacity)}
}

// Enqueue blocks while the buffer is full, so a poller cannot run ahead
// of its workers by more than the capacity.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case q.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a task is buffered or ctx ends.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.tasks:
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports how many tasks are buffered.
func (q *InMemoryQueue) Len() int {
	return len(q.tasks)
}
