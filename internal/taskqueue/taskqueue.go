// Package taskqueue carries due Event ids from the poller to workers.
//
// Queues are a transport, not a source of truth: a task lost in transit
// leaves its Event CREATED and a later poll dispatches it again.
package taskqueue

import (
	"context"
	"time"
)

// Task asks a worker to process one Event.
type Task struct {
	EventID    int64     `cbor:"1,keyasint"`
	EnqueuedAt time.Time `cbor:"2,keyasint"`
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
