package umeboshi

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/petrijr/umeboshi/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, queue, locker, Poller and Worker
// to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := umeboshi.NewLocalRunner()
//	_ = runner.Engine.Register(umeboshi.RoutineDescriptor{...})
//
//	_ = runner.StartWorkers(ctx, 2)
//	_, _ = runner.Engine.Schedule(ctx, "send-report", umeboshi.WithArgs(42))
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory engine used by this runner.
	Engine Engine

	// Queue is the in-memory queue between Poller and Worker.
	Queue Queue

	// Locker holds the per-Event locks.
	Locker Locker

	// Poller enqueues due Events once a second.
	Poller *worker.Poller

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	running bool
}

// NewLocalRunner constructs a LocalRunner with default config.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner() *LocalRunner {
	eng := NewInMemoryEngine()
	q := NewInMemoryQueue(1024)
	l := NewMemoryLocker()

	// The default poll config always parses.
	p, _ := worker.NewPoller(eng, q, worker.PollerConfig{})

	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Locker: l,
		Poller: p,
		Worker: worker.New(eng, q, l),
	}
}

// StartWorkers starts the Poller and 'concurrency' worker goroutines that
// run until ctx is cancelled or Stop is called.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("umeboshi: LocalRunner already started")
	}

	if err := r.Worker.Start(ctx, concurrency); err != nil {
		return err
	}
	if err := r.Poller.Start(ctx); err != nil {
		r.Worker.Stop()
		return err
	}

	r.running = true
	return nil
}

// DispatchDue enqueues every due Event now instead of waiting for the next
// poll tick. It returns the number of Events enqueued.
func (r *LocalRunner) DispatchDue(ctx context.Context) (int, error) {
	return r.Poller.PollOnce(ctx)
}

// Stop halts the Poller and the worker goroutines and waits for them to
// exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.Poller.Stop()
	r.Worker.Stop()
}
