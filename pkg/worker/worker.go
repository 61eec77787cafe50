package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/petrijr/umeboshi/internal/lock"
	"github.com/petrijr/umeboshi/internal/persistence"
	"github.com/petrijr/umeboshi/internal/taskqueue"
	"github.com/petrijr/umeboshi/pkg/api"
)

const (
	// DefaultLockTTL bounds how long a dead worker can hold an Event.
	DefaultLockTTL = 15 * time.Second
	// DefaultExecutionTimeout is the wall-clock budget of one attempt.
	DefaultExecutionTimeout = 300 * time.Second
)

// ErrLockLost is the cause of an attempt's cancellation when its Event
// lock expired or was taken over while the Routine ran.
var ErrLockLost = errors.New("worker: event lock lost")

// Config controls how a Worker processes Events.
type Config struct {
	// LockTTL is the per-Event lock expiry. The lock is renewed while the
	// Routine runs, so it only bounds how long a dead worker holds an
	// Event. Zero means DefaultLockTTL.
	LockTTL time.Duration
	// LockWait is how long to wait for a held lock. Zero tries once.
	LockWait time.Duration
	// ExecutionTimeout bounds one processing attempt. Zero means
	// DefaultExecutionTimeout; negative disables the budget.
	ExecutionTimeout time.Duration
	// Logger receives worker diagnostics. Nil discards them.
	Logger *zerolog.Logger
}

// Worker pulls Event ids from a Queue and processes them using an Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	locker lock.Locker
	cfg    Config
	log    zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Worker with default config.
func New(engine api.Engine, queue taskqueue.Queue, locker lock.Locker) *Worker {
	return NewWithConfig(engine, queue, locker, Config{})
}

// NewWithConfig creates a Worker with the given config.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, locker lock.Locker, cfg Config) *Worker {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.ExecutionTimeout == 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	return &Worker{
		engine: engine,
		queue:  queue,
		locker: locker,
		cfg:    cfg,
		log:    log.With().Str("component", "worker").Logger(),
	}
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained; err is the dequeue error
//     (context cancellation when shutting down)
//   - processed == true: a task was handled; err is a BROKEN attempt or an
//     infrastructure failure
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	return true, w.ProcessEvent(ctx, task.EventID)
}

// ProcessEvent runs the lock, reload, re-check and Process protocol for
// one Event id. An Event that is locked elsewhere, gone, or no longer
// CREATED is skipped without error.
func (w *Worker) ProcessEvent(ctx context.Context, id int64) error {
	key := lock.EventKey(id)
	log := w.log.With().Int64("event_id", id).Logger()

	token, err := lock.AcquireWait(ctx, w.locker, key, w.cfg.LockTTL, w.cfg.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			log.Debug().Msg("event locked by another worker, skipping")
			return nil
		}
		return errors.Wrapf(err, "worker: lock event %d", id)
	}
	defer func() {
		if err := w.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn().Err(err).Msg("failed to release event lock")
		}
	}()

	// The attempt outlives shutdown: Stop waits for it instead of
	// cutting it short. Losing the lock still ends it.
	runCtx, cancelRun := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancelRun(nil)
	stopRenew := w.renewLock(runCtx, key, token, cancelRun, log)
	defer stopRenew()

	ev, err := w.engine.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrEventNotFound) {
			log.Debug().Msg("event no longer exists, skipping")
			return nil
		}
		return errors.Wrapf(err, "worker: reload event %d", id)
	}
	if ev.Status != api.StatusCreated {
		log.Debug().Stringer("status", ev.Status).Msg("event already processed, skipping")
		return nil
	}

	if w.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, w.cfg.ExecutionTimeout)
		defer cancel()
	}

	return w.engine.Process(runCtx, ev)
}

// renewLock refreshes the lock every third of its TTL until the returned
// func is called. A failed refresh is retried on the next tick; once the
// lock is gone, lost is called with ErrLockLost.
func (w *Worker) renewLock(ctx context.Context, key, token string, lost context.CancelCauseFunc, log zerolog.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(max(w.cfg.LockTTL/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := w.locker.Refresh(ctx, key, token, w.cfg.LockTTL)
				switch {
				case err == nil, ctx.Err() != nil:
				case errors.Is(err, lock.ErrNotAcquired):
					log.Error().Msg("event lock lost, interrupting attempt")
					lost(ErrLockLost)
					return
				default:
					log.Warn().Err(err).Msg("failed to renew event lock, retrying")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Start launches n goroutines that call ProcessOne until Stop is called or
// ctx is cancelled. Processing errors are logged and do not stop the loop.
func (w *Worker) Start(ctx context.Context, n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("worker: already started")
	}
	if n <= 0 {
		n = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}

	w.log.Info().Int("workers", n).Msg("workers started")
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if processed {
				w.log.Error().Err(err).Msg("event processing failed")
				continue
			}
			// Dequeue failed outside shutdown; back off before retrying.
			w.log.Error().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// Stop cancels all goroutines started by Start and waits for them to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}
