package worker

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/umeboshi/internal/engine"
	"github.com/petrijr/umeboshi/internal/lock"
	"github.com/petrijr/umeboshi/internal/taskqueue"
	"github.com/petrijr/umeboshi/pkg/api"
)

type engineFactory func(t *testing.T) api.Engine

func inMemoryEngine(t *testing.T) api.Engine {
	t.Helper()
	return engine.NewInMemoryEngine()
}

func sqliteEngine(t *testing.T) api.Engine {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	eng, err := engine.NewSQLiteEngine(db)
	require.NoError(t, err)
	return eng
}

var factories = map[string]engineFactory{
	"in-memory": inMemoryEngine,
	"sqlite":    sqliteEngine,
}

// counting registers trigger with a Run that counts calls and then runs fn.
func counting(t *testing.T, eng api.Engine, trigger string, calls *atomic.Int64, fn func(ctx context.Context) api.Outcome) {
	t.Helper()
	require.NoError(t, eng.Register(api.RoutineDescriptor{
		TriggerName: trigger,
		New: func(args []any) (api.Routine, error) {
			return api.RunFunc(func(ctx context.Context) api.Outcome {
				calls.Add(1)
				return fn(ctx)
			}), nil
		},
	}))
}

func TestWorker_ProcessOneRunsDueEvent(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eng := factory(t)
			queue := taskqueue.NewInMemoryQueue(10)
			w := New(eng, queue, lock.NewMemoryLocker())

			var calls atomic.Int64
			counting(t, eng, "ping", &calls, func(context.Context) api.Outcome { return api.Success() })

			ev, err := eng.Schedule(ctx, "ping")
			require.NoError(t, err)
			require.NoError(t, queue.Enqueue(ctx, taskqueue.Task{EventID: ev.ID}))

			processed, err := w.ProcessOne(ctx)
			require.NoError(t, err)
			assert.True(t, processed)
			assert.EqualValues(t, 1, calls.Load())

			got, err := eng.GetEvent(ctx, ev.ID)
			require.NoError(t, err)
			assert.Equal(t, api.StatusSuccessful, got.Status)
		})
	}
}

func TestWorker_ProcessOneReturnsDequeueError(t *testing.T) {
	w := New(engine.NewInMemoryEngine(), taskqueue.NewInMemoryQueue(1), lock.NewMemoryLocker())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processed, err := w.ProcessOne(ctx)
	assert.False(t, processed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorker_SkipsLockedEvent(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewInMemoryEngine()
	locker := lock.NewMemoryLocker()
	w := New(eng, taskqueue.NewInMemoryQueue(1), locker)

	var calls atomic.Int64
	counting(t, eng, "ping", &calls, func(context.Context) api.Outcome { return api.Success() })
	ev, err := eng.Schedule(ctx, "ping")
	require.NoError(t, err)

	token, err := locker.Acquire(ctx, lock.EventKey(ev.ID), time.Minute)
	require.NoError(t, err)

	require.NoError(t, w.ProcessEvent(ctx, ev.ID))
	assert.Zero(t, calls.Load())

	got, err := eng.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusCreated, got.Status)

	// Once the holder lets go the Event is picked up again.
	require.NoError(t, locker.Release(ctx, lock.EventKey(ev.ID), token))
	require.NoError(t, w.ProcessEvent(ctx, ev.ID))
	assert.EqualValues(t, 1, calls.Load())
}

func TestWorker_LockWaitOutlastsHolder(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewInMemoryEngine()
	locker := lock.NewMemoryLocker()
	w := NewWithConfig(eng, taskqueue.NewInMemoryQueue(1), locker, Config{LockWait: 2 * time.Second})

	var calls atomic.Int64
	counting(t, eng, "ping", &calls, func(context.Context) api.Outcome { return api.Success() })
	ev, err := eng.Schedule(ctx, "ping")
	require.NoError(t, err)

	token, err := locker.Acquire(ctx, lock.EventKey(ev.ID), time.Minute)
	require.NoError(t, err)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = locker.Release(ctx, lock.EventKey(ev.ID), token)
	}()

	require.NoError(t, w.ProcessEvent(ctx, ev.ID))
	assert.EqualValues(t, 1, calls.Load())
}

func TestWorker_SkipsProcessedAndMissingEvents(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eng := factory(t)
			w := New(eng, taskqueue.NewInMemoryQueue(1), lock.NewMemoryLocker())

			var calls atomic.Int64
			counting(t, eng, "ping", &calls, func(context.Context) api.Outcome { return api.Success() })
			ev, err := eng.Schedule(ctx, "ping")
			require.NoError(t, err)
			require.NoError(t, eng.Cancel(ctx, ev))

			require.NoError(t, w.ProcessEvent(ctx, ev.ID))
			require.NoError(t, w.ProcessEvent(ctx, 999999))
			assert.Zero(t, calls.Load())
		})
	}
}

func TestWorker_ExecutionTimeoutBreaksEvent(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewInMemoryEngine()
	w := NewWithConfig(eng, taskqueue.NewInMemoryQueue(1), lock.NewMemoryLocker(), Config{
		ExecutionTimeout: 20 * time.Millisecond,
	})

	var calls atomic.Int64
	counting(t, eng, "slow", &calls, func(ctx context.Context) api.Outcome {
		<-ctx.Done()
		return api.Fail(ctx.Err())
	})
	ev, err := eng.Schedule(ctx, "slow")
	require.NoError(t, err)

	err = w.ProcessEvent(ctx, ev.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrProcessingInterrupted), "got %v", err)

	got, err := eng.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusBroken, got.Status)
}

func TestWorker_DuplicateTasksRunOnce(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eng := factory(t)
			queue := taskqueue.NewInMemoryQueue(64)
			w := NewWithConfig(eng, queue, lock.NewMemoryLocker(), Config{LockWait: time.Second})

			var calls atomic.Int64
			counting(t, eng, "once", &calls, func(context.Context) api.Outcome {
				time.Sleep(20 * time.Millisecond)
				return api.Success()
			})
			ev, err := eng.Schedule(ctx, "once")
			require.NoError(t, err)

			for i := 0; i < 10; i++ {
				require.NoError(t, queue.Enqueue(ctx, taskqueue.Task{EventID: ev.ID}))
			}

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := w.ProcessOne(ctx)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestWorker_StartDrainsQueue(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewInMemoryEngine()
	queue := taskqueue.NewInMemoryQueue(64)
	w := New(eng, queue, lock.NewMemoryLocker())

	var calls atomic.Int64
	counting(t, eng, "job", &calls, func(context.Context) api.Outcome { return api.Success() })

	for i := 0; i < 20; i++ {
		ev, err := eng.Schedule(ctx, "job", api.WithArgs(i))
		require.NoError(t, err)
		require.NoError(t, queue.Enqueue(ctx, taskqueue.Task{EventID: ev.ID}))
	}

	require.NoError(t, w.Start(ctx, 4))
	require.Error(t, w.Start(ctx, 1))
	t.Cleanup(w.Stop)

	require.Eventually(t, func() bool { return calls.Load() == 20 }, 5*time.Second, 10*time.Millisecond)
	w.Stop()
	w.Stop()

	pending, err := eng.RoutineEvents(ctx, "job")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWorker_RenewsLockDuringLongRun(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewInMemoryEngine()
	locker := lock.NewMemoryLocker()
	w := NewWithConfig(eng, taskqueue.NewInMemoryQueue(1), locker, Config{LockTTL: 30 * time.Millisecond})

	var calls atomic.Int64
	var stolen atomic.Bool
	var evID int64
	counting(t, eng, "long", &calls, func(context.Context) api.Outcome {
		// Well past the TTL, the lock must still be held.
		time.Sleep(100 * time.Millisecond)
		if _, err := locker.Acquire(context.Background(), lock.EventKey(evID), time.Minute); err == nil {
			stolen.Store(true)
		}
		return api.Success()
	})
	ev, err := eng.Schedule(ctx, "long")
	require.NoError(t, err)
	evID = ev.ID

	require.NoError(t, w.ProcessEvent(ctx, ev.ID))
	assert.False(t, stolen.Load())
}

// flakyLocker fails the first few refreshes with err.
type flakyLocker struct {
	*lock.MemoryLocker
	failures atomic.Int64
	err      error
}

func newFlakyLocker(failures int64, err error) *flakyLocker {
	l := &flakyLocker{MemoryLocker: lock.NewMemoryLocker(), err: err}
	l.failures.Store(failures)
	return l
}

func (l *flakyLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	if l.failures.Add(-1) >= 0 {
		return l.err
	}
	return l.MemoryLocker.Refresh(ctx, key, token, ttl)
}

func TestWorker_TransientRefreshErrorKeepsLock(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewInMemoryEngine()
	locker := newFlakyLocker(1, errors.New("connection reset by peer"))
	w := NewWithConfig(eng, taskqueue.NewInMemoryQueue(1), locker, Config{LockTTL: 30 * time.Millisecond})

	started := make(chan struct{})
	var calls atomic.Int64
	counting(t, eng, "long", &calls, func(context.Context) api.Outcome {
		close(started)
		time.Sleep(120 * time.Millisecond)
		return api.Success()
	})
	ev, err := eng.Schedule(ctx, "long")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.ProcessEvent(ctx, ev.ID) }()

	<-started
	// Past the TTL: without renewal the lock would be free by now.
	time.Sleep(70 * time.Millisecond)
	require.NoError(t, w.ProcessEvent(ctx, ev.ID))

	require.NoError(t, <-done)
	assert.EqualValues(t, 1, calls.Load())

	got, err := eng.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccessful, got.Status)
}

func TestWorker_LostLockInterruptsAttempt(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewInMemoryEngine()
	locker := newFlakyLocker(1, lock.ErrNotAcquired)
	w := NewWithConfig(eng, taskqueue.NewInMemoryQueue(1), locker, Config{LockTTL: 30 * time.Millisecond})

	var calls atomic.Int64
	counting(t, eng, "long", &calls, func(ctx context.Context) api.Outcome {
		select {
		case <-ctx.Done():
			return api.Fail(ctx.Err())
		case <-time.After(5 * time.Second):
			return api.Success()
		}
	})
	ev, err := eng.Schedule(ctx, "long")
	require.NoError(t, err)

	err = w.ProcessEvent(ctx, ev.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockLost), "got %v", err)
	assert.True(t, errors.Is(err, api.ErrProcessingInterrupted), "got %v", err)

	got, err := eng.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusBroken, got.Status)
}

func TestWorker_StopLetsRunningAttemptFinish(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewInMemoryEngine()
	queue := taskqueue.NewInMemoryQueue(1)
	w := New(eng, queue, lock.NewMemoryLocker())

	started := make(chan struct{})
	var calls atomic.Int64
	counting(t, eng, "drain", &calls, func(ctx context.Context) api.Outcome {
		close(started)
		time.Sleep(50 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			return api.Fail(err)
		}
		return api.Success()
	})
	ev, err := eng.Schedule(ctx, "drain")
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(ctx, taskqueue.Task{EventID: ev.ID}))

	require.NoError(t, w.Start(ctx, 1))
	<-started
	w.Stop()

	got, err := eng.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccessful, got.Status)
}
