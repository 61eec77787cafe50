package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKey(t *testing.T) {
	assert.Equal(t, "umeboshi-event-42", EventKey(42))
}

func TestMemoryLocker_ExclusiveUntilRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	token, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.True(t, errors.Is(err, ErrNotAcquired))

	// A stale token does not release someone else's lock.
	require.NoError(t, l.Release(ctx, "k", "not-the-owner"))
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.True(t, errors.Is(err, ErrNotAcquired))

	require.NoError(t, l.Release(ctx, "k", token))
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryLocker_Expires(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	_, err := l.Acquire(ctx, "k", 15*time.Second)
	require.NoError(t, err)

	now = now.Add(14 * time.Second)
	_, err = l.Acquire(ctx, "k", 15*time.Second)
	assert.True(t, errors.Is(err, ErrNotAcquired))

	now = now.Add(2 * time.Second)
	_, err = l.Acquire(ctx, "k", 15*time.Second)
	assert.NoError(t, err)
}

func TestAcquireWait(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	token, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// Try-once fails immediately.
	_, err = AcquireWait(ctx, l, "k", time.Minute, 0)
	assert.True(t, errors.Is(err, ErrNotAcquired))

	// Times out while held.
	_, err = AcquireWait(ctx, l, "k", time.Minute, 30*time.Millisecond)
	assert.True(t, errors.Is(err, ErrNotAcquired))

	// Succeeds once released during the wait.
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = l.Release(ctx, "k", token)
	}()
	_, err = AcquireWait(ctx, l, "k", time.Minute, time.Second)
	assert.NoError(t, err)
}

func TestMemoryLocker_OneWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(ctx, EventKey(1), time.Minute); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryLocker_Refresh(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	token, err := l.Acquire(ctx, "k", 15*time.Second)
	require.NoError(t, err)

	now = now.Add(10 * time.Second)
	require.NoError(t, l.Refresh(ctx, "k", token, 15*time.Second))
	assert.True(t, errors.Is(l.Refresh(ctx, "k", "other", 15*time.Second), ErrNotAcquired))

	// Still held 20s after acquiring because of the refresh.
	now = now.Add(10 * time.Second)
	_, err = l.Acquire(ctx, "k", 15*time.Second)
	assert.True(t, errors.Is(err, ErrNotAcquired))

	// An expired lock cannot be refreshed back to life.
	now = now.Add(time.Minute)
	assert.True(t, errors.Is(l.Refresh(ctx, "k", token, 15*time.Second), ErrNotAcquired))
}
