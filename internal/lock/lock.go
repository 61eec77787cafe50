// Package lock provides the short-lived mutual exclusion workers use to
// guarantee at most one concurrent processing attempt per Event.
//
// Locks expire after their TTL so a worker that dies mid-attempt cannot
// block an Event forever.
package lock

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// ErrNotAcquired is returned when a lock is held by someone else.
var ErrNotAcquired = errors.New("lock: not acquired")

// DefaultRetryInterval is the hop between attempts in AcquireWait.
const DefaultRetryInterval = 10 * time.Millisecond

// Locker acquires and releases expiring locks.
type Locker interface {
	// Acquire takes key for ttl and returns an ownership token, or
	// ErrNotAcquired when the key is held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Release frees key if token still owns it. Releasing a lock that has
	// expired or changed owner is not an error.
	Release(ctx context.Context, key, token string) error
	// Refresh extends the TTL of a lock token still owns, or returns
	// ErrNotAcquired when it has been lost.
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
}

// EventKey is the lock key of an Event id.
func EventKey(id int64) string {
	return "umeboshi-event-" + strconv.FormatInt(id, 10)
}

// AcquireWait retries Acquire every DefaultRetryInterval until it succeeds,
// wait elapses or ctx is done. A non-positive wait tries once.
func AcquireWait(ctx context.Context, l Locker, key string, ttl, wait time.Duration) (string, error) {
	token, err := l.Acquire(ctx, key, ttl)
	if wait <= 0 || !errors.Is(err, ErrNotAcquired) {
		return token, err
	}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(DefaultRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		token, err = l.Acquire(ctx, key, ttl)
		if !errors.Is(err, ErrNotAcquired) {
			return token, err
		}
		if !time.Now().Before(deadline) {
			return "", err
		}
	}
}

func newToken() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
