// Package persistence stores Events. The engine depends only on the
// EventStore interface; implementations exist for memory, SQLite,
// PostgreSQL and MongoDB.
package persistence

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/petrijr/umeboshi/pkg/api"
)

var (
	// ErrEventNotFound is returned when an Event id does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrEventAlreadyProcessed is returned by UpdateEvent when the stored
	// row already has a processed time.
	ErrEventAlreadyProcessed = errors.New("event already processed")
)

// MatchQuery selects the Events a trigger behavior has to look at: same
// dedup bucket and same data hash. Conditions are combined with AND.
type MatchQuery struct {
	Group    api.GroupKey
	DataHash string
	// Statuses restricts matches to any of the given statuses. Empty means
	// any status.
	Statuses []api.Status
	// UnprocessedOnly restricts matches to Events without a processed time.
	UnprocessedOnly bool
}

// Matches reports whether ev satisfies q. Stores that filter in memory use
// it, and SQL/Mongo stores must agree with it.
func (q MatchQuery) Matches(ev *api.Event) bool {
	if ev.DataHash != q.DataHash || !q.Group.Matches(ev) {
		return false
	}
	if q.UnprocessedOnly && ev.ProcessedAt != nil {
		return false
	}
	return statusIn(ev.Status, q.Statuses)
}

// EventFilter selects Events for listing. Zero values mean "no filter".
type EventFilter struct {
	TriggerName string
	TaskGroup   string
	Statuses    []api.Status
	// Limit caps the number of results; <= 0 means no limit.
	Limit int
}

// Matches reports whether ev satisfies f, ignoring Limit.
func (f EventFilter) Matches(ev *api.Event) bool {
	if f.TriggerName != "" && ev.TriggerName != f.TriggerName {
		return false
	}
	if f.TaskGroup != "" && ev.TaskGroup != f.TaskGroup {
		return false
	}
	return statusIn(ev.Status, f.Statuses)
}

// EventStore is durable storage for Event rows.
//
// Stores persist DataBlob, never Args; decoding arguments is the engine's
// job. Listing methods order results by scheduled time, then id.
type EventStore interface {
	// CreateEvent inserts ev and assigns ev.ID.
	CreateEvent(ctx context.Context, ev *api.Event) error
	// UpdateEvent writes the mutable columns of ev: status, processed time,
	// data blob and hash. Only unprocessed rows are written; a row that
	// already has a processed time is left as is and the call returns
	// ErrEventAlreadyProcessed.
	UpdateEvent(ctx context.Context, ev *api.Event) error
	// DeleteEvent removes the row. Deleting a missing row returns
	// ErrEventNotFound.
	DeleteEvent(ctx context.Context, id int64) error
	GetEvent(ctx context.Context, id int64) (*api.Event, error)
	// FindMatching returns the Events selected by q.
	FindMatching(ctx context.Context, q MatchQuery) ([]*api.Event, error)
	// ListDueEventIDs returns ids of unprocessed CREATED Events scheduled at
	// or before now. limit <= 0 means no limit.
	ListDueEventIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ListEvents(ctx context.Context, f EventFilter) ([]*api.Event, error)
}

func statusIn(s api.Status, statuses []api.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
