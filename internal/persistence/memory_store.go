package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/umeboshi/pkg/api"
)

// InMemoryEventStore is a goroutine-safe EventStore backed by a map. It is
// meant for tests and single-process use; its contents die with the process.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	nextID int64
	events map[int64]*api.Event
}

// NewInMemoryEventStore creates an empty store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events: make(map[int64]*api.Event),
	}
}

// Ensure InMemoryEventStore implements EventStore.
var _ EventStore = (*InMemoryEventStore)(nil)

// stored strips what a durable store would not keep.
func stored(ev *api.Event) *api.Event {
	c := ev.Clone()
	c.Args = nil
	return c
}

func (s *InMemoryEventStore) CreateEvent(_ context.Context, ev *api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	ev.ID = s.nextID
	s.events[ev.ID] = stored(ev)
	return nil
}

func (s *InMemoryEventStore) UpdateEvent(_ context.Context, ev *api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[ev.ID]
	if !ok {
		return ErrEventNotFound
	}
	if cur.ProcessedAt != nil {
		return ErrEventAlreadyProcessed
	}

	next := stored(ev)
	// Immutable columns keep their persisted values.
	next.UUID = cur.UUID
	next.TriggerName = cur.TriggerName
	next.TaskGroup = cur.TaskGroup
	next.CreatedAt = cur.CreatedAt
	next.ScheduledAt = cur.ScheduledAt
	s.events[ev.ID] = next
	return nil
}

func (s *InMemoryEventStore) DeleteEvent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return ErrEventNotFound
	}
	delete(s.events, id)
	return nil
}

func (s *InMemoryEventStore) GetEvent(_ context.Context, id int64) (*api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return ev.Clone(), nil
}

func (s *InMemoryEventStore) FindMatching(_ context.Context, q MatchQuery) ([]*api.Event, error) {
	return s.collect(q.Matches, 0), nil
}

func (s *InMemoryEventStore) ListDueEventIDs(_ context.Context, now time.Time, limit int) ([]int64, error) {
	due := s.collect(func(ev *api.Event) bool {
		return ev.Status == api.StatusCreated && ev.ProcessedAt == nil && !ev.ScheduledAt.After(now)
	}, limit)

	ids := make([]int64, 0, len(due))
	for _, ev := range due {
		ids = append(ids, ev.ID)
	}
	return ids, nil
}

func (s *InMemoryEventStore) ListEvents(_ context.Context, f EventFilter) ([]*api.Event, error) {
	return s.collect(f.Matches, f.Limit), nil
}

func (s *InMemoryEventStore) collect(keep func(*api.Event) bool, limit int) []*api.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.Event
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, ev.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
