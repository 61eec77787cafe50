package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/umeboshi/pkg/api"
)

var conformanceUUIDs int

func newTestEvent(trigger, group, hash string, scheduled time.Time) *api.Event {
	conformanceUUIDs++
	return &api.Event{
		UUID:        fmt.Sprintf("uuid-%d-%d", time.Now().UnixNano(), conformanceUUIDs),
		TriggerName: trigger,
		TaskGroup:   group,
		DataBlob:    []byte(hash),
		DataHash:    hash,
		CreatedAt:   scheduled.Add(-time.Minute),
		ScheduledAt: scheduled,
		Status:      api.StatusCreated,
	}
}

func markProcessed(ev *api.Event, status api.Status, at time.Time) {
	ev.Status = status
	ev.ProcessedAt = &at
}

// runEventStoreConformance exercises behavior every EventStore must share.
// newStore must return an empty store.
func runEventStoreConformance(t *testing.T, newStore func(t *testing.T) EventStore) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("CreateAssignsIDsAndGetRoundTrips", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		a := newTestEvent("send-mail", "", "h1", base)
		b := newTestEvent("send-mail", "mail", "h1", base)
		require.NoError(t, store.CreateEvent(ctx, a))
		require.NoError(t, store.CreateEvent(ctx, b))
		require.NotZero(t, a.ID)
		require.NotEqual(t, a.ID, b.ID)

		got, err := store.GetEvent(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.UUID, got.UUID)
		assert.Equal(t, "send-mail", got.TriggerName)
		assert.Equal(t, "mail", got.TaskGroup)
		assert.Equal(t, []byte("h1"), got.DataBlob)
		assert.Equal(t, "h1", got.DataHash)
		assert.True(t, got.ScheduledAt.Equal(base))
		assert.True(t, got.CreatedAt.Equal(base.Add(-time.Minute)))
		assert.Nil(t, got.ProcessedAt)
		assert.Equal(t, api.StatusCreated, got.Status)
		assert.Nil(t, got.Args)
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetEvent(context.Background(), 987654)
		assert.True(t, errors.Is(err, ErrEventNotFound), "got %v", err)
	})

	t.Run("UpdateWritesMutableColumns", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		ev := newTestEvent("t", "", "h", base)
		require.NoError(t, store.CreateEvent(ctx, ev))

		markProcessed(ev, api.StatusFailed, base.Add(time.Second))
		ev.ScheduledAt = base.Add(time.Hour) // not a mutable column
		require.NoError(t, store.UpdateEvent(ctx, ev))

		got, err := store.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, api.StatusFailed, got.Status)
		require.NotNil(t, got.ProcessedAt)
		assert.True(t, got.ProcessedAt.Equal(base.Add(time.Second)))
		assert.True(t, got.ScheduledAt.Equal(base))

		missing := newTestEvent("t", "", "h", base)
		missing.ID = 424242
		assert.True(t, errors.Is(store.UpdateEvent(ctx, missing), ErrEventNotFound))
	})

	t.Run("UpdateLeavesProcessedRowsAlone", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		ev := newTestEvent("t", "", "h", base)
		require.NoError(t, store.CreateEvent(ctx, ev))
		stale := *ev

		markProcessed(ev, api.StatusSuccessful, base.Add(time.Second))
		require.NoError(t, store.UpdateEvent(ctx, ev))

		markProcessed(&stale, api.StatusCancelled, base.Add(time.Minute))
		err := store.UpdateEvent(ctx, &stale)
		assert.True(t, errors.Is(err, ErrEventAlreadyProcessed), "got %v", err)

		got, err := store.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSuccessful, got.Status)
		require.NotNil(t, got.ProcessedAt)
		assert.True(t, got.ProcessedAt.Equal(base.Add(time.Second)))
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		ev := newTestEvent("t", "", "h", base)
		require.NoError(t, store.CreateEvent(ctx, ev))
		require.NoError(t, store.DeleteEvent(ctx, ev.ID))

		_, err := store.GetEvent(ctx, ev.ID)
		assert.True(t, errors.Is(err, ErrEventNotFound))
		assert.True(t, errors.Is(store.DeleteEvent(ctx, ev.ID), ErrEventNotFound))
	})

	t.Run("FindMatching", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		pending := newTestEvent("report", "", "same", base)
		done := newTestEvent("report", "", "same", base.Add(time.Minute))
		otherHash := newTestEvent("report", "", "other", base)
		otherTrigger := newTestEvent("invoice", "", "same", base)
		grouped := newTestEvent("invoice", "billing", "same", base)
		for _, ev := range []*api.Event{pending, done, otherHash, otherTrigger, grouped} {
			require.NoError(t, store.CreateEvent(ctx, ev))
		}
		markProcessed(done, api.StatusSuccessful, base.Add(2*time.Minute))
		require.NoError(t, store.UpdateEvent(ctx, done))

		byTrigger := api.NewGroupKey("report", "")

		all, err := store.FindMatching(ctx, MatchQuery{Group: byTrigger, DataHash: "same"})
		require.NoError(t, err)
		assert.Equal(t, []int64{pending.ID, done.ID}, eventIDs(all))

		unprocessed, err := store.FindMatching(ctx, MatchQuery{Group: byTrigger, DataHash: "same", UnprocessedOnly: true})
		require.NoError(t, err)
		assert.Equal(t, []int64{pending.ID}, eventIDs(unprocessed))

		successful, err := store.FindMatching(ctx, MatchQuery{
			Group:    byTrigger,
			DataHash: "same",
			Statuses: []api.Status{api.StatusSuccessful},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{done.ID}, eventIDs(successful))

		either, err := store.FindMatching(ctx, MatchQuery{
			Group:    byTrigger,
			DataHash: "same",
			Statuses: []api.Status{api.StatusSuccessful, api.StatusCreated},
		})
		require.NoError(t, err)
		assert.Len(t, either, 2)

		byGroup, err := store.FindMatching(ctx, MatchQuery{Group: api.NewGroupKey("anything", "billing"), DataHash: "same"})
		require.NoError(t, err)
		assert.Equal(t, []int64{grouped.ID}, eventIDs(byGroup))
	})

	t.Run("ListDueEventIDs", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		late := newTestEvent("t", "", "a", base.Add(-time.Minute))
		early := newTestEvent("t", "", "b", base.Add(-time.Hour))
		exact := newTestEvent("t", "", "c", base)
		future := newTestEvent("t", "", "d", base.Add(time.Second))
		processed := newTestEvent("t", "", "e", base.Add(-2*time.Hour))
		for _, ev := range []*api.Event{late, early, exact, future, processed} {
			require.NoError(t, store.CreateEvent(ctx, ev))
		}
		markProcessed(processed, api.StatusCancelled, base)
		require.NoError(t, store.UpdateEvent(ctx, processed))

		ids, err := store.ListDueEventIDs(ctx, base, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{early.ID, late.ID, exact.ID}, ids)

		limited, err := store.ListDueEventIDs(ctx, base, 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{early.ID, late.ID}, limited)
	})

	t.Run("ListEvents", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		a := newTestEvent("a", "", "1", base.Add(2*time.Minute))
		b := newTestEvent("a", "g", "2", base)
		c := newTestEvent("c", "g", "3", base.Add(time.Minute))
		for _, ev := range []*api.Event{a, b, c} {
			require.NoError(t, store.CreateEvent(ctx, ev))
		}
		markProcessed(c, api.StatusBroken, base)
		require.NoError(t, store.UpdateEvent(ctx, c))

		all, err := store.ListEvents(ctx, EventFilter{})
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID, c.ID, a.ID}, eventIDs(all))

		byTrigger, err := store.ListEvents(ctx, EventFilter{TriggerName: "a"})
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID, a.ID}, eventIDs(byTrigger))

		byGroup, err := store.ListEvents(ctx, EventFilter{TaskGroup: "g", Statuses: []api.Status{api.StatusBroken}})
		require.NoError(t, err)
		assert.Equal(t, []int64{c.ID}, eventIDs(byGroup))

		limited, err := store.ListEvents(ctx, EventFilter{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, eventIDs(limited))
	})
}

func eventIDs(events []*api.Event) []int64 {
	out := make([]int64, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}
