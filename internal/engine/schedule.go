package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/umeboshi/internal/persistence"
	"github.com/petrijr/umeboshi/internal/policy"
	"github.com/petrijr/umeboshi/internal/serializer"
	"github.com/petrijr/umeboshi/pkg/api"
)

// Schedule applies the Routine's trigger behavior and persists a new
// CREATED Event when it allows one.
//
// The check and the insert are not atomic: two concurrent identical
// requests can both pass the check.
func (e *engineImpl) Schedule(ctx context.Context, trigger string, opts ...api.ScheduleOption) (ev *api.Event, err error) {
	ctx, span := e.tracer.Start(ctx, "umeboshi.schedule",
		trace.WithAttributes(attribute.String("umeboshi.trigger", trigger)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	desc, err := e.registry.Lookup(trigger)
	if err != nil {
		return nil, err
	}

	o := api.NewScheduleOptions(opts...)
	args := o.Args
	if args == nil {
		args = []any{}
	}

	blob, err := e.serializer.Serialize(args)
	if err != nil {
		return nil, errors.Wrapf(err, "schedule %q: serialize arguments", trigger)
	}
	hash := serializer.Hash(blob)

	behavior := desc.Behavior.Normalize()
	if q, ok := policy.Query(behavior, desc.GroupKey(), hash); ok {
		existing, err := e.store.FindMatching(ctx, q)
		if err != nil {
			return nil, errors.Wrapf(err, "schedule %q: find matching events", trigger)
		}

		verdict := policy.Decide(behavior, existing)
		span.SetAttributes(attribute.String("umeboshi.decision", verdict.Decision.String()))

		switch verdict.Decision {
		case policy.Reject:
			e.observer.OnScheduleRejected(ctx, trigger, hash)
			if o.Strict {
				return nil, errors.Wrapf(api.ErrDuplicateEvent, "trigger %q (%s)", trigger, behavior)
			}
			return nil, nil
		case policy.AllowAfterCancel:
			for _, old := range verdict.Cancel {
				err := e.cancelEvent(ctx, old)
				if errors.Is(err, persistence.ErrEventAlreadyProcessed) {
					// Finished since the lookup; its outcome stands.
					e.log.Debug().Int64("event_id", old.ID).Msg("superseded event already processed")
					continue
				}
				if err != nil {
					return nil, errors.Wrapf(err, "schedule %q: supersede event %d", trigger, old.ID)
				}
			}
		}
	}

	now := e.now()
	at := o.At
	if at.IsZero() {
		at = now
	}

	ev = &api.Event{
		UUID:        newEventUUID(),
		TriggerName: desc.TriggerName,
		TaskGroup:   desc.TaskGroup,
		Args:        args,
		DataBlob:    blob,
		DataHash:    hash,
		CreatedAt:   now,
		ScheduledAt: at,
		Status:      api.StatusCreated,
	}
	if err := e.store.CreateEvent(ctx, ev); err != nil {
		return nil, errors.Wrapf(err, "schedule %q", trigger)
	}

	span.SetAttributes(attribute.Int64("umeboshi.event_id", ev.ID))
	e.observer.OnEventScheduled(ctx, ev)
	return ev, nil
}

// RetrySchedule creates a new CREATED Event with ev's Routine and
// arguments. The trigger behavior is not consulted and ev is left as is.
func (e *engineImpl) RetrySchedule(ctx context.Context, ev *api.Event, at time.Time) (*api.Event, error) {
	if ev == nil {
		return nil, errors.New("umeboshi: retry of nil event")
	}
	if ev.Status == api.StatusSuccessful || ev.Status == api.StatusCreated {
		return nil, errors.Wrapf(api.ErrInvalidRetry, "event %d is %s", ev.ID, ev.Status)
	}

	now := e.now()
	if at.IsZero() {
		at = now.Add(e.retryDelay)
	}

	args, err := e.serializer.Deserialize(ev.DataBlob)
	if err != nil {
		return nil, errors.Wrapf(err, "retry event %d: decode arguments", ev.ID)
	}

	retry := &api.Event{
		UUID:        newEventUUID(),
		TriggerName: ev.TriggerName,
		TaskGroup:   ev.TaskGroup,
		Args:        args,
		DataBlob:    append([]byte(nil), ev.DataBlob...),
		DataHash:    serializer.Hash(ev.DataBlob),
		CreatedAt:   now,
		ScheduledAt: at,
		Status:      api.StatusCreated,
	}
	if len(retry.DataBlob) == 0 {
		retry.DataBlob = nil
	}
	if err := e.store.CreateEvent(ctx, retry); err != nil {
		return nil, errors.Wrapf(err, "retry event %d", ev.ID)
	}

	e.log.Debug().
		Int64("event_id", ev.ID).
		Int64("retry_event_id", retry.ID).
		Time("scheduled_at", at).
		Msg("retry scheduled")
	e.observer.OnEventScheduled(ctx, retry)
	return retry, nil
}

// Cancel marks an unprocessed Event cancelled. The stored row decides:
// a stale copy of an Event processed elsewhere fails with
// ErrEventProcessed and the row keeps its status.
func (e *engineImpl) Cancel(ctx context.Context, ev *api.Event) error {
	if ev == nil {
		return errors.New("umeboshi: cancel of nil event")
	}
	if ev.IsProcessed() || ev.Status != api.StatusCreated {
		return errors.Wrapf(api.ErrEventProcessed, "event %d is %s", ev.ID, ev.Status)
	}
	err := e.cancelEvent(ctx, ev)
	if errors.Is(err, persistence.ErrEventAlreadyProcessed) {
		return errors.Wrapf(api.ErrEventProcessed, "event %d", ev.ID)
	}
	return err
}

// cancelEvent writes CANCELLED to the row. ev is only updated once the
// write succeeded.
func (e *engineImpl) cancelEvent(ctx context.Context, ev *api.Event) error {
	processed := e.now()
	next := ev.Clone()
	next.Status = api.StatusCancelled
	next.ProcessedAt = &processed

	if err := e.store.UpdateEvent(ctx, next); err != nil {
		return err
	}
	ev.Status = next.Status
	ev.ProcessedAt = next.ProcessedAt
	e.observer.OnEventCancelled(ctx, ev)
	return nil
}
