package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/umeboshi/internal/persistence"
	"github.com/petrijr/umeboshi/pkg/api"
)

// attempt is the classified result of running one Event.
type attempt struct {
	status api.Status
	// desc is set once the trigger has been resolved.
	desc *api.RoutineDescriptor
	// retry requests a follow-up Event at retryAt (zero: default delay).
	retry   bool
	retryAt time.Time
	// failure describes a FAILED run. It is reported, not returned.
	failure error
}

// Process runs one attempt for ev and records the outcome.
//
// Callers must ensure at most one concurrent Process call per Event; the
// CREATED check here only makes a losing racer do nothing. Routine
// failures are recorded and swallowed. BROKEN attempts are recorded and
// their error returned.
func (e *engineImpl) Process(ctx context.Context, ev *api.Event) error {
	if ev == nil {
		return errors.New("umeboshi: process of nil event")
	}
	if ev.Status != api.StatusCreated || ev.IsProcessed() {
		e.log.Debug().
			Int64("event_id", ev.ID).
			Stringer("status", ev.Status).
			Msg("event already processed, skipping")
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "umeboshi.process", trace.WithAttributes(
		attribute.Int64("umeboshi.event_id", ev.ID),
		attribute.String("umeboshi.trigger", ev.TriggerName),
	))
	defer span.End()

	start := time.Now()
	e.observer.OnProcessStart(ctx, ev)

	res, runErr := e.execute(ctx, ev)

	// The outcome is recorded even when the attempt's context has ended.
	writeCtx := context.WithoutCancel(ctx)
	storeErr := e.record(writeCtx, ev, res)

	err := errors.CombineErrors(runErr, storeErr)
	reported := err
	if reported == nil {
		reported = res.failure
	}

	span.SetAttributes(attribute.String("umeboshi.status", ev.Status.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if res.failure != nil {
		span.RecordError(res.failure)
	}

	e.observer.OnProcessCompleted(ctx, ev, reported, time.Since(start))
	return err
}

// execute resolves, constructs, validates and runs the Routine. A panic
// outside Run is a BROKEN attempt.
func (e *engineImpl) execute(ctx context.Context, ev *api.Event) (res attempt, err error) {
	res.status = api.StatusBroken
	defer func() {
		if r := recover(); r != nil {
			res.status = api.StatusBroken
			err = errors.Newf("umeboshi: panic while processing event %d: %v", ev.ID, r)
		}
	}()

	desc, err := e.registry.Lookup(ev.TriggerName)
	if err != nil {
		return res, err
	}
	res.desc = &desc

	args, err := e.serializer.Deserialize(ev.DataBlob)
	if err != nil {
		return res, errors.Wrapf(err, "event %d: decode arguments", ev.ID)
	}
	ev.Args = args

	routine, err := desc.New(args)
	if err != nil {
		return res, errors.Wrapf(err, "event %d: construct routine %q", ev.ID, desc.TriggerName)
	}
	if routine == nil {
		return res, errors.Newf("event %d: routine %q constructor returned nil", ev.ID, desc.TriggerName)
	}

	if !routine.CheckValidity(ctx) {
		res.status = api.StatusCancelled
		return res, nil
	}

	out := runRoutine(ctx, routine)

	if ctx.Err() != nil && out.Kind != api.OutcomeSuccess {
		return res, errors.Mark(
			errors.Wrapf(context.Cause(ctx), "event %d: processing interrupted", ev.ID),
			api.ErrProcessingInterrupted,
		)
	}

	switch out.Kind {
	case api.OutcomeSuccess:
		res.status = api.StatusSuccessful
	case api.OutcomeCancelled:
		res.status = api.StatusCancelled
	case api.OutcomeRetry:
		res.status = api.StatusFailed
		res.retry = true
		res.retryAt = out.RetryAt
	default:
		res.status = api.StatusFailed
		res.failure = routineFailure(ev, out.Err)
	}
	return res, nil
}

// runRoutine calls Run and turns a panic into a failed outcome.
func runRoutine(ctx context.Context, r api.Routine) (out api.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = api.Fail(errors.Newf("panic: %v", p))
		}
	}()
	return r.Run(ctx)
}

func routineFailure(ev *api.Event, cause error) error {
	if cause == nil {
		return errors.Wrapf(api.ErrRoutineRun, "event %d", ev.ID)
	}
	return errors.Mark(errors.Wrapf(cause, "event %d", ev.ID), api.ErrRoutineRun)
}

// record persists the attempt: the retry Event first, then the terminal
// status, or a delete for delete-after-processing Routines.
func (e *engineImpl) record(ctx context.Context, ev *api.Event, res attempt) error {
	processed := e.now()
	ev.Status = res.status
	ev.ProcessedAt = &processed

	var errs error
	if res.retry {
		if _, err := e.RetrySchedule(ctx, ev, res.retryAt); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}

	if res.desc != nil && res.desc.Behavior.Normalize() == api.BehaviorDeleteAfterProcessing {
		if err := e.store.DeleteEvent(ctx, ev.ID); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "event %d: delete after processing", ev.ID))
		}
		return errs
	}

	if err := e.store.UpdateEvent(ctx, ev); err != nil {
		if errors.Is(err, persistence.ErrEventAlreadyProcessed) {
			err = errors.Mark(err, api.ErrEventProcessed)
		}
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "event %d: record status", ev.ID))
	}
	return errs
}
