package api

import "github.com/cockroachdb/errors"

var (
	// ErrDuplicateEvent is returned by a strict Schedule call rejected by the
	// Routine's trigger behavior.
	ErrDuplicateEvent = errors.New("umeboshi: event could not be scheduled again because of its trigger behavior")

	// ErrUnknownTrigger is returned when no Routine is registered under an
	// Event's trigger name.
	ErrUnknownTrigger = errors.New("umeboshi: unknown trigger")

	// ErrNoRoutineTrigger is returned when registering a descriptor without
	// a trigger name.
	ErrNoRoutineTrigger = errors.New("umeboshi: routine has no trigger name")

	// ErrNoRoutineFactory is returned when registering a descriptor without
	// a constructor.
	ErrNoRoutineFactory = errors.New("umeboshi: routine has no constructor")

	// ErrRoutineRun marks a failure that happened inside a Routine's Run.
	ErrRoutineRun = errors.New("umeboshi: routine run failed")

	// ErrInvalidRetry is returned when retrying an Event that has not
	// terminally failed.
	ErrInvalidRetry = errors.New("umeboshi: can only reschedule a failed event")

	// ErrEventProcessed is returned when cancelling an Event that already
	// has a terminal status.
	ErrEventProcessed = errors.New("umeboshi: event already processed")

	// ErrProcessingInterrupted marks an attempt whose context ended while
	// the Routine was running (execution budget exhausted or shutdown).
	ErrProcessingInterrupted = errors.New("umeboshi: processing interrupted")
)
