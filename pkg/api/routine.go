package api

import (
	"context"
	"time"
)

// Routine is application logic associated with Events.
//
// A Routine is constructed fresh for every processing attempt from the
// Event's stored arguments, so implementations can keep per-attempt state
// in their fields.
type Routine interface {
	// CheckValidity is called just before Run. Returning false cancels the
	// Event without running it.
	CheckValidity(ctx context.Context) bool

	// Run performs the work and reports how the attempt ended.
	Run(ctx context.Context) Outcome
}

// RoutineFactory builds a Routine from an Event's deserialized arguments.
type RoutineFactory func(args []any) (Routine, error)

// RoutineDescriptor is the type-level registration of a Routine.
type RoutineDescriptor struct {
	// TriggerName is the unique key stored on every Event of this Routine.
	TriggerName string
	// TaskGroup optionally shares one dedup bucket across several Routines.
	TaskGroup string
	// Behavior is the trigger behavior; the zero value means BehaviorDefault.
	Behavior TriggerBehavior
	// New constructs a Routine for one processing attempt.
	New RoutineFactory
}

// GroupKey returns the dedup bucket the descriptor schedules into.
func (d RoutineDescriptor) GroupKey() GroupKey {
	return NewGroupKey(d.TriggerName, d.TaskGroup)
}

// RunFunc adapts a function into a Routine that is always valid.
type RunFunc func(ctx context.Context) Outcome

func (f RunFunc) CheckValidity(context.Context) bool { return true }

func (f RunFunc) Run(ctx context.Context) Outcome { return f(ctx) }

// OutcomeKind enumerates how a Routine's Run ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeCancelled
	OutcomeFailed
	OutcomeRetry
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Outcome is the result of a Routine run.
type Outcome struct {
	Kind OutcomeKind
	// RetryAt is the requested retry time for OutcomeRetry. Zero means the
	// engine's default retry delay.
	RetryAt time.Time
	// Err describes a failure.
	Err error
}

// Success reports a completed run.
func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

// Cancel reports that the work should not happen after all.
func Cancel() Outcome { return Outcome{Kind: OutcomeCancelled} }

// Fail reports a failed run. The Event is marked failed and not retried.
func Fail(err error) Outcome { return Outcome{Kind: OutcomeFailed, Err: err} }

// Retry marks the Event failed and schedules a new one after the engine's
// default retry delay.
func Retry() Outcome { return Outcome{Kind: OutcomeRetry} }

// RetryAt marks the Event failed and schedules a new one at t.
func RetryAt(t time.Time) Outcome { return Outcome{Kind: OutcomeRetry, RetryAt: t} }
