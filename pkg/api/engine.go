package api

import (
	"context"
	"time"
)

// Serializer turns Routine arguments into an opaque blob and back.
//
// Implementations should be deterministic: identical arguments must yield
// identical bytes, since dedup compares the hash of the blob.
type Serializer interface {
	Name() string
	Serialize(args []any) ([]byte, error)
	Deserialize(data []byte) ([]any, error)
}

// ScheduleOptions holds the optional parameters of Engine.Schedule.
type ScheduleOptions struct {
	// At is the earliest moment the Event may run. Zero means now.
	At time.Time
	// Args are passed to the Routine constructor.
	Args []any
	// Strict turns a policy rejection into ErrDuplicateEvent instead of a
	// silent (nil, nil) result.
	Strict bool
}

// ScheduleOption configures a Schedule call.
type ScheduleOption func(*ScheduleOptions)

// At schedules the Event for t.
func At(t time.Time) ScheduleOption {
	return func(o *ScheduleOptions) { o.At = t }
}

// After schedules the Event d from now, measured when the option is applied.
func After(d time.Duration) ScheduleOption {
	return func(o *ScheduleOptions) { o.At = time.Now().Add(d) }
}

// WithArgs sets the Routine constructor arguments.
func WithArgs(args ...any) ScheduleOption {
	return func(o *ScheduleOptions) { o.Args = args }
}

// Strict makes a rejected Schedule call fail with ErrDuplicateEvent.
func Strict() ScheduleOption {
	return func(o *ScheduleOptions) { o.Strict = true }
}

// NewScheduleOptions applies opts over the zero ScheduleOptions.
func NewScheduleOptions(opts ...ScheduleOption) ScheduleOptions {
	var o ScheduleOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Engine is the scheduler API.
type Engine interface {
	// Register adds a Routine descriptor. Registration happens once at
	// process start, before scheduling or processing.
	Register(desc RoutineDescriptor) error

	// Schedule requests that the Routine registered under trigger runs at
	// or after the requested time. When the trigger behavior rejects the
	// request it returns (nil, nil), or ErrDuplicateEvent with Strict.
	Schedule(ctx context.Context, trigger string, opts ...ScheduleOption) (*Event, error)

	// Process runs one attempt for ev and records its outcome. It is a
	// no-op for an Event that is no longer CREATED. Only BROKEN attempts
	// and storage failures return an error.
	Process(ctx context.Context, ev *Event) error

	// RetrySchedule creates a new CREATED Event with the same Routine and
	// arguments as a terminally failed ev. A zero at means now plus the
	// engine's retry delay.
	RetrySchedule(ctx context.Context, ev *Event, at time.Time) (*Event, error)

	// Cancel marks an unprocessed Event cancelled. It fails with
	// ErrEventProcessed when the stored Event is already processed, even if
	// ev is a stale CREATED copy.
	Cancel(ctx context.Context, ev *Event) error

	// GetEvent loads an Event with its arguments decoded. Args is nil when
	// the stored blob cannot be decoded.
	GetEvent(ctx context.Context, id int64) (*Event, error)

	// ListEvents returns Events matching opts ordered by scheduled time.
	ListEvents(ctx context.Context, opts EventListOptions) ([]*Event, error)

	// RoutineEvents returns the CREATED Events of a trigger ordered by
	// scheduled time.
	RoutineEvents(ctx context.Context, trigger string) ([]*Event, error)

	// DueEventIDs returns the IDs of CREATED Events scheduled at or before
	// now, oldest first. limit <= 0 means no limit.
	DueEventIDs(ctx context.Context, limit int) ([]int64, error)
}
