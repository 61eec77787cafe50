package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Status represents the lifecycle state of an Event.
//
// The numeric values are persisted and must not change.
type Status int

const (
	// StatusCreated is the initial status of an Event waiting to be processed.
	StatusCreated Status = 0
	// StatusSuccessful marks an Event whose Routine ran to completion.
	StatusSuccessful Status = 1
	// StatusFailed marks an Event whose Routine failed or asked for a retry.
	StatusFailed Status = -1
	// StatusCancelled marks an Event whose validity check failed or that was
	// superseded before processing.
	StatusCancelled Status = -2
	// StatusBroken marks an Event that failed outside the Routine's own run
	// logic (unknown trigger, construction failure, interrupted attempt).
	StatusBroken Status = -3
)

var statusNames = map[Status]string{
	StatusCreated:    "CREATED",
	StatusSuccessful: "SUCCESSFUL",
	StatusFailed:     "FAILED",
	StatusCancelled:  "CANCELLED",
	StatusBroken:     "BROKEN",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// IsTerminal reports whether s is one of the final statuses.
func (s Status) IsTerminal() bool {
	_, known := statusNames[s]
	return known && s != StatusCreated
}

// ParseStatus converts a status name (case-insensitive) to a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return 0, errors.Newf("unknown event status %q", name)
}

// TriggerBehavior governs whether a new Event may be scheduled given the
// Events that already exist for the same dedup group and arguments.
type TriggerBehavior string

const (
	// BehaviorDefault always allows scheduling.
	BehaviorDefault TriggerBehavior = "default"
	// BehaviorScheduleOnce rejects while a matching Event is unprocessed.
	BehaviorScheduleOnce TriggerBehavior = "schedule-once"
	// BehaviorRunOnce rejects once a matching Event has succeeded.
	BehaviorRunOnce TriggerBehavior = "run-once"
	// BehaviorRunAndScheduleOnce rejects while a matching Event is waiting
	// or after one has succeeded.
	BehaviorRunAndScheduleOnce TriggerBehavior = "run-and-schedule-once"
	// BehaviorLastOnly cancels waiting matching Events and schedules the new one.
	BehaviorLastOnly TriggerBehavior = "last-only"
	// BehaviorDeleteAfterProcessing removes the Event row once processed.
	BehaviorDeleteAfterProcessing TriggerBehavior = "delete-after-processing"
)

// Normalize maps the zero value and unknown behaviors to BehaviorDefault.
func (b TriggerBehavior) Normalize() TriggerBehavior {
	switch b {
	case BehaviorScheduleOnce, BehaviorRunOnce, BehaviorRunAndScheduleOnce,
		BehaviorLastOnly, BehaviorDeleteAfterProcessing:
		return b
	default:
		return BehaviorDefault
	}
}

// GroupField names the Event column a dedup lookup filters on.
type GroupField int

const (
	GroupByTriggerName GroupField = iota
	GroupByTaskGroup
)

// GroupKey is the dedup bucket of a Routine: its task group when set,
// otherwise its trigger name.
type GroupKey struct {
	Field GroupField
	Value string
}

// NewGroupKey returns the dedup bucket for a trigger name / task group pair.
func NewGroupKey(triggerName, taskGroup string) GroupKey {
	if taskGroup != "" {
		return GroupKey{Field: GroupByTaskGroup, Value: taskGroup}
	}
	return GroupKey{Field: GroupByTriggerName, Value: triggerName}
}

// Matches reports whether ev belongs to the bucket.
func (k GroupKey) Matches(ev *Event) bool {
	if k.Field == GroupByTaskGroup {
		return ev.TaskGroup == k.Value
	}
	return ev.TriggerName == k.Value
}

// Event is one scheduled-or-executed invocation of a Routine.
type Event struct {
	// ID is assigned by the store on creation.
	ID int64
	// UUID is a short, externally visible identifier.
	UUID string

	TriggerName string
	// TaskGroup, when non-empty, replaces TriggerName as the dedup bucket.
	TaskGroup string

	// Args are the Routine constructor arguments. They are populated from
	// DataBlob when an Event is loaded through the engine.
	Args []any
	// DataBlob holds the serialized Args.
	DataBlob []byte
	// DataHash is the hex md5 of DataBlob, used for dedup equality.
	DataHash string

	CreatedAt   time.Time
	ScheduledAt time.Time
	// ProcessedAt is nil until a processing attempt completes.
	ProcessedAt *time.Time

	Status Status
}

// IsProcessed reports whether a terminal processing attempt has been recorded.
func (e *Event) IsProcessed() bool {
	return e.ProcessedAt != nil
}

// GroupKey returns the dedup bucket of the Event.
func (e *Event) GroupKey() GroupKey {
	return NewGroupKey(e.TriggerName, e.TaskGroup)
}

// Clone returns a deep copy of e. Argument values themselves are shared.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.Args != nil {
		c.Args = append([]any(nil), e.Args...)
	}
	if e.DataBlob != nil {
		c.DataBlob = append([]byte(nil), e.DataBlob...)
	}
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// EventListOptions selects Events for Engine.ListEvents.
// Zero values mean "no filter" for that field.
type EventListOptions struct {
	TriggerName string
	TaskGroup   string
	Statuses    []Status
	Limit       int
}
