// Package policy decides whether a schedule request is accepted given the
// Events already stored for the same dedup bucket and data hash.
//
// The decision is pure. The engine asks Query which Events to load, loads
// them, and passes them to Decide.
package policy

import (
	"github.com/petrijr/umeboshi/internal/persistence"
	"github.com/petrijr/umeboshi/pkg/api"
)

// Decision is the outcome of a trigger behavior check.
type Decision int

const (
	// Allow creates the new Event.
	Allow Decision = iota
	// Reject refuses the request as a duplicate.
	Reject
	// AllowAfterCancel cancels Verdict.Cancel, then creates the new Event.
	AllowAfterCancel
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Reject:
		return "reject"
	case AllowAfterCancel:
		return "allow-after-cancel"
	default:
		return "unknown"
	}
}

// Verdict is the result of Decide.
type Verdict struct {
	Decision Decision
	// Cancel lists the Events to supersede for AllowAfterCancel.
	Cancel []*api.Event
}

// Query returns the store query a behavior needs, or false when the
// behavior never looks at existing Events.
func Query(behavior api.TriggerBehavior, group api.GroupKey, dataHash string) (persistence.MatchQuery, bool) {
	q := persistence.MatchQuery{Group: group, DataHash: dataHash}

	switch behavior.Normalize() {
	case api.BehaviorRunOnce:
		q.Statuses = []api.Status{api.StatusSuccessful}
	case api.BehaviorScheduleOnce, api.BehaviorLastOnly:
		q.UnprocessedOnly = true
	case api.BehaviorRunAndScheduleOnce:
		q.Statuses = []api.Status{api.StatusSuccessful, api.StatusCreated}
	default:
		return persistence.MatchQuery{}, false
	}
	return q, true
}

// Decide applies behavior to the existing Events of the same bucket and
// hash. Each Event is checked against the behavior's condition, so
// callers may pass a wider set than Query selects.
func Decide(behavior api.TriggerBehavior, existing []*api.Event) Verdict {
	switch behavior.Normalize() {
	case api.BehaviorRunOnce:
		if anyMatch(existing, func(ev *api.Event) bool { return ev.Status == api.StatusSuccessful }) {
			return Verdict{Decision: Reject}
		}
	case api.BehaviorScheduleOnce:
		if anyMatch(existing, func(ev *api.Event) bool { return !ev.IsProcessed() }) {
			return Verdict{Decision: Reject}
		}
	case api.BehaviorRunAndScheduleOnce:
		if anyMatch(existing, func(ev *api.Event) bool {
			return ev.Status == api.StatusSuccessful || ev.Status == api.StatusCreated
		}) {
			return Verdict{Decision: Reject}
		}
	case api.BehaviorLastOnly:
		var cancel []*api.Event
		for _, ev := range existing {
			if !ev.IsProcessed() {
				cancel = append(cancel, ev)
			}
		}
		if len(cancel) > 0 {
			return Verdict{Decision: AllowAfterCancel, Cancel: cancel}
		}
	}
	return Verdict{Decision: Allow}
}

func anyMatch(events []*api.Event, pred func(*api.Event) bool) bool {
	for _, ev := range events {
		if pred(ev) {
			return true
		}
	}
	return false
}
