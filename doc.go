// Package umeboshi is a durable scheduler for deferred application work.
//
// Applications register Routines under a trigger name and ask the Engine to
// run them at, or after, some moment with a list of arguments. Each request
// is persisted as an Event. A Poller finds Events whose time has come and a
// Worker pool processes them, recording whether each attempt succeeded,
// failed, was cancelled or broke.
//
// # Core Concepts
//
//  1. Routine
//  2. Event
//  3. Trigger behavior
//  4. Engine
//  5. Poller and Worker
//
// # Routine
//
// A Routine is built fresh for every attempt from the Event's stored
// arguments. CheckValidity runs first; returning false cancels the Event.
// Run does the work and returns an Outcome:
//
//   - Success() marks the Event SUCCESSFUL
//   - Cancel() marks it CANCELLED
//   - Fail(err) marks it FAILED
//   - Retry() / RetryAt(t) marks it FAILED and schedules a new Event with
//     the same arguments
//
// A panic inside Run is treated as Fail. Anything that goes wrong outside
// Run (unknown trigger, constructor error, interrupted attempt) marks the
// Event BROKEN and is returned to the caller of Process.
//
// # Trigger behavior
//
// A RoutineDescriptor's Behavior decides what happens when a new Event is
// scheduled while Events with the same arguments already exist in the same
// dedup group (TaskGroup if set, else TriggerName):
//
//   - BehaviorDefault always schedules
//   - BehaviorRunOnce refuses once one has succeeded
//   - BehaviorScheduleOnce refuses while one is waiting
//   - BehaviorRunAndScheduleOnce refuses while one is waiting or after one
//     succeeded
//   - BehaviorLastOnly cancels the waiting ones and schedules the new one
//   - BehaviorDeleteAfterProcessing always schedules and removes the Event
//     once it has been processed
//
// Arguments are compared by the hash of their serialized bytes, so the
// default CBOR serializer encodes deterministically.
//
// # Engine
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite
//   - Postgres
//   - MongoDB
//
// # Poller and Worker
//
// The Poller enqueues the ids of due Events on a cron schedule. Workers take
// a per-Event lock, re-check that the Event is still waiting and process it
// under an execution budget. Queues (in-memory or Redis) are only a
// transport; the Event rows are the source of truth.
//
// # LocalRunner and Bundle
//
// LocalRunner wires everything in memory for development and tests. Open
// builds a Bundle from a config.Config, so a deployment can switch storage,
// queue and lock backends from YAML.
package umeboshi
