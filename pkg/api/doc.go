// Package api contains the core building blocks used by the umeboshi
// scheduler. It defines the persisted Event record, the Routine contract
// application code implements, the trigger behaviors that govern
// deduplication, and the Engine and Observer interfaces.
//
// Most users interact with the higher-level umeboshi package, which
// re-exports selected types and helpers from this package. The api package
// is intended for advanced use cases, custom integrations (stores,
// serializers, observers) or contributors extending the engine itself.
//
// # Events
//
// An Event is one instance of deferred computation: the trigger name of a
// Routine, its serialized arguments and the moment it becomes eligible to
// run. Events start in StatusCreated and move exactly once to a terminal
// status (successful, failed, cancelled or broken). A failed Event may spawn
// a new Event through a retry; the failed row stays as history.
//
// # Routines
//
// A Routine is application code registered under a unique trigger name via
// a RoutineDescriptor. A fresh Routine is constructed from the stored
// arguments for every processing attempt. Its Run method returns an Outcome
// value (success, cancel, fail, retry) instead of signalling through panics
// or special errors.
//
// # Trigger behaviors
//
// A descriptor's TriggerBehavior decides whether a new schedule request is
// accepted while matching Events exist. Matching is by dedup group (task
// group if set, otherwise trigger name) and exact argument hash.
//
// # Observability
//
// The Observer interface receives scheduling and processing callbacks.
// LoggingObserver, BasicMetrics and CompositeObserver are provided.
package api
