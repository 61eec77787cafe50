// Package worker provides the dispatch side of umeboshi: a Poller that
// finds due Events and a Worker pool that processes them.
//
// The Poller runs on a cron schedule. Each tick asks the engine for the ids
// of CREATED Events whose scheduled time has passed, oldest first, and
// enqueues one task per id.
//
// A Worker takes ids off the queue and, for each one:
//
//  1. acquires the lock "umeboshi-event-{id}" with a TTL,
//  2. reloads the Event and re-checks that it is still CREATED,
//  3. calls Engine.Process under an execution budget, renewing the lock
//     while the Routine runs,
//  4. releases the lock.
//
// A refresh that fails is retried on the next tick. If the lock is gone,
// the attempt's context is cancelled with ErrLockLost. Stopping a Worker
// stops it taking new ids but lets running attempts finish within their
// budget.
//
// The lock guarantees at most one concurrent attempt per Event across every
// worker sharing the Locker, and its TTL frees Events held by workers that
// died. Because queues are only a transport, the same id may be enqueued
// more than once; the lock and the CREATED re-check make the duplicates
// harmless. The Poller also skips ids it enqueued recently.
//
// Most applications construct workers via umeboshi.Open or
// umeboshi.NewLocalRunner, which wire engines, queues and lockers together
// with defaults.
package worker
