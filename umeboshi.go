package umeboshi

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/umeboshi/internal/engine"
	"github.com/petrijr/umeboshi/internal/lock"
	"github.com/petrijr/umeboshi/internal/registry"
	"github.com/petrijr/umeboshi/internal/serializer"
	"github.com/petrijr/umeboshi/internal/taskqueue"
	"github.com/petrijr/umeboshi/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Event                = api.Event
	EventListOptions     = api.EventListOptions
	Status               = api.Status
	TriggerBehavior      = api.TriggerBehavior
	Routine              = api.Routine
	RoutineFactory       = api.RoutineFactory
	RoutineDescriptor    = api.RoutineDescriptor
	RunFunc              = api.RunFunc
	Outcome              = api.Outcome
	ScheduleOption       = api.ScheduleOption
	Serializer           = api.Serializer
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	// Queue carries due Event ids from a poller to workers.
	Queue = taskqueue.Queue
	// Task is one queued Event id.
	Task = taskqueue.Task
	// Locker provides the per-Event lock used by workers.
	Locker = lock.Locker
	// EngineConfig configures NewEngine.
	EngineConfig = engine.Config
	// Registry maps trigger names to Routine descriptors.
	Registry = registry.Registry
)

// Re-export status values and trigger behaviors for convenience.

const (
	StatusCreated    = api.StatusCreated
	StatusSuccessful = api.StatusSuccessful
	StatusFailed     = api.StatusFailed
	StatusCancelled  = api.StatusCancelled
	StatusBroken     = api.StatusBroken

	BehaviorDefault               = api.BehaviorDefault
	BehaviorScheduleOnce          = api.BehaviorScheduleOnce
	BehaviorRunOnce               = api.BehaviorRunOnce
	BehaviorRunAndScheduleOnce    = api.BehaviorRunAndScheduleOnce
	BehaviorLastOnly              = api.BehaviorLastOnly
	BehaviorDeleteAfterProcessing = api.BehaviorDeleteAfterProcessing
)

// Re-export outcomes, schedule options, observers and errors.

var (
	Success = api.Success
	Cancel  = api.Cancel
	Fail    = api.Fail
	Retry   = api.Retry
	RetryAt = api.RetryAt

	At       = api.At
	After    = api.After
	WithArgs = api.WithArgs
	Strict   = api.Strict

	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	ErrDuplicateEvent        = api.ErrDuplicateEvent
	ErrUnknownTrigger        = api.ErrUnknownTrigger
	ErrNoRoutineTrigger      = api.ErrNoRoutineTrigger
	ErrNoRoutineFactory      = api.ErrNoRoutineFactory
	ErrRoutineRun            = api.ErrRoutineRun
	ErrInvalidRetry          = api.ErrInvalidRetry
	ErrEventProcessed        = api.ErrEventProcessed
	ErrProcessingInterrupted = api.ErrProcessingInterrupted
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine whose Events live in process memory.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewSQLiteEngine returns an Engine that persists Events in a SQLite
// database. The caller imports the driver, e.g. _ "modernc.org/sqlite".
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewPostgresEngine returns an Engine that persists Events in PostgreSQL.
// The caller imports the driver, e.g. _ "github.com/jackc/pgx/v5/stdlib".
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(db)
}

// NewMongoEngine returns an Engine that persists Events in MongoDB.
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string) (Engine, error) {
	return engine.NewMongoEngine(ctx, client, dbName)
}

// NewEngine returns an Engine built from cfg. Zero fields get defaults.
func NewEngine(cfg EngineConfig) Engine {
	return engine.NewEngineWithConfig(cfg)
}

// NewRegistry returns an empty Registry that can be shared between engines
// through EngineConfig.
func NewRegistry(log zerolog.Logger) *Registry {
	return registry.New(log)
}

// Serializers

// LookupSerializer returns the serializer registered under name
// ("cbor", "gob" or "json").
func LookupSerializer(name string) (Serializer, error) {
	return serializer.Lookup(name)
}

// Queue and lock constructors

// NewInMemoryQueue returns a process-local Queue with the given capacity.
func NewInMemoryQueue(capacity int) Queue {
	return taskqueue.NewInMemoryQueue(capacity)
}

// NewRedisQueue returns a Queue shared by every process using client.
func NewRedisQueue(client redis.UniversalClient, prefix string, log zerolog.Logger) Queue {
	return taskqueue.NewRedisQueue(client, prefix, log)
}

// NewMemoryLocker returns a process-local Locker.
func NewMemoryLocker() Locker {
	return lock.NewMemoryLocker()
}

// NewRedisLocker returns a Locker shared by every process using client.
func NewRedisLocker(client redis.UniversalClient, prefix string) Locker {
	return lock.NewRedisLocker(client, prefix)
}
