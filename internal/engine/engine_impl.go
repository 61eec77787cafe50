package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/umeboshi/internal/persistence"
	"github.com/petrijr/umeboshi/internal/registry"
	"github.com/petrijr/umeboshi/internal/serializer"
	"github.com/petrijr/umeboshi/pkg/api"
)

// DefaultRetryDelay is how far in the future a retry is scheduled when the
// Routine does not name a time.
const DefaultRetryDelay = time.Hour

const tracerName = "github.com/petrijr/umeboshi"

// engineImpl is a synchronous engine: every call runs on the caller's
// goroutine against the shared store.
type engineImpl struct {
	store      persistence.EventStore
	registry   *registry.Registry
	serializer api.Serializer
	observer   api.Observer
	log        zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	retryDelay time.Duration
}

// Config describes how to construct an engineImpl.
// Zero fields get defaults: in-memory store, fresh registry, CBOR
// serializer, no-op observer and logger, the global otel tracer, wall
// clock and DefaultRetryDelay.
type Config struct {
	Store      persistence.EventStore
	Registry   *registry.Registry
	Serializer api.Serializer
	Observer   api.Observer
	Logger     *zerolog.Logger
	Tracer     trace.Tracer
	Now        func() time.Time
	RetryDelay time.Duration
}

func NewInMemoryEngine() api.Engine {
	return NewEngineWithConfig(Config{Store: persistence.NewInMemoryEventStore()})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Store: store}), nil
}

func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewPostgresEventStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Store: store}), nil
}

// NewMongoEngine stores Events in dbName (DefaultMongoDatabase if empty).
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string) (api.Engine, error) {
	store, err := persistence.NewMongoEventStore(ctx, client, dbName)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Store: store}), nil
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	e := &engineImpl{
		store:      cfg.Store,
		registry:   cfg.Registry,
		serializer: cfg.Serializer,
		observer:   cfg.Observer,
		log:        log.With().Str("component", "engine").Logger(),
		tracer:     cfg.Tracer,
		now:        cfg.Now,
		retryDelay: cfg.RetryDelay,
	}
	if e.store == nil {
		e.store = persistence.NewInMemoryEventStore()
	}
	if e.registry == nil {
		e.registry = registry.New(log)
	}
	if e.serializer == nil {
		e.serializer = serializer.Default()
	}
	if e.observer == nil {
		e.observer = api.NoopObserver{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.retryDelay <= 0 {
		e.retryDelay = DefaultRetryDelay
	}
	return e
}

func (e *engineImpl) Register(desc api.RoutineDescriptor) error {
	return e.registry.Register(desc)
}

func (e *engineImpl) GetEvent(ctx context.Context, id int64) (*api.Event, error) {
	ev, err := e.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrEventNotFound) {
			return nil, errors.Wrapf(err, "event %d", id)
		}
		return nil, err
	}
	e.hydrate(ev)
	return ev, nil
}

func (e *engineImpl) ListEvents(ctx context.Context, opts api.EventListOptions) ([]*api.Event, error) {
	events, err := e.store.ListEvents(ctx, persistence.EventFilter{
		TriggerName: opts.TriggerName,
		TaskGroup:   opts.TaskGroup,
		Statuses:    opts.Statuses,
		Limit:       opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		e.hydrate(ev)
	}
	return events, nil
}

func (e *engineImpl) RoutineEvents(ctx context.Context, trigger string) ([]*api.Event, error) {
	return e.ListEvents(ctx, api.EventListOptions{
		TriggerName: trigger,
		Statuses:    []api.Status{api.StatusCreated},
	})
}

func (e *engineImpl) DueEventIDs(ctx context.Context, limit int) ([]int64, error) {
	return e.store.ListDueEventIDs(ctx, e.now(), limit)
}

// hydrate decodes ev.DataBlob into ev.Args. An undecodable blob leaves
// Args nil; Process reports it as a BROKEN attempt.
func (e *engineImpl) hydrate(ev *api.Event) {
	args, err := e.serializer.Deserialize(ev.DataBlob)
	if err != nil {
		e.log.Warn().Err(err).Int64("event_id", ev.ID).Msg("cannot decode event arguments")
		return
	}
	ev.Args = args
}

func newEventUUID() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
