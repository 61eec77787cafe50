package umeboshi

import (
	"context"
	"database/sql"
	"sync"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/petrijr/umeboshi/internal/engine"
	"github.com/petrijr/umeboshi/internal/lock"
	"github.com/petrijr/umeboshi/internal/logging"
	"github.com/petrijr/umeboshi/internal/persistence"
	"github.com/petrijr/umeboshi/internal/serializer"
	"github.com/petrijr/umeboshi/internal/taskqueue"
	"github.com/petrijr/umeboshi/pkg/config"
	workerpkg "github.com/petrijr/umeboshi/pkg/worker"
)

// Bundle wires together an Engine, a Queue, a Locker, a Poller and a
// Worker that share one storage backend.
type Bundle struct {
	Engine Engine
	Queue  Queue
	Locker Locker
	Poller *workerpkg.Poller
	Worker *workerpkg.Worker
	Logger zerolog.Logger

	workers int

	mu      sync.Mutex
	running bool
	closers []func() error
}

// BundleOption customizes Open.
type BundleOption func(*bundleOptions)

type bundleOptions struct {
	observer Observer
	logger   *zerolog.Logger
	tracer   trace.Tracer
}

// WithObserver adds obs next to the bundle's logging observer.
func WithObserver(obs Observer) BundleOption {
	return func(o *bundleOptions) { o.observer = obs }
}

// WithLogger replaces the logger built from config.Log.
func WithLogger(log zerolog.Logger) BundleOption {
	return func(o *bundleOptions) { o.logger = &log }
}

// WithTracer sets the tracer used for engine spans.
func WithTracer(t trace.Tracer) BundleOption {
	return func(o *bundleOptions) { o.tracer = t }
}

// Open builds a Bundle from cfg. Connections it opens are closed by Close.
//
// Typical usage:
//
//	cfg, _ := config.Load("umeboshi.yaml")
//	bundle, err := umeboshi.Open(ctx, cfg)
//	// register Routines on bundle.Engine
//	_ = bundle.Start(ctx)
//	defer bundle.Close()
func Open(ctx context.Context, cfg config.Config, opts ...BundleOption) (*Bundle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o bundleOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := logging.New(cfg.Log)
	if o.logger != nil {
		log = *o.logger
	}

	b := &Bundle{Logger: log, workers: cfg.Dispatch.Workers}
	if err := b.open(ctx, cfg, o); err != nil {
		return nil, errors.CombineErrors(err, b.Close())
	}

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Str("queue", cfg.Dispatch.Queue).
		Str("serializer", cfg.Serializer).
		Msg("umeboshi bundle opened")
	return b, nil
}

func (b *Bundle) open(ctx context.Context, cfg config.Config, o bundleOptions) error {
	store, err := b.openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	ser, err := serializer.Lookup(cfg.Serializer)
	if err != nil {
		return err
	}

	b.Engine = engine.NewEngineWithConfig(engine.Config{
		Store:      store,
		Serializer: ser,
		Observer:   NewCompositeObserver(NewLoggingObserver(&b.Logger), o.observer),
		Logger:     &b.Logger,
		Tracer:     o.tracer,
		RetryDelay: cfg.Retry.Delay,
	})

	b.Locker = lock.NewMemoryLocker()
	b.Queue = taskqueue.NewInMemoryQueue(cfg.Dispatch.QueueCapacity)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Wrapf(err, "umeboshi: ping redis %s", cfg.Redis.Addr)
		}

		b.Locker = lock.NewRedisLocker(client, cfg.Redis.Prefix)
		if cfg.Dispatch.Queue == config.QueueRedis {
			b.Queue = taskqueue.NewRedisQueue(client, cfg.Redis.Prefix, b.Logger)
		}
	}

	b.Poller, err = workerpkg.NewPoller(b.Engine, b.Queue, workerpkg.PollerConfig{
		Schedule:        cfg.Dispatch.Schedule,
		BatchSize:       cfg.Dispatch.BatchSize,
		EnqueueRate:     cfg.Dispatch.RatePerSecond,
		RedispatchAfter: cfg.Dispatch.RedispatchAfter,
		Logger:          &b.Logger,
	})
	if err != nil {
		return err
	}

	b.Worker = workerpkg.NewWithConfig(b.Engine, b.Queue, b.Locker, workerpkg.Config{
		LockTTL:          cfg.Dispatch.LockTTL,
		LockWait:         cfg.Dispatch.LockWait,
		ExecutionTimeout: cfg.Dispatch.ExecutionTimeout,
		Logger:           &b.Logger,
	})
	return nil
}

func (b *Bundle) openStore(ctx context.Context, sc config.StorageConfig) (persistence.EventStore, error) {
	switch sc.Driver {
	case config.DriverMemory:
		return persistence.NewInMemoryEventStore(), nil

	case config.DriverSQLite:
		db, err := sql.Open("sqlite", sc.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "umeboshi: open sqlite")
		}
		db.SetMaxOpenConns(1)
		b.closers = append(b.closers, db.Close)
		return persistence.NewSQLiteEventStore(db)

	case config.DriverPostgres:
		db, err := sql.Open("pgx", sc.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "umeboshi: open postgres")
		}
		b.closers = append(b.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, errors.Wrap(err, "umeboshi: ping postgres")
		}
		return persistence.NewPostgresEventStore(db)

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(sc.DSN))
		if err != nil {
			return nil, errors.Wrap(err, "umeboshi: connect mongo")
		}
		b.closers = append(b.closers, func() error {
			return client.Disconnect(context.Background())
		})
		if err := client.Ping(ctx, nil); err != nil {
			return nil, errors.Wrap(err, "umeboshi: ping mongo")
		}
		return persistence.NewMongoEventStore(ctx, client, sc.Database)

	default:
		return nil, errors.Newf("umeboshi: unsupported storage driver %q", sc.Driver)
	}
}

// NewSQLiteBundle constructs a Bundle whose Events are persisted in the
// provided *sql.DB, with an in-memory queue and locker. The caller owns db.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:umeboshi.db?_pragma=journal_mode(WAL)")
//	db.SetMaxOpenConns(1)
//	bundle, err := umeboshi.NewSQLiteBundle(db, worker.Config{LockTTL: 30 * time.Second})
func NewSQLiteBundle(db *sql.DB, cfg workerpkg.Config) (*Bundle, error) {
	eng, err := NewSQLiteEngine(db)
	if err != nil {
		return nil, err
	}

	q := NewInMemoryQueue(taskqueue.DefaultCapacity)
	l := NewMemoryLocker()
	p, err := workerpkg.NewPoller(eng, q, workerpkg.PollerConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Engine:  eng,
		Queue:   q,
		Locker:  l,
		Poller:  p,
		Worker:  workerpkg.NewWithConfig(eng, q, l, cfg),
		Logger:  zerolog.Nop(),
		workers: 1,
	}
	if cfg.Logger != nil {
		b.Logger = *cfg.Logger
	}
	return b, nil
}

// Start launches the Poller and the configured number of workers.
func (b *Bundle) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("umeboshi: bundle already started")
	}
	if b.workers > 0 {
		if err := b.Worker.Start(ctx, b.workers); err != nil {
			return err
		}
	}
	if err := b.Poller.Start(ctx); err != nil {
		b.Worker.Stop()
		return err
	}
	b.running = true
	return nil
}

// Stop halts polling and processing and waits for in-flight attempts.
func (b *Bundle) Stop() {
	b.mu.Lock()
	running := b.running
	b.running = false
	b.mu.Unlock()

	if !running {
		return
	}
	b.Poller.Stop()
	b.Worker.Stop()
}

// Close stops the bundle and closes every connection Open created.
func (b *Bundle) Close() error {
	b.Stop()

	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, closers[i]())
	}
	return err
}
