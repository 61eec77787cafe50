package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/petrijr/umeboshi/internal/taskqueue"
	"github.com/petrijr/umeboshi/pkg/api"
)

const (
	// DefaultPollSchedule runs a poll every second.
	DefaultPollSchedule = "@every 1s"
	// DefaultPollBatchSize caps the ids enqueued per tick.
	DefaultPollBatchSize = 500
	// DefaultRedispatchAfter matches DefaultLockTTL, so an id is offered
	// again about when a dead worker's lock would have expired.
	DefaultRedispatchAfter = DefaultLockTTL
)

// PollerConfig controls how a Poller finds and dispatches due Events.
type PollerConfig struct {
	// Schedule is a cron spec or descriptor ("@every 5s", "*/1 * * * *").
	Schedule string
	// BatchSize caps the ids read per tick. Negative means no limit.
	BatchSize int
	// EnqueueRate throttles enqueues per second. Zero means unlimited.
	EnqueueRate float64
	// RedispatchAfter is how long an enqueued id is not enqueued again.
	// Zero means DefaultRedispatchAfter; negative enqueues on every tick.
	RedispatchAfter time.Duration
	// Logger receives poller diagnostics. Nil discards them.
	Logger *zerolog.Logger
}

// Poller periodically enqueues the ids of due Events.
type Poller struct {
	engine   api.Engine
	queue    taskqueue.Queue
	schedule cron.Schedule
	batch    int
	limiter  *rate.Limiter
	log      zerolog.Logger

	redispatch time.Duration
	sentMu     sync.Mutex
	sent       map[int64]time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewPoller validates cfg and returns a Poller. It does not start polling.
func NewPoller(engine api.Engine, queue taskqueue.Queue, cfg PollerConfig) (*Poller, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = DefaultPollSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errors.WithHintf(
			errors.Wrapf(err, "worker: invalid poll schedule %q", spec),
			"use a five-field cron expression or a descriptor such as %q", DefaultPollSchedule,
		)
	}

	batch := cfg.BatchSize
	if batch == 0 {
		batch = DefaultPollBatchSize
	}

	var limiter *rate.Limiter
	if cfg.EnqueueRate > 0 {
		burst := int(cfg.EnqueueRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.EnqueueRate), burst)
	}

	redispatch := cfg.RedispatchAfter
	if redispatch == 0 {
		redispatch = DefaultRedispatchAfter
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	return &Poller{
		engine:     engine,
		queue:      queue,
		schedule:   schedule,
		batch:      batch,
		limiter:    limiter,
		log:        log.With().Str("component", "poller").Logger(),
		redispatch: redispatch,
		sent:       make(map[int64]time.Time),
	}, nil
}

// PollOnce enqueues one task per due Event and returns how many were
// enqueued. It stops at the first enqueue failure.
//
// An Event stays due until a worker records its outcome, so ids already
// in flight come back on later ticks. Ids enqueued within RedispatchAfter
// are skipped; after that they are enqueued again, which also recovers
// tasks a queue lost. Duplicates that still get through are harmless.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	limit := p.batch
	if limit < 0 {
		limit = 0
	}
	ids, err := p.engine.DueEventIDs(ctx, limit)
	if err != nil {
		return 0, errors.Wrap(err, "worker: list due events")
	}

	now := time.Now()
	p.forget(now)

	n := 0
	for _, id := range ids {
		if p.recentlySent(id) {
			continue
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return n, err
			}
		}
		task := taskqueue.Task{EventID: id, EnqueuedAt: time.Now().UTC()}
		if err := p.queue.Enqueue(ctx, task); err != nil {
			return n, errors.Wrapf(err, "worker: enqueue event %d", id)
		}
		p.markSent(id, now)
		n++
	}
	return n, nil
}

func (p *Poller) recentlySent(id int64) bool {
	if p.redispatch < 0 {
		return false
	}
	p.sentMu.Lock()
	defer p.sentMu.Unlock()
	_, ok := p.sent[id]
	return ok
}

func (p *Poller) markSent(id int64, at time.Time) {
	if p.redispatch < 0 {
		return
	}
	p.sentMu.Lock()
	p.sent[id] = at
	p.sentMu.Unlock()
}

// forget drops ids enqueued longer than the redispatch window ago.
func (p *Poller) forget(now time.Time) {
	p.sentMu.Lock()
	defer p.sentMu.Unlock()
	for id, at := range p.sent {
		if now.Sub(at) >= p.redispatch {
			delete(p.sent, id)
		}
	}
}

// Start begins polling on the configured schedule until Stop is called or
// ctx is cancelled. Overlapping ticks are skipped.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return errors.New("worker: poller already started")
	}
	ctx, cancel := context.WithCancel(ctx)

	logger := cronLogger{log: p.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(p.schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		n, err := p.PollOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Int("enqueued", n).Msg("poll failed")
			return
		}
		if n > 0 {
			p.log.Debug().Int("enqueued", n).Msg("due events enqueued")
		}
	}))
	c.Start()
	p.cron = c
	p.cancel = cancel

	go func() {
		<-ctx.Done()
		p.stop(c)
	}()
	return nil
}

// Stop halts polling and waits for a running tick to finish.
func (p *Poller) Stop() {
	p.stop(nil)
}

// stop halts the running cron, or only if it is the given one.
func (p *Poller) stop(only *cron.Cron) {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	if c == nil || (only != nil && only != c) {
		p.mu.Unlock()
		return
	}
	p.cron, p.cancel = nil, nil
	p.mu.Unlock()

	cancel()
	<-c.Stop().Done()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
