package api

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay scheduling or processing.
type Observer interface {
	// OnEventScheduled is called after a new Event has been persisted,
	// including Events created by a retry.
	OnEventScheduled(ctx context.Context, ev *Event)

	// OnScheduleRejected is called when a trigger behavior refuses a
	// schedule request, whether or not the caller asked for an error.
	OnScheduleRejected(ctx context.Context, trigger string, dataHash string)

	// OnEventCancelled is called when a waiting Event is cancelled, either
	// explicitly or because a last-only Routine superseded it.
	OnEventCancelled(ctx context.Context, ev *Event)

	// OnProcessStart is called before the Routine is looked up.
	OnProcessStart(ctx context.Context, ev *Event)

	// OnProcessCompleted is called once the attempt's status is known.
	// ev.Status holds the outcome; err is the Routine failure or the
	// broken-path error, if any.
	OnProcessCompleted(ctx context.Context, ev *Event, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnEventScheduled(ctx context.Context, ev *Event)                      {}
func (NoopObserver) OnScheduleRejected(ctx context.Context, trigger string, hash string) {}
func (NoopObserver) OnEventCancelled(ctx context.Context, ev *Event)                      {}
func (NoopObserver) OnProcessStart(ctx context.Context, ev *Event)                        {}
func (NoopObserver) OnProcessCompleted(ctx context.Context, ev *Event, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnEventScheduled(ctx context.Context, ev *Event) {
	for _, o := range c.observers {
		o.OnEventScheduled(ctx, ev)
	}
}

func (c *CompositeObserver) OnScheduleRejected(ctx context.Context, trigger string, hash string) {
	for _, o := range c.observers {
		o.OnScheduleRejected(ctx, trigger, hash)
	}
}

func (c *CompositeObserver) OnEventCancelled(ctx context.Context, ev *Event) {
	for _, o := range c.observers {
		o.OnEventCancelled(ctx, ev)
	}
}

func (c *CompositeObserver) OnProcessStart(ctx context.Context, ev *Event) {
	for _, o := range c.observers {
		o.OnProcessStart(ctx, ev)
	}
}

func (c *CompositeObserver) OnProcessCompleted(ctx context.Context, ev *Event, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnProcessCompleted(ctx, ev, err, d)
	}
}

// LoggingObserver writes structured logs using zerolog.
type LoggingObserver struct {
	Logger zerolog.Logger
}

// NewLoggingObserver creates an Observer that logs scheduling and
// processing events to logger. If logger is nil, the zerolog global
// logger is used.
func NewLoggingObserver(logger *zerolog.Logger) Observer {
	if logger == nil {
		return &LoggingObserver{Logger: zlog.Logger}
	}
	return &LoggingObserver{Logger: *logger}
}

func (o *LoggingObserver) OnEventScheduled(ctx context.Context, ev *Event) {
	o.Logger.Info().
		Int64("event_id", ev.ID).
		Str("trigger", ev.TriggerName).
		Time("scheduled_at", ev.ScheduledAt).
		Msg("event_scheduled")
}

func (o *LoggingObserver) OnScheduleRejected(ctx context.Context, trigger string, hash string) {
	o.Logger.Debug().
		Str("trigger", trigger).
		Str("data_hash", hash).
		Msg("schedule_rejected")
}

func (o *LoggingObserver) OnEventCancelled(ctx context.Context, ev *Event) {
	o.Logger.Info().
		Int64("event_id", ev.ID).
		Str("trigger", ev.TriggerName).
		Msg("event_cancelled")
}

func (o *LoggingObserver) OnProcessStart(ctx context.Context, ev *Event) {
	o.Logger.Debug().
		Int64("event_id", ev.ID).
		Str("trigger", ev.TriggerName).
		Msg("process_start")
}

func (o *LoggingObserver) OnProcessCompleted(ctx context.Context, ev *Event, err error, d time.Duration) {
	level := zerolog.InfoLevel
	switch ev.Status {
	case StatusFailed:
		level = zerolog.WarnLevel
	case StatusBroken:
		level = zerolog.ErrorLevel
	}
	o.Logger.WithLevel(level).
		Int64("event_id", ev.ID).
		Str("trigger", ev.TriggerName).
		Str("status", ev.Status.String()).
		Dur("duration", d).
		Err(err).
		Msg("process_completed")
}

// BasicMetrics collects simple counters and aggregate processing durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	scheduled     atomic.Int64
	rejected      atomic.Int64
	cancelled     atomic.Int64
	succeeded     atomic.Int64
	failed        atomic.Int64
	broken        atomic.Int64
	processed     atomic.Int64
	totalDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	EventsScheduled  int64
	SchedulesRefused int64
	EventsCancelled  int64

	EventsSucceeded int64
	EventsFailed    int64
	EventsBroken    int64

	EventsProcessed    int64
	AvgProcessDuration time.Duration
}

func (m *BasicMetrics) OnEventScheduled(ctx context.Context, ev *Event) {
	m.scheduled.Add(1)
}

func (m *BasicMetrics) OnScheduleRejected(ctx context.Context, trigger string, hash string) {
	m.rejected.Add(1)
}

func (m *BasicMetrics) OnEventCancelled(ctx context.Context, ev *Event) {
	m.cancelled.Add(1)
}

func (m *BasicMetrics) OnProcessCompleted(ctx context.Context, ev *Event, err error, d time.Duration) {
	switch ev.Status {
	case StatusSuccessful:
		m.succeeded.Add(1)
	case StatusFailed:
		m.failed.Add(1)
	case StatusBroken:
		m.broken.Add(1)
	case StatusCancelled:
		m.cancelled.Add(1)
	}
	m.processed.Add(1)
	m.totalDuration.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	processed := m.processed.Load()
	totalNs := m.totalDuration.Load()

	var avg time.Duration
	if processed > 0 {
		avg = time.Duration(totalNs / processed)
	}

	return BasicMetricsSnapshot{
		EventsScheduled:    m.scheduled.Load(),
		SchedulesRefused:   m.rejected.Load(),
		EventsCancelled:    m.cancelled.Load(),
		EventsSucceeded:    m.succeeded.Load(),
		EventsFailed:       m.failed.Load(),
		EventsBroken:       m.broken.Load(),
		EventsProcessed:    processed,
		AvgProcessDuration: avg,
	}
}
