package api

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testObserver is a simple Observer implementation used to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	scheduled int
	rejected  int
	cancelled int
	starts    int
	completes int

	lastCompleted struct {
		Event    *Event
		Err      error
		Duration time.Duration
	}
}

func (o *testObserver) OnEventScheduled(ctx context.Context, ev *Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduled++
}

func (o *testObserver) OnScheduleRejected(ctx context.Context, trigger string, hash string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

func (o *testObserver) OnEventCancelled(ctx context.Context, ev *Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled++
}

func (o *testObserver) OnProcessStart(ctx context.Context, ev *Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
}

func (o *testObserver) OnProcessCompleted(ctx context.Context, ev *Event, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes++
	o.lastCompleted.Event = ev
	o.lastCompleted.Err = err
	o.lastCompleted.Duration = d
}

func TestNewCompositeObserver_NoObserversReturnsNoop(t *testing.T) {
	obs := NewCompositeObserver()
	if _, ok := obs.(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver, got %T", obs)
	}

	obs = NewCompositeObserver(nil, nil)
	if _, ok := obs.(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver for all-nil input, got %T", obs)
	}
}

func TestNewCompositeObserver_SingleObserverIsReturnedDirectly(t *testing.T) {
	o := &testObserver{}
	if got := NewCompositeObserver(nil, o); got != o {
		t.Fatalf("expected the single observer to be returned as-is, got %T", got)
	}
}

func TestCompositeObserver_FansOut(t *testing.T) {
	o1 := &testObserver{}
	o2 := &testObserver{}
	obs := NewCompositeObserver(o1, o2)

	ctx := context.Background()
	ev := &Event{ID: 1, TriggerName: "t", Status: StatusFailed}
	runErr := errors.New("boom")

	obs.OnEventScheduled(ctx, ev)
	obs.OnScheduleRejected(ctx, "t", "hash")
	obs.OnEventCancelled(ctx, ev)
	obs.OnProcessStart(ctx, ev)
	obs.OnProcessCompleted(ctx, ev, runErr, 5*time.Millisecond)

	for i, o := range []*testObserver{o1, o2} {
		if o.scheduled != 1 || o.rejected != 1 || o.cancelled != 1 || o.starts != 1 || o.completes != 1 {
			t.Fatalf("observer %d: unexpected counts %+v", i, o)
		}
		if o.lastCompleted.Event != ev {
			t.Fatalf("observer %d: expected event to be forwarded", i)
		}
		if !errors.Is(o.lastCompleted.Err, runErr) {
			t.Fatalf("observer %d: expected error to be forwarded, got %v", i, o.lastCompleted.Err)
		}
		if o.lastCompleted.Duration != 5*time.Millisecond {
			t.Fatalf("observer %d: unexpected duration %v", i, o.lastCompleted.Duration)
		}
	}
}

func TestLoggingObserver_WritesStructuredEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	obs := NewLoggingObserver(&logger)

	ctx := context.Background()
	ev := &Event{ID: 7, TriggerName: "send-reminder", Status: StatusBroken}

	obs.OnEventScheduled(ctx, ev)
	obs.OnProcessCompleted(ctx, ev, errors.New("constructor exploded"), time.Millisecond)

	out := buf.String()
	for _, want := range []string{
		`"message":"event_scheduled"`,
		`"message":"process_completed"`,
		`"event_id":7`,
		`"status":"BROKEN"`,
		`"level":"error"`,
		"constructor exploded",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %s, got:\n%s", want, out)
		}
	}
}

func TestLoggingObserver_NilLoggerIsSafe(t *testing.T) {
	obs := NewLoggingObserver(nil)
	if obs == nil {
		t.Fatalf("expected non-nil observer")
	}
}

func TestBasicMetrics_Snapshot(t *testing.T) {
	m := &BasicMetrics{}
	ctx := context.Background()

	m.OnEventScheduled(ctx, &Event{})
	m.OnEventScheduled(ctx, &Event{})
	m.OnScheduleRejected(ctx, "t", "h")
	m.OnProcessCompleted(ctx, &Event{Status: StatusSuccessful}, nil, 10*time.Millisecond)
	m.OnProcessCompleted(ctx, &Event{Status: StatusFailed}, errors.New("x"), 20*time.Millisecond)
	m.OnProcessCompleted(ctx, &Event{Status: StatusBroken}, errors.New("y"), 30*time.Millisecond)

	snap := m.Snapshot()
	if snap.EventsScheduled != 2 {
		t.Fatalf("expected 2 scheduled, got %d", snap.EventsScheduled)
	}
	if snap.SchedulesRefused != 1 {
		t.Fatalf("expected 1 refused, got %d", snap.SchedulesRefused)
	}
	if snap.EventsSucceeded != 1 || snap.EventsFailed != 1 || snap.EventsBroken != 1 {
		t.Fatalf("unexpected outcome counters: %+v", snap)
	}
	if snap.EventsProcessed != 3 {
		t.Fatalf("expected 3 processed, got %d", snap.EventsProcessed)
	}
	if snap.AvgProcessDuration != 20*time.Millisecond {
		t.Fatalf("expected avg 20ms, got %v", snap.AvgProcessDuration)
	}
}
