package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/umeboshi/internal/persistence"
	"github.com/petrijr/umeboshi/pkg/api"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testRoutine is a Routine whose behavior is set per test.
type testRoutine struct {
	args  []any
	valid func(ctx context.Context) bool
	run   func(ctx context.Context, args []any) api.Outcome
}

func (r *testRoutine) CheckValidity(ctx context.Context) bool {
	if r.valid == nil {
		return true
	}
	return r.valid(ctx)
}

func (r *testRoutine) Run(ctx context.Context) api.Outcome {
	return r.run(ctx, r.args)
}

// routine returns a descriptor whose Run calls run and counts invocations.
func routine(trigger string, behavior api.TriggerBehavior, runs *int, run func(ctx context.Context, args []any) api.Outcome) api.RoutineDescriptor {
	var mu sync.Mutex
	return api.RoutineDescriptor{
		TriggerName: trigger,
		Behavior:    behavior,
		New: func(args []any) (api.Routine, error) {
			return &testRoutine{args: args, run: func(ctx context.Context, a []any) api.Outcome {
				if runs != nil {
					mu.Lock()
					*runs++
					mu.Unlock()
				}
				return run(ctx, a)
			}}, nil
		},
	}
}

func succeed(context.Context, []any) api.Outcome { return api.Success() }

type testEngine struct {
	*engineImpl
	clock *fakeClock
	store *persistence.InMemoryEventStore
}

func newTestEngine(t *testing.T, cfg Config) *testEngine {
	t.Helper()

	clock := newFakeClock()
	store := persistence.NewInMemoryEventStore()
	if cfg.Store == nil {
		cfg.Store = store
	}
	cfg.Now = clock.Now

	eng := NewEngineWithConfig(cfg).(*engineImpl)
	return &testEngine{engineImpl: eng, clock: clock, store: store}
}

func (te *testEngine) mustRegister(t *testing.T, desc api.RoutineDescriptor) {
	t.Helper()
	if err := te.Register(desc); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func (te *testEngine) mustSchedule(t *testing.T, trigger string, opts ...api.ScheduleOption) *api.Event {
	t.Helper()
	ev, err := te.Schedule(context.Background(), trigger, opts...)
	if err != nil {
		t.Fatalf("Schedule(%q) failed: %v", trigger, err)
	}
	if ev == nil {
		t.Fatalf("Schedule(%q) was skipped", trigger)
	}
	return ev
}

func (te *testEngine) reload(t *testing.T, id int64) *api.Event {
	t.Helper()
	ev, err := te.GetEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEvent(%d) failed: %v", id, err)
	}
	return ev
}
