package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwantia/gamevault/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mutex sync.Mutex
	now   time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

func newTestScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s := New(log.NewNopLoggerService(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func emitterSource(name string, k int) Source {
	return Source{Name: name, MaxConcurrency: k, Emitter: NewEvents()}
}

// gate blocks jobs until released and records how many ran at once.
type gate struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	runs    atomic.Int32
}

func newGate() *gate {
	return &gate{release: make(chan struct{})}
}

func (g *gate) job(id string) Job {
	return NewJob(id, func(ctx context.Context) error {
		n := g.active.Add(1)
		for {
			peak := g.peak.Load()
			if n <= peak || g.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		defer g.active.Add(-1)
		defer g.runs.Add(1)

		select {
		case <-g.release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func TestRegisterValidation(t *testing.T) {
	s := newTestScheduler(t)
	check := func(context.Context, time.Time) ([]Job, error) { return nil, nil }

	cases := []Source{
		{MaxConcurrency: 1, Emitter: NewEvents()},
		{Name: "zero", Emitter: NewEvents()},
		{Name: "empty", MaxConcurrency: 1},
		{Name: "interval", MaxConcurrency: 1, Schedule: &Schedule{Check: check}},
		{Name: "check", MaxConcurrency: 1, Schedule: &Schedule{Interval: time.Minute}},
	}
	for _, src := range cases {
		assert.ErrorIs(t, s.Register(src), ErrInvalidSource, "source %q", src.Name)
	}

	require.NoError(t, s.Register(emitterSource("ok", 1)))
	assert.ErrorIs(t, s.Register(emitterSource("ok", 1)), ErrDuplicateSource)
	assert.ErrorIs(t, s.Queue("missing", NewJob("x", nil)), ErrUnknownSource)
}

func TestSaturation(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Register(emitterSource("work", 2)))

	g := newGate()
	jobs := make([]Job, 0, 5)
	for i := range 5 {
		jobs = append(jobs, g.job(fmt.Sprintf("job-%d", i)))
	}
	require.NoError(t, s.Queue("work", jobs...))

	require.Eventually(t, func() bool { return g.active.Load() == 2 }, time.Second, time.Millisecond)
	status, err := s.Status("work")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Running)
	assert.Equal(t, 3, status.Queued)
	assert.Zero(t, status.Slots)

	close(g.release)
	require.Eventually(t, func() bool { return g.runs.Load() == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), g.peak.Load())

	require.Eventually(t, func() bool {
		status, err := s.Status("work")
		return err == nil && status.Slots == 2 && status.Queued == 0
	}, time.Second, time.Millisecond)
}

func TestDuplicateJobsAreSkipped(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Register(emitterSource("work", 1)))

	g := newGate()
	require.NoError(t, s.Queue("work", g.job("same"), g.job("same")))
	require.Eventually(t, func() bool { return g.active.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Queue("work", g.job("same")))

	status, err := s.Status("work")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Running)
	assert.Zero(t, status.Queued)

	close(g.release)
	require.Eventually(t, func() bool { return g.runs.Load() == 1 }, time.Second, time.Millisecond)

	// Once untracked the same id may run again.
	require.NoError(t, s.Trigger(context.Background(), "work", g.job("same")))
	assert.Equal(t, int32(2), g.runs.Load())
}

func TestFailingJobDoesNotBlockOthers(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Register(emitterSource("work", 1)))

	boom := errors.New("boom")
	var ran atomic.Bool
	require.NoError(t, s.Queue("work",
		NewJob("fail", func(context.Context) error { return boom }),
		NewJob("panic", func(context.Context) error { panic("oops") }),
		NewJob("ok", func(context.Context) error { ran.Store(true); return nil }),
	))
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)

	err := s.Trigger(context.Background(), "work", NewJob("fail", func(context.Context) error { return boom }))
	assert.ErrorIs(t, err, boom)
}

func TestTickRunOnStart(t *testing.T) {
	clk := newClock()
	s := newTestScheduler(t, WithClock(clk.Now))
	ctx := context.Background()

	var eager, lazy atomic.Int32
	counting := func(n *atomic.Int32) CheckFunc {
		return func(context.Context, time.Time) ([]Job, error) {
			n.Add(1)
			return nil, nil
		}
	}
	require.NoError(t, s.Register(Source{Name: "eager", MaxConcurrency: 1,
		Schedule: &Schedule{Interval: time.Hour, RunOnStart: true, Check: counting(&eager)}}))
	require.NoError(t, s.Register(Source{Name: "lazy", MaxConcurrency: 1,
		Schedule: &Schedule{Interval: time.Hour, Check: counting(&lazy)}}))

	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int32(1), eager.Load())
	assert.Zero(t, lazy.Load())

	status, err := s.Status("eager")
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), status.LastRun)
	assert.Equal(t, clk.Now().Add(time.Hour), status.NextRun)

	clk.Advance(30 * time.Minute)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int32(1), eager.Load())
	assert.Zero(t, lazy.Load())

	clk.Advance(30 * time.Minute)
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, int32(2), eager.Load())
	assert.Equal(t, int32(1), lazy.Load())
}

func TestTickAggregatesFailures(t *testing.T) {
	clk := newClock()
	s := newTestScheduler(t, WithClock(clk.Now))
	ctx := context.Background()

	boom := errors.New("boom")
	var failed atomic.Int32
	require.NoError(t, s.Register(Source{Name: "broken", MaxConcurrency: 1,
		Schedule: &Schedule{Interval: time.Minute, RunOnStart: true, Check: func(context.Context, time.Time) ([]Job, error) {
			failed.Add(1)
			return nil, boom
		}}}))

	var ran atomic.Bool
	require.NoError(t, s.Register(Source{Name: "healthy", MaxConcurrency: 1,
		Schedule: &Schedule{Interval: time.Minute, RunOnStart: true, Check: func(context.Context, time.Time) ([]Job, error) {
			return []Job{NewJob("work", func(context.Context) error { ran.Store(true); return nil })}, nil
		}}}))

	err := s.Tick(ctx)
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 1)
	assert.ErrorIs(t, err, boom)
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)

	// The failed schedule stays due, the healthy one does not.
	err = s.Tick(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), failed.Load())

	status, err := s.Status("broken")
	require.NoError(t, err)
	assert.True(t, status.LastRun.IsZero())
}

func TestEmitterBuffersUntilStart(t *testing.T) {
	s := newTestScheduler(t)
	events := NewEvents()
	require.NoError(t, s.Register(Source{Name: "events", MaxConcurrency: 1, Emitter: events}))

	var runs atomic.Int32
	events.Emit(NewJob("early", func(context.Context) error { runs.Add(1); return nil }))
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, runs.Load())

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	events.Emit(NewJob("late", func(context.Context) error { runs.Add(1); return nil }))
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
}

func TestShutdown(t *testing.T) {
	s := New(log.NewNopLoggerService())
	require.NoError(t, s.Register(emitterSource("work", 1)))

	g := newGate()
	require.NoError(t, s.Queue("work", g.job("running")))
	require.Eventually(t, func() bool { return g.active.Load() == 1 }, time.Second, time.Millisecond)

	waiting := make(chan error, 1)
	go func() {
		waiting <- s.Trigger(context.Background(), "work", g.job("waiting"))
	}()
	require.Eventually(t, func() bool {
		status, err := s.Status("work")
		return err == nil && status.Queued == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-waiting:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("waiting job was not resolved")
	}

	assert.ErrorIs(t, s.Queue("work", g.job("late")), ErrTransportClosed)
	assert.ErrorIs(t, s.Tick(context.Background()), ErrTransportClosed)
	assert.NoError(t, s.Shutdown(ctx))
}

func TestShutdownDeadline(t *testing.T) {
	s := New(log.NewNopLoggerService())
	require.NoError(t, s.Register(emitterSource("work", 1)))

	release := make(chan struct{})
	defer close(release)

	stubborn := NewJob("stubborn", func(context.Context) error {
		<-release
		return nil
	})
	result := make(chan error, 1)
	go func() {
		result <- s.Trigger(context.Background(), "work", stubborn)
	}()
	require.Eventually(t, func() bool {
		status, err := s.Status("work")
		return err == nil && status.Running == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Shutdown(ctx)
	require.ErrorIs(t, err, ErrTransportClosed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, <-result, ErrTransportClosed)
}

func TestRun(t *testing.T) {
	s := newTestScheduler(t)

	var checks atomic.Int32
	require.NoError(t, s.Register(Source{Name: "poll", MaxConcurrency: 1,
		Schedule: &Schedule{Interval: time.Millisecond, RunOnStart: true, Check: func(context.Context, time.Time) ([]Job, error) {
			checks.Add(1)
			return nil, nil
		}}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return checks.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
