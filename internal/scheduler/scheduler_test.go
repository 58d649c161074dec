package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jgoulah/gmpfetcher/internal/fetcher"
	"github.com/jgoulah/gmpfetcher/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	ch       chan time.Time
	interval atomic.Int64
	resets   atomic.Int32
	stopped  atomic.Bool
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time)}
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Reset(time.Duration) { f.resets.Add(1) }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

func (f *fakeTicker) factory(d time.Duration) scheduler.Ticker {
	f.interval.Store(int64(d))
	return f
}

// tick delivers one tick; it blocks until the loop is idle and receives it.
func (f *fakeTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case f.ch <- time.Now():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never waited for a tick")
	}
}

func waitCall(t *testing.T, calls <-chan int) int {
	t.Helper()
	select {
	case n := <-calls:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("job was not invoked")
		return 0
	}
}

func startScheduler(t *testing.T, s *scheduler.Scheduler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not stop after cancellation")
		}
	}
}

func TestRunInvokesImmediatelyThenPerTick(t *testing.T) {
	t.Parallel()

	var count atomic.Int32
	calls := make(chan int, 16)
	job := func(context.Context) error {
		calls <- int(count.Add(1))
		return nil
	}

	ticker := newFakeTicker()
	s := scheduler.New(2*time.Hour, job, scheduler.WithTicker(ticker.factory))
	stop := startScheduler(t, s)

	require.Equal(t, 1, waitCall(t, calls), "First invocation should happen immediately")
	for i := 2; i <= 4; i++ {
		ticker.tick(t)
		require.Equal(t, i, waitCall(t, calls))
	}
	stop()

	assert.EqualValues(t, 4, count.Load(), "3 elapsed intervals should mean exactly 4 invocations")
	assert.Equal(t, int64(2*time.Hour), ticker.interval.Load())
	assert.EqualValues(t, 3, ticker.resets.Load(), "Interval should restart after each invocation")
	assert.True(t, ticker.stopped.Load())
}

func TestRunSurvivesFailures(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		fail func()
		err  error
	}{
		"Panic":                {fail: func() { panic("nil map write") }},
		"Unclassified error":   {err: errors.New("unexpected")},
		"Classified upstream":  {err: &fetcher.Error{Kind: fetcher.KindUpstream, Err: errors.New("timeout")}},
		"Classified write":     {err: &fetcher.Error{Kind: fetcher.KindPersistence, Err: errors.New("disk full")}},
		"Context error escape": {err: context.DeadlineExceeded},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var count atomic.Int32
			calls := make(chan int, 16)
			job := func(context.Context) error {
				n := int(count.Add(1))
				calls <- n
				if n == 1 {
					if tc.fail != nil {
						tc.fail()
					}
					return tc.err
				}
				return nil
			}

			ticker := newFakeTicker()
			stop := startScheduler(t, scheduler.New(time.Minute, job, scheduler.WithTicker(ticker.factory)))

			waitCall(t, calls)
			ticker.tick(t)
			require.Equal(t, 2, waitCall(t, calls), "Loop should continue after a failed invocation")
			stop()
		})
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	var count atomic.Int32
	job := func(context.Context) error {
		count.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ticker := newFakeTicker()
	scheduler.New(time.Minute, job, scheduler.WithTicker(ticker.factory)).Run(ctx)

	assert.EqualValues(t, 1, count.Load(), "The immediate invocation still runs")
	assert.True(t, ticker.stopped.Load())
}

func TestRunWithRealTicker(t *testing.T) {
	t.Parallel()

	var count atomic.Int32
	job := func(context.Context) error {
		count.Add(1)
		return nil
	}

	stop := startScheduler(t, scheduler.New(10*time.Millisecond, job))
	require.Eventually(t, func() bool { return count.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	stop()
}

func TestRunOnce(t *testing.T) {
	t.Parallel()

	var s *scheduler.Scheduler
	var count atomic.Int32
	var stateDuringJob scheduler.State
	s = scheduler.New(time.Minute, func(context.Context) error {
		count.Add(1)
		stateDuringJob = s.State()
		panic("boom")
	})

	require.NotPanics(t, func() { s.RunOnce(context.Background()) })
	assert.EqualValues(t, 1, count.Load())
	assert.Equal(t, scheduler.Fetching, stateDuringJob)
	assert.Equal(t, scheduler.Idle, s.State())
}
