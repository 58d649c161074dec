// Package scheduler runs a job immediately and then on a fixed interval until
// its context is cancelled.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/jgoulah/gmpfetcher/internal/fetcher"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// State of the scheduler loop.
type State int32

const (
	Idle State = iota
	Fetching
)

func (s State) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

// Ticker is the subset of *time.Ticker the scheduler needs.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

// NewTicker wraps time.NewTicker.
func NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

// Scheduler invokes a job now and then every interval.
type Scheduler struct {
	interval  time.Duration
	job       Job
	newTicker func(time.Duration) Ticker
	state     atomic.Int32
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTicker replaces the ticker factory, mostly for tests.
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(s *Scheduler) { s.newTicker = f }
}

// New creates a scheduler for job.
func New(interval time.Duration, job Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		interval:  interval,
		job:       job,
		newTicker: NewTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns whether a job is currently in flight.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// RunOnce invokes the job a single time. Errors and panics are logged and absorbed.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.invoke(ctx)
}

// Run invokes the job immediately, then again each time the interval elapses
// after the previous invocation finished. It returns when ctx is cancelled;
// an in-flight job always runs to completion first.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("Scheduler started", "interval", s.interval)
	s.invoke(ctx)

	t := s.newTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-t.C():
			s.invoke(ctx)
			t.Reset(s.interval)
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context) {
	s.state.Store(int32(Fetching))
	defer s.state.Store(int32(Idle))

	defer func() {
		if r := recover(); r != nil {
			err := &fetcher.Error{Kind: fetcher.KindUnhandled, Err: fmt.Errorf("panic: %v", r)}
			slog.Error("Cycle panicked, continuing", "error", err, "stack", string(debug.Stack()))
		}
	}()

	err := s.job(ctx)
	if err == nil {
		return
	}
	if fetcher.KindOf(err) == fetcher.KindNone {
		err = &fetcher.Error{Kind: fetcher.KindUnhandled, Err: err}
		slog.Error("Cycle failed with an unexpected error, continuing", "error", err)
		return
	}
	// Classified failures were already logged by the cycle itself.
	slog.Debug("Cycle failed", "kind", fetcher.KindOf(err).String())
}
