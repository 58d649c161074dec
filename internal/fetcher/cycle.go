// Package fetcher implements the fetch-aggregate-write cycle: pull a trailing
// day of hourly usage, fold it into daily totals and replace the snapshot file.
package fetcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/jgoulah/gmpfetcher/internal/config"
	"github.com/jgoulah/gmpfetcher/internal/gmp"
	"github.com/jgoulah/gmpfetcher/internal/metrics"
	"github.com/jgoulah/gmpfetcher/internal/snapshot"
	"github.com/jgoulah/gmpfetcher/pkg/models"
)

// Lookback is the width of the query window ending at the cycle start.
const Lookback = 24 * time.Hour

// UsageSource is the upstream usage query capability.
type UsageSource interface {
	GetUsage(ctx context.Context, start, end time.Time, precision gmp.Precision) ([]gmp.Usage, error)
}

// Sink receives every snapshot after it has been written. Sink failures are
// logged and never fail the cycle.
type Sink interface {
	Name() string
	Consume(ctx context.Context, s models.Snapshot) error
}

// Cycle runs the fetch-aggregate-write operation.
type Cycle struct {
	source     UsageSource
	outputPath string
	now        func() time.Time
	sinks      []Sink
	metrics    *metrics.Collectors
}

// Option configures a Cycle.
type Option func(*Cycle)

// WithClock replaces the wall clock used for the window and generated_at.
func WithClock(now func() time.Time) Option {
	return func(c *Cycle) { c.now = now }
}

// WithSinks adds sinks that receive each written snapshot.
func WithSinks(sinks ...Sink) Option {
	return func(c *Cycle) { c.sinks = append(c.sinks, sinks...) }
}

// WithMetrics records cycle results on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Cycle) { c.metrics = m }
}

// New creates a cycle writing to cfg.OutputFile().
func New(cfg *config.Config, source UsageSource, opts ...Option) *Cycle {
	c := &Cycle{
		source:     source,
		outputPath: cfg.OutputFile(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one cycle. Upstream and persistence failures are logged here and
// returned as *Error; on any failure the previous snapshot file is left as is.
func (c *Cycle) Run(ctx context.Context) (err error) {
	log := slog.With("cycle", uuid.NewString())
	started := time.Now()
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = KindOf(err).String()
		}
		c.metrics.ObserveCycle(result, time.Since(started))
	}()

	now := c.now()
	start := now.Add(-Lookback)
	log.Info("Polling GMP API for new data", "start", start.Format(time.RFC3339), "end", now.Format(time.RFC3339))

	usages, err := c.source.GetUsage(ctx, start, now, gmp.PrecisionHourly)
	if err != nil {
		e := &Error{Kind: KindUpstream, Err: err}
		log.Error("Fetching usage failed, keeping previous snapshot", "error", e, "retryable", e.Retryable())
		return e
	}

	intervals := ToIntervals(usages)
	snap := models.Snapshot{
		GeneratedAt: now,
		Intervals:   intervals,
		DailyTotals: Aggregate(intervals),
	}

	n, err := snapshot.Write(c.outputPath, snap)
	if err != nil {
		e := &Error{Kind: KindPersistence, Err: err}
		log.Error("Writing snapshot failed", "path", c.outputPath, "error", e)
		return e
	}
	c.metrics.ObserveSnapshot(now, len(intervals))

	log.Info("JSON file updated", "path", c.outputPath, "intervals", len(intervals),
		"days", len(snap.DailyTotals), "size", humanize.Bytes(uint64(n)))

	for _, sink := range c.sinks {
		if err := sink.Consume(ctx, snap); err != nil {
			log.Warn("Sink failed", "sink", sink.Name(), "error", err)
		}
	}
	return nil
}
