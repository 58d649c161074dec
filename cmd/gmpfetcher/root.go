package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jgoulah/gmpfetcher/internal/config"
	"github.com/jgoulah/gmpfetcher/internal/database"
	"github.com/jgoulah/gmpfetcher/internal/fetcher"
	"github.com/jgoulah/gmpfetcher/internal/gmp"
	"github.com/jgoulah/gmpfetcher/internal/logging"
	"github.com/jgoulah/gmpfetcher/internal/metrics"
	"github.com/jgoulah/gmpfetcher/internal/publisher"
	"github.com/jgoulah/gmpfetcher/internal/scheduler"
)

var once bool

var rootCmd = &cobra.Command{
	Use:   "gmpfetcher",
	Short: "Poll Green Mountain Power usage and write a daily snapshot",
	Long: `gmpfetcher pulls the last day of hourly usage from the Green Mountain Power API,
sums it into daily totals and writes the result to $OUTPUT_DIR/gmp_usage.json.

Without --once it runs a cycle immediately and then every GMP_UPDATE_INTERVAL seconds.
With --once it runs a single cycle and exits, for use from cron.`,
	Args: cobra.NoArgs,
	RunE: runRoot,
}

func init() {
	rootCmd.Flags().BoolVar(&once, "once", false, "Run a single fetch cycle and exit")
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnvironment()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := logging.Setup(os.Stdout, cfg.LogLevel, cfg.JSONLogs); err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := gmp.NewClient(cfg.APIURL, cfg.AccountNumber, cfg.Username, cfg.Password, cfg.ClientID)
	a, err := newApp(cfg, client)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.run(ctx, once)
}

// app is the wired scheduler shell
type app struct {
	cfg           *config.Config
	sched         *scheduler.Scheduler
	metricsServer *metrics.Server
	closers       []func()
}

func newApp(cfg *config.Config, source fetcher.UsageSource, schedOpts ...scheduler.Option) (*app, error) {
	a := &app{cfg: cfg}

	reg := prometheus.NewRegistry()
	collectors, err := metrics.NewCollectors(reg)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		a.metricsServer = metrics.NewServer(cfg.MetricsAddr, reg)
	}

	opts := []fetcher.Option{fetcher.WithMetrics(collectors)}

	if cfg.ArchiveDB != "" {
		db, err := database.New(cfg.ArchiveDB)
		if err != nil {
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		a.closers = append(a.closers, func() { db.Close() })
		opts = append(opts, fetcher.WithSinks(db))
	}

	if cfg.HomeAssistant.Enabled() || cfg.MQTT.Enabled() {
		pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant)
		if err != nil {
			// a broken publisher never blocks the snapshot
			slog.Warn("Publisher disabled", "error", err)
		} else {
			a.closers = append(a.closers, pub.Close)
			opts = append(opts, fetcher.WithSinks(pub))
		}
	}

	cycle := fetcher.New(cfg, source, opts...)
	a.sched = scheduler.New(cfg.Interval(), cycle.Run, schedOpts...)
	return a, nil
}

// run executes a single cycle when once is set. Otherwise it starts the
// background loop and idles until ctx is cancelled.
func (a *app) run(ctx context.Context, once bool) error {
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server stopped", "addr", a.cfg.MetricsAddr, "error", err)
			}
		}()
	}

	if once {
		slog.Info("Fetcher running a single cycle", "output", a.cfg.OutputFile())
		a.sched.RunOnce(ctx)
		return nil
	}

	slog.Info("Fetcher starting in interval mode", "output", a.cfg.OutputFile(), "interval", a.cfg.Interval())

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.sched.Run(ctx)
	}()

	<-ctx.Done()
	<-done
	return nil
}

// Close releases sinks and stops the metrics server
func (a *app) Close() {
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(context.Background()); err != nil {
			slog.Warn("Shutting down metrics server", "error", err)
		}
	}
	for _, c := range a.closers {
		c()
	}
}
