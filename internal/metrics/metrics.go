// Package metrics provides the fetcher's Prometheus collectors and metrics HTTP server.
package metrics

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gmpfetcher"

// Cycle results used as the "result" label.
const (
	ResultSuccess = "success"
)

// Collectors holds the cycle metrics. A nil *Collectors is valid and records nothing.
type Collectors struct {
	cycles      *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
	intervals   prometheus.Gauge
}

// NewCollectors creates the cycle collectors and registers them with reg.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Fetch cycles run, by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a fetch cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last snapshot successfully written.",
		}),
		intervals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "intervals",
			Help:      "Intervals in the last written snapshot.",
		}),
	}

	for _, col := range []prometheus.Collector{c.cycles, c.duration, c.lastSuccess, c.intervals} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveCycle records one finished cycle.
func (c *Collectors) ObserveCycle(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.cycles.WithLabelValues(result).Inc()
	c.duration.Observe(d.Seconds())
}

// ObserveSnapshot records a successfully written snapshot.
func (c *Collectors) ObserveSnapshot(at time.Time, intervals int) {
	if c == nil {
		return
	}
	c.lastSuccess.Set(float64(at.Unix()))
	c.intervals.Set(float64(intervals))
}

// Server is a struct that holds the HTTP server and its configuration.
type Server struct {
	addr       net.Addr
	httpServer *http.Server

	mu sync.RWMutex
}

// NewServer creates a metrics server for reg listening on addr (host:port).
func NewServer(addr string, reg prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe starts the HTTP server and listens for incoming requests.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	return s.httpServer.Serve(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}
