package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks operational metrics for the pipeline across every
// stage, exported in Prometheus exposition format.
type Metrics struct {
	registry *prometheus.Registry

	SectionsFetched  *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	FailuresLogged   *prometheus.CounterVec
	RetryAttempts    prometheus.Counter
	ActiveWorkers    *prometheus.GaugeVec
	CheckpointSaves  prometheus.Counter
	ReconcilePasses  prometheus.Counter
	PendingSections  *prometheus.GaugeVec

	logger *slog.Logger
}

// NewMetrics creates a Metrics collector registered against a private
// registry (not the global DefaultRegisterer), so tests and multiple
// pipeline runs in one process never collide on duplicate registration.
func NewMetrics(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		SectionsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lexpipe_sections_fetched_total",
			Help: "Total sections fetched, partitioned by stage and outcome.",
		}, []string{"stage", "outcome"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lexpipe_fetch_duration_seconds",
			Help:    "Time spent fetching a single URL, partitioned by scraper type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"scraper_type"}),
		FailuresLogged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lexpipe_failures_logged_total",
			Help: "Total failure records logged, partitioned by failure type.",
		}, []string{"failure_type"}),
		RetryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lexpipe_retry_attempts_total",
			Help: "Total retry attempts made across all stages.",
		}),
		ActiveWorkers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lexpipe_active_workers",
			Help: "Currently active worker goroutines, partitioned by stage.",
		}, []string{"stage"}),
		CheckpointSaves: factory.NewCounter(prometheus.CounterOpts{
			Name: "lexpipe_checkpoint_saves_total",
			Help: "Total checkpoint saves across all stages.",
		}),
		ReconcilePasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "lexpipe_reconcile_passes_total",
			Help: "Total reconciliation passes executed.",
		}),
		PendingSections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lexpipe_pending_sections",
			Help: "Sections still pending extraction, by code.",
		}, []string{"code"}),
		logger: logger.With("component", "metrics"),
	}
}

// ObserveFetch records one fetch's duration for scraperType.
func (m *Metrics) ObserveFetch(scraperType string, d time.Duration) {
	m.FetchDuration.WithLabelValues(scraperType).Observe(d.Seconds())
}

// RecordOutcome increments the sections-fetched counter for (stage, outcome).
func (m *Metrics) RecordOutcome(stage, outcome string) {
	m.SectionsFetched.WithLabelValues(stage, outcome).Inc()
}

// RecordFailure increments the failures-logged counter for failureType.
func (m *Metrics) RecordFailure(failureType string) {
	m.FailuresLogged.WithLabelValues(failureType).Inc()
}

// Server wraps the HTTP server exposing /metrics and /health.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// StartServer starts a background HTTP server exposing m's metrics at
// path on port, plus a /health liveness endpoint.
func (m *Metrics) StartServer(port int, path string) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &Server{
		httpServer: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux},
		logger:     m.logger,
	}

	ln, err := net.Listen("tcp", srv.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", srv.httpServer.Addr, err)
	}

	m.logger.Info("metrics server starting", "addr", srv.httpServer.Addr, "path", path)
	go func() {
		if err := srv.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return srv, nil
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
