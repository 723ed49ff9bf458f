// Package http provides the HTTP transport adapter for the ingest surface.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftline/driftline/internal/domain/ratelimit"
	"github.com/driftline/driftline/internal/service"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Transport is the inbound adapter that exposes the ingest endpoint plus the
// health and metrics surfaces.
type Transport struct {
	registry  *service.SourceRegistry
	ingestion *service.IngestionService
	limiter   ratelimit.Limiter

	server        *http.Server
	addr          string
	logger        *slog.Logger
	healthChecker *HealthChecker
	metrics       *Metrics
	registerer    *prometheus.Registry
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /healthz endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *Transport) {
		t.healthChecker = hc
	}
}

// NewTransport creates the HTTP transport for the given services.
func NewTransport(registry *service.SourceRegistry, ingestion *service.IngestionService, limiter ratelimit.Limiter, opts ...Option) *Transport {
	t := &Transport{
		registry:  registry,
		ingestion: ingestion,
		limiter:   limiter,
		addr:      "127.0.0.1:8080",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.registerer = prometheus.NewRegistry()
	t.registerer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(t.registerer)
	return t
}

// Metrics returns the metric set so background jobs can record outcomes.
func (t *Transport) Metrics() *Metrics {
	return t.metrics
}

// SetHealthChecker installs the /healthz handler. Must be called before
// Start; it exists because the checker depends on the scheduler, which is
// wired after the transport.
func (t *Transport) SetHealthChecker(hc *HealthChecker) {
	t.healthChecker = hc
}

// Handler builds the route table.
func (t *Transport) Handler() http.Handler {
	ingest := NewIngestHandler(t.registry, t.limiter, t.ingestion, t.metrics, t.logger)

	mux := http.NewServeMux()
	mux.Handle("POST /ingest/{sourceKey}", ingest)
	if t.healthChecker != nil {
		mux.Handle("GET /healthz", t.healthChecker.Handler())
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registerer, promhttp.HandlerOpts{
		Registry: t.registerer,
	}))

	return RequestIDMiddleware(t.logger)(mux)
}

// Start begins accepting connections. It blocks until the context is
// cancelled or the listener fails.
func (t *Transport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		err := t.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown drains in-flight requests with a bounded timeout.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
