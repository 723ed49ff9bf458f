package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
// Pass to components that need to record metrics.
type Metrics struct {
	IngestRequests  *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	EventsStored    prometheus.Counter
	ScoresComputed  prometheus.Counter
	AlertsCreated   *prometheus.CounterVec
	JobRuns         *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
	RetentionDeleted prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		IngestRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "driftline",
				Name:      "ingest_requests_total",
				Help:      "Total ingest requests processed",
			},
			[]string{"source", "status"},
		),
		IngestDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "driftline",
				Name:      "ingest_duration_seconds",
				Help:      "Ingest request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		EventsStored: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "driftline",
				Name:      "events_stored_total",
				Help:      "Total normalized events persisted",
			},
		),
		ScoresComputed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "driftline",
				Name:      "scores_computed_total",
				Help:      "Total risk scores computed",
			},
		),
		AlertsCreated: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "driftline",
				Name:      "alerts_created_total",
				Help:      "Total alerts created",
			},
			[]string{"severity"},
		),
		JobRuns: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "driftline",
				Name:      "job_runs_total",
				Help:      "Total scheduler job runs",
			},
			[]string{"job", "status"},
		),
		JobDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "driftline",
				Name:      "job_duration_seconds",
				Help:      "Scheduler job run duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		RateLimited: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "driftline",
				Name:      "rate_limited_total",
				Help:      "Total ingest requests rejected by the rate limiter",
			},
			[]string{"source"},
		),
		RetentionDeleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "driftline",
				Name:      "retention_events_deleted_total",
				Help:      "Total events deleted by retention runs",
			},
		),
	}
}
