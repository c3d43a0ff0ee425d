// Package metrics holds the process-wide prometheus instruments. Everything
// registers on the default registry and is served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MutationsTotal counts successful calendar mutations by operation.
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chesscal_mutations_total",
		Help: "Successful calendar mutations by operation.",
	}, []string{"op"})

	// ExportRuns counts projection export runs by outcome.
	ExportRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chesscal_export_runs_total",
		Help: "Projection export runs by outcome.",
	}, []string{"status"})

	// ExportDuration observes the wall time of one export run.
	ExportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chesscal_export_duration_seconds",
		Help:    "Wall time of one projection export run.",
		Buckets: prometheus.DefBuckets,
	})

	// BackupsTotal counts backup operations by reason and outcome.
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chesscal_backups_total",
		Help: "Backup operations by reason and outcome.",
	}, []string{"reason", "status"})

	// HTTPRequests counts requests by method, route template and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chesscal_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes request latency by route template.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chesscal_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
