// Package metrics defines the Prometheus collectors shared by the content
// store, the execution engine and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	blobStores        *prometheus.CounterVec
	blobBytes         prometheus.Counter
	thumbnailFailures prometheus.Counter
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	lineageLevels     prometheus.Histogram
	httpRequests      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		blobStores: f.NewCounterVec(prometheus.CounterOpts{
			Name: "labnb_blob_store_total",
			Help: "Content store writes by result (stored or deduplicated).",
		}, []string{"result"}),
		blobBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "labnb_blob_bytes_total",
			Help: "Bytes written to the content store.",
		}),
		thumbnailFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "labnb_thumbnail_failures_total",
			Help: "Thumbnail derivations that failed and were skipped.",
		}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "labnb_entry_executions_total",
			Help: "Entry executions by entry type and final status.",
		}, []string{"entry_type", "status"}),
		executionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "labnb_entry_execution_duration_seconds",
			Help:    "Entry execution duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5m
		}, []string{"entry_type"}),
		lineageLevels: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "labnb_lineage_traversal_levels",
			Help:    "BFS levels visited per lineage traversal.",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "labnb_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}
}

// BlobStored records a content store write.
func (m *Metrics) BlobStored(deduplicated bool, size int) {
	if m == nil {
		return
	}
	if deduplicated {
		m.blobStores.WithLabelValues("deduplicated").Inc()
		return
	}
	m.blobStores.WithLabelValues("stored").Inc()
	m.blobBytes.Add(float64(size))
}

// ThumbnailFailed records a skipped thumbnail.
func (m *Metrics) ThumbnailFailed() {
	if m == nil {
		return
	}
	m.thumbnailFailures.Inc()
}

// ExecutionFinished records an execution outcome and its duration.
func (m *Metrics) ExecutionFinished(entryType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(entryType, status).Inc()
	m.executionDuration.WithLabelValues(entryType).Observe(d.Seconds())
}

// LineageTraversed records how many BFS levels a traversal visited.
func (m *Metrics) LineageTraversed(levels int) {
	if m == nil {
		return
	}
	m.lineageLevels.Observe(float64(levels))
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}
