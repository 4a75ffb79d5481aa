// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_generation_requests_total",
			Help: "Text generation calls by provider, mode and outcome.",
		},
		[]string{"provider", "mode", "status"},
	)
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_generation_duration_seconds",
			Help:    "Histogram of text generation latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "mode"},
	)
	ChaptersCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "companion_chapters_completed_total",
			Help: "Chapters completed across all users.",
		},
	)
	StorylinesUnlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_storylines_unlocked_total",
			Help: "Storyline unlocks by source (workout or manual).",
		},
		[]string{"source"},
	)
	SnapshotWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_snapshot_writes_total",
			Help: "Snapshot persistence attempts by outcome.",
		},
		[]string{"status"},
	)
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_http_requests_total",
			Help: "HTTP requests by method and status code.",
		},
		[]string{"method", "code"},
	)
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
