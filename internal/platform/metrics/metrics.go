// Package metrics exposes Prometheus instrumentation for the scoring core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PointsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livescore_points_applied_total",
		Help: "Point events accepted and applied by the writer gateway.",
	})

	DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livescore_duplicate_events_total",
		Help: "Point submissions answered from the idempotency cache.",
	})

	RejectedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livescore_rejected_transitions_total",
		Help: "Point submissions rejected by the scoring state machine.",
	}, []string{"reason"})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livescore_publish_failures_total",
		Help: "Score broadcasts that failed and rolled back the submission.",
	})

	ActiveViewerStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livescore_active_viewer_streams",
		Help: "Currently connected SSE viewer streams.",
	})

	SubmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livescore_submit_duration_seconds",
		Help:    "End-to-end latency of point submissions, apply through publish.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
