// Package telemetry unifies Prometheus metrics and OpenTelemetry tracing for
// the image service.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)

	rendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "og_renders_total",
			Help: "Total number of artifact renders, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	renderDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "og_render_duration_seconds",
			Help:    "Histogram of full render pipeline durations, labeled by kind.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"kind"},
	)

	renderStageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "og_render_stage_failures_total",
			Help: "Total number of render failures, labeled by kind and failing stage.",
		},
		[]string{"kind", "stage"},
	)

	analyticsEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "og_analytics_events_total",
			Help: "Total number of analytics events, labeled by delivery result.",
		},
		[]string{"result"},
	)

	archiveOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "og_archive_operations_total",
			Help: "Total number of archive fan-out operations, labeled by target and result.",
		},
		[]string{"target", "result"},
	)

	thumbRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "og_thumb_requests_total",
			Help: "Total number of thumbnail lookups, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "og_active_workers",
			Help: "Number of pool workers currently executing blocking work.",
		},
	)

	rateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "og_rate_limit_rejections_total",
			Help: "Total number of render requests rejected by the per-client limiter.",
		},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRender records the outcome of one render pipeline run.
func ObserveRender(kind, outcome string, duration time.Duration) {
	rendersTotal.WithLabelValues(kind, outcome).Inc()
	renderDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveRenderFailure records the stage a render failed in.
func ObserveRenderFailure(kind, stage string) {
	renderStageFailuresTotal.WithLabelValues(kind, stage).Inc()
}

// ObserveAnalyticsEvent records an analytics delivery result
// ("sent", "failed", "disabled").
func ObserveAnalyticsEvent(result string) {
	analyticsEventsTotal.WithLabelValues(result).Inc()
}

// ObserveArchive records one archive target result.
func ObserveArchive(target, result string) {
	archiveOperationsTotal.WithLabelValues(target, result).Inc()
}

// ObserveThumb records one thumbnail lookup.
func ObserveThumb(source, outcome string) {
	thumbRequestsTotal.WithLabelValues(source, outcome).Inc()
}

// IncActiveWorkers increments the active worker count.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active worker count.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitRejection records a request turned away by the limiter.
func ObserveRateLimitRejection() {
	rateLimitRejectionsTotal.Inc()
}
