// Package metrics defines the Prometheus instrumentation shared by the
// transport front-end, the review pipeline, and the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all crucible collectors. Construct exactly once and
// pass into the services that emit (no module-level singletons).
type Metrics struct {
	registry *prometheus.Registry

	ToolCalls     *prometheus.CounterVec
	ToolDuration  *prometheus.HistogramVec
	InFlight      prometheus.Gauge
	Reviews       prometheus.Counter
	QualityScores prometheus.Histogram
	Escalations   *prometheus.CounterVec
	RateLimited   *prometheus.CounterVec
	Injections    *prometheus.CounterVec
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	StorageRetries prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_tool_calls_total",
			Help: "Tool-call requests by tool name and outcome.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crucible_tool_duration_seconds",
			Help:    "Tool-call handler duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crucible_inflight_requests",
			Help: "Requests currently being processed.",
		}),
		Reviews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crucible_reviews_total",
			Help: "Completed review pipeline runs.",
		}),
		QualityScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crucible_quality_score",
			Help:    "Quality scores produced by the review pipeline.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_escalations_total",
			Help: "Escalations by reason.",
		}, []string{"reason"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_rate_limited_total",
			Help: "Rate limiter denials by namespace.",
		}, []string{"namespace"}),
		Injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_injection_detections_total",
			Help: "Input rejections from injection and path heuristics.",
		}, []string{"kind"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_cache_hits_total",
			Help: "Cache hits by cache name.",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_cache_misses_total",
			Help: "Cache misses by cache name.",
		}, []string{"cache"}),
		StorageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crucible_storage_retries_total",
			Help: "Transient persistence errors that triggered a retry.",
		}),
	}

	registry.MustRegister(
		m.ToolCalls, m.ToolDuration, m.InFlight, m.Reviews, m.QualityScores,
		m.Escalations, m.RateLimited, m.Injections, m.CacheHits, m.CacheMisses,
		m.StorageRetries,
	)
	return m
}

// Handler returns the text-format exposition handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
