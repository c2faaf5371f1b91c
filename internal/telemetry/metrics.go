// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	RateLimitRejects *prometheus.CounterVec
	TokensProcessed  *prometheus.CounterVec

	// UpstreamDuration/UpstreamErrors cover the proxy attempt loop (§4.8),
	// labeled by channel and model rather than by HTTP route.
	UpstreamDuration *prometheus.HistogramVec // labels: channel, model
	UpstreamErrors   *prometheus.CounterVec   // labels: channel, reason

	// UsageQueueLength tracks the request-log flusher's buffered-but-
	// unflushed record count, a direct signal of DB back-pressure.
	UsageQueueLength prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routex",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "routex",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "routex",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routex",
			Name:      "cache_hits_total",
			Help:      "Total read-through cache hits (channels, rules, routing decisions).",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "routex",
			Name:      "cache_misses_total",
			Help:      "Total read-through cache misses.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routex",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"type"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routex",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "routex",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream channel request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"channel", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routex",
			Name:      "upstream_errors_total",
			Help:      "Total upstream attempt failures per channel.",
		}, []string{"channel", "reason"}),

		UsageQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "routex",
			Name:      "request_log_queue_length",
			Help:      "Buffered request-log records awaiting flush to the store.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.TokensProcessed,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.UsageQueueLength,
	)

	return m
}
