// Package metrics implements MetricsCollector (C13): Prometheus exposition
// for the gateway's request-path counters, plus an in-memory rolling
// aggregate per (providerId, model) backing the admin performance endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors registered under the "plexus"
// namespace.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	RateLimitRejects    *prometheus.CounterVec
	TokensProcessed     *prometheus.CounterVec
	CooldownState       *prometheus.GaugeVec // labels: provider (0=clear, 1=on_cooldown)
	QuotaExhaustedTotal *prometheus.CounterVec
	CostTotal           *prometheus.CounterVec // labels: provider, model
}

// New creates and registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "plexus",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "plexus",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"type"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"provider", "model", "type"}),

		CooldownState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plexus",
			Name:      "cooldown_state",
			Help:      "Whether a provider is currently on cooldown (0=clear, 1=on_cooldown).",
		}, []string{"provider"}),

		QuotaExhaustedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "quota_exhausted_total",
			Help:      "Total requests denied by quota admission.",
		}, []string{"checker"}),

		CostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plexus",
			Name:      "cost_usd_total",
			Help:      "Total accrued cost in USD.",
		}, []string{"provider", "model"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.TokensProcessed,
		m.CooldownState,
		m.QuotaExhaustedTotal,
		m.CostTotal,
	)

	return m
}
