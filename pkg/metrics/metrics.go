package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HTTP request metrics, recorded by apiutil.MetricsMiddleware
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optigate_http_requests_total",
			Help: "Total number of HTTP requests by route, method and status",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optigate_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

// Optimizations counts terminal outcomes of the dispatch pipeline
var Optimizations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "optigate_optimizations_total",
		Help: "Total number of optimization requests by action and outcome",
	},
	[]string{"action", "outcome"},
)

// BackendLatency records the duration of generation calls
var BackendLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "optigate_backend_request_duration_seconds",
		Help:    "Latency in seconds of generation backend calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
	[]string{"backend", "result"},
)

// Rate limiter and cache metrics
var (
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optigate_ratelimit_decisions_total",
			Help: "Rate limit admission decisions",
		},
		[]string{"decision"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optigate_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	RateLimitTrackedKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optigate_ratelimit_tracked_keys",
			Help: "Client keys held by the in-memory limiter after the last sweep",
		},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "optigate_backend_breaker_open",
			Help: "1 when the backend circuit breaker is open",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration)
	prometheus.MustRegister(Optimizations, BackendLatency)
	prometheus.MustRegister(RateLimitDecisions, RateLimitTrackedKeys, CacheLookups, BreakerState)
}
