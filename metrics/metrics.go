package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DedupRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookguard_dedup_requests_total",
			Help: "Total number of requests seen by the deduplication cache",
		},
		[]string{"outcome"}, // proceed, duplicate, skipped, error
	)

	DedupCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookguard_dedup_cache_entries",
			Help: "Current number of fingerprints held by the deduplication cache",
		},
	)

	DedupEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookguard_dedup_evictions_total",
			Help: "Total number of fingerprints removed by capacity eviction",
		},
	)

	DedupSweepRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookguard_dedup_sweep_removed_total",
			Help: "Total number of stale fingerprints removed by the periodic sweep",
		},
	)

	DedupSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookguard_dedup_sweep_duration_seconds",
			Help:    "Time taken by one sweep of the deduplication cache",
			Buckets: prometheus.DefBuckets,
		},
	)

	CSRFValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookguard_csrf_validations_total",
			Help: "Total number of CSRF validations by result code",
		},
		[]string{"code"}, // ok, CSRF_TOKEN_MISSING, ...
	)

	CSRFTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookguard_csrf_tokens_issued_total",
			Help: "Total number of CSRF tokens issued by the token endpoint",
		},
	)

	CSRFRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookguard_csrf_rotations_total",
			Help: "Total number of CSRF tokens rotated after a successful validation",
		},
	)

	FailOpen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookguard_fail_open_total",
			Help: "Total number of requests allowed through because of an internal failure",
		},
		[]string{"component"}, // dedup, csrf
	)

	TokenStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookguard_token_store_errors_total",
			Help: "Total number of token store operation failures",
		},
		[]string{"backend", "operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookguard_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookguard_http_requests_total",
			Help: "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookguard_http_request_duration_seconds",
			Help:    "HTTP request latency including the upstream round trip",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	APIPanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookguard_api_panics_recovered_total",
			Help: "Total number of handler panics recovered by the gateway",
		},
		[]string{"method", "path"}, // path is normalized
	)

	UpstreamErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookguard_upstream_errors_total",
			Help: "Total number of requests the upstream application could not serve",
		},
	)
)
