package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"operation", "provider", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelgate_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation", "provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"operation", "provider", "model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_cost_usd_total",
			Help: "Total cost in USD",
		},
		[]string{"operation", "provider", "model"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"operation"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelgate_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider", "code"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"operation"},
	)

	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_quota_rejections_total",
			Help: "Total number of requests rejected by quota or budget checks",
		},
		[]string{"operation", "reason"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelgate_events_dropped_total",
			Help: "Events dropped because the event bus buffer was full",
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelgate_active_streams",
			Help: "Number of active streaming connections",
		},
	)
)

func RecordRequest(operation, provider, model, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(operation, provider, model, status).Inc()
	RequestDuration.WithLabelValues(operation, provider, model).Observe(durationSec)
}

func RecordTokens(operation, provider, model string, promptTokens, completionTokens int) {
	TokensTotal.WithLabelValues(operation, provider, model, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(operation, provider, model, "completion").Add(float64(completionTokens))
}

func RecordCost(operation, provider, model string, costUSD float64) {
	CostTotal.WithLabelValues(operation, provider, model).Add(costUSD)
}

func RecordCacheHit(operation string) {
	CacheHits.WithLabelValues(operation).Inc()
}

func RecordCacheMiss(operation string) {
	CacheMisses.WithLabelValues(operation).Inc()
}

func RecordProviderError(provider, code string) {
	ProviderErrors.WithLabelValues(provider, code).Inc()
}

func RecordRateLimitRejection(operation string) {
	RateLimitRejections.WithLabelValues(operation).Inc()
}

func RecordQuotaRejection(operation, reason string) {
	QuotaRejections.WithLabelValues(operation, reason).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}
