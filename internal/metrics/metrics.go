package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DiscordRequestsTotal tracks Discord calls by outcome (success, failure)
	DiscordRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopcord_discord_requests_total",
			Help: "Total number of Discord API requests by outcome",
		},
		[]string{"outcome"},
	)

	// DiscordErrorsTotal tracks failed Discord calls by error category
	DiscordErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopcord_discord_errors_total",
			Help: "Total number of Discord API errors",
		},
		[]string{"error_type"},
	)

	// DiscordLatency tracks upstream latency of successful calls
	DiscordLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shopcord_discord_latency_seconds",
			Help:    "Discord API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CacheHitsTotal tracks cache hits by state (fresh, stale)
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopcord_cache_hits_total",
			Help: "Total number of Discord cache hits",
		},
		[]string{"state"},
	)

	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopcord_discord_retries_total",
			Help: "Total number of Discord request retries",
		},
	)

	RateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopcord_discord_rate_limit_hits_total",
			Help: "Total number of 429 responses from Discord",
		},
	)

	// RateLimitWait tracks how long callers were told to wait after a 429
	RateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shopcord_discord_rate_limit_wait_seconds",
			Help:    "Server-dictated wait after a rate limit hit",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// HealthStatus is 0 healthy, 1 degraded, 2 unhealthy
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopcord_health_status",
			Help: "Discord integration health (0 healthy, 1 degraded, 2 unhealthy)",
		},
	)

	// ActiveAlerts tracks unresolved alerts by type
	ActiveAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shopcord_active_alerts",
			Help: "Unresolved alerts by type",
		},
		[]string{"type"},
	)

	// CacheEntries tracks the number of cached Discord responses
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopcord_cache_entries",
			Help: "Number of entries in the Discord response cache",
		},
	)

	// CoordinatorDeduplicatedTotal tracks callers that joined an in-flight request
	CoordinatorDeduplicatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopcord_coordinator_deduplicated_total",
			Help: "Total number of requests served by an in-flight call for the same key",
		},
	)
)
