// Package monitor collects Discord request metrics and derives a health
// verdict and alerts from them.
package monitor

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/shopcord/internal/infra/discord/classify"
	"github.com/vietddude/shopcord/internal/metrics"
)

// Status is the health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Buffer caps and retention windows.
const (
	LatencyBufferSize   = 1000
	TimestampBufferSize = 10000
	OutcomeBufferSize   = 100
	TimestampRetention  = time.Hour
	AlertRetention      = 24 * time.Hour
)

// Health thresholds.
const (
	unhealthyErrorRate      = 0.5
	degradedErrorRate       = 0.2
	unhealthyConsecutive    = 10
	degradedConsecutive     = 5
	unhealthyLatency        = 10 * time.Second
	degradedLatency         = 5 * time.Second
	unhealthySinceSuccess   = 10 * time.Minute
	degradedSinceSuccess    = 5 * time.Minute
	rateLimitStormThreshold = 10
	minAlertSamples         = 10
)

// Alert types.
const (
	AlertHighErrorRate       = "high_error_rate"
	AlertConsecutiveFailures = "consecutive_failures"
	AlertHighLatency         = "high_latency"
	AlertRateLimitStorm      = "rate_limit_storm"
)

// Health is the verdict plus the inputs it was derived from.
type Health struct {
	Status              Status        `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ErrorRate           float64       `json:"error_rate"`
	AverageLatency      time.Duration `json:"average_latency"`
	LastSuccessAt       time.Time     `json:"last_success_at,omitzero"`
	Details             []string      `json:"details,omitempty"`
}

// Snapshot is a point-in-time view of all counters.
type Snapshot struct {
	TotalRequests       uint64            `json:"total_requests"`
	Successes           uint64            `json:"successes"`
	Failures            uint64            `json:"failures"`
	CacheHits           uint64            `json:"cache_hits"`
	StaleHits           uint64            `json:"stale_hits"`
	Retries             uint64            `json:"retries"`
	RateLimitHits       uint64            `json:"rate_limit_hits"`
	ErrorsByType        map[string]uint64 `json:"errors_by_type"`
	AverageLatency      time.Duration     `json:"average_latency"`
	P95Latency          time.Duration     `json:"p95_latency"`
	P99Latency          time.Duration     `json:"p99_latency"`
	RequestsPerMinute   int               `json:"requests_per_minute"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastSuccessAt       time.Time         `json:"last_success_at,omitzero"`
	LastFailureAt       time.Time         `json:"last_failure_at,omitzero"`
}

// Alert is raised once per type while its condition holds.
type Alert struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Severity   classify.Severity `json:"severity"`
	Message    string            `json:"message"`
	RaisedAt   time.Time         `json:"raised_at"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt time.Time         `json:"resolved_at,omitzero"`
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Collector is safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	successes, failures, cacheHits, staleHits, retries, rateLimitHits uint64
	errorsByType                                                     map[string]uint64
	consecutiveFailures                                              int
	startedAt, lastSuccessAt, lastFailureAt                          time.Time

	latencies  *ring[time.Duration]
	timestamps *ring[time.Time]
	rateLimits *ring[time.Time]
	outcomes   *ring[bool]

	alerts []*Alert

	now    func() time.Time
	logger *slog.Logger
}

// NewCollector creates a collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		errorsByType: make(map[string]uint64),
		latencies:    newRing[time.Duration](LatencyBufferSize),
		timestamps:   newRing[time.Time](TimestampBufferSize),
		rateLimits:   newRing[time.Time](LatencyBufferSize),
		outcomes:     newRing[bool](OutcomeBufferSize),
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startedAt = c.now()
	return c
}

// RecordSuccess records a successful call. Cache hits do not contribute
// latency samples.
func (c *Collector) RecordSuccess(latency time.Duration, cacheHit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.successes++
	c.consecutiveFailures = 0
	c.lastSuccessAt = now
	c.timestamps.push(now)
	c.outcomes.push(true)

	metrics.DiscordRequestsTotal.WithLabelValues("success").Inc()
	if cacheHit {
		c.cacheHits++
		metrics.CacheHitsTotal.WithLabelValues("fresh").Inc()
	} else {
		c.latencies.push(latency)
		metrics.DiscordLatency.Observe(latency.Seconds())
	}

	c.evaluateLocked(now)
}

// RecordFailure records a failed call tagged with its error category.
func (c *Collector) RecordFailure(errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.failures++
	c.consecutiveFailures++
	c.lastFailureAt = now
	c.errorsByType[errorType]++
	c.timestamps.push(now)
	c.outcomes.push(false)

	metrics.DiscordRequestsTotal.WithLabelValues("failure").Inc()
	metrics.DiscordErrorsTotal.WithLabelValues(errorType).Inc()

	c.evaluateLocked(now)
}

// RecordRetry records one retry; attempt is the attempt that failed.
func (c *Collector) RecordRetry(attempt int) {
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
	metrics.RetriesTotal.Inc()
}

// RecordRateLimit records a 429 and the wait it imposed.
func (c *Collector) RecordRateLimit(wait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.rateLimitHits++
	c.rateLimits.push(now)
	metrics.RateLimitHitsTotal.Inc()
	metrics.RateLimitWait.Observe(wait.Seconds())

	c.evaluateLocked(now)
}

// RecordStaleHit records a response served from stale cache data.
func (c *Collector) RecordStaleHit() {
	c.mu.Lock()
	c.staleHits++
	c.mu.Unlock()
	metrics.CacheHitsTotal.WithLabelValues("stale").Inc()
}

// HealthStatus derives the verdict. The first unhealthy condition wins, then
// the first degraded one.
func (c *Collector) HealthStatus() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthLocked(c.now())
}

func (c *Collector) healthLocked(now time.Time) Health {
	h := Health{
		Status:              StatusHealthy,
		ConsecutiveFailures: c.consecutiveFailures,
		ErrorRate:           c.errorRateLocked(),
		AverageLatency:      average(c.latencies.values()),
		LastSuccessAt:       c.lastSuccessAt,
	}
	// The error rate only counts once the window holds enough outcomes.
	rated := c.outcomes.len() >= minAlertSamples

	var sinceSuccess time.Duration
	switch {
	case !c.lastSuccessAt.IsZero():
		sinceSuccess = now.Sub(c.lastSuccessAt)
	case c.failures > 0:
		sinceSuccess = now.Sub(c.startedAt)
	}

	unhealthy := []struct {
		hit    bool
		detail string
	}{
		{rated && h.ErrorRate > unhealthyErrorRate, fmt.Sprintf("error rate %.0f%% above %.0f%%", h.ErrorRate*100, unhealthyErrorRate*100)},
		{h.ConsecutiveFailures >= unhealthyConsecutive, fmt.Sprintf("%d consecutive failures", h.ConsecutiveFailures)},
		{h.AverageLatency > unhealthyLatency, fmt.Sprintf("average latency %s above %s", h.AverageLatency, unhealthyLatency)},
		{sinceSuccess > unhealthySinceSuccess, fmt.Sprintf("no success for %s", sinceSuccess.Truncate(time.Second))},
	}
	for _, cond := range unhealthy {
		if cond.hit {
			h.Status = StatusUnhealthy
			h.Details = append(h.Details, cond.detail)
			return h
		}
	}

	degraded := []struct {
		hit    bool
		detail string
	}{
		{rated && h.ErrorRate > degradedErrorRate, fmt.Sprintf("error rate %.0f%% above %.0f%%", h.ErrorRate*100, degradedErrorRate*100)},
		{h.ConsecutiveFailures >= degradedConsecutive, fmt.Sprintf("%d consecutive failures", h.ConsecutiveFailures)},
		{h.AverageLatency > degradedLatency, fmt.Sprintf("average latency %s above %s", h.AverageLatency, degradedLatency)},
		{sinceSuccess > degradedSinceSuccess, fmt.Sprintf("no success for %s", sinceSuccess.Truncate(time.Second))},
	}
	for _, cond := range degraded {
		if cond.hit {
			h.Status = StatusDegraded
			h.Details = append(h.Details, cond.detail)
			return h
		}
	}
	return h
}

// Snapshot returns counters and latency percentiles.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	lat := c.latencies.values()
	slices.Sort(lat)

	rpm := 0
	cutoff := now.Add(-time.Minute)
	for _, ts := range c.timestamps.values() {
		if ts.After(cutoff) {
			rpm++
		}
	}

	byType := make(map[string]uint64, len(c.errorsByType))
	for k, v := range c.errorsByType {
		byType[k] = v
	}

	return Snapshot{
		TotalRequests:       c.successes + c.failures,
		Successes:           c.successes,
		Failures:            c.failures,
		CacheHits:           c.cacheHits,
		StaleHits:           c.staleHits,
		Retries:             c.retries,
		RateLimitHits:       c.rateLimitHits,
		ErrorsByType:        byType,
		AverageLatency:      average(lat),
		P95Latency:          percentile(lat, 0.95),
		P99Latency:          percentile(lat, 0.99),
		RequestsPerMinute:   rpm,
		ConsecutiveFailures: c.consecutiveFailures,
		LastSuccessAt:       c.lastSuccessAt,
		LastFailureAt:       c.lastFailureAt,
	}
}

// Alerts returns a copy of the alert history, newest last.
func (c *Collector) Alerts(includeResolved bool) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, 0, len(c.alerts))
	for _, a := range c.alerts {
		if includeResolved || !a.Resolved {
			out = append(out, *a)
		}
	}
	return out
}

// ResolveAlert marks an alert resolved by ID.
func (c *Collector) ResolveAlert(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.alerts {
		if a.ID == id && !a.Resolved {
			c.resolveLocked(a, c.now())
			return true
		}
	}
	return false
}

// Sweep trims timestamps older than an hour and resolved alerts older than a
// day. It returns the number of records dropped.
func (c *Collector) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-TimestampRetention)
	dropped := c.timestamps.dropWhile(func(ts time.Time) bool { return ts.Before(cutoff) })
	dropped += c.rateLimits.dropWhile(func(ts time.Time) bool { return ts.Before(cutoff) })

	alertCutoff := now.Add(-AlertRetention)
	before := len(c.alerts)
	c.alerts = slices.DeleteFunc(c.alerts, func(a *Alert) bool {
		return a.Resolved && a.RaisedAt.Before(alertCutoff)
	})
	dropped += before - len(c.alerts)

	c.evaluateLocked(now)
	return dropped
}

// evaluateLocked raises alerts whose condition holds and resolves the ones
// whose condition has cleared.
func (c *Collector) evaluateLocked(now time.Time) {
	errorRate := c.errorRateLocked()
	avg := average(c.latencies.values())

	stormCutoff := now.Add(-time.Minute)
	recentRateLimits := 0
	for _, ts := range c.rateLimits.values() {
		if ts.After(stormCutoff) {
			recentRateLimits++
		}
	}

	c.setAlertLocked(now, AlertHighErrorRate,
		c.outcomes.len() >= minAlertSamples && errorRate > degradedErrorRate,
		severityAbove(errorRate > unhealthyErrorRate, classify.SeverityHigh),
		fmt.Sprintf("Discord error rate at %.0f%%", errorRate*100))
	c.setAlertLocked(now, AlertConsecutiveFailures,
		c.consecutiveFailures >= degradedConsecutive,
		severityAbove(c.consecutiveFailures >= unhealthyConsecutive, classify.SeverityCritical),
		fmt.Sprintf("%d consecutive Discord failures", c.consecutiveFailures))
	c.setAlertLocked(now, AlertHighLatency,
		avg > degradedLatency,
		severityAbove(avg > unhealthyLatency, classify.SeverityHigh),
		fmt.Sprintf("Discord average latency %s", avg))
	c.setAlertLocked(now, AlertRateLimitStorm,
		recentRateLimits >= rateLimitStormThreshold,
		classify.SeverityMedium,
		fmt.Sprintf("%d Discord rate limit hits in the last minute", recentRateLimits))

	switch c.healthLocked(now).Status {
	case StatusHealthy:
		metrics.HealthStatus.Set(0)
	case StatusDegraded:
		metrics.HealthStatus.Set(1)
	default:
		metrics.HealthStatus.Set(2)
	}
}

// severityAbove returns high when escalated holds, MEDIUM otherwise.
func severityAbove(escalated bool, high classify.Severity) classify.Severity {
	if escalated {
		return high
	}
	return classify.SeverityMedium
}

// setAlertLocked raises, escalates or resolves the open alert of kind.
func (c *Collector) setAlertLocked(now time.Time, kind string, active bool, severity classify.Severity, message string) {
	var open *Alert
	for _, a := range c.alerts {
		if a.Type == kind && !a.Resolved {
			open = a
			break
		}
	}

	switch {
	case active && open == nil:
		a := &Alert{
			ID:       uuid.NewString(),
			Type:     kind,
			Severity: severity,
			Message:  message,
			RaisedAt: now,
		}
		c.alerts = append(c.alerts, a)
		metrics.ActiveAlerts.WithLabelValues(kind).Set(1)
		c.logger.Warn("Discord alert raised", "type", kind, "severity", severity, "message", message, "id", a.ID)
	case active && severity > open.Severity:
		open.Severity = severity
		open.Message = message
		c.logger.Warn("Discord alert escalated", "type", kind, "severity", severity, "message", message, "id", open.ID)
	case !active && open != nil:
		c.resolveLocked(open, now)
	}
}

func (c *Collector) resolveLocked(a *Alert, now time.Time) {
	a.Resolved = true
	a.ResolvedAt = now
	metrics.ActiveAlerts.WithLabelValues(a.Type).Set(0)
	c.logger.Info("Discord alert resolved", "type", a.Type, "id", a.ID)
}

func (c *Collector) errorRateLocked() float64 {
	outcomes := c.outcomes.values()
	if len(outcomes) == 0 {
		return 0
	}
	failed := 0
	for _, ok := range outcomes {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(outcomes))
}

func average(values []time.Duration) time.Duration {
	if len(values) == 0 {
		return 0
	}
	var total time.Duration
	for _, v := range values {
		total += v
	}
	return total / time.Duration(len(values))
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
