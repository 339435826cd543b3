// Package ratelimit tracks Discord's per-bucket and global rate limits.
//
// State is learned only from response headers; remaining quota is never
// computed locally. Records are replaced wholesale on every update and a
// record whose reset time has passed is treated as absent.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/shopcord/internal/infra/discord/classify"
)

const (
	// DefaultSafetyBuffer is added to every server-dictated wait.
	DefaultSafetyBuffer = 500 * time.Millisecond

	// DefaultRateLimitWait is used when a 429 carries no timing hints.
	DefaultRateLimitWait = 1 * time.Second

	// MinRateLimitWait is the floor for the total wait after a 429.
	MinRateLimitWait = 1000 * time.Millisecond
)

// Discord rate limit headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderResetAfter = "X-RateLimit-Reset-After"
	HeaderBucket     = "X-RateLimit-Bucket"
	HeaderGlobal     = "X-RateLimit-Global"
	HeaderScope      = "X-RateLimit-Scope"
	HeaderRetryAfter = "Retry-After"
)

// State is the rate limit record for one bucket (or the global limit).
type State struct {
	Bucket    string
	Limit     int
	Remaining int
	ResetAt   time.Time
	IsGlobal  bool
	Scope     string
}

// Stats holds cumulative rate limit hit statistics.
type Stats struct {
	TotalHits     int            `json:"total_hits"`
	GlobalHits    int            `json:"global_hits"`
	BucketHits    map[string]int `json:"bucket_hits"`
	EndpointHits  map[string]int `json:"endpoint_hits"`
	AverageWait   time.Duration  `json:"average_wait"`
	MaxWait       time.Duration  `json:"max_wait"`
	ActiveBuckets int            `json:"active_buckets"`
	GlobalActive  bool           `json:"global_active"`
	LastHitAt     time.Time      `json:"last_hit_at,omitzero"`
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithSleep overrides how Wait sleeps.
func WithSleep(sleep SleepFunc) Option {
	return func(t *Tracker) {
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithSafetyBuffer overrides DefaultSafetyBuffer.
func WithSafetyBuffer(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.safetyBuffer = d
		}
	}
}

// Tracker maintains bucket and global rate limit state.
type Tracker struct {
	mu           sync.Mutex
	buckets      map[string]State
	routeBuckets map[string]string // logical bucket -> server bucket
	global       *State

	totalHits   int
	globalHits  int
	bucketHits  map[string]int
	endpointHit map[string]int
	avgWait     float64
	maxWait     time.Duration
	lastHitAt   time.Time

	now          func() time.Time
	sleep        SleepFunc
	safetyBuffer time.Duration
	logger       *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		buckets:      make(map[string]State),
		routeBuckets: make(map[string]string),
		bucketHits:   make(map[string]int),
		endpointHit:  make(map[string]int),
		now:          time.Now,
		sleep:        sleepCtx,
		safetyBuffer: DefaultSafetyBuffer,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type headerValues struct {
	limit, remaining       int
	hasLimit, hasRemaining bool
	resetAt                time.Time
	resetAfter             time.Duration
	bucket                 string
	global                 bool
	scope                  string
}

func parseHeaders(h http.Header, now time.Time) (headerValues, bool) {
	var v headerValues
	found := false

	if n, err := strconv.Atoi(h.Get(HeaderLimit)); err == nil {
		v.limit, v.hasLimit, found = n, true, true
	}
	if n, err := strconv.Atoi(h.Get(HeaderRemaining)); err == nil {
		v.remaining, v.hasRemaining, found = max(n, 0), true, true
	}
	if f, err := strconv.ParseFloat(h.Get(HeaderResetAfter), 64); err == nil && f >= 0 {
		v.resetAfter, found = time.Duration(f*float64(time.Second)), true
	}
	if f, err := strconv.ParseFloat(h.Get(HeaderReset), 64); err == nil && f > 0 {
		sec, frac := math.Modf(f)
		v.resetAt, found = time.Unix(int64(sec), int64(frac*1e9)), true
	}
	v.bucket = h.Get(HeaderBucket)
	v.scope = h.Get(HeaderScope)
	v.global = strings.EqualFold(h.Get(HeaderGlobal), "true") || v.scope == "global"

	if !found {
		if ra := classify.ParseRetryAfter(h.Get(HeaderRetryAfter), now); ra > 0 {
			v.resetAfter, v.hasRemaining, found = ra, true, true
		}
	}
	if v.global {
		found = true
	}
	return v, found
}

// UpdateFromHeaders records the rate limit state carried by a response.
func (t *Tracker) UpdateFromHeaders(h http.Header, route string) {
	if h == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	v, ok := parseHeaders(h, now)
	if !ok {
		return
	}
	t.storeLocked(v, route, now, 0)
}

func (t *Tracker) storeLocked(v headerValues, route string, now time.Time, override time.Duration) {
	if v.global {
		wait := override
		if wait == 0 {
			wait = v.resetAfter + t.safetyBuffer
		}
		t.global = &State{
			Bucket:   "global",
			ResetAt:  now.Add(wait),
			IsGlobal: true,
			Scope:    v.scope,
		}
		return
	}

	logical := LogicalBucket(route)
	bucket := logical
	if v.bucket != "" {
		bucket = v.bucket
		t.routeBuckets[logical] = v.bucket
	} else if known, ok := t.routeBuckets[logical]; ok {
		bucket = known
	}

	resetAt := now
	switch {
	case override > 0:
		resetAt = now.Add(override)
	case v.resetAfter > 0:
		resetAt = now.Add(v.resetAfter)
	case !v.resetAt.IsZero():
		resetAt = v.resetAt
	}

	remaining := v.remaining
	if override > 0 {
		remaining = 0
	}

	t.buckets[bucket] = State{
		Bucket:    bucket,
		Limit:     v.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Scope:     v.scope,
	}
}

// bucketKeyLocked returns the bucket id consulted for a route.
func (t *Tracker) bucketKeyLocked(route string) string {
	logical := LogicalBucket(route)
	if known, ok := t.routeBuckets[logical]; ok {
		return known
	}
	return logical
}

// Bucket returns the bucket id a route currently resolves to.
func (t *Tracker) Bucket(route string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bucketKeyLocked(route)
}

// State returns the live record for a route's bucket. Expired records are
// reported as absent.
func (t *Tracker) State(route string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.buckets[t.bucketKeyLocked(route)]
	if !ok || !t.now().Before(st.ResetAt) {
		return State{}, false
	}
	return st, true
}

// ShouldWait returns how long a call to route must wait. A live global limit
// takes precedence over any bucket. Expired records are cleared.
func (t *Tracker) ShouldWait(route string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if t.global != nil {
		if now.Before(t.global.ResetAt) {
			return t.global.ResetAt.Sub(now)
		}
		t.global = nil
	}

	key := t.bucketKeyLocked(route)
	st, ok := t.buckets[key]
	if !ok {
		return 0
	}
	if !now.Before(st.ResetAt) {
		delete(t.buckets, key)
		return 0
	}
	if st.Remaining == 0 {
		return st.ResetAt.Sub(now)
	}
	return 0
}

// Wait sleeps until route may be called. It returns ctx.Err() if the context
// ends first.
func (t *Tracker) Wait(ctx context.Context, route string) error {
	d := t.ShouldWait(route)
	if d <= 0 {
		return nil
	}
	t.logger.Debug("Waiting for Discord rate limit", "route", route, "wait", d)
	return t.sleep(ctx, d)
}

// HandleRateLimitError records a 429 and returns how long the caller should
// wait before retrying.
func (t *Tracker) HandleRateLimitError(err error, route string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	var (
		v  headerValues
		ok bool
	)
	var httpErr *classify.HTTPError
	if errors.As(err, &httpErr) {
		v, ok = parseHeaders(httpErr.Header, now)
		if body := parseRateLimitBody(httpErr.Body); body != nil {
			if v.resetAfter == 0 && body.RetryAfter > 0 {
				v.resetAfter = time.Duration(body.RetryAfter * float64(time.Second))
			}
			v.global = v.global || body.Global
		}
	}

	resetAfter := v.resetAfter
	if resetAfter == 0 && !v.resetAt.IsZero() {
		resetAfter = max(v.resetAt.Sub(now), 0)
	}
	if !ok && resetAfter == 0 {
		resetAfter = DefaultRateLimitWait
	}
	wait := max(resetAfter+t.safetyBuffer, MinRateLimitWait)

	t.storeLocked(v, route, now, wait)

	bucket := "global"
	if !v.global {
		bucket = t.bucketKeyLocked(route)
	}

	t.totalHits++
	t.bucketHits[bucket]++
	t.endpointHit[NormalizeRoute(route)]++
	if v.global {
		t.globalHits++
	}
	t.avgWait += (float64(wait) - t.avgWait) / float64(t.totalHits)
	t.maxWait = max(t.maxWait, wait)
	t.lastHitAt = now

	t.logger.Warn("Discord rate limit hit",
		"route", route,
		"bucket", bucket,
		"global", v.global,
		"wait", wait,
	)

	return wait
}

// IsApproachingLimit reports whether the route's bucket has used at least
// (1-threshold) of its quota. threshold defaults to 0.1.
func (t *Tracker) IsApproachingLimit(route string, threshold float64) bool {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.1
	}
	st, ok := t.State(route)
	if !ok || st.Limit <= 0 {
		return false
	}
	used := float64(st.Limit-st.Remaining) / float64(st.Limit)
	return used >= 1-threshold
}

// Sweep purges expired records and returns how many were removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, st := range t.buckets {
		if !now.Before(st.ResetAt) {
			delete(t.buckets, key)
			removed++
		}
	}
	if t.global != nil && !now.Before(t.global.ResetAt) {
		t.global = nil
		removed++
	}
	if removed > 0 {
		t.logger.Debug("Purged expired rate limit records", "count", removed)
	}
	return removed
}

// Stats returns a copy of the cumulative statistics.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	s := Stats{
		TotalHits:    t.totalHits,
		GlobalHits:   t.globalHits,
		BucketHits:   make(map[string]int, len(t.bucketHits)),
		EndpointHits: make(map[string]int, len(t.endpointHit)),
		AverageWait:  time.Duration(t.avgWait),
		MaxWait:      t.maxWait,
		GlobalActive: t.global != nil && now.Before(t.global.ResetAt),
		LastHitAt:    t.lastHitAt,
	}
	for k, v := range t.bucketHits {
		s.BucketHits[k] = v
	}
	for k, v := range t.endpointHit {
		s.EndpointHits[k] = v
	}
	for _, st := range t.buckets {
		if now.Before(st.ResetAt) {
			s.ActiveBuckets++
		}
	}
	return s
}

type rateLimitBody struct {
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

func parseRateLimitBody(body []byte) *rateLimitBody {
	if len(body) == 0 {
		return nil
	}
	var b rateLimitBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil
	}
	return &b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
