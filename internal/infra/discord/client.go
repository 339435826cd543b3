// Package discord is the resilient Discord API facade.
//
// Every call goes through the same pipeline: a fresh cache hit returns
// immediately; otherwise the request is deduplicated per key, paced against
// the global request rate, held back while its rate limit bucket is
// exhausted, retried on transient failures and finally cached. When the
// upstream call fails and stale data exists, the stale data is served and
// marked degraded.
package discord

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/shopcord/internal/core/worker"
	"github.com/vietddude/shopcord/internal/infra/discord/cache"
	"github.com/vietddude/shopcord/internal/infra/discord/classify"
	"github.com/vietddude/shopcord/internal/infra/discord/coordinator"
	"github.com/vietddude/shopcord/internal/infra/discord/monitor"
	"github.com/vietddude/shopcord/internal/infra/discord/ratelimit"
	"github.com/vietddude/shopcord/internal/infra/discord/retry"
)

const (
	DefaultBaseURL   = "https://discord.com/api/v10"
	DefaultGlobalRPS = 50
)

// ErrNoToken is returned when a call needs a token that was not provided.
var ErrNoToken = errors.New("discord: missing token")

// LoggingConfig toggles log output per component.
type LoggingConfig struct {
	RateLimit   bool
	Retry       bool
	Cache       bool
	Coordinator bool
	Health      bool
}

// Config configures a Client.
type Config struct {
	BotToken     string
	ClientID     string
	ClientSecret string

	// GlobalRPS paces all upstream calls; <= 0 disables pacing.
	GlobalRPS float64

	Retry              retry.Config
	Cache              cache.Config
	CoordinatorTimeout time.Duration
	SweepInterval      time.Duration
	Logging            LoggingConfig
}

// DefaultConfig returns production defaults without credentials.
func DefaultConfig() Config {
	return Config{
		GlobalRPS:          DefaultGlobalRPS,
		Retry:              retry.DefaultConfig(),
		Cache:              cache.DefaultConfig(),
		CoordinatorTimeout: coordinator.DefaultTimeout,
		SweepInterval:      30 * time.Second,
		Logging:            LoggingConfig{RateLimit: true, Retry: true, Cache: true, Coordinator: true, Health: true},
	}
}

// Option configures a Client.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	retryOpts   []retry.Option
	trackerOpts []ratelimit.Option
	cacheOpts   []cache.Option
	monitorOpts []monitor.Option
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetryOptions passes options to the retry engine.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOpts = append(o.retryOpts, opts...) }
}

// WithTrackerOptions passes options to the rate limit tracker.
func WithTrackerOptions(opts ...ratelimit.Option) Option {
	return func(o *options) { o.trackerOpts = append(o.trackerOpts, opts...) }
}

// WithCacheOptions passes options to the cache.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(o *options) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

// WithMonitorOptions passes options to the metrics collector.
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(o *options) { o.monitorOpts = append(o.monitorOpts, opts...) }
}

// Client owns every resilience component. It is safe for concurrent use.
type Client struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger

	limiter *rate.Limiter
	tracker *ratelimit.Tracker
	retrier *retry.Engine
	cache   *cache.Cache
	coord   *coordinator.Coordinator
	monitor *monitor.Collector

	mu        sync.Mutex
	closed    bool
	refreshes sync.WaitGroup
}

// NewClient wires a client around transport.
func NewClient(cfg Config, transport Transport, opts ...Option) *Client {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	limit, burst := rate.Inf, 1
	if cfg.GlobalRPS > 0 {
		limit = rate.Limit(cfg.GlobalRPS)
		burst = max(int(cfg.GlobalRPS), 1)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	logger := o.logger.With("component", "discord")
	c := &Client{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		limiter:   rate.NewLimiter(limit, burst),
		coord: coordinator.New(
			coordinator.WithTimeout(cfg.CoordinatorTimeout),
			coordinator.WithLogger(categoryLogger(o.logger, cfg.Logging.Coordinator, "coordinator")),
		),
	}

	c.tracker = ratelimit.NewTracker(append([]ratelimit.Option{
		ratelimit.WithLogger(categoryLogger(o.logger, cfg.Logging.RateLimit, "ratelimit")),
	}, o.trackerOpts...)...)

	c.cache = cache.New(cfg.Cache, append([]cache.Option{
		cache.WithLogger(categoryLogger(o.logger, cfg.Logging.Cache, "cache")),
	}, o.cacheOpts...)...)

	c.monitor = monitor.NewCollector(append([]monitor.Option{
		monitor.WithLogger(categoryLogger(o.logger, cfg.Logging.Health, "health")),
	}, o.monitorOpts...)...)

	c.retrier = retry.NewEngine(cfg.Retry, append([]retry.Option{
		retry.WithLogger(categoryLogger(o.logger, cfg.Logging.Retry, "retry")),
		retry.WithRateLimitHandler(c.tracker),
		retry.WithObserver(c.monitor),
	}, o.retryOpts...)...)

	return c
}

func categoryLogger(base *slog.Logger, enabled bool, component string) *slog.Logger {
	if !enabled {
		return slog.New(slog.DiscardHandler)
	}
	return base.With("component", component)
}

// Start runs the background sweeps until ctx is done. It does not block.
func (c *Client) Start(ctx context.Context) {
	sweeps := []*worker.Pruner{
		worker.NewPruner("cache", c.cfg.SweepInterval, c.cache.Sweep, c.logger),
		worker.NewPruner("ratelimit", c.cfg.SweepInterval, c.tracker.Sweep, c.logger),
		worker.NewPruner("monitor", c.cfg.SweepInterval, c.monitor.Sweep, c.logger),
	}
	for _, p := range sweeps {
		go p.Start(ctx)
	}
}

// Close stops new background refreshes and waits for running ones to
// finish. Calls keep working after Close; stale hits are served without a
// refresh.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.refreshes.Wait()
}

// SetRetryConfig swaps the retry configuration for subsequent calls.
func (c *Client) SetRetryConfig(cfg retry.Config) {
	c.retrier.SetConfig(cfg)
}

// Stats aggregates the state of every component.
type Stats struct {
	Health      monitor.Health    `json:"health"`
	Metrics     monitor.Snapshot  `json:"metrics"`
	Alerts      []monitor.Alert   `json:"alerts"`
	RateLimits  ratelimit.Stats   `json:"rate_limits"`
	Cache       cache.Stats       `json:"cache"`
	Coordinator coordinator.Stats `json:"coordinator"`
}

// Stats returns a snapshot of all components.
func (c *Client) Stats() Stats {
	return Stats{
		Health:      c.monitor.HealthStatus(),
		Metrics:     c.monitor.Snapshot(),
		Alerts:      c.monitor.Alerts(false),
		RateLimits:  c.tracker.Stats(),
		Cache:       c.cache.Stats(),
		Coordinator: c.coord.Stats(),
	}
}

// HealthStatus returns the current health verdict.
func (c *Client) HealthStatus() monitor.Health {
	return c.monitor.HealthStatus()
}

// call describes one logical Discord request. An empty key disables caching
// and deduplication.
type call struct {
	route  string
	method string
	path   string
	query  url.Values
	header http.Header
	body   []byte
	key    string
}

// fetch runs cl through the cache, coordinator and retry pipeline.
func fetch[T any](ctx context.Context, c *Client, cl call) (T, Meta, error) {
	var zero T

	if cl.key == "" {
		v, err := load[T](ctx, c, cl)
		return v, Meta{}, err
	}

	fallback, hasFallback := c.cache.GetStale(cl.key)

	// Without stale-while-revalidate, Get deletes an expired entry. Only
	// look it up when fresh so the entry stays available as the failure
	// fallback until the sweep finds it dead.
	if c.cfg.Cache.StaleWhileRevalidate || c.cache.Has(cl.key) {
		if lookup := c.cache.Get(cl.key); lookup.Hit {
			if v, ok := lookup.Data.(T); ok {
				if !lookup.Stale {
					c.monitor.RecordSuccess(0, true)
					return v, Meta{CacheHit: true}, nil
				}
				c.monitor.RecordStaleHit()
				c.refresh(cl, func(ctx context.Context) (any, error) { return load[T](ctx, c, cl) })
				return v, Meta{CacheHit: true, Stale: true}, nil
			}
		}
	}

	val, err := c.coord.ExecuteRequest(ctx, cl.key, func(ctx context.Context) (any, error) {
		return load[T](ctx, c, cl)
	})
	if err != nil {
		if hasFallback {
			if v, ok := fallback.(T); ok {
				c.monitor.RecordStaleHit()
				c.logger.Warn("Serving stale Discord data after failure", "route", cl.route, "error", err)
				return v, Meta{Stale: true, Degraded: true}, nil
			}
		}
		return zero, Meta{}, err
	}

	v, ok := val.(T)
	if !ok {
		return zero, Meta{}, fmt.Errorf("discord: unexpected result type %T for %s", val, cl.route)
	}
	return v, Meta{}, nil
}

// refresh reloads a stale entry in the background through the coordinator
// so it never duplicates an in-flight fetch.
func (c *Client) refresh(cl call, op coordinator.Operation) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.refreshes.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.refreshes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CoordinatorTimeout+time.Second)
		defer cancel()
		if _, err := c.coord.ExecuteRequest(ctx, cl.key, op); err != nil {
			c.logger.Debug("Background refresh failed", "route", cl.route, "error", err)
		}
	}()
}

// load performs the upstream call with retries and stores the result.
func load[T any](ctx context.Context, c *Client, cl call) (T, error) {
	var zero T

	t, result := retry.Do(ctx, c.retrier, cl.route, func(ctx context.Context) (timed[T], error) {
		var out timed[T]
		if err := c.limiter.Wait(ctx); err != nil {
			return out, err
		}
		if err := c.tracker.Wait(ctx, cl.route); err != nil {
			return out, err
		}

		start := time.Now()
		resp, err := c.transport.Do(ctx, Request{
			Method: cl.method,
			Path:   cl.path,
			Query:  cl.query,
			Header: cl.header,
			Body:   cl.body,
		})
		if err != nil {
			var httpErr *classify.HTTPError
			if errors.As(err, &httpErr) && httpErr.Status != http.StatusTooManyRequests {
				c.tracker.UpdateFromHeaders(httpErr.Header, cl.route)
			}
			return out, err
		}
		c.tracker.UpdateFromHeaders(resp.Header, cl.route)

		if err := json.Unmarshal(resp.Body, &out.value); err != nil {
			return out, &classify.GenericError{Message: fmt.Sprintf("decode %s response: %v", cl.route, err)}
		}
		if cache.IsNil(out.value) {
			return out, &classify.GenericError{Message: fmt.Sprintf("empty %s response", cl.route)}
		}
		out.latency = time.Since(start)
		return out, nil
	})

	if !result.Success {
		c.monitor.RecordFailure(string(result.Err.Category))
		classify.LogError(ctx, c.logger, result.Err, cl.route)
		return zero, result.Err
	}

	c.monitor.RecordSuccess(t.latency, false)
	if cl.key != "" && !c.cache.Set(cl.key, t.value, 0) {
		c.logger.Debug("Discord response not cached", "route", cl.route)
	}
	return t.value, nil
}

type timed[T any] struct {
	value   T
	latency time.Duration
}

func (c *Client) botHeader() (http.Header, error) {
	if c.cfg.BotToken == "" {
		return nil, ErrNoToken
	}
	return http.Header{"Authorization": {"Bot " + c.cfg.BotToken}}, nil
}

func bearerHeader(token string) (http.Header, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	return http.Header{"Authorization": {"Bearer " + token}}, nil
}

// Fingerprint derives a stable cache key component from a token so raw tokens
// never appear in keys or logs.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func userKey(token, resource string) string {
	return "user:" + Fingerprint(token) + ":" + resource
}

func guildKey(guildID, resource string) string {
	return "guild:" + guildID + ":" + resource
}
