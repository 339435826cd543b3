// Package retry runs Discord operations with classification-driven retries.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/shopcord/internal/infra/discord/classify"
)

// Config defines retry behavior.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// RetryableStatusCodes marks extra HTTP statuses as retryable on top of
	// the classifier's own verdict.
	RetryableStatusCodes []int
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
	}
}

// Result is the outcome of Execute. Err is the last classified error seen.
type Result struct {
	Success   bool
	Data      any
	Err       *classify.ClassifiedError
	Attempts  int
	TotalTime time.Duration
}

// Operation is one attempt at a Discord call.
type Operation func(ctx context.Context) (any, error)

// RateLimitHandler turns a 429 into the wait the server dictated.
type RateLimitHandler interface {
	HandleRateLimitError(err error, route string) time.Duration
}

// Observer is notified of retries and rate limit waits.
type Observer interface {
	RecordRetry(attempt int)
	RecordRateLimit(wait time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRateLimitHandler wires the rate limit tracker.
func WithRateLimitHandler(h RateLimitHandler) Option {
	return func(e *Engine) { e.rateLimits = h }
}

// WithObserver wires a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithSleep overrides how the engine waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithRandom overrides the [0,1) source used for jitter.
func WithRandom(random func() float64) Option {
	return func(e *Engine) {
		if random != nil {
			e.random = random
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine executes operations with retry.
type Engine struct {
	mu     sync.RWMutex
	config Config

	rateLimits RateLimitHandler
	observer   Observer
	sleep      func(ctx context.Context, d time.Duration) error
	random     func() float64
	logger     *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(config Config, opts ...Option) *Engine {
	e := &Engine{
		config: config,
		sleep:  sleepCtx,
		random: rand.Float64,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// SetConfig swaps the configuration. Calls already running keep the old one.
func (e *Engine) SetConfig(config Config) {
	e.mu.Lock()
	e.config = config
	e.mu.Unlock()
}

// Execute calls op until it succeeds, fails with a non-retryable error, or
// runs out of retries. name identifies the Discord route for rate limit
// bookkeeping. Execute never panics on operation failure; check Success.
//
// There is no overall deadline besides ctx: a cancelled context ends the
// loop with the last classified error.
func (e *Engine) Execute(ctx context.Context, name string, op Operation) Result {
	cfg := e.Config()
	start := time.Now()

	var (
		last     *classify.ClassifiedError
		attempts int
	)

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				last = classify.Classify(err)
			}
			break
		}

		attempts++
		data, err := op(ctx)
		if err == nil {
			return Result{
				Success:   true,
				Data:      data,
				Attempts:  attempts,
				TotalTime: time.Since(start),
			}
		}

		last = classify.Classify(err)
		if last.StatusCode == 429 && e.rateLimits != nil {
			wait := e.rateLimits.HandleRateLimitError(err, name)
			overridden := *last
			overridden.RetryAfter = wait
			last = &overridden
			if e.observer != nil {
				e.observer.RecordRateLimit(wait)
			}
		}

		if !last.Retryable && !slices.Contains(cfg.RetryableStatusCodes, last.StatusCode) {
			break
		}
		if attempt == cfg.MaxRetries {
			e.logger.Warn("Discord retries exhausted",
				"operation", name,
				"attempts", attempts,
				"category", string(last.Category),
			)
			break
		}

		delay := e.delay(attempt, last, cfg)
		if e.observer != nil {
			e.observer.RecordRetry(attempts)
		}
		e.logger.Debug("Retrying Discord request",
			"operation", name,
			"attempt", attempts,
			"delay", delay,
			"category", string(last.Category),
			"code", last.Code,
		)

		if err := e.sleep(ctx, delay); err != nil {
			break
		}
	}

	return Result{
		Err:       last,
		Attempts:  attempts,
		TotalTime: time.Since(start),
	}
}

// Do is Execute for an operation with a typed result. The zero T is returned
// when the Result is not successful.
func Do[T any](ctx context.Context, e *Engine, name string, op func(ctx context.Context) (T, error)) (T, Result) {
	result := e.Execute(ctx, name, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	var zero T
	if !result.Success {
		return zero, result
	}
	v, ok := result.Data.(T)
	if !ok {
		return zero, result
	}
	return v, result
}

// delay honours a server retry hint (plus 100-500ms jitter); otherwise it is
// BaseDelay*2^attempt with ±25% jitter, capped at MaxDelay.
func (e *Engine) delay(attempt int, last *classify.ClassifiedError, cfg Config) time.Duration {
	if last.RetryAfter > 0 {
		jitter := 100*time.Millisecond + time.Duration(e.random()*float64(400*time.Millisecond))
		return last.RetryAfter + jitter
	}

	backoff := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	backoff += backoff * 0.25 * (2*e.random() - 1)
	if backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
