// Package coordinator deduplicates concurrent Discord requests for identical
// keys.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vietddude/shopcord/internal/metrics"
)

// DefaultTimeout bounds one deduplicated call.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned to every waiter of a call that exceeded the timeout.
var ErrTimeout = errors.New("coordinator: request timed out")

// Operation is the underlying call shared by all waiters of a key.
type Operation func(ctx context.Context) (any, error)

// Stats counts coordinator activity.
type Stats struct {
	Executed     uint64 `json:"executed"`
	Deduplicated uint64 `json:"deduplicated"`
	Timeouts     uint64 `json:"timeouts"`
	InFlight     int    `json:"in_flight"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator guarantees at most one underlying call in flight per key.
type Coordinator struct {
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	waiters map[string]int

	executed     atomic.Uint64
	deduplicated atomic.Uint64
	timeouts     atomic.Uint64
}

// New creates a coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		waiters: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExecuteRequest runs op for key, or joins the call already in flight for it.
// All concurrent callers of a key observe the same value or the same error.
// The shared call is not cancelled when one caller's ctx is; that caller just
// stops waiting.
func (c *Coordinator) ExecuteRequest(ctx context.Context, key string, op Operation) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		c.executed.Add(1)
		return c.run(context.WithoutCancel(ctx), key, op)
	})
	c.enter(key)
	defer c.leave(key)

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, key string, op Operation) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("coordinator: operation panicked: %v", r)}
			}
		}()
		val, err := op(ctx)
		done <- outcome{val: val, err: err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		c.timeouts.Add(1)
		c.logger.Warn("Coordinated request timed out", "key", key, "timeout", c.timeout)
		return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
}

func (c *Coordinator) enter(key string) {
	c.mu.Lock()
	if c.waiters[key] > 0 {
		c.deduplicated.Add(1)
		metrics.CoordinatorDeduplicatedTotal.Inc()
	}
	c.waiters[key]++
	c.mu.Unlock()
}

func (c *Coordinator) leave(key string) {
	c.mu.Lock()
	if c.waiters[key] <= 1 {
		delete(c.waiters, key)
	} else {
		c.waiters[key]--
	}
	c.mu.Unlock()
}

// InFlight returns the number of keys with callers waiting.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Executed:     c.executed.Load(),
		Deduplicated: c.deduplicated.Load(),
		Timeouts:     c.timeouts.Load(),
		InFlight:     c.InFlight(),
	}
}
