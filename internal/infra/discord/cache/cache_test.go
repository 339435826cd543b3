package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, mutate func(*Config)) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, WithClock(clock.Now)), clock
}

func TestCache_FreshnessTransition(t *testing.T) {
	c, clock := newTestCache(t, nil)

	require.True(t, c.Set("user:me", "alice", 100*time.Millisecond))

	got := c.Get("user:me")
	assert.True(t, got.Hit)
	assert.False(t, got.Stale)
	assert.Equal(t, "alice", got.Data)

	clock.Advance(140 * time.Millisecond)
	got = c.Get("user:me")
	assert.True(t, got.Hit)
	assert.True(t, got.Stale)
	assert.Equal(t, "alice", got.Data)
	assert.False(t, c.Has("user:me"))
	assert.True(t, c.HasStale("user:me"))

	clock.Advance(20 * time.Millisecond)
	got = c.Get("user:me")
	assert.False(t, got.Hit)
	assert.Nil(t, got.Data)
	assert.Equal(t, 0, c.Len())
}

func TestCache_ExpiredWithoutStaleWhileRevalidate(t *testing.T) {
	c, clock := newTestCache(t, func(cfg *Config) { cfg.StaleWhileRevalidate = false })

	c.Set("k", 1, time.Second)
	clock.Advance(1100 * time.Millisecond)

	got := c.Get("k")
	assert.False(t, got.Hit)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Expired)
}

func TestCache_LRUEvictsLeastRecentlyAccessed(t *testing.T) {
	c, _ := newTestCache(t, func(cfg *Config) { cfg.MaxSize = 3 })

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0)

	// "a" was inserted first but read most recently.
	require.True(t, c.Get("a").Hit)

	c.Set("d", 4, 0)

	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"))
	assert.True(t, c.Has("c"))
	assert.True(t, c.Has("d"))
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCache_OverwriteAtCapacityDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(t, func(cfg *Config) { cfg.MaxSize = 2 })

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("a", 10, 0)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 10, c.Get("a").Data)
	assert.Equal(t, uint64(0), c.Stats().Evictions)
}

func TestCache_SetRejections(t *testing.T) {
	c, _ := newTestCache(t, nil)
	assert.False(t, c.Set("nil", nil, 0))

	type user struct{ ID string }
	var (
		nilUser  *user
		nilSlice []string
		nilMap   map[string]int
	)
	assert.False(t, c.Set("typed-nil-pointer", nilUser, 0))
	assert.False(t, c.Set("typed-nil-slice", nilSlice, 0))
	assert.False(t, c.Set("typed-nil-map", nilMap, 0))
	assert.True(t, c.Set("empty-slice", []string{}, 0))
	assert.True(t, c.Set("pointer", &user{ID: "u1"}, 0))
	assert.False(t, c.Get("typed-nil-pointer").Hit)

	strict := New(DefaultConfig(), WithValidator(func(v any) error {
		if s, ok := v.(string); ok && s == "" {
			return errors.New("empty")
		}
		if _, ok := v.(chan int); ok {
			panic("unserializable")
		}
		return nil
	}))
	assert.False(t, strict.Set("empty", "", 0))
	assert.False(t, strict.Set("chan", make(chan int), 0))
	assert.True(t, strict.Set("ok", "value", 0))

	disabled := New(Config{Enabled: false})
	assert.False(t, disabled.Set("k", "v", 0))
	assert.False(t, disabled.Get("k").Hit)
}

func TestCache_GetStale(t *testing.T) {
	c, clock := newTestCache(t, func(cfg *Config) { cfg.StaleWhileRevalidate = false })

	c.Set("guild:1", "g", 10*time.Second)
	clock.Advance(12 * time.Second)

	data, ok := c.GetStale("guild:1")
	assert.True(t, ok)
	assert.Equal(t, "g", data)

	clock.Advance(4 * time.Second)
	_, ok = c.GetStale("guild:1")
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t, nil)

	c.Set("user:abc:me", 1, 0)
	c.Set("user:abc:guilds", 2, 0)
	c.Set("user:def:me", 3, 0)
	c.Set("guild:1", 4, 0)

	assert.Equal(t, 2, c.Invalidate("user:abc"))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 0, c.Invalidate("nothing"))
	assert.True(t, c.Delete("guild:1"))
	assert.False(t, c.Delete("guild:1"))
}

func TestCache_SweepPurgesDeadEntries(t *testing.T) {
	c, clock := newTestCache(t, nil)

	c.Set("short", 1, 10*time.Second)
	c.Set("long", 2, time.Hour)

	clock.Advance(16 * time.Second)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestCache_SweepEvictsAboveHighWater(t *testing.T) {
	c, _ := newTestCache(t, func(cfg *Config) { cfg.MaxSize = 10 })

	for i := range 10 {
		c.Set(fmt.Sprintf("k%d", i), i, 0)
	}
	// Touch the first two so they survive.
	c.Get("k0")
	c.Get("k1")

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 8, c.Len())
	assert.True(t, c.Has("k0"))
	assert.True(t, c.Has("k1"))
	assert.False(t, c.Has("k2"))
	assert.False(t, c.Has("k3"))

	// At exactly 80% nothing more is evicted.
	assert.Equal(t, 0, c.Sweep())
}

func TestCache_Stats(t *testing.T) {
	c, clock := newTestCache(t, nil)

	c.Set("a", 1, time.Second)
	c.Get("a")
	c.Get("missing")
	clock.Advance(1200 * time.Millisecond)
	c.Get("a")

	s := c.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.StaleHits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Sets)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 0.0001)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(Config{Enabled: true, TTL: time.Minute, MaxSize: 50, StaleWhileRevalidate: true})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				key := fmt.Sprintf("k%d", (i*100+j)%80)
				c.Set(key, j, 0)
				c.Get(key)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}
