// Package cache is an in-memory, stale-aware cache for Discord responses.
//
// An entry moves through three states: fresh (within its TTL), stale (past the
// TTL but inside the stale window of half the TTL) and dead. Dead entries are
// never returned. Capacity is enforced on Set by evicting the entry with the
// lowest access counter.
package cache

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/shopcord/internal/metrics"
)

// Config configures a Cache.
type Config struct {
	Enabled              bool
	TTL                  time.Duration
	MaxSize              int
	StaleWhileRevalidate bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		TTL:                  15 * time.Minute,
		MaxSize:              2000,
		StaleWhileRevalidate: true,
	}
}

// Lookup is the result of Get.
type Lookup struct {
	Data     any
	Hit      bool
	Stale    bool
	StoredAt time.Time
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      uint64  `json:"hits"`
	StaleHits uint64  `json:"stale_hits"`
	Misses    uint64  `json:"misses"`
	Sets      uint64  `json:"sets"`
	Evictions uint64  `json:"evictions"`
	Expired   uint64  `json:"expired"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	data     any
	storedAt time.Time
	ttl      time.Duration
	access   uint64
}

func (e *entry) freshUntil() time.Time { return e.storedAt.Add(e.ttl) }
func (e *entry) deadAfter() time.Time  { return e.storedAt.Add(e.ttl + e.ttl/2) }

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithValidator rejects values before they are stored.
func WithValidator(validate func(any) error) Option {
	return func(c *Cache) { c.validate = validate }
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	counter uint64

	hits, staleHits, misses, sets, evictions, expired uint64

	now      func() time.Time
	validate func(any) error
	logger   *slog.Logger
}

// New creates a cache.
func New(cfg Config, opts ...Option) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks up key. An expired entry is returned as stale while
// stale-while-revalidate is on and it is not yet dead; otherwise it is
// removed and reported as a miss.
func (c *Cache) Get(key string) Lookup {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled {
		c.misses++
		return Lookup{}
	}

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return Lookup{}
	}

	now := c.now()
	if !now.After(e.freshUntil()) {
		c.touchLocked(e)
		c.hits++
		return Lookup{Data: e.data, Hit: true, StoredAt: e.storedAt}
	}

	if c.cfg.StaleWhileRevalidate && !now.After(e.deadAfter()) {
		c.touchLocked(e)
		c.staleHits++
		return Lookup{Data: e.data, Hit: true, Stale: true, StoredAt: e.storedAt}
	}

	delete(c.entries, key)
	c.expired++
	c.misses++
	return Lookup{}
}

// Set stores data under key. ttl <= 0 uses the configured TTL. It returns
// false when the cache is disabled or the value is nil (including typed nil
// pointers, slices and maps) or rejected.
func (c *Cache) Set(key string, data any, ttl time.Duration) bool {
	if !c.cfg.Enabled || IsNil(data) {
		return false
	}
	if err := c.check(data); err != nil {
		c.logger.Warn("Cache set rejected", "key", key, "error", err)
		return false
	}
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxSize {
		c.evictLocked(1)
	}

	c.counter++
	c.entries[key] = &entry{
		data:     data,
		storedAt: c.now(),
		ttl:      ttl,
		access:   c.counter,
	}
	c.sets++
	return true
}

// IsNil reports whether v is nil or a nil pointer, slice, map, channel,
// function or interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func (c *Cache) check(data any) (err error) {
	if c.validate == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return c.validate(data)
}

// Has reports whether key holds fresh data.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && c.cfg.Enabled && !c.now().After(e.freshUntil())
}

// HasStale reports whether key holds data that is not yet dead, fresh or not.
func (c *Cache) HasStale(key string) bool {
	_, ok := c.GetStale(key)
	return ok
}

// GetStale returns any data for key that is not yet dead. It is the fallback
// for callers whose upstream fetch has failed and does not touch counters.
func (c *Cache) GetStale(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.cfg.Enabled || c.now().After(e.deadAfter()) {
		return nil, false
	}
	return e.data, true
}

// Delete removes key.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Invalidate removes every key containing pattern and returns how many were
// removed.
func (c *Cache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.entries {
		if strings.Contains(key, pattern) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including stale ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Size:      len(c.entries),
		MaxSize:   c.cfg.MaxSize,
		Hits:      c.hits,
		StaleHits: c.staleHits,
		Misses:    c.misses,
		Sets:      c.sets,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
	if total := c.hits + c.staleHits + c.misses; total > 0 {
		s.HitRate = float64(c.hits+c.staleHits) / float64(total)
	}
	return s
}

// Sweep purges dead entries and, above 80% capacity, evicts the 20% least
// recently accessed. It returns the number of entries removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.deadAfter()) {
			delete(c.entries, key)
			c.expired++
			removed++
		}
	}

	if len(c.entries)*5 > c.cfg.MaxSize*4 {
		removed += c.evictLocked(max(len(c.entries)/5, 1))
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
	if removed > 0 {
		c.logger.Debug("Cache sweep", "removed", removed, "size", len(c.entries))
	}
	return removed
}

func (c *Cache) touchLocked(e *entry) {
	c.counter++
	e.access = c.counter
}

// evictLocked removes the n entries with the lowest access counter.
func (c *Cache) evictLocked(n int) int {
	if n <= 0 || len(c.entries) == 0 {
		return 0
	}
	if n == 1 {
		var (
			victim string
			lowest uint64
			found  bool
		)
		for key, e := range c.entries {
			if !found || e.access < lowest {
				victim, lowest, found = key, e.access, true
			}
		}
		delete(c.entries, victim)
		c.evictions++
		return 1
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].access < c.entries[keys[j]].access
	})
	n = min(n, len(keys))
	for _, key := range keys[:n] {
		delete(c.entries, key)
	}
	c.evictions += uint64(n)
	return n
}
