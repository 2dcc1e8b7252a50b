// Package cache provides a concurrency-safe key/value store with per-entry
// time-to-live. Expiry is evaluated lazily on access: there is no background
// goroutine, and an expired entry stays resident until a Get, Has or
// CleanExpired touches it.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is used when New is given a non-positive TTL.
const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	Evictions int64 `json:"evictions"`
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type options struct {
	now     func() time.Time
	metrics *Metrics
}

// Option configures a Cache.
type Option func(*options)

// WithClock replaces time.Now. Tests use it to move time forward.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics mirrors cache counters into Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Cache is a TTL cache. Entries are replaced wholesale on overwrite, so values
// handed out by Get are never mutated by the cache.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	defaultTTL time.Duration
	now        func() time.Time
	metrics    *Metrics

	hits, misses, sets, deletes, evictions atomic.Int64
}

// New creates a cache whose entries live for defaultTTL unless Set overrides it.
func New[V any](defaultTTL time.Duration, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache[V]{
		entries:    make(map[string]entry[V]),
		defaultTTL: defaultTTL,
		now:        o.now,
		metrics:    o.metrics,
	}
}

// DefaultTTL returns the TTL applied by Set.
func (c *Cache[V]) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key. A non-positive ttl means the default TTL.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, storedAt: c.now(), ttl: ttl}
	size := len(c.entries)
	c.mu.Unlock()

	c.sets.Add(1)
	c.metrics.recordSet(size)
}

// Get returns the value stored under key if it is present and unexpired.
// An expired entry is evicted.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	evicted := false
	if ok && e.expired(c.now()) {
		delete(c.entries, key)
		ok, evicted = false, true
	}
	size := len(c.entries)
	c.mu.Unlock()

	if evicted {
		c.evictions.Add(1)
		c.metrics.recordEvictions(1, size)
	}
	if !ok {
		c.misses.Add(1)
		c.metrics.recordMiss()
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	c.metrics.recordHit()
	return e.value, true
}

// Has reports whether Get would find key.
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	size := len(c.entries)
	c.mu.Unlock()

	if ok {
		c.deletes.Add(1)
		c.metrics.recordDelete(size)
	}
	return ok
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
	c.metrics.setSize(0)
}

// CleanExpired evicts every expired entry and returns how many were removed.
func (c *Cache[V]) CleanExpired() int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		c.metrics.recordEvictions(removed, size)
	}
	return removed
}

// Size returns the number of resident entries, expired ones included.
func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Size:      c.Size(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Deletes:   c.deletes.Load(),
		Evictions: c.evictions.Load(),
	}
}
