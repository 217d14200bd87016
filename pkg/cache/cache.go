// Package cache provides a bounded TTL cache with a periodic expiry
// sweep. Expired entries are also dropped lazily on Get.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry holds one cached value with bookkeeping.
type entry struct {
	value     any
	expiresAt time.Time
	createdAt time.Time
	hits      int64
}

// Cache is a thread-safe key/value cache with TTL expiry and a
// capacity bound. When full, Set evicts the entry with the oldest
// creation time.
type Cache struct {
	name       string
	defaultTTL time.Duration
	capacity   int

	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time

	// Sweep lifecycle.
	cancel context.CancelFunc
	done   chan struct{}

	// onHit/onMiss report to metrics; nil-safe.
	onHit  func()
	onMiss func()
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithObservers wires hit/miss callbacks (metrics).
func WithObservers(onHit, onMiss func()) Option {
	return func(c *Cache) {
		c.onHit = onHit
		c.onMiss = onMiss
	}
}

// New creates a cache. capacity <= 0 means unbounded.
func New(name string, defaultTTL time.Duration, capacity int, opts ...Option) *Cache {
	c := &Cache{
		name:       name,
		defaultTTL: defaultTTL,
		capacity:   capacity,
		entries:    make(map[string]*entry),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.miss()
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		// Expired, clean up lazily. Re-check under the write lock:
		// a concurrent Set may have replaced the entry.
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && c.now().After(current.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.miss()
		return nil, false
	}

	c.mu.Lock()
	e.hits++
	c.mu.Unlock()
	c.hit()
	return e.value, true
}

// Set stores a value with the given TTL (0 means the default TTL).
// When the cache is at capacity, the entry with the oldest created_at
// is evicted first.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity > 0 && len(c.entries) >= c.capacity {
		if _, exists := c.entries[key]; !exists {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = &entry{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}
}

// GetOrSet returns the cached value for key, invoking producer on a
// miss and caching its result. Not single-flight: concurrent cold-key
// callers may each invoke the producer.
func (c *Cache) GetOrSet(key string, producer func() (any, error), ttl time.Duration) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := producer()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the current entry count (expired entries included until
// swept).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Start launches the periodic expiry sweep. Safe to call once.
func (c *Cache) Start(ctx context.Context, interval time.Duration) {
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := c.sweep()
				if removed > 0 {
					slog.Debug("Cache sweep removed expired entries",
						"cache", c.name, "removed", removed)
				}
			}
		}
	}()
}

// Stop terminates the sweep and waits for it to exit.
func (c *Cache) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
}

// sweep removes expired entries and returns the count removed.
func (c *Cache) sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, e := range c.entries {
		if first || e.createdAt.Before(oldest) {
			oldestKey = key
			oldest = e.createdAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) hit() {
	if c.onHit != nil {
		c.onHit()
	}
}

func (c *Cache) miss() {
	if c.onMiss != nil {
		c.onMiss()
	}
}
