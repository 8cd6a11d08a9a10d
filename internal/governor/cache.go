package governor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Rajchodisetti/trading-journal/internal/observ"
)

type cacheEntry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
	category Category
}

func (e *cacheEntry) live(now time.Time) bool {
	return now.Sub(e.storedAt) <= e.ttl
}

// CacheConfig fixes the TTL table at construction. Categories missing from
// TTLs keep their default.
type CacheConfig struct {
	TTLs  map[Category]time.Duration
	Clock Clock
}

// CacheStats is weakly consistent: Keys may include entries that are stale
// but not yet swept. Use it for observability only.
type CacheStats struct {
	Size      int      `json:"size"`
	Keys      []string `json:"keys"`
	Hits      int64    `json:"hits"`
	Misses    int64    `json:"misses"`
	Evictions int64    `json:"evictions"`
}

// ResponseCache memoizes provider results per key with a per-category TTL.
// There is no capacity bound; expiry is purely TTL based.
type ResponseCache struct {
	// plain Mutex: reads delete stale entries
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttls    map[Category]time.Duration
	clock   Clock

	hits      int64
	misses    int64
	evictions int64
}

// NewResponseCache builds an empty cache with the TTL table from cfg.
func NewResponseCache(cfg CacheConfig) *ResponseCache {
	ttls := DefaultTTLs()
	for c, ttl := range cfg.TTLs {
		if c.Valid() && ttl >= 0 {
			ttls[c] = ttl
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &ResponseCache{
		entries: make(map[string]*cacheEntry),
		ttls:    ttls,
		clock:   clock,
	}
}

// TTL resolves a category to its TTL; unknown categories use stock-quote.
func (c *ResponseCache) TTL(category Category) time.Duration {
	if ttl, ok := c.ttls[category]; ok {
		return ttl
	}
	return c.ttls[CategoryStockQuote]
}

// Set stores value under key, replacing any prior entry. A category whose
// TTL is zero is never cached.
func (c *ResponseCache) Set(key string, value any, category Category) {
	if !category.Valid() {
		category = CategoryStockQuote
	}
	ttl := c.TTL(category)

	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	c.entries[key] = &cacheEntry{
		value:    value,
		storedAt: c.clock.Now(),
		ttl:      ttl,
		category: category,
	}
	observ.IncCounter("response_cache_set_total", map[string]string{"category": string(category)})
	observ.SetGauge("response_cache_size", float64(len(c.entries)), nil)
}

// Get returns the value for key if it is still live. A stale entry is
// deleted on the way out. Reads never extend the TTL.
func (c *ResponseCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		observ.IncCounter("response_cache_miss_total", map[string]string{"reason": "absent"})
		return nil, false
	}
	if !e.live(c.clock.Now()) {
		delete(c.entries, key)
		c.misses++
		c.evictions++
		observ.IncCounter("response_cache_miss_total", map[string]string{"reason": "expired"})
		observ.IncCounter("response_cache_eviction_total", map[string]string{"category": string(e.category)})
		return nil, false
	}
	c.hits++
	observ.IncCounter("response_cache_hit_total", map[string]string{"category": string(e.category)})
	return e.value, true
}

// Has is Get without the value; it deletes stale entries exactly like Get.
func (c *ResponseCache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key. Deleting a missing key is a no-op.
func (c *ResponseCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	observ.SetGauge("response_cache_size", 0, nil)
	observ.Log("response_cache_cleared", map[string]any{"entries": n})
}

// Cleanup sweeps every stale entry and returns how many were removed.
func (c *ResponseCache) Cleanup() int {
	c.mu.Lock()
	now := c.clock.Now()
	evicted := 0
	byCategory := make(map[Category]int)
	for key, e := range c.entries {
		if !e.live(now) {
			delete(c.entries, key)
			byCategory[e.category]++
			evicted++
		}
	}
	c.evictions += int64(evicted)
	size := len(c.entries)
	c.mu.Unlock()

	observ.SetGauge("response_cache_size", float64(size), nil)
	if evicted > 0 {
		for cat, n := range byCategory {
			observ.IncCounterBy("response_cache_eviction_total", map[string]string{"category": string(cat)}, float64(n))
		}
		observ.Log("response_cache_swept", map[string]any{
			"evicted":   evicted,
			"remaining": size,
		})
	}
	return evicted
}

// Stats returns the current size, keys and lifetime counters.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return CacheStats{
		Size:      len(c.entries),
		Keys:      keys,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// RunCleanup sweeps on every tick until ctx is cancelled. Run it in its own
// goroutine owned by the process lifecycle.
func (c *ResponseCache) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// Lookup is a typed Get. A value of the wrong type counts as a miss.
func Lookup[T any](c *ResponseCache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
