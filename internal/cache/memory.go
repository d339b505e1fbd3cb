// Package cache stores completed chat responses keyed by request hash.
//
// Two backends are available:
//   - ExactCache  — Redis-backed, shared across gateway replicas.
//   - MemoryCache — in-process TTL cache, zero external dependencies.
//     Ideal for single-instance deployments or local development.
//
// Both implement the Cache interface so they are fully interchangeable.
// Streaming responses are never cached; the dispatch layer enforces that.
package cache

import (
	"context"
	"sync"
	"time"
)

const (
	janitorInterval = 5 * time.Minute
	fallbackTTL     = time.Hour
)

// entry stores a cached response body together with its expiry time.
type entry struct {
	body      []byte
	expiresAt time.Time
}

// MemoryCache is a simple in-process cache with per-entry TTL.
//
// It is safe for concurrent use. A background janitor periodically removes
// expired entries to prevent unbounded memory growth; reads also expire
// entries lazily.
//
// Use this backend when Redis is not available. For multi-replica
// deployments use ExactCache instead so that all replicas share hits.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]entry

	done chan struct{}
}

// NewMemoryCache creates a MemoryCache and starts the background janitor.
// The janitor stops when ctx is cancelled or Close is called.
func NewMemoryCache(ctx context.Context) *MemoryCache {
	c := &MemoryCache{
		items: make(map[string]entry),
		done:  make(chan struct{}),
	}
	go c.janitor(ctx)
	return c
}

// Get returns the cached value for key. Returns (nil, false) on a miss or if
// the entry has expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(it.expiresAt) {
		// Lazy expiry — drop the stale entry without blocking other reads.
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}

	return it.body, true
}

// Set stores value under key for the duration of ttl.
// A zero or negative ttl falls back to one hour.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = fallbackTTL
	}

	c.mu.Lock()
	c.items[key] = entry{
		body:      value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()

	return nil
}

// Delete removes key from the cache. Returns nil if the key did not exist.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries currently held, including entries that
// have expired but not yet been evicted.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background janitor.
func (c *MemoryCache) Close() {
	close(c.done)
}

func (c *MemoryCache) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) evictExpired() {
	now := time.Now()

	c.mu.Lock()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
