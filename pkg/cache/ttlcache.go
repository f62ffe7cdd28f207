package cache

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// InMemoryCache backs CheckAndSetCache with an in-process TTL cache. A
// multi-instance deployment would swap this for a shared fast store; the
// interface is the contract, not this implementation.
type InMemoryCache struct {
	mu       sync.Mutex
	counters *ttlcache.Cache[string, int64]
}

func NewInMemoryCache() *InMemoryCache {
	counters := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, int64](),
	)
	go counters.Start()

	return &InMemoryCache{
		counters: counters,
	}
}

func (c *InMemoryCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counters.Get(key) != nil
}

func (c *InMemoryCache) Mark(key string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counters.Get(key) != nil {
		return
	}
	c.counters.Set(key, 1, ttl)
}

func (c *InMemoryCache) CheckAndIncrement(key string, ttl time.Duration, limit int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.counters.Get(key)
	if item == nil {
		c.counters.Set(key, 1, ttl)
		return limit >= 1
	}

	count := item.Value() + 1

	// Keep the window deadline where the first increment put it.
	remaining := time.Until(item.ExpiresAt())
	if remaining <= 0 {
		c.counters.Set(key, 1, ttl)
		return limit >= 1
	}

	c.counters.Set(key, count, remaining)
	return count <= limit
}

func (c *InMemoryCache) Stop() {
	c.counters.Stop()
}
