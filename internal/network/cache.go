package network

import (
	"sync"
	"time"
)

// ResponseCache is a TTL cache for decoded API responses.
type ResponseCache struct {
	data   map[string]cacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	writes int
}

type cacheEntry struct {
	value      []byte
	expiration time.Time
}

// sweepEvery controls how often Set drops expired entries.
const sweepEvery = 64

// NewResponseCache creates a cache; ttl <= 0 disables caching.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		data: make(map[string]cacheEntry),
		ttl:  ttl,
	}
}

// Get returns a cached body if present and not expired
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[key]
	if !exists || time.Now().After(entry.expiration) {
		return nil, false
	}
	return entry.value, true
}

// Set stores a body under key
func (c *ResponseCache) Set(key string, value []byte) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:      value,
		expiration: time.Now().Add(c.ttl),
	}

	c.writes++
	if c.writes%sweepEvery == 0 {
		now := time.Now()
		for k, e := range c.data {
			if now.After(e.expiration) {
				delete(c.data, k)
			}
		}
	}
}

// Len returns the number of stored entries, expired or not
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
