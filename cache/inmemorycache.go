package cache

import (
	"context"
	"sync"
	"time"
)

// InMemoryCache is a simple in-process implementation of Cache.
// Thread-safe for concurrent access. Expired entries are dropped lazily
// on read.
type InMemoryCache struct {
	entries map[string]memoryEntry
	config  Config
	mu      sync.RWMutex
}

type memoryEntry struct {
	value    []byte
	cachedAt time.Time
	ttl      time.Duration
}

// NewInMemoryCache creates a new in-memory cache.
func NewInMemoryCache(config Config) *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[string]memoryEntry),
		config:  config,
	}
}

// Get retrieves a cached value. Expired or absent entries are misses.
func (c *InMemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if entry.ttl > 0 && time.Since(entry.cachedAt) > entry.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	// Return a copy to prevent external modifications.
	valueCopy := make([]byte, len(entry.value))
	copy(valueCopy, entry.value)
	return valueCopy, true
}

// Set stores a value. ttl <= 0 falls back to the configured default TTL.
func (c *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.TTL
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	c.mu.Lock()
	c.entries[key] = memoryEntry{value: valueCopy, cachedAt: time.Now(), ttl: ttl}
	c.mu.Unlock()
}

// Delete removes a key. Absent keys are ignored.
func (c *InMemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of live entries (including not-yet-collected
// expired ones). Used by tests and the metrics gauge.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
