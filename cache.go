package humy

import (
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is used when Set is called without a TTL.
const DefaultCacheTTL = 5 * time.Minute

// cacheSweepAt is the size at which Set drops expired entries first.
const cacheSweepAt = 256

// Cache stores raw response bodies for a limited time.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

type cacheItem struct {
	data   []byte
	expiry time.Time
}

// MemoryCache is a goroutine-safe TTL cache. Expired entries are dropped on
// access or by Cleanup.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]cacheItem
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemoryCache creates a cache whose entries live for defaultTTL unless
// Set says otherwise.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	return &MemoryCache{
		items:      make(map[string]cacheItem),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().After(item.expiry) {
		delete(c.items, key)
		return nil, false
	}
	return item.data, true
}

func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= cacheSweepAt {
		c.cleanupLocked()
	}
	c.items[key] = cacheItem{data: value, expiry: c.now().Add(ttl)}
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Invalidate removes every key starting with prefix and returns how many
// were removed.
func (c *MemoryCache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Cleanup drops expired entries and returns how many were removed.
func (c *MemoryCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked()
}

func (c *MemoryCache) cleanupLocked() int {
	now := c.now()
	n := 0
	for k, item := range c.items {
		if now.After(item.expiry) {
			delete(c.items, k)
			n++
		}
	}
	return n
}
