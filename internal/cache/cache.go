package cache

import (
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the default maximum number of items in cache
	DefaultMaxSize = 10000
	// DefaultCleanupInterval is how often to run cleanup of expired items
	DefaultCleanupInterval = time.Minute
)

// Item is a cached value with its expiration time
type Item[V any] struct {
	Value     V
	ExpiresAt time.Time
}

func (i *Item[V]) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// Cache is an in-memory map with a size limit and per-item expiry.
// When full, the item closest to expiry is evicted first.
type Cache[K comparable, V any] struct {
	mu              sync.RWMutex
	items           map[K]*Item[V]
	maxSize         int
	defaultExpiry   time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupStarted  bool
}

func NewWithConfig[K comparable, V any](maxSize int, defaultExpiry, cleanupInterval time.Duration) *Cache[K, V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	c := &Cache[K, V]{
		items:           make(map[K]*Item[V]),
		maxSize:         maxSize,
		defaultExpiry:   defaultExpiry,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	c.startCleanup()

	return c
}

// Set stores an item with the default expiry
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithExpiry(key, value, c.defaultExpiry)
}

func (c *Cache[K, V]) SetWithExpiry(key K, value V, expiry time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictOldest()
	}

	c.items[key] = &Item[V]{
		Value:     value,
		ExpiresAt: time.Now().Add(expiry),
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, exists := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !exists {
		return zero, false
	}

	if item.IsExpired() {
		c.mu.Lock()
		// Re-check, the key may have been refreshed in between
		if cur, ok := c.items[key]; ok && cur.IsExpired() {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}

	return item.Value, true
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Keys returns all non-expired keys
func (c *Cache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var keys []K
	now := time.Now()

	for key, item := range c.items {
		if now.Before(item.ExpiresAt) {
			keys = append(keys, key)
		}
	}

	return keys
}

// Stats counts stored items; expired ones stay until cleanup runs
type Stats struct {
	Size          int           `json:"size"`
	MaxSize       int           `json:"max_size"`
	DefaultExpiry time.Duration `json:"default_expiry"`
	ExpiredItems  int           `json:"expired_items"`
}

func (c *Cache[K, V]) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expiredCount := 0
	now := time.Now()

	for _, item := range c.items {
		if now.After(item.ExpiresAt) {
			expiredCount++
		}
	}

	return Stats{
		Size:          len(c.items),
		MaxSize:       c.maxSize,
		DefaultExpiry: c.defaultExpiry,
		ExpiredItems:  expiredCount,
	}
}

// Close stops the cleanup goroutine
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cleanupStarted {
		close(c.stopCleanup)
		c.cleanupStarted = false
	}
}

func (c *Cache[K, V]) startCleanup() {
	if c.cleanupStarted {
		return
	}
	c.cleanupStarted = true

	go func() {
		ticker := time.NewTicker(c.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.cleanupExpired()
			case <-c.stopCleanup:
				return
			}
		}
	}()
}

func (c *Cache[K, V]) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, item := range c.items {
		if now.After(item.ExpiresAt) {
			delete(c.items, key)
		}
	}
}

// evictOldest must be called with the write lock held
func (c *Cache[K, V]) evictOldest() {
	var (
		oldestKey K
		oldestAt  time.Time
		found     bool
	)
	for key, item := range c.items {
		if !found || item.ExpiresAt.Before(oldestAt) {
			oldestKey, oldestAt, found = key, item.ExpiresAt, true
		}
	}
	if found {
		delete(c.items, oldestKey)
	}
}
