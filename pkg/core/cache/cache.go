package cache

import (
	"sync"
	"time"
)

// Item is a cached value and its expiry.
type Item[T any] struct {
	Value      T
	Expiration time.Time
}

// Cache is a generic, thread-safe TTL cache keyed by string.
// Expired items are dropped lazily on access.
type Cache[T any] struct {
	data map[string]Item[T]
	mu   sync.RWMutex
	ttl  time.Duration
	now  func() time.Time
}

// NewCache returns a Cache whose items live for ttl unless set with SetWithTTL.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		data: make(map[string]Item[T]),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get returns the value for key and true if it exists and has not expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	item, ok := c.data[key]
	c.mu.RUnlock()

	if !ok {
		var zero T
		return zero, false
	}
	if c.now().After(item.Expiration) {
		c.mu.Lock()
		if cur, still := c.data[key]; still && cur.Expiration.Equal(item.Expiration) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		var zero T
		return zero, false
	}
	return item.Value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[T]) Set(key string, value T) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with a custom TTL.
func (c *Cache[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = Item[T]{
		Value:      value,
		Expiration: c.now().Add(ttl),
	}
}
