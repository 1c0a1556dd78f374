// Package deccache keeps a small least-recently-used set of decoder
// instances keyed by stream properties. The cache never destroys a value:
// anything pushed out by Put or RemoveOne is handed back to the caller, who
// owns its teardown.
package deccache

import (
	"log/slog"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Cache is an LRU map from K to V with a fixed capacity of at least one.
// It is not safe for concurrent use.
type Cache[K comparable, V any] struct {
	lru      *simplelru.LRU[K, V]
	capacity int
}

// New creates a cache holding up to capacity values. A capacity below one is
// corrected to one.
func New[K comparable, V any](capacity int, log *slog.Logger) *Cache[K, V] {
	if log == nil {
		log = slog.Default()
	}
	if capacity < 1 {
		log.Warn("decoder cache capacity corrected", "requested", capacity, "capacity", 1)
		capacity = 1
	}
	lru, err := simplelru.NewLRU[K, V](capacity, nil)
	if err != nil {
		// Only returned for non-positive sizes.
		panic(err)
	}
	return &Cache[K, V]{lru: lru, capacity: capacity}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Peek returns the value for key without changing its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.lru.Peek(key)
}

// Put stores value under key as most recently used. Replacing an existing
// key never evicts. Otherwise, when the cache is full, the least recently
// used value is removed and returned with ok set.
func (c *Cache[K, V]) Put(key K, value V) (evicted V, ok bool) {
	if !c.lru.Contains(key) && c.lru.Len() >= c.capacity {
		_, evicted, ok = c.lru.RemoveOldest()
	}
	c.lru.Add(key, value)
	return evicted, ok
}

// RemoveOne removes and returns the least recently used value.
func (c *Cache[K, V]) RemoveOne() (V, bool) {
	_, v, ok := c.lru.RemoveOldest()
	return v, ok
}

// Len returns the number of cached values.
func (c *Cache[K, V]) Len() int { return c.lru.Len() }

// Cap returns the cache capacity.
func (c *Cache[K, V]) Cap() int { return c.capacity }

// Keys returns the cached keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K { return c.lru.Keys() }
