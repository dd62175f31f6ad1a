package utils

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheItem[V any] struct {
	data      V
	expiresAt time.Time
}

// Cache is a size-bounded LRU whose entries also expire after a TTL.
type Cache[K comparable, V any] struct {
	lru *lru.Cache[K, cacheItem[V]]
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	versions map[K]uint64
}

func NewCache[K comparable, V any](size int, ttl time.Duration) (*Cache[K, V], error) {
	l, err := lru.New[K, cacheItem[V]](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &Cache[K, V]{lru: l, ttl: ttl, now: time.Now, versions: make(map[K]uint64)}, nil
}

func (c *Cache[K, V]) Set(key K, data V) {
	c.lru.Add(key, cacheItem[V]{data: data, expiresAt: c.now().Add(c.ttl)})
}

// Get returns the cached value, treating expired entries as missing.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	item, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(item.expiresAt) {
		c.lru.Remove(key)
		var zero V
		return zero, false
	}
	return item.data, true
}

// Version returns a token for key that changes on every Delete of key.
// Take it before reading the value from the source of truth.
func (c *Cache[K, V]) Version(key K) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[key]
}

// SetIfVersion stores data only if key was not deleted since version was
// taken, so a read that raced an invalidation never repopulates the cache.
func (c *Cache[K, V]) SetIfVersion(key K, data V, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[key] != version {
		return false
	}
	c.Set(key, data)
	return true
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	c.versions[key]++
	c.lru.Remove(key)
	c.mu.Unlock()
}

func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}
