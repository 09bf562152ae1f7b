// Package cache is a thin generic facade over an expirable LRU, used to
// memoize analytics responses with write invalidation per sheet.
package cache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a size-bounded TTL cache keyed by string.
type Cache[T any] struct {
	lru *expirable.LRU[string, T]
}

func New[T any](size int, ttl time.Duration) *Cache[T] {
	return &Cache[T]{lru: expirable.NewLRU[string, T](size, nil, ttl)}
}

// Get retrieves a value, reporting whether it was present and fresh.
func (c *Cache[T]) Get(key string) (T, bool) {
	return c.lru.Get(key)
}

// Set stores a value under key with the cache's TTL.
func (c *Cache[T]) Set(key string, value T) {
	c.lru.Add(key, value)
}

// Delete removes one key.
func (c *Cache[T]) Delete(key string) {
	c.lru.Remove(key)
}

// InvalidatePrefix removes every key sharing the given prefix. Analytics
// entries are keyed "<sheetID>/<month>", so a write to a sheet drops all of
// that sheet's cached months at once.
func (c *Cache[T]) InvalidatePrefix(prefix string) {
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// Size returns the current number of cached items.
func (c *Cache[T]) Size() int {
	return c.lru.Len()
}
