// Package memo keeps recent aggregation results in process memory.
package memo

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geo-heatmap/internal/aggregate"
)

const defaultSize = 64

// Cache is an LRU of results by grid key. Results are immutable, so sharing
// the pointer between callers is safe. A nil *Cache is a valid, always-empty cache.
type Cache struct {
	lru *lru.Cache[string, *aggregate.Result]
}

func New(size int) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	c, _ := lru.New[string, *aggregate.Result](size)
	return &Cache{lru: c}
}

func (c *Cache) Get(key string) (*aggregate.Result, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

// Add stores res and reports whether an older entry was evicted.
func (c *Cache) Add(key string, res *aggregate.Result) bool {
	if c == nil || res == nil {
		return false
	}
	return c.lru.Add(key, res)
}

func (c *Cache) Remove(key string) {
	if c == nil {
		return
	}
	c.lru.Remove(key)
}

func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
