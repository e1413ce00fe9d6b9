package artifact

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of artifacts kept by NewCache.
const DefaultCacheSize = 64

// Cache keeps recently fetched artifacts in memory, keyed by reference.
// Failed fetches are not cached.
type Cache struct {
	src   Source
	cache *lru.Cache[string, []byte]
}

// NewCache wraps src with an LRU of size entries (default DefaultCacheSize).
func NewCache(src Source, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cache{src: src, cache: c}, nil
}

// Fetch implements Source.
func (c *Cache) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if data, ok := c.cache.Get(ref); ok {
		return data, nil
	}
	data, err := c.src.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.cache.Add(ref, data)
	return data, nil
}

// Purge drops every cached artifact.
func (c *Cache) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached artifacts.
func (c *Cache) Len() int {
	return c.cache.Len()
}
