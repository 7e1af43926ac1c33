package cache

import (
	"context"
	"errors"
	"time"

	"github.com/coocood/freecache"
)

// DefaultLocalSize is the freecache arena size used when none is configured.
const DefaultLocalSize = 32 << 20

// LocalCache keeps results in process memory without adding GC pressure.
type LocalCache struct {
	cache *freecache.Cache
}

// NewLocalCache allocates an arena of sizeBytes.
func NewLocalCache(sizeBytes int) *LocalCache {
	if sizeBytes <= 0 {
		sizeBytes = DefaultLocalSize
	}
	return &LocalCache{cache: freecache.NewCache(sizeBytes)}
}

// Get returns the cached value or ErrMiss.
func (c *LocalCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.cache.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, ErrMiss
	}
	return value, err
}

// Set stores value; a ttl below one second never expires.
func (c *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.cache.Set([]byte(key), value, int(ttl/time.Second))
}
