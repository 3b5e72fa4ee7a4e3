// Package modelcache keeps loaded translation models resident in a bounded
// least-recently-used cache so repeated jobs avoid the load latency.
package modelcache

import (
	"context"
	"io"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// LoadFunc materialises the value for key on a cache miss.
type LoadFunc[T any] func(ctx context.Context, key string) (T, error)

// Cache is a bounded LRU cache with de-duplicated loading. It is safe for
// concurrent use.
type Cache[T any] struct {
	lru    *lru.Cache[string, T]
	load   LoadFunc[T]
	group  singleflight.Group
	logger *slog.Logger
}

// New creates a cache holding at most size values.
func New[T any](size int, load LoadFunc[T], logger *slog.Logger) (*Cache[T], error) {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache[T]{load: load, logger: logger}
	l, err := lru.NewWithEvict[string, T](size, c.evicted)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get returns the cached value for key, loading it on first use.
// Concurrent misses for the same key share a single load. Failed loads
// are not cached.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		c.logger.Info("loading model", "key", key)
		v, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Len returns the number of resident values.
func (c *Cache[T]) Len() int { return c.lru.Len() }

// Keys returns resident keys from oldest to newest.
func (c *Cache[T]) Keys() []string { return c.lru.Keys() }

// Purge evicts everything, closing values that implement io.Closer.
func (c *Cache[T]) Purge() { c.lru.Purge() }

func (c *Cache[T]) evicted(key string, v T) {
	c.logger.Info("evicting model", "key", key)
	if closer, ok := any(v).(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("closing evicted model", "key", key, "error", err)
		}
	}
}
