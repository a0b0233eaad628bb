// Package cache provides small per-process read-through caches.
// Cached values are never used for coordination; they only save round trips
// for data the core treats as read-only (rule lists, flags).
package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached value together with its expiry.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Loader fetches a fresh value for key.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// TTL is a keyed read-through cache with a fixed time-to-live.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	loader  Loader[K, V]
	entries map[K]Entry[V]
}

// NewTTL creates a cache that reloads entries older than ttl via loader.
func NewTTL[K comparable, V any](ttl time.Duration, loader Loader[K, V]) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:     ttl,
		now:     time.Now,
		loader:  loader,
		entries: make(map[K]Entry[V]),
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *TTL[K, V]) WithClock(now func() time.Time) *TTL[K, V] {
	c.now = now
	return c
}

// GetOrRefresh returns the cached value for key, loading it when missing or expired.
// A failed load leaves any previous entry untouched and returns the error.
func (c *TTL[K, V]) GetOrRefresh(ctx context.Context, key K) (V, error) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Before(entry.ExpiresAt) {
		return entry.Value, nil
	}

	value, err := c.loader(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = Entry[V]{Value: value, ExpiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return value, nil
}
