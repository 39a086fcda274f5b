// Package cache provides a time-bounded memoization store with a
// single-flight guarantee: concurrent lookups of the same key share one
// computation instead of issuing duplicate work.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache memoizes computed values under string keys. Entries expire at their
// TTL measured from insertion and are evicted lazily on the next lookup; a
// stale entry is never returned.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group
}

func New[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]entry[V])}
}

// GetOrCompute returns the cached value for key, or runs compute and caches
// its result for ttl. Only one computation per key runs at a time; other
// callers wait for its outcome. Compute failures are returned to every
// waiting caller and never cached.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (V, error)) (V, error) {
	if v, ok := c.lookup(key, time.Now()); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent flight may have stored the value while this caller
		// was waiting for the flight slot.
		if v, ok := c.lookup(key, time.Now()); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.put(key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Len returns the number of stored entries, including not yet evicted
// expired ones.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) lookup(key string, now time.Time) (V, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if found && now.Before(e.expiresAt) {
		return e.value, true
	}
	if found {
		c.evict(key, now)
	}
	var zero V
	return zero, false
}

// evict removes the entry for key if it is still expired under the write
// lock. A fresh value stored by a concurrent flight stays.
func (c *Cache[V]) evict(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, found := c.entries[key]; found && !now.Before(e.expiresAt) {
		delete(c.entries, key)
	}
}

func (c *Cache[V]) put(key string, v V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: v, expiresAt: time.Now().Add(ttl)}
}

// Key derives a fixed-length cache key from its parts. Parts are separated
// by a NUL byte so distinct part lists never collide.
func Key(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
