package clients

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheHooks observe cache traffic; nil hooks are skipped.
type CacheHooks struct {
	OnHit  func()
	OnMiss func()
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ttlCache holds successful loads for a TTL and coalesces concurrent loads of
// the same key. Failed loads are never stored.
type ttlCache[V any] struct {
	mu         sync.RWMutex
	items      map[string]cacheEntry[V]
	order      []string
	ttl        time.Duration
	maxEntries int
	hooks      CacheHooks
	sf         singleflight.Group
	now        func() time.Time
}

func newTTLCache[V any](ttl time.Duration, maxEntries int, hooks CacheHooks) *ttlCache[V] {
	return &ttlCache[V]{
		items:      make(map[string]cacheEntry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		hooks:      hooks,
		now:        time.Now,
	}
}

func (c *ttlCache[V]) Get(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		e, ok := c.items[key]
		c.mu.RUnlock()
		if ok && c.now().Before(e.expiresAt) {
			if c.hooks.OnHit != nil {
				c.hooks.OnHit()
			}
			return e.value, nil
		}
	}
	if c.hooks.OnMiss != nil {
		c.hooks.OnMiss()
	}

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		val, err := load(ctx)
		if err == nil && c.ttl > 0 {
			c.store(key, val)
		}
		return val, err
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (c *ttlCache[V]) store(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = cacheEntry[V]{value: v, expiresAt: c.now().Add(c.ttl)}

	// FIFO eviction.
	for c.maxEntries > 0 && len(c.items) > c.maxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}

func (c *ttlCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *ttlCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
