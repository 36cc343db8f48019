package server

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ttlCache memoizes one value for a fixed TTL. Concurrent misses collapse
// into a single fill via singleflight so a slow upstream probe is paid once.
type ttlCache[T any] struct {
	ttl   time.Duration
	group singleflight.Group

	mu       sync.Mutex
	value    T
	fetched  time.Time
	hasValue bool
}

func newTTLCache[T any](ttl time.Duration) *ttlCache[T] {
	return &ttlCache[T]{ttl: ttl}
}

// Get returns the cached value, filling it when stale. Fill errors are not
// cached.
func (c *ttlCache[T]) Get(fill func() (T, error)) (T, error) {
	c.mu.Lock()
	if c.hasValue && time.Since(c.fetched) < c.ttl {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("fill", func() (any, error) {
		// Re-check: a concurrent caller may have filled while we queued.
		c.mu.Lock()
		if c.hasValue && time.Since(c.fetched) < c.ttl {
			v := c.value
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		fresh, err := fill()
		if err != nil {
			return fresh, err
		}
		c.mu.Lock()
		c.value = fresh
		c.fetched = time.Now()
		c.hasValue = true
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate drops the cached value.
func (c *ttlCache[T]) Invalidate() {
	c.mu.Lock()
	c.hasValue = false
	c.mu.Unlock()
}
