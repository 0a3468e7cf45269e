// Package cache holds built values keyed by an opaque identity. Each identity
// has a generation counter; invalidating bumps it and the next Get rebuilds.
// Concurrent rebuilds of one identity and generation share a single build.
package cache

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	group   singleflight.Group
}

type entry[V any] struct {
	gen   uint64
	built bool
	// builtGen is the generation value was built for.
	builtGen uint64
	value    V
}

// New returns an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]*entry[V])}
}

func (c *Cache[V]) entry(key string) *entry[V] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[V]{}
		c.entries[key] = e
	}
	return e
}

// Generation returns the current generation of key.
func (c *Cache[V]) Generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry(key).gen
}

// Invalidate bumps the generation of key so the next Get rebuilds.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(key).gen++
}

// Get returns the value for key, calling build when nothing is cached for the
// current generation. A value built while an invalidation happened is
// returned to the callers that asked for it but not kept. build runs detached
// from the cancellation of any single caller; a cancelled caller stops
// waiting and gets ctx.Err().
func (c *Cache[V]) Get(ctx context.Context, key string, build func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	e := c.entry(key)
	gen := e.gen
	if e.built && e.builtGen == gen {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	flightKey := key + "\x00" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		v, err := build(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		if e := c.entry(key); e.gen == gen {
			e.value, e.built, e.builtGen = v, true, gen
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
