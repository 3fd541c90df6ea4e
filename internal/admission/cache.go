package admission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the value for a cache key from the backing store. It must
// honor the context it is given.
type Loader func(ctx context.Context) (interface{}, error)

type cacheEntry struct {
	value      interface{}
	groups     []string
	insertedAt time.Time
}

// Cache is a read-through key/value cache with group-tagged entries. Keys
// of any shape ("projects:all", "project:42") may share a group tag so one
// Invalidate call clears every view derived from the same underlying data,
// reproducing the all-or-nothing evict-on-write policy of the portfolio's
// project listings.
//
// Concurrent misses for the same key run the loader once; every waiter
// shares the result, or the error when the load fails or times out. Failed
// loads are never stored, so the next request retries.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	groups  map[string]map[string]struct{} // group → keys
	epoch   uint64

	flight      singleflight.Group
	loadTimeout time.Duration
	maxAge      time.Duration
	now         func() time.Time
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithLoadTimeout caps how long any single loader run may take. The loader
// runs on a context detached from the caller so one waiter's cancellation
// cannot kill a load others are sharing, so with a zero timeout the load is
// unbounded.
func WithLoadTimeout(d time.Duration) CacheOption {
	return func(c *Cache) { c.loadTimeout = d }
}

// WithMaxAge layers an age bound on top of explicit invalidation: entries
// older than d are treated as misses. Zero disables the bound.
func WithMaxAge(d time.Duration) CacheOption {
	return func(c *Cache) { c.maxAge = d }
}

// WithCacheClock injects the clock used for entry timestamps.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		groups:  make(map[string]map[string]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, if present and fresh.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(key)
}

// GetOrLoad returns the cached value for key, running loader on a miss and
// storing the result tagged with groups. At most one loader runs per key at
// a time; concurrent callers for the same key wait for the in-flight load
// and share its outcome. A caller whose context expires stops waiting and
// gets the context error; the shared load itself keeps running for the
// remaining waiters, bounded by the configured load timeout.
func (c *Cache) GetOrLoad(ctx context.Context, key string, groups []string, loader Loader) (interface{}, error) {
	c.mu.Lock()
	if v, ok := c.lookupLocked(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	ch := c.flight.DoChan(key, func() (interface{}, error) {
		c.mu.Lock()
		if v, ok := c.lookupLocked(key); ok {
			c.mu.Unlock()
			return v, nil
		}
		epoch := c.epoch
		c.mu.Unlock()

		lctx := context.WithoutCancel(ctx)
		if c.loadTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(lctx, c.loadTimeout)
			defer cancel()
		}
		v, err := loader(lctx)
		if err != nil {
			return nil, err
		}
		c.store(key, groups, v, epoch)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate removes every entry tagged with group and reports how many
// were dropped. Loads in flight when Invalidate is called will not
// repopulate the cache with pre-invalidation data.
func (c *Cache) Invalidate(group string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	keys := c.groups[group]
	dropped := len(keys)
	for key := range keys {
		c.removeLocked(key)
	}
	return dropped
}

// Clear drops every entry. Backs the administrative clear-cache operation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.entries = make(map[string]*cacheEntry)
	c.groups = make(map[string]map[string]struct{})
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookupLocked(key string) (interface{}, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.maxAge > 0 && c.now().Sub(e.insertedAt) > c.maxAge {
		c.removeLocked(key)
		return nil, false
	}
	return e.value, true
}

// store records a loaded value unless an invalidation landed after the load
// started, in which case the possibly-stale result is discarded and the
// next reader loads again.
func (c *Cache) store(key string, groups []string, value interface{}, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return
	}
	c.removeLocked(key)
	c.entries[key] = &cacheEntry{
		value:      value,
		groups:     groups,
		insertedAt: c.now(),
	}
	for _, g := range groups {
		keys := c.groups[g]
		if keys == nil {
			keys = make(map[string]struct{})
			c.groups[g] = keys
		}
		keys[key] = struct{}{}
	}
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for _, g := range e.groups {
		delete(c.groups[g], key)
		if len(c.groups[g]) == 0 {
			delete(c.groups, g)
		}
	}
}
