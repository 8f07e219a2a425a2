// Package cache provides a size-bounded key/value cache with absolute
// per-entry expiry.
//
// Each concern in the workbench owns its own typed Cache, so invalidating
// one view can never touch the entries of another.
package cache

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds a cache created with a non-positive size.
const DefaultMaxEntries = 1000

// Observer is notified of every lookup.
type Observer func(cache string, hit bool)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a typed TTL cache with least-recently-used eviction.
//
// Expiry is measured from insertion; reading an entry never extends it.
// Concurrent writers to one key race with last-write-wins.
type Cache[V any] struct {
	name     string
	lru      *lru.Cache[string, entry[V]]
	now      func() time.Time
	observer Observer
}

// Option configures a Cache.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

type options struct {
	now      func() time.Time
	observer Observer
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) {
		o.now = now
	})
}

// WithObserver reports hits and misses, e.g. to prometheus.
func WithObserver(obs Observer) Option {
	return optionFunc(func(o *options) {
		o.observer = obs
	})
}

// New creates a cache holding at most maxEntries values.
func New[V any](name string, maxEntries int, opts ...Option) *Cache[V] {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt.apply(o)
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	// lru.New only fails for a non-positive size.
	l, _ := lru.New[string, entry[V]](maxEntries)
	return &Cache[V]{
		name:     name,
		lru:      l,
		now:      o.now,
		observer: o.observer,
	}
}

// Name returns the cache name given to New.
func (c *Cache[V]) Name() string {
	return c.name
}

// Get returns the value for key if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.lru.Get(key)
	if ok && !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		ok = false
	}
	if c.observer != nil {
		c.observer(c.name, ok)
	}
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		c.lru.Remove(key)
		return
	}
	c.lru.Add(key, entry[V]{value: value, expiresAt: c.now().Add(ttl)})
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.lru.Remove(key)
}

// Clear removes every key starting with prefix. An empty prefix clears all.
func (c *Cache[V]) Clear(prefix string) {
	if prefix == "" {
		c.lru.Purge()
		return
	}
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
}

// Len reports the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
