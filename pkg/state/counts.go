// Package state caches per-queue counts and job states so that listing
// views avoid a backend round trip per job.
package state

import (
	"context"
	"time"

	"github.com/jdziat/queue-workbench/pkg/cache"
	"github.com/jdziat/queue-workbench/pkg/core"
)

// Default TTLs.
const (
	CountsTTL = 5 * time.Second
	StateTTL  = 5 * time.Second
)

// CountCache serves per-queue status counts, refreshed lazily.
type CountCache struct {
	cache *cache.Cache[core.Counts]
	ttl   time.Duration
}

// NewCountCache creates a count cache. A non-positive ttl uses CountsTTL.
func NewCountCache(ttl time.Duration, opts ...cache.Option) *CountCache {
	if ttl <= 0 {
		ttl = CountsTTL
	}
	return &CountCache{
		cache: cache.New[core.Counts]("counts", 0, opts...),
		ttl:   ttl,
	}
}

// Get returns cached counts for q, querying the backend on a miss.
func (c *CountCache) Get(ctx context.Context, q core.Queue) (core.Counts, error) {
	if v, ok := c.cache.Get(q.Name()); ok {
		return v, nil
	}
	counts, err := q.Counts(ctx)
	if err != nil {
		return core.Counts{}, err
	}
	c.cache.Set(q.Name(), counts, c.ttl)
	return counts, nil
}

// Invalidate drops one queue's counts.
func (c *CountCache) Invalidate(queue string) {
	c.cache.Delete(queue)
}

// Clear drops every queue's counts.
func (c *CountCache) Clear() {
	c.cache.Clear("")
}
