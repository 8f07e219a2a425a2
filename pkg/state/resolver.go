package state

import (
	"context"
	"time"

	"github.com/jdziat/queue-workbench/pkg/cache"
	"github.com/jdziat/queue-workbench/pkg/core"
)

// Resolver determines a job's status with as few backend calls as possible.
type Resolver struct {
	cache *cache.Cache[core.JobStatus]
	ttl   time.Duration
}

// NewResolver creates a resolver. A non-positive ttl uses StateTTL.
func NewResolver(ttl time.Duration, maxEntries int, opts ...cache.Option) *Resolver {
	if ttl <= 0 {
		ttl = StateTTL
	}
	return &Resolver{
		cache: cache.New[core.JobStatus]("job-state", maxEntries, opts...),
		ttl:   ttl,
	}
}

func stateKey(queue, id string) string {
	return queue + "\x00" + id
}

// Resolve returns known when the caller read the job from that bucket.
// Otherwise the cached state is used, and on a miss the backend is asked
// exactly once.
func (r *Resolver) Resolve(ctx context.Context, q core.Queue, job *core.Job, known core.JobStatus) (core.JobStatus, error) {
	if known != "" {
		return known, nil
	}
	key := stateKey(q.Name(), job.ID)
	if s, ok := r.cache.Get(key); ok {
		return s, nil
	}
	s, err := q.State(ctx, job.ID)
	if err != nil {
		return core.StatusUnknown, err
	}
	r.cache.Set(key, s, r.ttl)
	return s, nil
}

// Forget drops the cached state of one job.
func (r *Resolver) Forget(queue, id string) {
	r.cache.Delete(stateKey(queue, id))
}

// ForgetQueue drops every cached state of one queue.
func (r *Resolver) ForgetQueue(queue string) {
	r.cache.Clear(queue + "\x00")
}

// Clear drops all cached states.
func (r *Resolver) Clear() {
	r.cache.Clear("")
}
