// Package flow lists, inspects and creates parent/child job graphs.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/queue-workbench/pkg/cache"
	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/registry"
	"github.com/jdziat/queue-workbench/pkg/state"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

const (
	// PoolSize bounds concurrent tree fetches.
	PoolSize = 20
	// ScanPerBucket is how many jobs per bucket are considered as roots.
	ScanPerBucket = 200

	DefaultLimit = 50
	DefaultTTL   = 30 * time.Second
)

// scanOrder puts waiting-children first; roots are most often found there.
var scanOrder = []core.JobStatus{
	core.StatusWaitingChildren,
	core.StatusWaiting,
	core.StatusActive,
	core.StatusCompleted,
	core.StatusFailed,
	core.StatusDelayed,
}

// Node is a job in a flow tree.
type Node struct {
	Job       core.JobInfo `json:"job"`
	QueueName string       `json:"queueName"`
	Children  []*Node      `json:"children,omitempty"`
}

// Summary describes one flow in a listing.
type Summary struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	QueueName     string         `json:"queueName"`
	Status        core.JobStatus `json:"status"`
	TotalJobs     int            `json:"totalJobs"`
	CompletedJobs int            `json:"completedJobs"`
	FailedJobs    int            `json:"failedJobs"`
	Timestamp     int64          `json:"timestamp"`
	Duration      *int64         `json:"duration,omitempty"`
}

// Stats counts the jobs of a tree.
type Stats struct {
	Total     int
	Completed int
	Failed    int
}

// Rollup computes stats for t. Every node counts toward Total; a node is
// completed when finished without a failure reason and failed when it has one.
func Rollup(t *core.Tree) Stats {
	s := Stats{Total: 1}
	switch {
	case t.Job.FailureReason != "":
		s.Failed = 1
	case t.Job.FinishedAt != nil:
		s.Completed = 1
	}
	for _, c := range t.Children {
		cs := Rollup(c)
		s.Total += cs.Total
		s.Completed += cs.Completed
		s.Failed += cs.Failed
	}
	return s
}

// Engine serves flow reads and creation.
type Engine struct {
	reg      *registry.Registry
	resolver *state.Resolver
	logger   *slog.Logger
	pool     *ants.Pool
	cache    *cache.Cache[[]Summary]
	ttl      time.Duration

	cacheOpts []cache.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithTTL sets how long listings stay cached.
func WithTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ttl = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCacheOptions passes options to the listing cache.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(e *Engine) {
		e.cacheOpts = append(e.cacheOpts, opts...)
	}
}

// New creates an Engine with its own tree-fetch pool. Close releases it.
func New(reg *registry.Registry, resolver *state.Resolver, opts ...Option) (*Engine, error) {
	e := &Engine{
		reg:      reg,
		resolver: resolver,
		logger:   slog.Default(),
		ttl:      DefaultTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = cache.New[[]Summary]("flows", 64, e.cacheOpts...)
	if e.resolver == nil {
		e.resolver = state.NewResolver(0, 0, e.cacheOpts...)
	}
	pool, err := ants.NewPool(PoolSize, ants.WithPanicHandler(func(p any) {
		e.logger.Error("flow: tree fetch panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("flow: create pool: %w", err)
	}
	e.pool = pool
	return e, nil
}

// Close releases the tree-fetch pool.
func (e *Engine) Close() {
	e.pool.Release()
}

// Invalidate drops cached listings.
func (e *Engine) Invalidate() {
	e.cache.Clear("")
}

// status resolves a tree job's bucket, preferring what the backend returned.
func (e *Engine) status(ctx context.Context, job *core.Job) core.JobStatus {
	q, err := e.reg.Queue(job.Queue)
	if err != nil {
		if job.Status != "" {
			return job.Status
		}
		return core.InferStatus(job, time.Now())
	}
	st, err := e.resolver.Resolve(ctx, q, job, job.Status)
	if err != nil {
		return core.InferStatus(job, time.Now())
	}
	return st
}

// List returns up to limit flows, newest first. A backend without flow
// support yields an empty list.
func (e *Engine) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	fs := e.reg.Flows()
	if fs == nil {
		return []Summary{}, nil
	}
	key := strconv.Itoa(limit)
	if s, ok := e.cache.Get(key); ok {
		return s, nil
	}

	began := time.Now()
	defer telemetry.ObserveEngine("flows", began)
	ctx, span := telemetry.StartSpan(ctx, "flow.list", attribute.Int("limit", limit))
	defer span.End()

	roots := e.roots(ctx)
	out := make([]Summary, 0, limit)
	for start := 0; start < len(roots) && len(out) < limit; start += PoolSize {
		end := min(start+PoolSize, len(roots))
		out = append(out, e.summarize(ctx, fs, roots[start:end])...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].QueueName+"\x00"+out[i].ID < out[j].QueueName+"\x00"+out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	e.cache.Set(key, out, e.ttl)
	return out, nil
}

// roots collects root jobs from every queue, deduplicated, in scan order.
func (e *Engine) roots(ctx context.Context) []*core.Job {
	queues := e.reg.Queues()
	perQueue := make([][]*core.Job, len(queues))
	parents := e.reg.Parents()

	var g errgroup.Group
	for i, q := range queues {
		g.Go(func() error {
			seen := make(map[string]bool)
			for _, st := range scanOrder {
				jobs, err := q.Jobs(ctx, []core.JobStatus{st}, 0, ScanPerBucket-1, false)
				if err != nil {
					e.logger.Debug("flow: bucket read failed", "queue", q.Name(), "status", st, "error", err)
					continue
				}
				for _, j := range jobs {
					if j.ID == "" || seen[j.ID] {
						continue
					}
					seen[j.ID] = true
					if _, hasParent := parents.ParentRef(j); hasParent {
						continue
					}
					if j.Queue == "" {
						j.Queue = q.Name()
					}
					if j.Status == "" {
						j.Status = st
					}
					perQueue[i] = append(perQueue[i], j)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []*core.Job
	for _, js := range perQueue {
		out = append(out, js...)
	}
	return out
}

// summarize fetches the trees of one batch through the pool.
func (e *Engine) summarize(ctx context.Context, fs core.FlowStore, batch []*core.Job) []Summary {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out []Summary
	)
	for _, root := range batch {
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			tree, err := fs.Tree(ctx, root.Queue, root.ID)
			if err != nil {
				e.logger.Debug("flow: tree fetch failed", "queue", root.Queue, "id", root.ID, "error", err)
				return
			}
			if len(tree.Children) == 0 {
				return
			}
			s := e.summary(ctx, tree)
			mu.Lock()
			out = append(out, s)
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			e.logger.Warn("flow: pool rejected tree fetch", "error", err)
		}
	}
	wg.Wait()
	return out
}

func (e *Engine) summary(ctx context.Context, tree *core.Tree) Summary {
	job := tree.Job
	stats := Rollup(tree)
	s := Summary{
		ID:            job.ID,
		Name:          job.Name,
		QueueName:     job.Queue,
		Status:        e.status(ctx, job),
		TotalJobs:     stats.Total,
		CompletedJobs: stats.Completed,
		FailedJobs:    stats.Failed,
		Timestamp:     job.CreatedAt.UnixMilli(),
	}
	if d, ok := job.Duration(); ok {
		ms := d.Milliseconds()
		s.Duration = &ms
	}
	return s
}

// Get returns the flow rooted at queue/id, or nil when it does not exist.
func (e *Engine) Get(ctx context.Context, queue, id string) (*Node, error) {
	fs := e.reg.Flows()
	if fs == nil {
		return nil, nil
	}
	tree, err := fs.Tree(ctx, queue, id)
	if errors.Is(err, core.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e.node(ctx, tree), nil
}

func (e *Engine) node(ctx context.Context, t *core.Tree) *Node {
	n := &Node{
		Job:       e.reg.Info(t.Job, e.status(ctx, t.Job)),
		QueueName: t.Job.Queue,
	}
	for _, c := range t.Children {
		n.Children = append(n.Children, e.node(ctx, c))
	}
	return n
}
