// Package workbench is an operator console over background job queues.
//
// It reads queue state through a core.Backend binding and serves the views
// an operator needs: overviews, cross-queue run listings, schedulers,
// metrics, activity, search, flows and bulk mutations. Derived views are
// cached with short TTLs and invalidated by the mutations that affect them.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	backend := workbench.NewMemoryBackend()
//	wb, err := workbench.New(ctx, backend, workbench.WithQueues("emails", "reports"))
//	if err != nil {
//	    return err
//	}
//	defer wb.Close()
//
//	overview, _ := wb.Overview(ctx)
//	page, _ := wb.Runs(ctx, workbench.RunsQuery{Limit: 20})
//
// Serve it over HTTP with the ui package.
package workbench

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/queue-workbench/pkg/analytics"
	"github.com/jdziat/queue-workbench/pkg/bulk"
	"github.com/jdziat/queue-workbench/pkg/cache"
	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/flow"
	"github.com/jdziat/queue-workbench/pkg/registry"
	"github.com/jdziat/queue-workbench/pkg/runs"
	"github.com/jdziat/queue-workbench/pkg/scan"
	"github.com/jdziat/queue-workbench/pkg/schedule"
	"github.com/jdziat/queue-workbench/pkg/search"
	"github.com/jdziat/queue-workbench/pkg/security"
	"github.com/jdziat/queue-workbench/pkg/state"
	"github.com/jdziat/queue-workbench/pkg/storage"
)

// Type aliases
type (
	// Job is a backend job record.
	Job = core.Job

	// JobInfo is the outward projection of a job.
	JobInfo = core.JobInfo

	// JobStatus is the bucket a job sits in.
	JobStatus = core.JobStatus

	// JobRef identifies a job across queues.
	JobRef = core.JobRef

	// JobOptions are enqueue options.
	JobOptions = core.JobOptions

	// Counts holds per-status job counts.
	Counts = core.Counts

	// Page is one slice of a paginated listing.
	Page = core.Page

	// FlowSpec describes a parent job and its children.
	FlowSpec = core.FlowSpec

	// Backend is a queue backend binding.
	Backend = core.Backend

	// Event is the interface for all operator mutation events.
	Event = core.Event

	// RunsQuery selects one page of cross-queue runs.
	RunsQuery = runs.Query

	// RunFilters narrows a runs listing.
	RunFilters = runs.Filters

	// TagFilter is one tag predicate.
	TagFilter = runs.TagFilter

	// Schedulers lists repeatable and delayed jobs.
	Schedulers = schedule.Schedulers

	// Metrics is the 24-hour metrics view.
	Metrics = analytics.Metrics

	// Activity is the 7-day activity view.
	Activity = analytics.Activity

	// SearchResult is one search hit.
	SearchResult = search.Result

	// TagValue is a distinct tag value with its frequency.
	TagValue = search.TagValue

	// FlowSummary is one row of the flows listing.
	FlowSummary = flow.Summary

	// FlowNode is one node of a flow tree.
	FlowNode = flow.Node

	// BulkResult reports a bulk mutation outcome.
	BulkResult = bulk.Result

	// MemoryBackend is the in-process backend.
	MemoryBackend = storage.MemoryBackend

	// GormBackend is the SQL backend.
	GormBackend = storage.GormBackend

	// RedisBackend is the Redis backend.
	RedisBackend = storage.RedisBackend
)

// Status constants
const (
	StatusWaiting         = core.StatusWaiting
	StatusActive          = core.StatusActive
	StatusCompleted       = core.StatusCompleted
	StatusFailed          = core.StatusFailed
	StatusDelayed         = core.StatusDelayed
	StatusPaused          = core.StatusPaused
	StatusWaitingChildren = core.StatusWaitingChildren
)

// Limits
const (
	MaxBulkSize    = security.MaxBulkSize
	MaxPageSize    = security.MaxPageSize
	MaxJobDataSize = security.MaxJobDataSize

	// CleanLimit caps the jobs removed by one Clean call.
	CleanLimit = 1000
)

// Error variables
var (
	ErrQueueNotFound      = core.ErrQueueNotFound
	ErrJobNotFound        = core.ErrJobNotFound
	ErrInvalidInput       = core.ErrInvalidInput
	ErrReadOnly           = core.ErrReadOnly
	ErrComputationTimeout = core.ErrComputationTimeout
	ErrBackendUnavailable = core.ErrBackendUnavailable
	ErrInvalidTransition  = core.ErrInvalidTransition
)

// Workbench serves operator views and mutations over a registry of queues.
type Workbench struct {
	cfg     *config
	reg     *registry.Registry
	backend core.Backend
	logger  *slog.Logger

	counts     *state.CountCache
	resolver   *state.Resolver
	scanner    *scan.Scanner
	runs       *runs.Aggregator
	analytics  *analytics.Engine
	search     *search.Engine
	flows      *flow.Engine
	bulk       *bulk.Executor
	schedulers *schedule.Lister
	overview   *cache.Cache[*Overview]

	mu        sync.RWMutex
	eventSubs []chan Event
}

// New opens the configured queues on backend and wires every engine.
// Without WithQueues, the backend's queues are discovered.
func New(ctx context.Context, backend core.Backend, opts ...Option) (*Workbench, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(cfg)
	}

	reg, err := registry.Open(ctx, backend, cfg.queues, registry.WithTagFields(cfg.tagFields...))
	if err != nil {
		return nil, fmt.Errorf("workbench: %w", err)
	}

	cacheOpts := cfg.cacheOptions()
	w := &Workbench{
		cfg:      cfg,
		reg:      reg,
		backend:  backend,
		logger:   cfg.logger,
		counts:   state.NewCountCache(cfg.countTTL, cacheOpts...),
		resolver: state.NewResolver(cfg.stateTTL, cfg.maxEntries, cacheOpts...),
		scanner:  scan.New(cfg.logger),
		overview: cache.New[*Overview]("overview", 1, cacheOpts...),
	}
	w.runs = runs.New(reg, w.scanner, cfg.logger)
	w.search = search.New(reg, w.counts, cfg.logger)
	w.schedulers = schedule.NewLister(reg, cfg.logger)
	w.analytics = analytics.NewEngine(reg, w.counts,
		analytics.WithTimeout(cfg.metricsTimeout),
		analytics.WithTTL(cfg.metricsTTL, cfg.activityTTL),
		analytics.WithClock(cfg.now),
		analytics.WithLocation(cfg.loc),
		analytics.WithLogger(cfg.logger),
		analytics.WithScanner(w.scanner),
		analytics.WithCacheOptions(cacheOpts...),
	)
	w.flows, err = flow.New(reg, w.resolver,
		flow.WithTTL(cfg.flowTTL),
		flow.WithLogger(cfg.logger),
		flow.WithCacheOptions(cacheOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("workbench: %w", err)
	}

	w.bulk = bulk.New(reg, w.counts, w.resolver, cfg.logger)
	w.bulk.OnInvalidate(w.analytics.InvalidateMetrics)
	w.bulk.OnInvalidate(w.invalidateOverview)
	w.bulk.OnInvalidate(w.analytics.InvalidateActivity)
	w.bulk.OnInvalidate(w.flows.Invalidate)
	w.bulk.OnApplied(w.emit)

	for _, fn := range cfg.hooks {
		w.subscribe(fn)
	}

	w.logger.Info("workbench ready", "queues", reg.Len(), "readonly", cfg.readOnly)
	return w, nil
}

// Close stops event delivery, releases the flow pool and closes the backend.
func (w *Workbench) Close() error {
	w.closeEvents()
	w.flows.Close()
	return w.backend.Close()
}

// ReadOnly reports whether mutations are rejected.
func (w *Workbench) ReadOnly() bool {
	return w.cfg.readOnly
}

// TagFields returns the configured tag fields.
func (w *Workbench) TagFields() []string {
	return w.reg.TagFields()
}

// IsTagField reports whether field may be queried for tag values.
// With no fields configured, every field is allowed.
func (w *Workbench) IsTagField(field string) bool {
	if len(w.reg.TagFields()) == 0 {
		return true
	}
	return w.reg.IsTagField(field)
}

// Registry returns the underlying queue registry.
func (w *Workbench) Registry() *registry.Registry {
	return w.reg
}

// Refresh drops every cached view.
func (w *Workbench) Refresh() {
	w.counts.Clear()
	w.resolver.Clear()
	w.invalidateOverview()
	w.analytics.Invalidate()
	w.flows.Invalidate()
	w.logger.Debug("caches cleared")
}

func (w *Workbench) invalidateOverview() {
	w.overview.Clear("")
}

// afterMutation drops the views a single-queue mutation can change.
func (w *Workbench) afterMutation(queue string) {
	w.counts.Invalidate(queue)
	w.resolver.ForgetQueue(queue)
	w.invalidateOverview()
	w.analytics.InvalidateMetrics()
	w.analytics.InvalidateActivity()
	w.flows.Invalidate()
}

func (w *Workbench) now() time.Time {
	return w.cfg.now()
}

// NewMemoryBackend creates an in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return storage.NewMemoryBackend()
}

// ParseRunsSort parses "field:dir" for Runs.
func ParseRunsSort(s string) runs.Sort {
	return runs.ParseSort(s)
}

// ParseSchedulerSort parses "field:dir" for Schedulers.
func ParseSchedulerSort(s, defField string) schedule.Sort {
	return schedule.ParseSort(s, defField)
}
