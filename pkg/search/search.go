package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/registry"
	"github.com/jdziat/queue-workbench/pkg/runs"
	"github.com/jdziat/queue-workbench/pkg/security"
	"github.com/jdziat/queue-workbench/pkg/state"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

const (
	// SearchFetch is how many jobs are read per queue and status.
	SearchFetch = 100
	// TagValuesFetch is the per-bucket read for tag value suggestions.
	TagValuesFetch = 500

	DefaultLimit          = 20
	DefaultTagValuesLimit = 50
)

// Result is one search hit.
type Result struct {
	Queue string       `json:"queue"`
	Job   core.JobInfo `json:"job"`
}

// Engine runs searches against every queue in a registry.
type Engine struct {
	reg    *registry.Registry
	counts *state.CountCache
	logger *slog.Logger
}

// New creates an Engine. counts lets empty queues be skipped cheaply.
func New(reg *registry.Registry, counts *state.CountCache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if counts == nil {
		counts = state.NewCountCache(0)
	}
	return &Engine{reg: reg, counts: counts, logger: logger}
}

// Search parses query and returns up to limit matches, newest first.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	limit = security.ClampLimit(limit, DefaultLimit)
	q := Parse(query)
	if q.Empty() {
		return []Result{}, nil
	}

	began := time.Now()
	defer telemetry.ObserveEngine("search", began)
	ctx, span := telemetry.StartSpan(ctx, "search.query",
		attribute.Int("filters", len(q.Filters)),
		attribute.Bool("text", q.Text != ""))
	defer span.End()

	lowerText := strings.ToLower(q.Text)
	var matches []*runs.Candidate
	e.scan(ctx, SearchFetch, func(c *runs.Candidate) {
		if c.Match(q.Filters, lowerText) {
			matches = append(matches, c)
		}
	})

	runs.SortCandidates(matches, true)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Result, 0, len(matches))
	for _, c := range matches {
		out = append(out, Result{Queue: c.Job.Queue, Job: e.reg.Info(c.Job, c.Status)})
	}
	return out, nil
}

// scan reads fetch jobs from every bucket of every non-empty queue, queues
// and buckets in parallel. visit is called under a lock.
func (e *Engine) scan(ctx context.Context, fetch int, visit func(*runs.Candidate)) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, q := range e.reg.Queues() {
		g.Go(func() error {
			counts, err := e.counts.Get(ctx, q)
			if err != nil {
				e.logger.Warn("search: counts unavailable", "queue", q.Name(), "error", err)
				return nil
			}
			if counts.Total() == 0 {
				return nil
			}
			var buckets errgroup.Group
			for _, st := range core.ListStatuses {
				buckets.Go(func() error {
					jobs, err := q.Jobs(ctx, []core.JobStatus{st}, 0, fetch-1, false)
					if err != nil {
						e.logger.Warn("search: bucket read failed", "queue", q.Name(), "status", st, "error", err)
						return nil
					}
					mu.Lock()
					defer mu.Unlock()
					for _, j := range jobs {
						if j.Queue == "" {
							j.Queue = q.Name()
						}
						visit(runs.NewCandidate(j, st))
					}
					return nil
				})
			}
			return buckets.Wait()
		})
	}
	_ = g.Wait()
}
