// Package runs lists jobs across every registered queue.
//
// Unfiltered, most-recent-first listings take a fast path that reads a small
// slice per queue and infers statuses locally. Anything else takes the
// filtered path, which narrows buckets, uses the time-range scan for finished
// jobs, and applies tag and text predicates before sorting. Neither path
// counts an exact total.
package runs

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
	"github.com/jdziat/queue-workbench/pkg/scan"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

const (
	// FastPathPad widens the per-queue slice on the fast path.
	FastPathPad = 10

	// FilteredPad and FilteredMax bound the per-bucket fetch on the filtered path.
	FilteredPad = 100
	FilteredMax = 1000

	// DefaultLimit is used for a non-positive Query.Limit.
	DefaultLimit = 50
)

// Query selects one page of runs.
type Query struct {
	Limit   int
	Offset  int
	Sort    Sort
	Filters Filters
}

// Aggregator merges job listings from every queue in a registry.
type Aggregator struct {
	reg     *registry.Registry
	scanner *scan.Scanner
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Aggregator.
func New(reg *registry.Registry, scanner *scan.Scanner, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if scanner == nil {
		scanner = scan.New(logger)
	}
	return &Aggregator{reg: reg, scanner: scanner, logger: logger, now: time.Now}
}

// List returns one page of runs. Total is always core.TotalUnknown.
func (a *Aggregator) List(ctx context.Context, q Query) (*core.Page, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Sort.Field == "" {
		q.Sort = DefaultSort
	}

	fast := q.Filters.Empty() && q.Sort.IsTimestampDesc()
	ctx, span := telemetry.StartSpan(ctx, "runs.list",
		attribute.Bool("fast_path", fast),
		attribute.Int("limit", q.Limit),
		attribute.Int("offset", q.Offset))
	defer span.End()

	var candidates []*Candidate
	if fast {
		candidates = a.fastCandidates(ctx, q)
	} else {
		candidates = a.filteredCandidates(ctx, q)
	}
	return a.paginate(candidates, q), nil
}

// collect runs fetch for every queue concurrently and gathers the results.
// A queue that errors is logged and contributes nothing.
func (a *Aggregator) collect(ctx context.Context, fetch func(context.Context, core.Queue) ([]*Candidate, error)) []*Candidate {
	var (
		mu  sync.Mutex
		out []*Candidate
		g   errgroup.Group
	)
	for _, q := range a.reg.Queues() {
		g.Go(func() error {
			cs, err := fetch(ctx, q)
			if err != nil {
				a.logger.Warn("runs: queue fetch failed", "queue", q.Name(), "error", err)
				return nil
			}
			mu.Lock()
			out = append(out, cs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (a *Aggregator) fastCandidates(ctx context.Context, q Query) []*Candidate {
	n := a.reg.Len()
	if n == 0 {
		return nil
	}
	need := q.Offset + q.Limit
	perQueue := (need+FastPathPad+n-1)/n + FastPathPad
	now := a.now()

	return a.collect(ctx, func(ctx context.Context, queue core.Queue) ([]*Candidate, error) {
		jobs, err := queue.Jobs(ctx, core.ListStatuses, 0, perQueue-1, false)
		if err != nil {
			return nil, err
		}
		cs := make([]*Candidate, 0, len(jobs))
		for _, j := range jobs {
			status := j.Status
			if status == "" {
				status = core.InferStatus(j, now)
			}
			cs = append(cs, NewCandidate(j, status))
		}
		return cs, nil
	})
}

func (a *Aggregator) filteredCandidates(ctx context.Context, q Query) []*Candidate {
	statuses := core.ListStatuses
	if q.Filters.Status != "" {
		statuses = []core.JobStatus{q.Filters.Status}
	}
	fetch := q.Offset + q.Limit + FilteredPad
	if fetch > FilteredMax {
		fetch = FilteredMax
	}
	f := q.Filters
	lowerText := strings.ToLower(strings.TrimSpace(f.Text))
	start, end := f.Window(a.now())

	return a.collect(ctx, func(ctx context.Context, queue core.Queue) ([]*Candidate, error) {
		var (
			mu  sync.Mutex
			out []*Candidate
			g   errgroup.Group
		)
		for _, st := range statuses {
			g.Go(func() error {
				jobs, err := a.fetchBucket(ctx, queue, st, f.HasTimeRange(), start, end, fetch)
				if err != nil {
					a.logger.Warn("runs: bucket fetch failed", "queue", queue.Name(), "status", st, "error", err)
					return nil
				}
				var matched []*Candidate
				for _, j := range jobs {
					c := NewCandidate(j, st)
					if c.Match(f.Tags, lowerText) {
						matched = append(matched, c)
					}
				}
				mu.Lock()
				out = append(out, matched...)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		return out, nil
	})
}

// fetchBucket reads one bucket, honouring the time window when set.
func (a *Aggregator) fetchBucket(ctx context.Context, q core.Queue, st core.JobStatus, timed bool, start, end time.Time, fetch int) ([]*core.Job, error) {
	if timed && st.Terminal() {
		return a.scanner.ByTime(ctx, q, st, start, end, fetch)
	}
	jobs, err := q.Jobs(ctx, []core.JobStatus{st}, 0, fetch-1, false)
	if err != nil || !timed {
		return jobs, err
	}
	kept := jobs[:0]
	for _, j := range jobs {
		if !j.CreatedAt.Before(start) && !j.CreatedAt.After(end) {
			kept = append(kept, j)
		}
	}
	return kept, nil
}

func (a *Aggregator) paginate(cs []*Candidate, q Query) *core.Page {
	page := &core.Page{Data: []core.JobInfo{}, Total: core.TotalUnknown}
	end := q.Offset + q.Limit

	if q.Sort.Field == SortTimestamp {
		SortCandidates(cs, q.Sort.Desc)
		page.HasMore = len(cs) > end
		for _, c := range window(cs, q.Offset, end) {
			page.Data = append(page.Data, a.reg.Info(c.Job, c.Status))
		}
	} else {
		infos := make([]core.JobInfo, 0, len(cs))
		for _, c := range cs {
			infos = append(infos, a.reg.Info(c.Job, c.Status))
		}
		SortInfos(infos, q.Sort)
		page.HasMore = len(infos) > end
		page.Data = append(page.Data, window(infos, q.Offset, end)...)
	}
	return page
}

func window[T any](items []T, start, end int) []T {
	if start >= len(items) {
		return nil
	}
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
