package workbench

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/runs"
	"github.com/jdziat/queue-workbench/pkg/security"
)

// QueueInfo is one queue with its counts.
type QueueInfo struct {
	Name     string      `json:"name"`
	Counts   core.Counts `json:"counts"`
	IsPaused bool        `json:"isPaused"`
}

// Overview summarizes every registered queue.
type Overview struct {
	TotalJobs      int64       `json:"totalJobs"`
	ActiveJobs     int64       `json:"activeJobs"`
	FailedJobs     int64       `json:"failedJobs"`
	CompletedToday int64       `json:"completedToday"`
	AvgDuration    int64       `json:"avgDuration"`
	Queues         []QueueInfo `json:"queues"`
}

// JobsQuery selects one page of a single queue.
type JobsQuery struct {
	Queue string
	// Status narrows the listing to one bucket. Empty lists every bucket.
	Status core.JobStatus
	Limit  int
	// Cursor is the opaque offset returned by the previous page.
	Cursor string
	Sort   runs.Sort
}

// DefaultJobsLimit is used for a non-positive JobsQuery.Limit.
const DefaultJobsLimit = 50

const overviewKey = "overview"

// Overview returns totals across every queue, cached for a few seconds.
func (w *Workbench) Overview(ctx context.Context) (*Overview, error) {
	if v, ok := w.overview.Get(overviewKey); ok {
		return v, nil
	}

	queues, err := w.Queues(ctx)
	if err != nil {
		return nil, err
	}
	ov := &Overview{Queues: queues}
	for _, q := range queues {
		ov.TotalJobs += q.Counts.Waiting + q.Counts.Active + q.Counts.Delayed
		ov.ActiveJobs += q.Counts.Active
		ov.FailedJobs += q.Counts.Failed
	}
	ov.CompletedToday = w.completedSince(ctx, queues, w.midnight())

	w.overview.Set(overviewKey, ov, w.cfg.overviewTTL)
	return ov, nil
}

// midnight returns the start of the current day in the configured zone.
func (w *Workbench) midnight() time.Time {
	now := w.now().In(w.cfg.loc)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, w.cfg.loc)
}

// completedSince counts completed jobs finished after start. Each queue is
// scanned for at most security.MaxPageSize jobs.
func (w *Workbench) completedSince(ctx context.Context, queues []QueueInfo, start time.Time) int64 {
	var (
		mu    sync.Mutex
		total int64
		g     errgroup.Group
	)
	end := w.now()
	for _, info := range queues {
		if info.Counts.Completed == 0 {
			continue
		}
		q, err := w.reg.Queue(info.Name)
		if err != nil {
			continue
		}
		limit := int(min(info.Counts.Completed, int64(security.MaxPageSize)))
		g.Go(func() error {
			jobs, err := w.scanner.ByTime(ctx, q, core.StatusCompleted, start, end, limit)
			if err != nil {
				w.logger.Warn("completed scan failed", "queue", info.Name, "error", err)
				return nil
			}
			mu.Lock()
			total += int64(len(jobs))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return total
}

// Counts sums the counts of every queue.
func (w *Workbench) Counts(ctx context.Context) (core.Counts, error) {
	queues, err := w.Queues(ctx)
	if err != nil {
		return core.Counts{}, err
	}
	var total core.Counts
	for _, q := range queues {
		total = total.Add(q.Counts)
	}
	return total, nil
}

// Queues returns every registered queue with counts and paused state, in
// name order. A queue whose backend call fails is logged and reported empty.
func (w *Workbench) Queues(ctx context.Context) ([]QueueInfo, error) {
	queues := w.reg.Queues()
	out := make([]QueueInfo, len(queues))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queues {
		out[i].Name = q.Name()
		g.Go(func() error {
			counts, err := w.counts.Get(gctx, q)
			if err != nil {
				w.logger.Warn("queue counts failed", "queue", q.Name(), "error", err)
			}
			paused, err := q.IsPaused(gctx)
			if err != nil {
				w.logger.Warn("queue paused lookup failed", "queue", q.Name(), "error", err)
			}
			out[i].Counts = counts
			out[i].IsPaused = paused
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, ctx.Err()
}

// QueueNames returns the registered queue names in order.
func (w *Workbench) QueueNames() []string {
	return w.reg.Names()
}

// Jobs returns one page of a single queue. Total is exact, taken from the
// queue's counts.
func (w *Workbench) Jobs(ctx context.Context, jq JobsQuery) (*core.Page, error) {
	q, err := w.reg.Queue(jq.Queue)
	if err != nil {
		return nil, err
	}

	statuses := []core.JobStatus{core.StatusWaiting, core.StatusActive, core.StatusCompleted, core.StatusFailed, core.StatusDelayed}
	if jq.Status != "" {
		if !jq.Status.Valid() {
			return nil, core.ErrInvalidStatus
		}
		statuses = []core.JobStatus{jq.Status}
	}

	limit := security.ClampLimit(jq.Limit, DefaultJobsLimit)
	start, err := parseCursor(jq.Cursor)
	if err != nil {
		return nil, err
	}

	// A page over several buckets is cut from the merged, sorted prefix of
	// every bucket, so positions stay stable from one page to the next.
	from, to := start, start+limit-1
	if len(statuses) > 1 {
		from = 0
	}
	jobs, err := q.Jobs(ctx, statuses, from, to, false)
	if err != nil {
		return nil, err
	}
	counts, err := w.counts.Get(ctx, q)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, st := range statuses {
		total += counts.Of(st)
	}

	infos := make([]core.JobInfo, 0, len(jobs))
	for _, j := range jobs {
		infos = append(infos, w.reg.Info(j, j.Status))
	}
	sortBy := jq.Sort
	if sortBy.Field == "" {
		sortBy = runs.DefaultSort
	}
	runs.SortInfos(infos, sortBy)
	if len(statuses) > 1 {
		if start >= len(infos) {
			infos = infos[:0]
		} else {
			infos = infos[start:]
		}
	}
	if len(infos) > limit {
		infos = infos[:limit]
	}

	page := &core.Page{Data: infos, Total: total}
	if int64(start+limit) < total {
		page.HasMore = true
		page.Cursor = strconv.Itoa(start + limit)
	}
	return page, nil
}

func parseCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, core.InvalidInputf("cursor %q", cursor)
	}
	return n, nil
}

// Job returns one job with its resolved status.
func (w *Workbench) Job(ctx context.Context, queue, id string) (*core.JobInfo, error) {
	q, err := w.reg.Queue(queue)
	if err != nil {
		return nil, err
	}
	job, err := q.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	status, err := w.resolver.Resolve(ctx, q, job, job.Status)
	if err != nil {
		return nil, err
	}
	info := w.reg.Info(job, status)
	return &info, nil
}
