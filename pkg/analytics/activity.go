package analytics

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

const (
	activityBuckets = 42
	activityStep    = 4 * time.Hour
)

// ActivityBucket counts jobs finished in a four-hour slot.
type ActivityBucket struct {
	Time      int64 `json:"time"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
}

// Activity is the 7-day timeline.
type Activity struct {
	Buckets    []ActivityBucket `json:"buckets"`
	StartTime  int64            `json:"startTime"`
	EndTime    int64            `json:"endTime"`
	ComputedAt int64            `json:"computedAt"`
}

// Activity returns the cached 7-day timeline, computing it on a miss.
func (e *Engine) Activity(ctx context.Context) (*Activity, error) {
	if a, ok := e.activity.Get(activityKey); ok {
		return a, nil
	}
	v, err, _ := e.flight.Do(activityKey, func() (any, error) {
		if a, ok := e.activity.Get(activityKey); ok {
			return a, nil
		}
		v, err := e.bounded(ctx, activityKey, func(ctx context.Context) (any, error) {
			return e.computeActivity(ctx)
		})
		if err != nil {
			return nil, err
		}
		a := v.(*Activity)
		e.activity.Set(activityKey, a, e.activityTTL)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Activity), nil
}

// ActivityWindow returns the seven days ending at the midnight after now.
func ActivityWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return end.AddDate(0, 0, -7), end
}

func (e *Engine) computeActivity(ctx context.Context) (*Activity, error) {
	began := time.Now()
	defer telemetry.ObserveEngine(activityKey, began)

	ctx, span := telemetry.StartSpan(ctx, "analytics.activity")
	defer span.End()

	now := e.now()
	start, end := ActivityWindow(now, e.loc)

	a := &Activity{
		Buckets:    make([]ActivityBucket, activityBuckets),
		StartTime:  start.UnixMilli(),
		EndTime:    end.UnixMilli(),
		ComputedAt: now.UnixMilli(),
	}
	for i := range a.Buckets {
		a.Buckets[i].Time = start.Add(time.Duration(i) * activityStep).UnixMilli()
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, q := range e.finishedQueues(ctx) {
		g.Go(func() error {
			for _, st := range []core.JobStatus{core.StatusCompleted, core.StatusFailed} {
				jobs, err := e.scanner.ByTime(ctx, q, st, start, end, ActivityScanCap)
				if err != nil {
					e.logger.Warn("analytics: activity scan failed", "queue", q.Name(), "status", st, "error", err)
					continue
				}
				mu.Lock()
				for _, j := range jobs {
					if j.FinishedAt == nil {
						continue
					}
					idx := int(j.FinishedAt.Sub(start) / activityStep)
					if idx < 0 || idx >= activityBuckets {
						continue
					}
					if st == core.StatusCompleted {
						a.Buckets[idx].Completed++
					} else {
						a.Buckets[idx].Failed++
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}
	return a, nil
}
