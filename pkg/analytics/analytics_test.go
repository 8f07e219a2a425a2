package analytics

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/registry"
	"github.com/jdziat/queue-workbench/pkg/storage"
)

var now = time.Date(2024, 5, 10, 12, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

// finished builds a job that waited wait, ran for run and ended at end.
func finished(id, name string, status core.JobStatus, end time.Time, run, wait time.Duration) *core.Job {
	processed := end.Add(-run)
	j := &core.Job{
		ID:          id,
		Name:        name,
		Status:      status,
		CreatedAt:   processed.Add(-wait),
		ProcessedAt: &processed,
		FinishedAt:  &end,
	}
	if status == core.StatusFailed {
		j.FailureReason = "boom"
	}
	return j
}

func newEngine(t *testing.T, queues []core.Queue, opts ...Option) *Engine {
	t.Helper()
	reg, err := registry.New(queues)
	require.NoError(t, err)
	base := []Option{WithClock(fixedNow), WithLocation(time.UTC)}
	return NewEngine(reg, nil, append(base, opts...)...)
}

// countingQueue hides the time index and counts bucket reads.
type countingQueue struct {
	core.Queue
	reads atomic.Int32
}

func (c *countingQueue) Jobs(ctx context.Context, statuses []core.JobStatus, start, end int, asc bool) ([]*core.Job, error) {
	c.reads.Add(1)
	return c.Queue.Jobs(ctx, statuses, start, end, asc)
}

// ──────────────────────────────────────────────────────────────────────────────
// Metrics
// ──────────────────────────────────────────────────────────────────────────────

func TestMetrics_AveragesDurationPerBucket(t *testing.T) {
	b := storage.NewMemoryBackend(storage.WithMemoryClock(fixedNow))
	q := b.MemoryQueue("emails")
	at := time.Date(2024, 5, 10, 10, 15, 0, 0, time.UTC)
	q.Put(finished("a", "send", core.StatusCompleted, at, 100*time.Millisecond, 0))
	q.Put(finished("b", "send", core.StatusCompleted, at.Add(5*time.Minute), 300*time.Millisecond, 0))

	m, err := newEngine(t, []core.Queue{q}).Metrics(context.Background())
	require.NoError(t, err)

	require.Len(t, m.Aggregate.Buckets, 24)
	assert.Equal(t, AggregateQueue, m.Aggregate.QueueName)

	// The window starts at 12:00 the previous day, so 10:15 is bucket 22.
	for i, bk := range m.Aggregate.Buckets {
		if i == 22 {
			assert.EqualValues(t, 200, bk.AvgDuration)
			assert.Equal(t, 2, bk.Completed)
			continue
		}
		assert.Zero(t, bk.AvgDuration, "bucket %d", i)
		assert.Zero(t, bk.Completed, "bucket %d", i)
	}
	assert.Equal(t, time.Date(2024, 5, 9, 12, 0, 0, 0, time.UTC).UnixMilli(), m.Aggregate.Buckets[0].Hour)
	assert.Equal(t, now.UnixMilli(), m.ComputedAt)

	require.Len(t, m.Queues, 1)
	assert.EqualValues(t, 200, m.Queues[0].Summary.AvgDuration)
	assert.Equal(t, 2, m.Queues[0].Summary.TotalCompleted)
	assert.EqualValues(t, 0, m.Queues[0].Summary.ThroughputPerHour)
}

func TestMetrics_SummaryAndRankings(t *testing.T) {
	b := storage.NewMemoryBackend(storage.WithMemoryClock(fixedNow))
	emails := b.MemoryQueue("emails")
	reports := b.MemoryQueue("reports")

	end := now.Add(-3 * time.Hour)
	for i := 0; i < 30; i++ {
		emails.Put(finished(
			"ok-"+string(rune('a'+i%26))+string(rune('a'+i/26)), "send", core.StatusCompleted,
			end.Add(time.Duration(i)*time.Second), time.Duration(i+1)*time.Second, time.Second))
	}
	for i := 0; i < 6; i++ {
		emails.Put(finished("fail-send-"+string(rune('a'+i)), "send", core.StatusFailed, end, time.Second, 0))
	}
	for i := 0; i < 3; i++ {
		reports.Put(finished("fail-render-"+string(rune('a'+i)), "render", core.StatusFailed, end, time.Second, 0))
	}
	// Outside the 24h window.
	emails.Put(finished("stale", "send", core.StatusFailed, now.Add(-30*time.Hour), time.Second, 0))

	m, err := newEngine(t, []core.Queue{emails, reports}).Metrics(context.Background())
	require.NoError(t, err)

	agg := m.Aggregate.Summary
	assert.Equal(t, 30, agg.TotalCompleted)
	assert.Equal(t, 9, agg.TotalFailed)
	assert.InDelta(t, 9.0/39.0, agg.ErrorRate, 1e-9)
	assert.EqualValues(t, 2, agg.ThroughputPerHour)
	assert.EqualValues(t, 1000, agg.AvgWaitTime)

	require.Len(t, m.SlowestJobs, 10)
	assert.EqualValues(t, 30_000, m.SlowestJobs[0].Duration)
	for i := 1; i < len(m.SlowestJobs); i++ {
		assert.LessOrEqual(t, m.SlowestJobs[i].Duration, m.SlowestJobs[i-1].Duration)
	}

	require.Len(t, m.MostFailingTypes, 2)
	top := m.MostFailingTypes[0]
	assert.Equal(t, "send", top.Name)
	assert.Equal(t, "emails", top.QueueName)
	assert.Equal(t, 6, top.FailCount)
	assert.Equal(t, 36, top.TotalCount)
	assert.InDelta(t, 6.0/36.0, top.ErrorRate, 1e-9)
	assert.Equal(t, "render", m.MostFailingTypes[1].Name)
	assert.InDelta(t, 1.0, m.MostFailingTypes[1].ErrorRate, 1e-9)
}

func TestMetrics_SkipsQueuesWithNothingFinished(t *testing.T) {
	b := storage.NewMemoryBackend(storage.WithMemoryClock(fixedNow))
	idle := b.MemoryQueue("idle")
	idle.Put(&core.Job{ID: "w", Name: "noop", Status: core.StatusWaiting, CreatedAt: now})
	busy := b.MemoryQueue("busy")
	busy.Put(finished("c", "noop", core.StatusCompleted, now.Add(-time.Hour), time.Second, 0))

	idleQ, busyQ := &countingQueue{Queue: idle}, &countingQueue{Queue: busy}
	m, err := newEngine(t, []core.Queue{idleQ, busyQ}).Metrics(context.Background())
	require.NoError(t, err)

	assert.Zero(t, idleQ.reads.Load())
	assert.NotZero(t, busyQ.reads.Load())
	require.Len(t, m.Queues, 2)
	assert.Equal(t, "busy", m.Queues[0].QueueName)
	assert.Equal(t, "idle", m.Queues[1].QueueName)
	assert.Zero(t, m.Queues[1].Summary.TotalCompleted)
}

func TestMetrics_CachedUntilInvalidated(t *testing.T) {
	b := storage.NewMemoryBackend(storage.WithMemoryClock(fixedNow))
	q := b.MemoryQueue("emails")
	q.Put(finished("a", "send", core.StatusCompleted, now.Add(-time.Hour), time.Second, 0))
	e := newEngine(t, []core.Queue{q})
	ctx := context.Background()

	first, err := e.Metrics(ctx)
	require.NoError(t, err)

	q.Put(finished("b", "send", core.StatusCompleted, now.Add(-time.Hour), time.Second, 0))
	second, err := e.Metrics(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	e.Invalidate()
	// Counts are cached separately, but they already show a finished job.
	third, err := e.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Aggregate.Summary.TotalCompleted)
}

// stuckQueue reports finished jobs but never answers a bucket read until
// its context ends.
type stuckQueue struct {
	core.Queue
	reads atomic.Int32
}

func (s *stuckQueue) Name() string { return "stuck" }

func (s *stuckQueue) Counts(context.Context) (core.Counts, error) {
	return core.Counts{Completed: 1}, nil
}

func (s *stuckQueue) Jobs(ctx context.Context, _ []core.JobStatus, _, _ int, _ bool) ([]*core.Job, error) {
	s.reads.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestMetrics_TimeoutCachesNothing(t *testing.T) {
	sq := &stuckQueue{}
	e := newEngine(t, []core.Queue{sq}, WithTimeout(20*time.Millisecond))
	ctx := context.Background()

	_, err := e.Metrics(ctx)
	require.ErrorIs(t, err, core.ErrComputationTimeout)

	_, err = e.Metrics(ctx)
	require.ErrorIs(t, err, core.ErrComputationTimeout)
	assert.GreaterOrEqual(t, sq.reads.Load(), int32(2), "a failed computation must not be cached")
}

// ──────────────────────────────────────────────────────────────────────────────
// Activity
// ──────────────────────────────────────────────────────────────────────────────

func TestActivityWindow_EndsAtComingMidnight(t *testing.T) {
	start, end := ActivityWindow(now, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC), start)
}

func TestActivity_BucketsFinishedJobs(t *testing.T) {
	b := storage.NewMemoryBackend(storage.WithMemoryClock(fixedNow))
	q := b.MemoryQueue("emails")
	q.Put(finished("c1", "send", core.StatusCompleted, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC), time.Second, 0))
	q.Put(finished("c2", "send", core.StatusCompleted, time.Date(2024, 5, 10, 11, 59, 0, 0, time.UTC), time.Second, 0))
	q.Put(finished("f1", "send", core.StatusFailed, time.Date(2024, 5, 4, 1, 0, 0, 0, time.UTC), time.Second, 0))
	q.Put(finished("old", "send", core.StatusFailed, time.Date(2024, 5, 3, 23, 0, 0, 0, time.UTC), time.Second, 0))

	a, err := newEngine(t, []core.Queue{q}).Activity(context.Background())
	require.NoError(t, err)

	require.Len(t, a.Buckets, 42)
	assert.Equal(t, 1, a.Buckets[0].Failed)
	assert.Equal(t, 2, a.Buckets[38].Completed)

	var completed, failed int
	for _, bk := range a.Buckets {
		completed += bk.Completed
		failed += bk.Failed
	}
	assert.Equal(t, 2, completed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC).UnixMilli(), a.StartTime)
	assert.Equal(t, a.StartTime+4*time.Hour.Milliseconds(), a.Buckets[1].Time)
}
