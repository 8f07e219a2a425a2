package workbench_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workbench "github.com/jdziat/queue-workbench"
	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/storage"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

// fixture is a memory backend and a workbench sharing one fixed clock.
type fixture struct {
	backend *storage.MemoryBackend
	wb      *workbench.Workbench
	now     time.Time
}

func newFixture(t *testing.T, queues []string, opts ...workbench.Option) *fixture {
	t.Helper()
	f := &fixture{now: base}
	clock := func() time.Time { return f.now }
	f.backend = storage.NewMemoryBackend(storage.WithMemoryClock(clock))
	for _, q := range queues {
		f.backend.MemoryQueue(q)
	}
	defaults := []workbench.Option{
		workbench.WithClock(clock),
		workbench.WithLocation(time.UTC),
		workbench.WithCacheObserver(nil),
	}
	wb, err := workbench.New(context.Background(), f.backend, append(defaults, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })
	f.wb = wb
	return f
}

func (f *fixture) put(queue string, job core.Job) string {
	f.backend.MemoryQueue(queue).Put(&job)
	return job.ID
}

// ──────────────────────────────────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────────────────────────────────

func TestNew_DiscoversQueues(t *testing.T) {
	f := newFixture(t, []string{"reports", "emails"})
	assert.Equal(t, []string{"emails", "reports"}, f.wb.QueueNames())
}

func TestNew_ExplicitQueues(t *testing.T) {
	f := newFixture(t, nil, workbench.WithQueues("billing"))
	assert.Equal(t, []string{"billing"}, f.wb.QueueNames())
}

func TestNew_RejectsInvalidQueueName(t *testing.T) {
	_, err := workbench.New(context.Background(), storage.NewMemoryBackend(), workbench.WithQueues("bad name"))
	assert.ErrorIs(t, err, workbench.ErrInvalidInput)
}

// ──────────────────────────────────────────────────────────────────────────────
// Overview and counts
// ──────────────────────────────────────────────────────────────────────────────

func seedOverview(f *fixture) {
	f.put("emails", core.Job{ID: "w1", Name: "send", Status: core.StatusWaiting, CreatedAt: base.Add(-time.Minute)})
	f.put("emails", core.Job{ID: "w2", Name: "send", Status: core.StatusWaiting, CreatedAt: base.Add(-2 * time.Minute)})
	f.put("emails", core.Job{ID: "a1", Name: "send", Status: core.StatusActive, CreatedAt: base.Add(-3 * time.Minute), ProcessedAt: ptr(base.Add(-time.Minute))})
	f.put("emails", core.Job{ID: "d1", Name: "send", Status: core.StatusDelayed, CreatedAt: base, Delay: time.Hour})
	f.put("reports", core.Job{ID: "f1", Name: "build", Status: core.StatusFailed, FailureReason: "boom", FinishedAt: ptr(base.Add(-time.Hour))})
	f.put("reports", core.Job{ID: "c1", Name: "build", Status: core.StatusCompleted, FinishedAt: ptr(base.Add(-time.Hour))})
	f.put("reports", core.Job{ID: "c2", Name: "build", Status: core.StatusCompleted, FinishedAt: ptr(base.Add(-11 * time.Hour))})
	f.put("reports", core.Job{ID: "c3", Name: "build", Status: core.StatusCompleted, FinishedAt: ptr(base.Add(-13 * time.Hour))})
}

func TestOverview_Totals(t *testing.T) {
	f := newFixture(t, []string{"emails", "reports"})
	seedOverview(f)

	ov, err := f.wb.Overview(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, ov.TotalJobs)
	assert.EqualValues(t, 1, ov.ActiveJobs)
	assert.EqualValues(t, 1, ov.FailedJobs)
	assert.EqualValues(t, 2, ov.CompletedToday, "c3 finished yesterday")
	require.Len(t, ov.Queues, 2)
	assert.Equal(t, "emails", ov.Queues[0].Name)
	assert.EqualValues(t, 2, ov.Queues[0].Counts.Waiting)
	assert.EqualValues(t, 3, ov.Queues[1].Counts.Completed)
}

func TestOverview_CachedUntilRefresh(t *testing.T) {
	f := newFixture(t, []string{"emails"})
	ctx := context.Background()

	ov, err := f.wb.Overview(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ov.TotalJobs)

	f.put("emails", core.Job{Name: "send", Status: core.StatusWaiting})
	ov, err = f.wb.Overview(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ov.TotalJobs, "served from cache")

	f.wb.Refresh()
	ov, err = f.wb.Overview(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ov.TotalJobs)
}

func TestOverview_ExpiresAfterTTL(t *testing.T) {
	f := newFixture(t, []string{"emails"}, workbench.WithCountTTL(time.Second))
	ctx := context.Background()

	_, err := f.wb.Overview(ctx)
	require.NoError(t, err)
	f.put("emails", core.Job{Name: "send", Status: core.StatusWaiting})

	f.now = f.now.Add(workbench.DefaultOverviewTTL + time.Second)
	ov, err := f.wb.Overview(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ov.TotalJobs)
}

func TestCounts_SumsQueues(t *testing.T) {
	f := newFixture(t, []string{"emails", "reports"})
	seedOverview(f)

	c, err := f.wb.Counts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.Waiting)
	assert.EqualValues(t, 3, c.Completed)
	assert.EqualValues(t, 8, c.Total())
}

// ──────────────────────────────────────────────────────────────────────────────
// Per-queue listing
// ──────────────────────────────────────────────────────────────────────────────

func TestJobs_PaginatesWithExactTotal(t *testing.T) {
	f := newFixture(t, []string{"emails"})
	for i := 0; i < 5; i++ {
		f.put("emails", core.Job{ID: fmt.Sprintf("j%d", i), Name: "send", Status: core.StatusWaiting, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	ctx := context.Background()

	page, err := f.wb.Jobs(ctx, workbench.JobsQuery{Queue: "emails", Status: core.StatusWaiting, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2", page.Cursor)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "j4", page.Data[0].ID)
	assert.Equal(t, "j3", page.Data[1].ID)

	page, err = f.wb.Jobs(ctx, workbench.JobsQuery{Queue: "emails", Status: core.StatusWaiting, Limit: 2, Cursor: "4"})
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.Cursor)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "j0", page.Data[0].ID)
}

func TestJobs_AllBucketsWhenStatusEmpty(t *testing.T) {
	f := newFixture(t, []string{"emails", "reports"})
	seedOverview(f)

	page, err := f.wb.Jobs(context.Background(), workbench.JobsQuery{Queue: "reports"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.Total)
	assert.Len(t, page.Data, 4)
	assert.False(t, page.HasMore)
}

func TestJobs_AllBucketsPagesCoverEveryJob(t *testing.T) {
	f := newFixture(t, []string{"emails"})
	for i := 0; i < 6; i++ {
		created := base.Add(time.Duration(i) * time.Minute)
		job := core.Job{ID: fmt.Sprintf("j%d", i), Name: "send", Status: core.StatusWaiting, CreatedAt: created}
		if i%2 == 1 {
			job.Status = core.StatusCompleted
			job.ProcessedAt = ptr(created.Add(time.Second))
			job.FinishedAt = ptr(created.Add(10 * time.Second))
		}
		f.put("emails", job)
	}
	ctx := context.Background()

	var ids []string
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		page, err := f.wb.Jobs(ctx, workbench.JobsQuery{Queue: "emails", Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		assert.EqualValues(t, 6, page.Total)
		for _, info := range page.Data {
			ids = append(ids, info.ID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}
	assert.Equal(t, []string{"j5", "j4", "j3", "j2", "j1", "j0"}, ids)
}

func TestJobs_Errors(t *testing.T) {
	f := newFixture(t, []string{"emails"})
	ctx := context.Background()

	_, err := f.wb.Jobs(ctx, workbench.JobsQuery{Queue: "missing"})
	assert.ErrorIs(t, err, workbench.ErrQueueNotFound)

	_, err = f.wb.Jobs(ctx, workbench.JobsQuery{Queue: "emails", Status: "sleeping"})
	assert.ErrorIs(t, err, workbench.ErrInvalidInput)

	_, err = f.wb.Jobs(ctx, workbench.JobsQuery{Queue: "emails", Cursor: "-3"})
	assert.ErrorIs(t, err, workbench.ErrInvalidInput)
}

func TestJob_FoundAndMissing(t *testing.T) {
	f := newFixture(t, []string{"emails", "reports"})
	seedOverview(f)
	ctx := context.Background()

	info, err := f.wb.Job(ctx, "reports", "f1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, info.Status)
	assert.Equal(t, "boom", info.FailedReason)

	_, err = f.wb.Job(ctx, "reports", "nope")
	assert.ErrorIs(t, err, workbench.ErrJobNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// Runs, tags and search
// ──────────────────────────────────────────────────────────────────────────────

func TestRuns_SetsCursor(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	for i := 0; i < 6; i++ {
		q := "a"
		if i%2 == 1 {
			q = "b"
		}
		f.put(q, core.Job{ID: fmt.Sprintf("r%d", i), Name: "x", Status: core.StatusWaiting, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	page, err := f.wb.Runs(context.Background(), workbench.RunsQuery{Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, core.TotalUnknown, page.Total)
	require.Len(t, page.Data, 4)
	assert.Equal(t, "r5", page.Data[0].ID)
	assert.True(t, page.HasMore)
	assert.Equal(t, "4", page.Cursor)

	offset, err := workbench.RunsCursor(page.Cursor)
	require.NoError(t, err)
	page, err = f.wb.Runs(context.Background(), workbench.RunsQuery{Limit: 4, Offset: offset})
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.False(t, page.HasMore)
}

func TestTagValues_RejectsUnconfiguredField(t *testing.T) {
	f := newFixture(t, []string{"emails"}, workbench.WithTagFields("tenant"))
	f.put("emails", core.Job{Name: "send", Status: core.StatusWaiting, Data: json.RawMessage(`{"tenant":"acme","region":"eu"}`)})
	ctx := context.Background()

	_, err := f.wb.TagValues(ctx, "region", 10)
	assert.ErrorIs(t, err, workbench.ErrInvalidInput)

	values, err := f.wb.TagValues(ctx, "tenant", 10)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "acme", values[0].Value)
}

func TestSearch_FindsByField(t *testing.T) {
	f := newFixture(t, []string{"emails"})
	f.put("emails", core.Job{ID: "s1", Name: "send", Status: core.StatusWaiting, Data: json.RawMessage(`{"user":"Alice"}`)})
	f.put("emails", core.Job{ID: "s2", Name: "send", Status: core.StatusWaiting, Data: json.RawMessage(`{"user":"bob"}`)})

	res, err := f.wb.Search(context.Background(), "user:alice", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "s1", res[0].Job.ID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Mutations
// ──────────────────────────────────────────────────────────────────────────────

func TestReadOnly_RejectsMutations(t *testing.T) {
	f := newFixture(t, []string{"emails"}, workbench.WithReadOnly(true))
	ctx := context.Background()
	refs := []core.JobRef{{Queue: "emails", ID: "x"}}

	assert.True(t, f.wb.ReadOnly())
	_, err := f.wb.EnqueueTestJob(ctx, workbench.TestJob{Queue: "emails", Name: "send"})
	assert.ErrorIs(t, err, workbench.ErrReadOnly)
	_, err = f.wb.RetryJob(ctx, "emails", "x")
	assert.ErrorIs(t, err, workbench.ErrReadOnly)
	_, err = f.wb.RemoveJob(ctx, "emails", "x")
	assert.ErrorIs(t, err, workbench.ErrReadOnly)
	_, err = f.wb.PromoteJob(ctx, "emails", "x")
	assert.ErrorIs(t, err, workbench.ErrReadOnly)
	_, err = f.wb.BulkRetry(ctx, refs)
	assert.ErrorIs(t, err, workbench.ErrReadOnly)
	_, err = f.wb.BulkDelete(ctx, refs)
	assert.ErrorIs(t, err, workbench.ErrReadOnly)
	_, err = f.wb.BulkPromote(ctx, refs)
	assert.ErrorIs(t, err, workbench.ErrReadOnly)
	_, err = f.wb.Clean(ctx, "emails", core.StatusCompleted, 0)
	assert.ErrorIs(t, err, workbench.ErrReadOnly)
	assert.ErrorIs(t, f.wb.Pause(ctx, "emails"), workbench.ErrReadOnly)
	assert.ErrorIs(t, f.wb.Resume(ctx, "emails"), workbench.ErrReadOnly)
	_, err = f.wb.CreateFlow(ctx, core.FlowSpec{Name: "p", Queue: "emails", Children: []core.FlowSpec{{Name: "c", Queue: "emails"}}})
	assert.ErrorIs(t, err, workbench.ErrReadOnly)
}

func TestEnqueueTestJob(t *testing.T) {
	f := newFixture(t, []string{"emails"})
	ctx := context.Background()

	id, err := f.wb.EnqueueTestJob(ctx, workbench.TestJob{
		Queue: "emails",
		Name:  "send",
		Data:  json.RawMessage(`{"to":"a@example.com"}`),
		Opts:  core.JobOptions{Attempts: 500, Delay: time.Minute},
	})
	require.NoError(t, err)

	info, err := f.wb.Job(ctx, "emails", id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDelayed, info.Status)
	assert.Equal(t, 100, info.Opts.Attempts)
	assert.EqualValues(t, 60000, info.Opts.Delay)
}

func TestEnqueueTestJob_Validation(t *testing.T) {
	f := newFixture(t, []string{"emails"})
	ctx := context.Background()

	tests := []struct {
		name string
		job  workbench.TestJob
		want error
	}{
		{"bad queue name", workbench.TestJob{Queue: "bad queue", Name: "send"}, workbench.ErrInvalidInput},
		{"unknown queue", workbench.TestJob{Queue: "other", Name: "send"}, workbench.ErrQueueNotFound},
		{"empty job name", workbench.TestJob{Queue: "emails"}, workbench.ErrInvalidInput},
		{"invalid json", workbench.TestJob{Queue: "emails", Name: "send", Data: json.RawMessage(`{`)}, workbench.ErrInvalidInput},
		{"oversized payload", workbench.TestJob{Queue: "emails", Name: "send", Data: make(json.RawMessage, workbench.MaxJobDataSize+1)}, workbench.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.wb.EnqueueTestJob(ctx, tt.job)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRetryJob_MissingReportsFalse(t *testing.T) {
	f := newFixture(t, []string{"emails", "reports"})
	seedOverview(f)
	ctx := context.Background()

	ok, err := f.wb.RetryJob(ctx, "reports", "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.wb.RetryJob(ctx, "missing", "f1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.wb.RetryJob(ctx, "reports", "f1")
	require.NoError(t, err)
	assert.True(t, ok)
	info, err := f.wb.Job(ctx, "reports", "f1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusWaiting, info.Status)
}

func TestRetryJob_WrongStatusIsAnError(t *testing.T) {
	f := newFixture(t, []string{"emails", "reports"})
	seedOverview(f)

	_, err := f.wb.RetryJob(context.Background(), "emails", "w1")
	assert.ErrorIs(t, err, workbench.ErrInvalidTransition)
}

func TestPromoteAndRemove(t *testing.T) {
	f := newFixture(t, []string{"emails", "reports"})
	seedOverview(f)
	ctx := context.Background()

	ok, err := f.wb.PromoteJob(ctx, "emails", "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.wb.RemoveJob(ctx, "emails", "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.wb.Job(ctx, "emails", "d1")
	assert.ErrorIs(t, err, workbench.ErrJobNotFound)
}

func TestBulk_InvalidatesOverview(t *testing.T) {
	f := newFixture(t, []string{"emails", "reports"})
	seedOverview(f)
	ctx := context.Background()

	ov, err := f.wb.Overview(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, ov.TotalJobs)

	res, err := f.wb.BulkDelete(ctx, []core.JobRef{
		{Queue: "emails", ID: "w1"},
		{Queue: "emails", ID: "w2"},
		{Queue: "emails", ID: "nope"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failed)

	ov, err = f.wb.Overview(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, ov.TotalJobs)
}

func TestClean(t *testing.T) {
	f := newFixture(t, []string{"emails", "reports"})
	seedOverview(f)
	ctx := context.Background()

	_, err := f.wb.Clean(ctx, "reports", core.StatusWaiting, 0)
	assert.ErrorIs(t, err, workbench.ErrInvalidInput)

	_, err = f.wb.Clean(ctx, "missing", core.StatusCompleted, 0)
	assert.ErrorIs(t, err, workbench.ErrQueueNotFound)

	n, err := f.wb.Clean(ctx, "reports", core.StatusCompleted, 12*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.wb.Clean(ctx, "reports", core.StatusCompleted, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, []string{"emails"})
	ctx := context.Background()

	assert.ErrorIs(t, f.wb.Pause(ctx, "missing"), workbench.ErrQueueNotFound)
	assert.ErrorIs(t, f.wb.Resume(ctx, "missing"), workbench.ErrQueueNotFound)

	require.NoError(t, f.wb.Pause(ctx, "emails"))
	queues, err := f.wb.Queues(ctx)
	require.NoError(t, err)
	require.Len(t, queues, 1)
	assert.True(t, queues[0].IsPaused)

	require.NoError(t, f.wb.Resume(ctx, "emails"))
	queues, err = f.wb.Queues(ctx)
	require.NoError(t, err)
	assert.False(t, queues[0].IsPaused)
}

// ──────────────────────────────────────────────────────────────────────────────
// Flows
// ──────────────────────────────────────────────────────────────────────────────

func TestCreateFlow_ThenRead(t *testing.T) {
	f := newFixture(t, []string{"work"})
	ctx := context.Background()

	id, err := f.wb.CreateFlow(ctx, core.FlowSpec{
		Name:  "batch",
		Queue: "work",
		Children: []core.FlowSpec{
			{Name: "a", Queue: "work"},
			{Name: "b", Queue: "work"},
		},
	})
	require.NoError(t, err)

	node, err := f.wb.Flow(ctx, "work", id)
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Len(t, node.Children, 2)

	flows, err := f.wb.Flows(ctx, 10)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, id, flows[0].ID)
	assert.Equal(t, 3, flows[0].TotalJobs)

	missing, err := f.wb.Flow(ctx, "work", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateFlow_Invalid(t *testing.T) {
	f := newFixture(t, []string{"work"})
	_, err := f.wb.CreateFlow(context.Background(), core.FlowSpec{Name: "batch", Queue: "work"})
	assert.ErrorIs(t, err, workbench.ErrInvalidInput)
}

// ──────────────────────────────────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────────────────────────────────

func TestEvents_MutationsAreEmitted(t *testing.T) {
	f := newFixture(t, []string{"emails"})
	ctx := context.Background()
	events := f.wb.Events()

	require.NoError(t, f.wb.Pause(ctx, "emails"))
	ok, err := f.wb.RemoveJob(ctx, "emails", "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	select {
	case e := <-events:
		paused, ok := e.(*core.QueuePaused)
		require.True(t, ok, "got %T", e)
		assert.Equal(t, "emails", paused.Queue)
		assert.Equal(t, base, paused.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no pause event")
	}

	select {
	case e := <-events:
		actioned, ok := e.(*core.JobActioned)
		require.True(t, ok, "got %T", e)
		assert.False(t, actioned.OK)
		assert.Equal(t, "delete", actioned.Action)
	case <-time.After(time.Second):
		t.Fatal("no action event")
	}

	f.wb.Unsubscribe(events)
	_, open := <-events
	assert.False(t, open)
}

func TestEvents_HookReceivesBulk(t *testing.T) {
	got := make(chan workbench.Event, 1)
	f := newFixture(t, []string{"emails"}, workbench.WithEventHook(func(e workbench.Event) { got <- e }))

	_, err := f.wb.BulkRetry(context.Background(), []core.JobRef{{Queue: "emails", ID: "nope"}})
	require.NoError(t, err)

	select {
	case e := <-got:
		applied, ok := e.(*core.BulkApplied)
		require.True(t, ok, "got %T", e)
		assert.Equal(t, 1, applied.Failed)
	case <-time.After(time.Second):
		t.Fatal("hook not called")
	}
}
