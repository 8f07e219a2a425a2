package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/registry"
	"github.com/jdziat/queue-workbench/pkg/storage"
)

var base = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return base.Add(48 * time.Hour) }

// completedJob builds a finished job created at base+minute.
func completedJob(id string, minute int, data string) *core.Job {
	created := base.Add(time.Duration(minute) * time.Minute)
	processed := created.Add(time.Second)
	finished := processed.Add(2 * time.Second)
	return &core.Job{
		ID:          id,
		Name:        "send-email",
		Data:        json.RawMessage(data),
		Status:      core.StatusCompleted,
		CreatedAt:   created,
		ProcessedAt: &processed,
		FinishedAt:  &finished,
	}
}

// setup registers three queues with ten completed jobs each.
func setup(t *testing.T, tagFields ...string) (*storage.MemoryBackend, *Aggregator) {
	t.Helper()
	b := storage.NewMemoryBackend(storage.WithMemoryClock(clock))
	for qi, name := range []string{"emails", "reports", "webhooks"} {
		q := b.MemoryQueue(name)
		for i := 0; i < 10; i++ {
			data := fmt.Sprintf(`{"userId":"user-%d","tenant":"acme-%s"}`, i, name)
			q.Put(completedJob(fmt.Sprintf("%s-%d", name, i), i*3+qi, data))
		}
	}
	reg, err := registry.Open(context.Background(), b, nil, registry.WithTagFields(tagFields...))
	require.NoError(t, err)
	a := New(reg, nil, nil)
	a.now = clock
	return b, a
}

func timestamps(p *core.Page) []int64 {
	out := make([]int64, 0, len(p.Data))
	for _, d := range p.Data {
		out = append(out, d.Timestamp)
	}
	return out
}

func assertNonIncreasing(t *testing.T, ts []int64) {
	t.Helper()
	for i := 1; i < len(ts); i++ {
		assert.LessOrEqual(t, ts[i], ts[i-1], "position %d", i)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Fast path
// ──────────────────────────────────────────────────────────────────────────────

func TestList_FastPathFirstPage(t *testing.T) {
	_, a := setup(t)

	page, err := a.List(context.Background(), Query{Limit: 5})
	require.NoError(t, err)

	require.Len(t, page.Data, 5)
	assert.True(t, page.HasMore)
	assert.Equal(t, core.TotalUnknown, page.Total)
	assertNonIncreasing(t, timestamps(page))

	// The newest job overall is webhooks-9 at minute 29.
	assert.Equal(t, "webhooks-9", page.Data[0].ID)
	assert.Equal(t, "reports-9", page.Data[1].ID)
	assert.Equal(t, "emails-9", page.Data[2].ID)
	for _, d := range page.Data {
		assert.Equal(t, core.StatusCompleted, d.Status)
	}
}

func TestList_FastPathPagesDoNotOverlap(t *testing.T) {
	_, a := setup(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	var all []int64
	for offset := 0; offset < 30; offset += 7 {
		page, err := a.List(ctx, Query{Limit: 7, Offset: offset})
		require.NoError(t, err)
		for _, d := range page.Data {
			assert.False(t, seen[d.ID], "duplicate %s", d.ID)
			seen[d.ID] = true
		}
		all = append(all, timestamps(page)...)
		assert.Equal(t, offset+7 < 30, page.HasMore, "offset %d", offset)
	}
	assert.Len(t, seen, 30)
	assertNonIncreasing(t, all)
}

func TestList_EmptyRegistry(t *testing.T) {
	reg, err := registry.New(nil)
	require.NoError(t, err)

	page, err := New(reg, nil, nil).List(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.NotNil(t, page.Data)
	assert.False(t, page.HasMore)
}

// brokenQueue fails every listing call.
type brokenQueue struct {
	core.Queue
}

func (brokenQueue) Name() string { return "broken" }

func (brokenQueue) Jobs(context.Context, []core.JobStatus, int, int, bool) ([]*core.Job, error) {
	return nil, errors.New("connection refused")
}

func TestList_SkipsFailingQueue(t *testing.T) {
	b := storage.NewMemoryBackend(storage.WithMemoryClock(clock))
	good := b.MemoryQueue("good")
	good.Put(completedJob("ok-1", 1, `{}`))

	reg, err := registry.New([]core.Queue{good, brokenQueue{}})
	require.NoError(t, err)

	page, err := New(reg, nil, nil).List(context.Background(), Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "ok-1", page.Data[0].ID)

	page, err = New(reg, nil, nil).List(context.Background(), Query{Limit: 10, Filters: Filters{Text: "ok"}})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
}

// ──────────────────────────────────────────────────────────────────────────────
// Filtered path
// ──────────────────────────────────────────────────────────────────────────────

func TestList_TagFilterIsCaseInsensitiveSubstring(t *testing.T) {
	b, a := setup(t)
	b.MemoryQueue("emails").Put(completedJob("mixed", 100, `{"label":"someVALue"}`))

	page, err := a.List(context.Background(), Query{
		Limit:   10,
		Filters: Filters{Tags: []TagFilter{{Field: "label", Value: "val"}}},
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "mixed", page.Data[0].ID)
	assert.False(t, page.HasMore)
}

func TestList_TagFilterMatchesAnyPayloadField(t *testing.T) {
	_, a := setup(t, "tenant")

	page, err := a.List(context.Background(), Query{
		Limit:   50,
		Filters: Filters{Tags: []TagFilter{{Field: "userId", Value: "USER-3"}}},
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 3)
	for _, d := range page.Data {
		assert.Contains(t, string(d.Data), "user-3")
		assert.Contains(t, d.Tags, "tenant")
	}
}

func TestList_TagFilterMissingFieldNeverMatches(t *testing.T) {
	b, a := setup(t)
	b.MemoryQueue("emails").Put(completedJob("nulls", 100, `{"label":null}`))

	page, err := a.List(context.Background(), Query{
		Limit:   10,
		Filters: Filters{Tags: []TagFilter{{Field: "label", Value: "null"}}},
	})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
}

func TestList_TextSearchesIDNameAndPayload(t *testing.T) {
	b, a := setup(t)
	ctx := context.Background()
	q := b.MemoryQueue("reports")
	named := completedJob("plain", 200, `{}`)
	named.Name = "Quarterly-Export"
	q.Put(named)

	tests := []struct {
		text string
		want int
	}{
		{"webhooks-", 10},
		{"quarterly", 1},
		{"ACME-EMAILS", 10},
		{"nothing-matches", 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			page, err := a.List(ctx, Query{Limit: 50, Filters: Filters{Text: tt.text}})
			require.NoError(t, err)
			assert.Len(t, page.Data, tt.want)
		})
	}
}

func TestList_StatusNarrowsBuckets(t *testing.T) {
	b, a := setup(t)
	q := b.MemoryQueue("emails")
	q.Put(&core.Job{ID: "w1", Name: "send-email", Status: core.StatusWaiting, CreatedAt: base.Add(time.Hour)})
	failed := completedJob("f1", 90, `{}`)
	failed.Status = core.StatusFailed
	failed.FailureReason = "smtp timeout"
	q.Put(failed)

	page, err := a.List(context.Background(), Query{Limit: 50, Filters: Filters{Status: core.StatusFailed}})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "f1", page.Data[0].ID)
	assert.Equal(t, "smtp timeout", page.Data[0].FailedReason)

	page, err = a.List(context.Background(), Query{Limit: 50, Filters: Filters{Status: core.StatusWaiting}})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, core.StatusWaiting, page.Data[0].Status)
}

func TestList_TimeRange(t *testing.T) {
	_, a := setup(t)

	// Finish times are created+3s; minutes 10..14 hold five jobs.
	start := base.Add(10 * time.Minute)
	end := base.Add(14*time.Minute + 30*time.Second)
	page, err := a.List(context.Background(), Query{
		Limit:   50,
		Filters: Filters{Start: &start, End: &end},
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 5)
	assertNonIncreasing(t, timestamps(page))
	for _, d := range page.Data {
		require.NotNil(t, d.FinishedOn)
		assert.GreaterOrEqual(t, *d.FinishedOn, start.UnixMilli())
		assert.LessOrEqual(t, *d.FinishedOn, end.UnixMilli())
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Sorting
// ──────────────────────────────────────────────────────────────────────────────

func TestList_SortByQueueNameAscending(t *testing.T) {
	_, a := setup(t)

	page, err := a.List(context.Background(), Query{Limit: 12, Sort: ParseSort("queueName:asc")})
	require.NoError(t, err)
	require.Len(t, page.Data, 12)
	for i := 0; i < 10; i++ {
		assert.Equal(t, "emails", page.Data[i].QueueName)
	}
	assert.Equal(t, "reports", page.Data[10].QueueName)
	// Equal queue names fall back to newest first.
	assertNonIncreasing(t, timestamps(&core.Page{Data: page.Data[:10]}))
}

func TestList_TimestampAscending(t *testing.T) {
	_, a := setup(t)

	page, err := a.List(context.Background(), Query{Limit: 3, Sort: Sort{Field: SortTimestamp}})
	require.NoError(t, err)
	require.Len(t, page.Data, 3)
	assert.Equal(t, []string{"emails-0", "reports-0", "webhooks-0"},
		[]string{page.Data[0].ID, page.Data[1].ID, page.Data[2].ID})
	assert.True(t, page.HasMore)
}

func TestParseSort(t *testing.T) {
	assert.Equal(t, DefaultSort, ParseSort(""))
	assert.Equal(t, Sort{Field: SortName, Desc: true}, ParseSort("name"))
	assert.Equal(t, Sort{Field: SortDuration, Desc: false}, ParseSort("duration:asc"))
	assert.Equal(t, Sort{Field: SortTimestamp, Desc: true}, ParseSort("bogus:desc"))
	assert.Equal(t, "processedOn:asc", Sort{Field: SortProcessedOn}.String())
}

func TestCandidate_MatchTagsObjectValues(t *testing.T) {
	c := NewCandidate(&core.Job{Data: json.RawMessage(`{"meta":{"Region":"EU-West"},"n":42}`)}, core.StatusWaiting)

	assert.True(t, c.MatchTags([]TagFilter{{Field: "meta", Value: "eu-west"}}))
	assert.True(t, c.MatchTags([]TagFilter{{Field: "n", Value: "4"}}))
	assert.False(t, c.MatchTags([]TagFilter{{Field: "n", Value: "4"}, {Field: "absent", Value: ""}}))
}
