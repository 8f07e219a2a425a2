package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/registry"
	"github.com/jdziat/queue-workbench/pkg/runs"
	"github.com/jdziat/queue-workbench/pkg/storage"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  []runs.TagFilter
		text  string
		empty bool
	}{
		{name: "empty", in: "   ", empty: true},
		{name: "text only", in: "invoice  overdue", text: "invoice overdue"},
		{
			name: "filter and text",
			in:   "teamId:abc-123 invoice",
			want: []runs.TagFilter{{Field: "teamId", Value: "abc-123"}},
			text: "invoice",
		},
		{
			name: "quoted value",
			in:   `customer:"Acme Corp" status:failed`,
			want: []runs.TagFilter{{Field: "customer", Value: "Acme Corp"}, {Field: "status", Value: "failed"}},
		},
		{
			name: "unterminated quote runs to end",
			in:   `note:"left open`,
			want: []runs.TagFilter{{Field: "note", Value: "left open"}},
		},
		{
			name: "field charset",
			in:   "meta.region_id-2:eu",
			want: []runs.TagFilter{{Field: "meta.region_id-2", Value: "eu"}},
		},
		{name: "digit cannot start a field", in: "1abc:x", text: "1abc:x"},
		{name: "dangling colon is text", in: "field: value", text: "field: value"},
		{name: "email is text", in: "ops@example.com", text: "ops@example.com"},
		{name: "quoted text", in: `"hello world" again`, text: "hello world again"},
		{
			name: "value keeps later colons",
			in:   "url:https://x.test/a",
			want: []runs.TagFilter{{Field: "url", Value: "https://x.test/a"}},
		},
		{
			name: "repeated field keeps last",
			in:   "a:1 a:2",
			want: []runs.TagFilter{{Field: "a", Value: "2"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Parse(tt.in)
			assert.Equal(t, tt.want, q.Filters)
			assert.Equal(t, tt.text, q.Text)
			assert.Equal(t, tt.empty, q.Empty())
		})
	}
}

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*storage.MemoryBackend, *Engine) {
	t.Helper()
	b := storage.NewMemoryBackend(storage.WithMemoryClock(func() time.Time { return base.Add(time.Hour) }))

	billing := b.MemoryQueue("billing")
	for i := 0; i < 5; i++ {
		billing.Put(&core.Job{
			ID:        fmt.Sprintf("inv-%d", i),
			Name:      "invoice",
			Status:    core.StatusWaiting,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Data:      json.RawMessage(fmt.Sprintf(`{"teamId":"Team-%d","plan":"pro","seats":%d}`, i%2, i)),
		})
	}
	reports := b.MemoryQueue("reports")
	reports.Put(&core.Job{
		ID:        "rep-1",
		Name:      "monthly",
		Status:    core.StatusFailed,
		CreatedAt: base.Add(30 * time.Minute),
		Data:      json.RawMessage(`{"teamId":"team-1","plan":"free","trial":true}`),
	})
	b.MemoryQueue("empty")

	reg, err := registry.Open(context.Background(), b, nil)
	require.NoError(t, err)
	return b, New(reg, nil, nil)
}

// countingQueue counts bucket reads.
type countingQueue struct {
	core.Queue
	reads atomic.Int32
}

func (c *countingQueue) Jobs(ctx context.Context, statuses []core.JobStatus, start, end int, asc bool) ([]*core.Job, error) {
	c.reads.Add(1)
	return c.Queue.Jobs(ctx, statuses, start, end, asc)
}

func TestSearch_SkipsEmptyQueues(t *testing.T) {
	b, _ := seed(t)
	billing := &countingQueue{Queue: b.MemoryQueue("billing")}
	empty := &countingQueue{Queue: b.MemoryQueue("empty")}
	reg, err := registry.New([]core.Queue{billing, empty})
	require.NoError(t, err)
	e := New(reg, nil, nil)

	res, err := e.Search(context.Background(), "plan:pro", 0)
	require.NoError(t, err)
	assert.Len(t, res, 5)
	assert.Zero(t, empty.reads.Load())
	assert.NotZero(t, billing.reads.Load())

	_, err = e.TagValues(context.Background(), "plan", 0)
	require.NoError(t, err)
	assert.Zero(t, empty.reads.Load())
}

func TestSearch_EmptyQueryReturnsNothing(t *testing.T) {
	_, e := seed(t)
	res, err := e.Search(context.Background(), "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.NotNil(t, res)
}

func TestSearch_FilterIsCaseInsensitiveSubstring(t *testing.T) {
	_, e := seed(t)

	res, err := e.Search(context.Background(), "teamId:TEAM-1", 0)
	require.NoError(t, err)
	require.Len(t, res, 3)

	// Newest first across queues.
	assert.Equal(t, "rep-1", res[0].Job.ID)
	assert.Equal(t, "reports", res[0].Queue)
	assert.Equal(t, core.StatusFailed, res[0].Job.Status)
	assert.Equal(t, "inv-3", res[1].Job.ID)
	assert.Equal(t, "inv-1", res[2].Job.ID)
}

func TestSearch_FiltersAndTextCombine(t *testing.T) {
	_, e := seed(t)
	ctx := context.Background()

	res, err := e.Search(ctx, "teamId:team-1 monthly", 0)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "rep-1", res[0].Job.ID)

	res, err = e.Search(ctx, "INV-4", 0)
	require.NoError(t, err)
	require.Len(t, res, 1)

	res, err = e.Search(ctx, `plan:"pro"`, 2)
	require.NoError(t, err)
	assert.Len(t, res, 2, "results are truncated to limit")
}

func TestTagValues(t *testing.T) {
	_, e := seed(t)
	ctx := context.Background()

	vals, err := e.TagValues(ctx, "plan", 0)
	require.NoError(t, err)
	assert.Equal(t, []TagValue{{Value: "pro", Count: 5}, {Value: "free", Count: 1}}, vals)

	vals, err = e.TagValues(ctx, "teamId", 0)
	require.NoError(t, err)
	assert.Equal(t, []TagValue{{Value: "Team-0", Count: 3}, {Value: "Team-1", Count: 2}, {Value: "team-1", Count: 1}}, vals)

	vals, err = e.TagValues(ctx, "seats", 2)
	require.NoError(t, err)
	assert.Equal(t, []TagValue{{Value: "0", Count: 1}, {Value: "1", Count: 1}}, vals)

	vals, err = e.TagValues(ctx, "trial", 0)
	require.NoError(t, err)
	assert.Equal(t, []TagValue{{Value: "true", Count: 1}}, vals)

	_, err = e.TagValues(ctx, "", 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
