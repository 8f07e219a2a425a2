package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/storage"
)

var (
	_ Source = (*storage.MemoryQueue)(nil)
	_ Source = (*storage.GormQueue)(nil)
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	assert.Empty(t, cfg.Queues)
	assert.NotNil(t, cfg.Handlers)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, DefaultRetryConfig(), cfg.StorageRetry)
	assert.Equal(t, 3, cfg.TakeRetry.MaxAttempts)
}

func TestWithQueue_ClampsConcurrency(t *testing.T) {
	q := storage.NewMemoryBackend().MemoryQueue("emails")
	cfg := defaultConfig()

	WithQueue(q, 0).apply(&cfg)
	WithQueue(q, 5000).apply(&cfg)
	WithQueue(q, 4).apply(&cfg)

	require.Len(t, cfg.Queues, 3)
	assert.Equal(t, 1, cfg.Queues[0].Concurrency)
	assert.Equal(t, MaxConcurrency, cfg.Queues[1].Concurrency)
	assert.Equal(t, 4, cfg.Queues[2].Concurrency)
}

func TestWithPollInterval_IgnoresNonPositive(t *testing.T) {
	cfg := defaultConfig()
	WithPollInterval(0).apply(&cfg)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)

	WithPollInterval(time.Second).apply(&cfg)
	assert.Equal(t, time.Second, cfg.PollInterval)
}

// ---------------------------------------------------------------------------
// Processing
// ---------------------------------------------------------------------------

func TestStart_NoQueues(t *testing.T) {
	err := New().Start(context.Background())
	assert.Error(t, err)
}

func TestStart_ProcessesJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := storage.NewMemoryBackend().MemoryQueue("emails")
	ids := map[string]string{}
	for _, name := range []string{"send", "send", "explode", "panic", "unknown"} {
		job, err := q.Add(ctx, name, nil, core.JobOptions{})
		require.NoError(t, err)
		ids[job.ID] = name
	}

	var (
		mu       sync.Mutex
		failures = map[string]string{}
		finished atomic.Int32
	)
	w := New(
		WithQueue(q, 2),
		WithPollInterval(5*time.Millisecond),
		WithHandler("send", func(ctx context.Context, job *Job) (json.RawMessage, error) {
			return json.RawMessage(`{"sent":true}`), nil
		}),
		WithHandler("explode", func(ctx context.Context, job *Job) (json.RawMessage, error) {
			return nil, errors.New("smtp down")
		}),
		WithHandler("panic", func(ctx context.Context, job *Job) (json.RawMessage, error) {
			panic("boom")
		}),
		WithOnFinish(func(job *Job, err error) {
			if err != nil {
				mu.Lock()
				failures[job.Name] = err.Error()
				mu.Unlock()
			}
			if finished.Add(1) == int32(len(ids)) {
				cancel()
			}
		}),
	)

	err := w.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, len(ids), finished.Load())

	mu.Lock()
	assert.Equal(t, map[string]string{
		"explode": "smtp down",
		"panic":   "panic: boom",
		"unknown": "no handler for unknown",
	}, failures)
	mu.Unlock()

	for id, name := range ids {
		job, err := q.Job(context.Background(), id)
		require.NoError(t, err)
		if name == "send" {
			assert.Equal(t, core.StatusCompleted, job.Status, id)
			assert.JSONEq(t, `{"sent":true}`, string(job.ReturnValue))
		} else {
			assert.Equal(t, core.StatusFailed, job.Status, id)
			assert.NotEmpty(t, job.FailureReason)
		}
	}
}

func TestStart_PausedQueueIsSkipped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	q := storage.NewMemoryBackend().MemoryQueue("emails")
	job, err := q.Add(ctx, "send", nil, core.JobOptions{})
	require.NoError(t, err)
	require.NoError(t, q.Pause(ctx))

	var calls atomic.Int32
	w := New(
		WithQueue(q, 1),
		WithPollInterval(5*time.Millisecond),
		WithHandler("send", func(ctx context.Context, job *Job) (json.RawMessage, error) {
			calls.Add(1)
			return nil, nil
		}),
	)

	assert.ErrorIs(t, w.Start(ctx), context.DeadlineExceeded)
	assert.Zero(t, calls.Load())

	got, err := q.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusWaiting, got.Status)
}

func TestStart_TypedHandlerSeesJobContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := storage.NewMemoryBackend().MemoryQueue("reports")
	job, err := q.Add(ctx, "build", json.RawMessage(`{"name":"weekly","value":3}`), core.JobOptions{})
	require.NoError(t, err)

	var seenQueue, seenID string
	w := New(
		WithQueue(q, 1),
		WithPollInterval(5*time.Millisecond),
		WithHandler("build", MustFunc(func(ctx context.Context, args testArgs) (testResult, error) {
			seenQueue, seenID = QueueFromContext(ctx), JobIDFromContext(ctx)
			return testResult{Output: args.Name, Count: args.Value}, nil
		})),
		WithOnFinish(func(*Job, error) { cancel() }),
	)
	assert.ErrorIs(t, w.Start(ctx), context.Canceled)

	assert.Equal(t, "reports", seenQueue)
	assert.Equal(t, job.ID, seenID)
	got, err := q.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"output":"weekly","count":3}`, string(got.ReturnValue))
}
