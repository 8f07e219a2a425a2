package storage

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/queue-workbench/pkg/core"
)

// skipIfNotPostgres skips the test when TEST_DATABASE_URL is not set.
func skipIfNotPostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL-specific test")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Take: FOR UPDATE SKIP LOCKED
// ──────────────────────────────────────────────────────────────────────────────

func TestTake_PostgreSQL_ConcurrentTakersGetDistinctJobs(t *testing.T) {
	skipIfNotPostgres(t)

	ctx := context.Background()
	b := newTestBackend(t, nil)
	q := b.GormQueue("work")

	const n = 4
	for i := 0; i < n; i++ {
		_, err := q.Add(ctx, "task", nil, core.JobOptions{})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := q.Take(ctx)
			if err != nil || job == nil {
				return
			}
			mu.Lock()
			seen[job.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for id, c := range seen {
		assert.Equal(t, 1, c, "job %s taken more than once", id)
	}
}

func TestRangeByScore_PostgreSQL_UsesFinishedIndex(t *testing.T) {
	skipIfNotPostgres(t)

	ctx := context.Background()
	b := newTestBackend(t, nil)
	q := b.GormQueue("reports")
	require.NoError(t, q.Put(ctx, &core.Job{ID: "a0f1b2c3-0000-0000-0000-000000000001", Name: "r", Status: core.StatusFailed, FailureReason: "x", FinishedAt: at(5)}))

	ids, ok, err := q.RangeByScore(ctx, core.StatusFailed, *at(0), *at(10), 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, ids, 1)
}
