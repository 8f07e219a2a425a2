// Package scan finds completed and failed jobs inside a time window.
//
// Backends that keep a finish-time index answer through core.TimeIndex.
// Everyone else, and any indexed call that errors, is served by reading the
// newest jobs of the bucket and filtering them in memory.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

// FallbackFactor is how many times limit the fallback reads before filtering.
const FallbackFactor = 2

// Scanner runs time-range scans.
type Scanner struct {
	logger *slog.Logger
}

// New creates a Scanner. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{logger: logger}
}

// ByTime returns up to limit jobs of status finished within [start, end],
// newest first.
func (s *Scanner) ByTime(ctx context.Context, q core.Queue, status core.JobStatus, start, end time.Time, limit int) ([]*core.Job, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: time scan needs completed or failed, got %q", core.ErrInvalidInput, status)
	}

	idx, ok := q.(core.TimeIndex)
	if !ok {
		telemetry.ScanFallbacks.WithLabelValues(string(status), "unsupported").Inc()
		return Fallback(ctx, q, status, start, end, limit)
	}

	jobs, supported, err := Indexed(ctx, q, idx, status, start, end, limit)
	switch {
	case err != nil:
		s.logger.Debug("indexed scan failed, falling back", "queue", q.Name(), "status", status, "error", err)
		telemetry.ScanFallbacks.WithLabelValues(string(status), "error").Inc()
	case !supported:
		telemetry.ScanFallbacks.WithLabelValues(string(status), "unsupported").Inc()
	default:
		return jobs, nil
	}

	jobs, err = Fallback(ctx, q, status, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s/%s: %v", core.ErrBackendUnavailable, q.Name(), status, err)
	}
	return jobs, nil
}

// Indexed asks the backend's finish-time index for ids and loads them.
func Indexed(ctx context.Context, q core.Queue, idx core.TimeIndex, status core.JobStatus, start, end time.Time, limit int) ([]*core.Job, bool, error) {
	ids, ok, err := idx.RangeByScore(ctx, status, start, end, limit)
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(ids) == 0 {
		return nil, true, nil
	}
	jobs, err := q.JobsByID(ctx, ids)
	if err != nil {
		return nil, true, err
	}
	for _, j := range jobs {
		if j.Status == "" {
			j.Status = status
		}
	}
	return jobs, true, nil
}

// Fallback reads the newest FallbackFactor*limit jobs of the bucket and keeps
// those finished within [start, end].
func Fallback(ctx context.Context, q core.Queue, status core.JobStatus, start, end time.Time, limit int) ([]*core.Job, error) {
	fetch := limit * FallbackFactor
	if fetch <= 0 {
		fetch = 1
	}
	jobs, err := q.Jobs(ctx, []core.JobStatus{status}, 0, fetch-1, false)
	if err != nil {
		return nil, err
	}

	out := make([]*core.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.FinishedAt == nil || j.FinishedAt.Before(start) || j.FinishedAt.After(end) {
			continue
		}
		out = append(out, j)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
