package core

import (
	"context"
	"encoding/json"
	"time"
)

// Queue is a handle to one backend queue. Implementations must be safe for
// concurrent use.
type Queue interface {
	Name() string

	// Counts returns per-status counts, exact or cached by the backend.
	Counts(ctx context.Context) (Counts, error)
	IsPaused(ctx context.Context) (bool, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	// Jobs returns positions [start, end] of every listed bucket, newest
	// first unless asc is set. Each returned job has Status set to the
	// bucket it came from.
	Jobs(ctx context.Context, statuses []JobStatus, start, end int, asc bool) ([]*Job, error)

	// Job returns ErrJobNotFound when the id is unknown.
	Job(ctx context.Context, id string) (*Job, error)

	// JobsByID skips ids that no longer exist.
	JobsByID(ctx context.Context, ids []string) ([]*Job, error)
	State(ctx context.Context, id string) (JobStatus, error)

	Add(ctx context.Context, name string, data json.RawMessage, opts JobOptions) (*Job, error)
	Retry(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Promote(ctx context.Context, id string) error

	// Clean removes up to limit jobs of status finished longer than grace
	// ago and returns their ids.
	Clean(ctx context.Context, grace time.Duration, limit int, status JobStatus) ([]string, error)

	Repeatables(ctx context.Context) ([]RepeatableJob, error)
}

// TimeIndex is implemented by queues that keep completed and failed jobs in
// an index scored by finish time.
type TimeIndex interface {
	// RangeByScore returns ids finished within [start, end], newest first.
	// ok is false when the index does not cover status.
	RangeByScore(ctx context.Context, status JobStatus, start, end time.Time, limit int) (ids []string, ok bool, err error)
}

// FlowStore is implemented by backends that can store parent/child graphs.
type FlowStore interface {
	// AddFlow submits the whole graph atomically and returns the root job.
	AddFlow(ctx context.Context, spec FlowSpec) (*Job, error)

	// Tree returns the job and its descendants, or ErrJobNotFound.
	Tree(ctx context.Context, queue, id string) (*Tree, error)
}

// ParentResolver decodes a job's parent linkage.
type ParentResolver interface {
	ParentRef(job *Job) (JobRef, bool)
}

// Backend opens queue handles and owns the parent encoding.
type Backend interface {
	ParentResolver

	Queue(name string) (Queue, error)
	Close() error
}

// ParentResolverFunc adapts a function to ParentResolver.
type ParentResolverFunc func(job *Job) (JobRef, bool)

func (f ParentResolverFunc) ParentRef(job *Job) (JobRef, bool) { return f(job) }

// Discoverer is implemented by backends that can list the queues they hold.
type Discoverer interface {
	QueueNames(ctx context.Context) ([]string, error)
}
