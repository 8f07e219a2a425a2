package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/schedule"
)

// MemoryBackend keeps every queue in process memory. It backs the test
// suites and the demo server, and offers a small worker API (Take,
// Complete, Fail) to drive jobs through their lifecycle.
type MemoryBackend struct {
	mu       sync.RWMutex
	queues   map[string]*MemoryQueue
	children map[core.JobRef][]core.JobRef
	seq      int64
	now      func() time.Time
}

// MemoryOption configures a MemoryBackend.
type MemoryOption interface {
	applyMemory(*MemoryBackend)
}

type memoryOptionFunc func(*MemoryBackend)

func (f memoryOptionFunc) applyMemory(b *MemoryBackend) { f(b) }

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return memoryOptionFunc(func(b *MemoryBackend) {
		b.now = now
	})
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		queues:   make(map[string]*MemoryQueue),
		children: make(map[core.JobRef][]core.JobRef),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt.applyMemory(b)
	}
	return b
}

var (
	_ core.Backend    = (*MemoryBackend)(nil)
	_ core.FlowStore  = (*MemoryBackend)(nil)
	_ core.Discoverer = (*MemoryBackend)(nil)
	_ core.Queue      = (*MemoryQueue)(nil)
	_ core.TimeIndex  = (*MemoryQueue)(nil)
)

// Queue returns the named queue, creating it on first use.
func (b *MemoryBackend) Queue(name string) (core.Queue, error) {
	return b.MemoryQueue(name), nil
}

// MemoryQueue is Queue with the concrete type, for seeding and worker calls.
func (b *MemoryBackend) MemoryQueue(name string) *MemoryQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueLocked(name)
}

func (b *MemoryBackend) queueLocked(name string) *MemoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &MemoryQueue{
			b:       b,
			name:    name,
			jobs:    make(map[string]*memJob),
			repeats: make(map[string]core.RepeatableJob),
		}
		b.queues[name] = q
	}
	return q
}

// QueueNames lists every queue created so far.
func (b *MemoryBackend) QueueNames(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.queues))
	for n := range b.queues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// ParentRef decodes the parent link written by AddFlow.
func (b *MemoryBackend) ParentRef(job *core.Job) (core.JobRef, bool) {
	return core.DefaultParentRef(job)
}

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

// AddFlow inserts the root and every descendant under one lock.
func (b *MemoryBackend) AddFlow(ctx context.Context, spec core.FlowSpec) (*core.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	root := b.addFlowLocked(spec, nil)
	return root.clone(), nil
}

func (b *MemoryBackend) addFlowLocked(spec core.FlowSpec, parent *core.JobRef) *memJob {
	q := b.queueLocked(spec.Queue)
	status := core.StatusWaiting
	if len(spec.Children) > 0 {
		status = core.StatusWaitingChildren
	}
	mj := q.insertLocked(spec.Name, spec.Data, spec.Opts, status)
	if parent != nil {
		ref := *parent
		mj.job.Parent = &ref
		mj.job.ParentKey = "mem:" + ref.Queue + ":" + ref.ID
	}
	self := mj.job.Ref()
	for _, child := range spec.Children {
		c := b.addFlowLocked(child, &self)
		b.children[self] = append(b.children[self], c.job.Ref())
	}
	return mj
}

// Tree returns the job at queue/id with all descendants.
func (b *MemoryBackend) Tree(ctx context.Context, queue, id string) (*core.Tree, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t := b.treeLocked(core.JobRef{Queue: queue, ID: id})
	if t == nil {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrJobNotFound, queue, id)
	}
	return t, nil
}

func (b *MemoryBackend) treeLocked(ref core.JobRef) *core.Tree {
	q, ok := b.queues[ref.Queue]
	if !ok {
		return nil
	}
	mj, ok := q.jobs[ref.ID]
	if !ok {
		return nil
	}
	t := &core.Tree{Job: mj.clone()}
	for _, c := range b.children[ref] {
		if ct := b.treeLocked(c); ct != nil {
			t.Children = append(t.Children, ct)
		}
	}
	return t
}

type memJob struct {
	job core.Job
	seq int64
}

func (m *memJob) clone() *core.Job {
	j := m.job
	return &j
}

// score orders a job inside its bucket; larger is newer.
func (m *memJob) score() int64 {
	switch m.job.Status {
	case core.StatusCompleted, core.StatusFailed:
		if m.job.FinishedAt != nil {
			return m.job.FinishedAt.UnixMilli()
		}
	case core.StatusDelayed:
		return m.job.CreatedAt.Add(m.job.Delay).UnixMilli()
	}
	return m.seq
}

// MemoryQueue is a single queue inside a MemoryBackend.
type MemoryQueue struct {
	b       *MemoryBackend
	name    string
	paused  bool
	jobs    map[string]*memJob
	repeats map[string]core.RepeatableJob
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) insertLocked(name string, data json.RawMessage, opts core.JobOptions, status core.JobStatus) *memJob {
	q.b.seq++
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	mj := &memJob{
		seq: q.b.seq,
		job: core.Job{
			ID:        uuid.New().String(),
			Queue:     q.name,
			Name:      name,
			Data:      data,
			Opts:      opts,
			Status:    status,
			CreatedAt: q.b.now(),
			Delay:     opts.Delay,
		},
	}
	q.jobs[mj.job.ID] = mj
	return mj
}

// promoteDueLocked moves delayed jobs whose time has come to waiting.
func (q *MemoryQueue) promoteDueLocked() {
	now := q.b.now()
	for _, mj := range q.jobs {
		if mj.job.Status == core.StatusDelayed && !mj.job.CreatedAt.Add(mj.job.Delay).After(now) {
			mj.job.Status = core.StatusWaiting
		}
	}
}

// Put stores job as given, keeping its id, status and timestamps. Used to
// seed fixtures.
func (q *MemoryQueue) Put(job *core.Job) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.b.seq++
	j := *job
	j.Queue = q.name
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = core.InferStatus(&j, q.b.now())
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = q.b.now()
	}
	q.jobs[j.ID] = &memJob{job: j, seq: q.b.seq}
	if ref, ok := core.DefaultParentRef(&j); ok {
		q.b.children[ref] = append(q.b.children[ref], j.Ref())
	}
}

// AddRepeatable registers a repeat descriptor, computing Next when unset.
func (q *MemoryQueue) AddRepeatable(r core.RepeatableJob) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	r.Queue = q.name
	if r.Key == "" {
		r.Key = fmt.Sprintf("%s:%s:%s:%d", r.Name, r.Pattern, r.TZ, r.Every)
	}
	if r.Next == nil {
		if next, err := schedule.NextRun(r.Pattern, time.Duration(r.Every)*time.Millisecond, r.TZ, q.b.now()); err == nil {
			r.Next = &next
		}
	}
	q.repeats[r.Key] = r
}

func (q *MemoryQueue) Counts(ctx context.Context) (core.Counts, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.promoteDueLocked()
	var c core.Counts
	for _, mj := range q.jobs {
		switch mj.job.Status {
		case core.StatusWaiting:
			c.Waiting++
		case core.StatusActive:
			c.Active++
		case core.StatusCompleted:
			c.Completed++
		case core.StatusFailed:
			c.Failed++
		case core.StatusDelayed:
			c.Delayed++
		case core.StatusPaused:
			c.Paused++
		case core.StatusWaitingChildren:
			c.WaitingChildren++
		}
	}
	return c, nil
}

func (q *MemoryQueue) IsPaused(ctx context.Context) (bool, error) {
	q.b.mu.RLock()
	defer q.b.mu.RUnlock()
	return q.paused, nil
}

func (q *MemoryQueue) Pause(ctx context.Context) error {
	q.b.mu.Lock()
	q.paused = true
	q.b.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Resume(ctx context.Context) error {
	q.b.mu.Lock()
	q.paused = false
	q.b.mu.Unlock()
	return nil
}

// bucketLocked returns one bucket ordered newest first.
func (q *MemoryQueue) bucketLocked(status core.JobStatus) []*memJob {
	var out []*memJob
	for _, mj := range q.jobs {
		if mj.job.Status == status {
			out = append(out, mj)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].score(), out[j].score()
		if si != sj {
			return si > sj
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func (q *MemoryQueue) Jobs(ctx context.Context, statuses []core.JobStatus, start, end int, asc bool) ([]*core.Job, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.promoteDueLocked()

	var out []*core.Job
	for _, st := range statuses {
		bucket := q.bucketLocked(st)
		if asc {
			for i, j := 0, len(bucket)-1; i < j; i, j = i+1, j-1 {
				bucket[i], bucket[j] = bucket[j], bucket[i]
			}
		}
		for _, mj := range sliceRange(bucket, start, end) {
			out = append(out, mj.clone())
		}
	}
	return out, nil
}

// sliceRange applies inclusive [start, end] positions; a negative end means
// the rest of the slice.
func sliceRange[T any](items []T, start, end int) []T {
	if start < 0 {
		start = 0
	}
	if start >= len(items) {
		return nil
	}
	if end < 0 || end >= len(items) {
		end = len(items) - 1
	}
	if end < start {
		return nil
	}
	return items[start : end+1]
}

func (q *MemoryQueue) Job(ctx context.Context, id string) (*core.Job, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.promoteDueLocked()
	mj, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrJobNotFound, q.name, id)
	}
	return mj.clone(), nil
}

func (q *MemoryQueue) JobsByID(ctx context.Context, ids []string) ([]*core.Job, error) {
	q.b.mu.RLock()
	defer q.b.mu.RUnlock()
	out := make([]*core.Job, 0, len(ids))
	for _, id := range ids {
		if mj, ok := q.jobs[id]; ok {
			out = append(out, mj.clone())
		}
	}
	return out, nil
}

func (q *MemoryQueue) State(ctx context.Context, id string) (core.JobStatus, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.promoteDueLocked()
	mj, ok := q.jobs[id]
	if !ok {
		return core.StatusUnknown, fmt.Errorf("%w: %s/%s", core.ErrJobNotFound, q.name, id)
	}
	return mj.job.Status, nil
}

// RangeByScore serves completed and failed buckets ordered by finish time.
func (q *MemoryQueue) RangeByScore(ctx context.Context, status core.JobStatus, start, end time.Time, limit int) ([]string, bool, error) {
	if !status.Terminal() {
		return nil, false, nil
	}
	q.b.mu.RLock()
	defer q.b.mu.RUnlock()
	var ids []string
	for _, mj := range q.bucketLocked(status) {
		f := mj.job.FinishedAt
		if f == nil || f.Before(start) || f.After(end) {
			continue
		}
		ids = append(ids, mj.job.ID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, true, nil
}

func (q *MemoryQueue) Add(ctx context.Context, name string, data json.RawMessage, opts core.JobOptions) (*core.Job, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	status := core.StatusWaiting
	if opts.Delay > 0 {
		status = core.StatusDelayed
	}
	return q.insertLocked(name, data, opts, status).clone(), nil
}

func (q *MemoryQueue) lookupLocked(id string) (*memJob, error) {
	mj, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrJobNotFound, q.name, id)
	}
	return mj, nil
}

// Retry moves a failed job back to waiting.
func (q *MemoryQueue) Retry(ctx context.Context, id string) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	mj, err := q.lookupLocked(id)
	if err != nil {
		return err
	}
	if mj.job.Status != core.StatusFailed {
		return &core.TransitionError{Action: "retry", Status: mj.job.Status}
	}
	mj.job.Status = core.StatusWaiting
	mj.job.ProcessedAt = nil
	mj.job.FinishedAt = nil
	mj.job.FailureReason = ""
	mj.job.Stacktrace = nil
	mj.job.AttemptsMade = 0
	q.b.seq++
	mj.seq = q.b.seq
	return nil
}

func (q *MemoryQueue) Remove(ctx context.Context, id string) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	if _, err := q.lookupLocked(id); err != nil {
		return err
	}
	delete(q.jobs, id)
	return nil
}

// Promote moves a delayed job to waiting immediately.
func (q *MemoryQueue) Promote(ctx context.Context, id string) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	mj, err := q.lookupLocked(id)
	if err != nil {
		return err
	}
	if mj.job.Status != core.StatusDelayed {
		return &core.TransitionError{Action: "promote", Status: mj.job.Status}
	}
	mj.job.Status = core.StatusWaiting
	mj.job.Delay = 0
	return nil
}

func (q *MemoryQueue) Clean(ctx context.Context, grace time.Duration, limit int, status core.JobStatus) ([]string, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	cutoff := q.b.now().Add(-grace)
	bucket := q.bucketLocked(status)
	var removed []string
	for i := len(bucket) - 1; i >= 0; i-- {
		if limit > 0 && len(removed) >= limit {
			break
		}
		mj := bucket[i]
		at := mj.job.CreatedAt
		if mj.job.FinishedAt != nil {
			at = *mj.job.FinishedAt
		}
		if at.After(cutoff) {
			continue
		}
		delete(q.jobs, mj.job.ID)
		removed = append(removed, mj.job.ID)
	}
	return removed, nil
}

func (q *MemoryQueue) Repeatables(ctx context.Context) ([]core.RepeatableJob, error) {
	q.b.mu.RLock()
	defer q.b.mu.RUnlock()
	out := make([]core.RepeatableJob, 0, len(q.repeats))
	for _, r := range q.repeats {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Worker API
// ──────────────────────────────────────────────────────────────────────────────

// Take moves the oldest waiting job to active. It returns nil when the
// queue is paused or has nothing waiting.
func (q *MemoryQueue) Take(ctx context.Context) (*core.Job, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	q.promoteDueLocked()
	if q.paused {
		return nil, nil
	}
	bucket := q.bucketLocked(core.StatusWaiting)
	if len(bucket) == 0 {
		return nil, nil
	}
	mj := bucket[len(bucket)-1]
	now := q.b.now()
	mj.job.Status = core.StatusActive
	mj.job.ProcessedAt = &now
	mj.job.AttemptsMade++
	return mj.clone(), nil
}

// Complete finishes an active job successfully.
func (q *MemoryQueue) Complete(ctx context.Context, id string, result json.RawMessage) error {
	return q.finish(id, func(j *core.Job) {
		j.Status = core.StatusCompleted
		j.ReturnValue = result
	})
}

// Fail finishes an active job with reason.
func (q *MemoryQueue) Fail(ctx context.Context, id string, reason string) error {
	return q.finish(id, func(j *core.Job) {
		j.Status = core.StatusFailed
		j.FailureReason = reason
	})
}

func (q *MemoryQueue) finish(id string, apply func(*core.Job)) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	mj, err := q.lookupLocked(id)
	if err != nil {
		return err
	}
	if mj.job.Status != core.StatusActive {
		return &core.TransitionError{Action: "finish", Status: mj.job.Status}
	}
	now := q.b.now()
	mj.job.FinishedAt = &now
	apply(&mj.job)

	if mj.job.Status == core.StatusCompleted {
		if parent, ok := core.DefaultParentRef(&mj.job); ok {
			q.b.releaseParentLocked(parent)
		}
	}
	return nil
}

// releaseParentLocked moves a parent out of waiting-children once every
// child has completed.
func (b *MemoryBackend) releaseParentLocked(parent core.JobRef) {
	pq, ok := b.queues[parent.Queue]
	if !ok {
		return
	}
	pj, ok := pq.jobs[parent.ID]
	if !ok || pj.job.Status != core.StatusWaitingChildren {
		return
	}
	for _, c := range b.children[parent] {
		cq, ok := b.queues[c.Queue]
		if !ok {
			continue
		}
		if cj, ok := cq.jobs[c.ID]; ok && cj.job.Status != core.StatusCompleted {
			return
		}
	}
	pj.job.Status = core.StatusWaiting
}
