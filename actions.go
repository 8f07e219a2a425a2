package workbench

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jdziat/queue-workbench/pkg/bulk"
	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/flow"
	"github.com/jdziat/queue-workbench/pkg/security"
)

// TestJob is a job enqueued by hand from the dashboard.
type TestJob struct {
	Queue string          `json:"queueName"`
	Name  string          `json:"jobName"`
	Data  json.RawMessage `json:"data,omitempty"`
	Opts  core.JobOptions `json:"-"`
}

func (w *Workbench) writable() error {
	if w.cfg.readOnly {
		return core.ErrReadOnly
	}
	return nil
}

// EnqueueTestJob validates and adds one job. It returns the new job's id.
func (w *Workbench) EnqueueTestJob(ctx context.Context, tj TestJob) (string, error) {
	if err := w.writable(); err != nil {
		return "", err
	}
	if err := security.ValidateQueueName(tj.Queue); err != nil {
		return "", err
	}
	if err := security.ValidateJobName(tj.Name); err != nil {
		return "", err
	}
	if err := security.ValidateJobData(tj.Data); err != nil {
		return "", err
	}
	data := tj.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if !json.Valid(data) {
		return "", core.InvalidInputf("data is not valid JSON")
	}
	if tj.Opts.Delay < 0 {
		return "", core.InvalidInputf("delay must not be negative")
	}

	q, err := w.reg.Queue(tj.Queue)
	if err != nil {
		return "", err
	}
	opts := tj.Opts
	opts.Attempts = security.ClampAttempts(opts.Attempts)
	job, err := q.Add(ctx, tj.Name, data, opts)
	if err != nil {
		return "", fmt.Errorf("workbench: enqueue %s/%s: %w", tj.Queue, tj.Name, err)
	}

	w.afterMutation(tj.Queue)
	w.logger.Info("test job enqueued", "queue", tj.Queue, "name", tj.Name, "id", job.ID)
	w.emit(&core.JobEnqueued{Job: job, Timestamp: w.now()})
	return job.ID, nil
}

// RetryJob moves a failed job back to waiting. It reports false when the
// queue or job does not exist.
func (w *Workbench) RetryJob(ctx context.Context, queue, id string) (bool, error) {
	return w.jobAction(ctx, bulk.ActionRetry, queue, id, core.Queue.Retry)
}

// RemoveJob deletes a job. It reports false when the queue or job does not
// exist.
func (w *Workbench) RemoveJob(ctx context.Context, queue, id string) (bool, error) {
	return w.jobAction(ctx, bulk.ActionDelete, queue, id, core.Queue.Remove)
}

// PromoteJob moves a delayed job to waiting. It reports false when the queue
// or job does not exist.
func (w *Workbench) PromoteJob(ctx context.Context, queue, id string) (bool, error) {
	return w.jobAction(ctx, bulk.ActionPromote, queue, id, core.Queue.Promote)
}

func (w *Workbench) jobAction(ctx context.Context, action, queue, id string, op func(core.Queue, context.Context, string) error) (bool, error) {
	if err := w.writable(); err != nil {
		return false, err
	}
	ref := core.JobRef{Queue: queue, ID: id}
	err := w.applyOne(ctx, ref, op)
	if err != nil && !bulk.IsMissing(err) {
		return false, err
	}

	ok := err == nil
	if ok {
		w.afterMutation(queue)
		w.logger.Info("job actioned", "action", action, "queue", queue, "id", id)
	}
	w.emit(&core.JobActioned{Action: action, Ref: ref, OK: ok, Timestamp: w.now()})
	return ok, nil
}

func (w *Workbench) applyOne(ctx context.Context, ref core.JobRef, op func(core.Queue, context.Context, string) error) error {
	q, err := w.reg.Queue(ref.Queue)
	if err != nil {
		return err
	}
	if _, err := q.Job(ctx, ref.ID); err != nil {
		return err
	}
	return op(q, ctx, ref.ID)
}

// BulkRetry retries every listed job independently.
func (w *Workbench) BulkRetry(ctx context.Context, refs []core.JobRef) (bulk.Result, error) {
	if err := w.writable(); err != nil {
		return bulk.Result{}, err
	}
	return w.bulk.Retry(ctx, refs)
}

// BulkDelete removes every listed job independently.
func (w *Workbench) BulkDelete(ctx context.Context, refs []core.JobRef) (bulk.Result, error) {
	if err := w.writable(); err != nil {
		return bulk.Result{}, err
	}
	return w.bulk.Delete(ctx, refs)
}

// BulkPromote promotes every listed job independently.
func (w *Workbench) BulkPromote(ctx context.Context, refs []core.JobRef) (bulk.Result, error) {
	if err := w.writable(); err != nil {
		return bulk.Result{}, err
	}
	return w.bulk.Promote(ctx, refs)
}

// Clean removes up to CleanLimit completed or failed jobs finished more
// than grace ago and returns how many were removed.
func (w *Workbench) Clean(ctx context.Context, queue string, status core.JobStatus, grace time.Duration) (int, error) {
	if err := w.writable(); err != nil {
		return 0, err
	}
	if !status.Terminal() {
		return 0, fmt.Errorf("%w: clean needs completed or failed, got %q", core.ErrInvalidStatus, status)
	}
	if grace < 0 {
		return 0, core.InvalidInputf("grace must not be negative")
	}
	q, err := w.reg.Queue(queue)
	if err != nil {
		return 0, err
	}
	removed, err := q.Clean(ctx, grace, CleanLimit, status)
	if err != nil {
		return 0, fmt.Errorf("workbench: clean %s: %w", queue, err)
	}

	w.afterMutation(queue)
	w.logger.Info("queue cleaned", "queue", queue, "status", status, "removed", len(removed))
	w.emit(&core.QueueCleaned{Queue: queue, Status: status, Removed: len(removed), Timestamp: w.now()})
	return len(removed), nil
}

// Pause stops the queue handing out jobs.
func (w *Workbench) Pause(ctx context.Context, queue string) error {
	if err := w.writable(); err != nil {
		return err
	}
	q, err := w.reg.Queue(queue)
	if err != nil {
		return err
	}
	if err := q.Pause(ctx); err != nil {
		return fmt.Errorf("workbench: pause %s: %w", queue, err)
	}
	w.afterMutation(queue)
	w.logger.Info("queue paused", "queue", queue)
	w.emit(&core.QueuePaused{Queue: queue, Timestamp: w.now()})
	return nil
}

// Resume lets a paused queue hand out jobs again.
func (w *Workbench) Resume(ctx context.Context, queue string) error {
	if err := w.writable(); err != nil {
		return err
	}
	q, err := w.reg.Queue(queue)
	if err != nil {
		return err
	}
	if err := q.Resume(ctx); err != nil {
		return fmt.Errorf("workbench: resume %s: %w", queue, err)
	}
	w.afterMutation(queue)
	w.logger.Info("queue resumed", "queue", queue)
	w.emit(&core.QueueResumed{Queue: queue, Timestamp: w.now()})
	return nil
}

// CreateFlow submits a parent job with its children atomically and returns
// the root job's id.
func (w *Workbench) CreateFlow(ctx context.Context, spec core.FlowSpec) (string, error) {
	if err := w.writable(); err != nil {
		return "", err
	}
	id, err := w.flows.Create(ctx, spec)
	if err != nil {
		return "", err
	}
	// Children may live on other queues.
	w.counts.Clear()
	w.afterMutation(spec.Queue)
	w.emit(&core.FlowCreated{Root: core.JobRef{Queue: spec.Queue, ID: id}, Timestamp: w.now()})
	return id, nil
}

// ValidateFlow checks spec without submitting it.
func ValidateFlow(spec core.FlowSpec) error {
	return flow.Validate(spec)
}
