package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jdziat/queue-workbench/pkg/core"
)

// Job is the unit handed to handlers.
type Job = core.Job

// Source is a queue that hands out work.
type Source interface {
	Name() string
	// Take moves the next waiting job to active. It returns nil when the
	// queue is paused or empty.
	Take(ctx context.Context) (*core.Job, error)
	Complete(ctx context.Context, id string, result json.RawMessage) error
	Fail(ctx context.Context, id string, reason string) error
}

// Handler processes one job. The returned value is stored as the job's
// return value.
type Handler func(ctx context.Context, job *Job) (json.RawMessage, error)

// Worker processes jobs from one or more sources.
type Worker struct {
	config Config
	wg     sync.WaitGroup
}

// New creates a worker. Add queues with WithQueue and handlers with
// WithHandler.
func New(opts ...Option) *Worker {
	config := defaultConfig()
	for _, opt := range opts {
		opt.apply(&config)
	}
	return &Worker{config: config}
}

// Start begins processing jobs. Blocks until ctx is cancelled and every
// in-flight job has finished.
func (w *Worker) Start(ctx context.Context) error {
	if len(w.config.Queues) == 0 {
		return errors.New("worker: no queues configured")
	}

	var dispatchers sync.WaitGroup
	for _, qc := range w.config.Queues {
		jobs := make(chan *core.Job, qc.Concurrency)
		for i := 0; i < qc.Concurrency; i++ {
			w.wg.Add(1)
			go w.processLoop(ctx, qc.Source, jobs)
		}
		dispatchers.Add(1)
		go func(src Source) {
			defer dispatchers.Done()
			defer close(jobs)
			w.dispatch(ctx, src, jobs)
		}(qc.Source)
	}

	dispatchers.Wait()
	w.wg.Wait()
	return ctx.Err()
}

// dispatch polls src and feeds jobs until ctx is done. A queue that just
// produced a job is polled again immediately.
func (w *Worker) dispatch(ctx context.Context, src Source, jobs chan<- *core.Job) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		job, err := w.takeWithRetry(ctx, src)
		if err != nil && ctx.Err() == nil {
			w.config.Logger.Error("failed to take job after retries", "queue", src.Name(), "error", err)
		}
		if job != nil {
			select {
			case jobs <- job:
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) takeWithRetry(ctx context.Context, src Source) (*core.Job, error) {
	var job *core.Job
	err := retryWithBackoff(ctx, w.config.TakeRetry, func() error {
		var takeErr error
		job, takeErr = src.Take(ctx)
		return takeErr
	})
	return job, err
}

func (w *Worker) processLoop(ctx context.Context, src Source, jobs <-chan *core.Job) {
	defer w.wg.Done()
	for job := range jobs {
		w.processJob(ctx, src, job)
	}
}

func (w *Worker) processJob(ctx context.Context, src Source, job *core.Job) {
	logger := w.config.Logger.With("queue", src.Name(), "job_id", job.ID, "name", job.Name)

	h, ok := w.config.Handlers[job.Name]
	if !ok {
		err := fmt.Errorf("no handler for %s", job.Name)
		logger.Error("no handler for job")
		w.fail(ctx, src, job, err)
		return
	}

	start := time.Now()
	result, err := w.execute(withJobContext(ctx, src.Name(), job), job, h)
	if err != nil {
		logger.Warn("job failed", "error", err, "duration", time.Since(start))
		w.fail(ctx, src, job, err)
		return
	}

	// Finishing uses a fresh context so a shutdown does not strand the job
	// in active.
	finishCtx := context.WithoutCancel(ctx)
	if err := retryWithBackoff(finishCtx, w.config.StorageRetry, func() error {
		return src.Complete(finishCtx, job.ID, result)
	}); err != nil {
		logger.Error("failed to complete job after retries", "error", err)
		return
	}
	logger.Debug("job completed", "duration", time.Since(start))
	w.finished(job, nil)
}

func (w *Worker) execute(ctx context.Context, job *core.Job, h Handler) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (w *Worker) fail(ctx context.Context, src Source, job *core.Job, cause error) {
	finishCtx := context.WithoutCancel(ctx)
	err := retryWithBackoff(finishCtx, w.config.StorageRetry, func() error {
		return src.Fail(finishCtx, job.ID, cause.Error())
	})
	if err != nil {
		w.config.Logger.Error("failed to mark job as failed after retries", "queue", src.Name(), "job_id", job.ID, "error", err)
		return
	}
	w.finished(job, cause)
}

func (w *Worker) finished(job *core.Job, err error) {
	if w.config.OnFinish != nil {
		w.config.OnFinish(job, err)
	}
}
