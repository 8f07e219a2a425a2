package worker

import "context"

type jobContextKey struct{}

// jobContext is what a running handler can see about itself.
type jobContext struct {
	job   *Job
	queue string
}

func withJobContext(ctx context.Context, queue string, job *Job) context.Context {
	return context.WithValue(ctx, jobContextKey{}, &jobContext{job: job, queue: queue})
}

// JobFromContext returns the job being handled, or nil outside a handler.
func JobFromContext(ctx context.Context) *Job {
	if jc, ok := ctx.Value(jobContextKey{}).(*jobContext); ok {
		return jc.job
	}
	return nil
}

// JobIDFromContext returns the id of the job being handled, or "".
func JobIDFromContext(ctx context.Context) string {
	if job := JobFromContext(ctx); job != nil {
		return job.ID
	}
	return ""
}

// QueueFromContext returns the queue the running job was taken from.
func QueueFromContext(ctx context.Context) string {
	if jc, ok := ctx.Value(jobContextKey{}).(*jobContext); ok {
		return jc.queue
	}
	return ""
}
