// Package bulk applies retry, delete and promote to many jobs at once.
//
// Every (queue, id) pair is handled on its own. A failure for one pair is
// counted and never aborts or rolls back the others. Once the batch is done
// the count cache of every touched queue is dropped and the registered
// invalidators run.
package bulk

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/registry"
	"github.com/jdziat/queue-workbench/pkg/state"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

// Action names.
const (
	ActionRetry   = "retry"
	ActionDelete  = "delete"
	ActionPromote = "promote"
)

// MaxConcurrency bounds in-flight pair operations per batch.
const MaxConcurrency = 32

// Result reports how many pairs succeeded and failed.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Invalidator drops a derived view after a mutation.
type Invalidator func()

// Executor runs bulk mutations.
type Executor struct {
	reg          *registry.Registry
	counts       *state.CountCache
	resolver     *state.Resolver
	logger       *slog.Logger
	invalidators []Invalidator
	onApplied    func(core.Event)
}

// New creates an Executor. counts and resolver may be nil.
func New(reg *registry.Registry, counts *state.CountCache, resolver *state.Resolver, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{reg: reg, counts: counts, resolver: resolver, logger: logger}
}

// OnInvalidate registers fn to run after every batch.
func (x *Executor) OnInvalidate(fn Invalidator) {
	x.invalidators = append(x.invalidators, fn)
}

// OnApplied sets a hook that receives a core.BulkApplied per batch.
func (x *Executor) OnApplied(fn func(core.Event)) {
	x.onApplied = fn
}

// Retry moves failed jobs back to waiting.
func (x *Executor) Retry(ctx context.Context, refs []core.JobRef) (Result, error) {
	return x.apply(ctx, ActionRetry, refs, core.Queue.Retry)
}

// Delete removes jobs.
func (x *Executor) Delete(ctx context.Context, refs []core.JobRef) (Result, error) {
	return x.apply(ctx, ActionDelete, refs, core.Queue.Remove)
}

// Promote moves delayed jobs to waiting.
func (x *Executor) Promote(ctx context.Context, refs []core.JobRef) (Result, error) {
	return x.apply(ctx, ActionPromote, refs, core.Queue.Promote)
}

func (x *Executor) apply(ctx context.Context, action string, refs []core.JobRef, op func(core.Queue, context.Context, string) error) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "bulk."+action, attribute.Int("jobs", len(refs)))
	defer span.End()

	var (
		success, failed atomic.Int64
		touched         = make(map[string]struct{})
		g               errgroup.Group
	)
	g.SetLimit(MaxConcurrency)
	for _, ref := range refs {
		touched[ref.Queue] = struct{}{}
		g.Go(func() error {
			err := x.one(ctx, ref, op)
			if err != nil {
				failed.Add(1)
				x.logger.Debug("bulk: job failed", "action", action, "queue", ref.Queue, "id", ref.ID, "error", err)
				telemetry.BulkOutcomes.WithLabelValues(action, "failed").Inc()
				return nil
			}
			success.Add(1)
			telemetry.BulkOutcomes.WithLabelValues(action, "success").Inc()
			return nil
		})
	}
	_ = g.Wait()

	for q := range touched {
		if x.counts != nil {
			x.counts.Invalidate(q)
		}
		if x.resolver != nil {
			x.resolver.ForgetQueue(q)
		}
	}
	for _, inv := range x.invalidators {
		inv()
	}

	res := Result{Success: int(success.Load()), Failed: int(failed.Load())}
	x.logger.Info("bulk applied", "action", action, "success", res.Success, "failed", res.Failed)
	if x.onApplied != nil {
		x.onApplied(&core.BulkApplied{Action: action, Success: res.Success, Failed: res.Failed, Timestamp: time.Now()})
	}
	return res, nil
}

// one applies op to a single pair after checking the job exists.
func (x *Executor) one(ctx context.Context, ref core.JobRef, op func(core.Queue, context.Context, string) error) error {
	if ref.Queue == "" || ref.ID == "" {
		return core.InvalidInputf("queueName and jobId are required")
	}
	q, err := x.reg.Queue(ref.Queue)
	if err != nil {
		return err
	}
	if _, err := q.Job(ctx, ref.ID); err != nil {
		return err
	}
	return op(q, ctx, ref.ID)
}

// IsMissing reports whether err means the queue or job does not exist.
func IsMissing(err error) bool {
	return errors.Is(err, core.ErrQueueNotFound) || errors.Is(err, core.ErrJobNotFound)
}
