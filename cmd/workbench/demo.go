package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	workbench "github.com/jdziat/queue-workbench"
	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/storage"
	"github.com/jdziat/queue-workbench/pkg/worker"
)

// demoQueues maps each demo queue to the job names enqueued on it.
var demoQueues = map[string][]string{
	"emails":  {"send-welcome", "send-receipt"},
	"reports": {"build-report"},
	"billing": {"charge-card", "refund"},
}

var demoTenants = []string{"acme", "globex", "initech"}

func newDemoCmd(a *app) *cobra.Command {
	var (
		addr     string
		interval time.Duration
		failRate float64
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Serve the dashboard over an in-memory backend with a live workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if failRate < 0 || failRate > 1 {
				return fmt.Errorf("--fail-rate must be within [0, 1]")
			}
			if len(a.cfg.Tags.Fields) == 0 {
				a.cfg.Tags.Fields = []string{"tenant"}
			}
			a.cfg.Backend.Queues = nil

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend := storage.NewMemoryBackend()
			sources := make([]worker.Option, 0, len(demoQueues))
			for name := range demoQueues {
				sources = append(sources, worker.WithQueue(backend.MemoryQueue(name), 2))
			}
			seedDemo(backend)
			a.backend = backend

			wb, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer wb.Close()

			w := worker.New(append(sources, demoHandlers(failRate)...)...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return ignoreCanceled(w.Start(gctx)) })
			if !wb.ReadOnly() {
				g.Go(func() error { return ignoreCanceled(generate(gctx, wb, interval)) })
			}
			g.Go(func() error { return a.serve(gctx, wb) })
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "time between generated jobs")
	cmd.Flags().Float64Var(&failRate, "fail-rate", 0.2, "fraction of jobs that fail")
	return cmd
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// seedDemo adds history so the metrics and activity views have data from
// the start: finished jobs over the past week, a repeatable and a flow.
func seedDemo(b *storage.MemoryBackend) {
	now := time.Now()
	rng := rand.New(rand.NewSource(now.UnixNano()))
	for name, jobNames := range demoQueues {
		q := b.MemoryQueue(name)
		for i := 0; i < 60; i++ {
			created := now.Add(-time.Duration(rng.Intn(7*24)) * time.Hour).Add(-time.Duration(rng.Intn(3600)) * time.Second)
			processed := created.Add(time.Duration(rng.Intn(30)) * time.Second)
			finished := processed.Add(time.Duration(50+rng.Intn(2000)) * time.Millisecond)
			job := core.Job{
				Name:         jobNames[rng.Intn(len(jobNames))],
				Data:         demoPayload(rng),
				CreatedAt:    created,
				ProcessedAt:  &processed,
				FinishedAt:   &finished,
				AttemptsMade: 1,
				Status:       core.StatusCompleted,
			}
			if rng.Intn(6) == 0 {
				job.Status = core.StatusFailed
				job.FailureReason = "upstream returned 503"
			}
			q.Put(&job)
		}
	}

	b.MemoryQueue("reports").AddRepeatable(core.RepeatableJob{
		Key:     "nightly-report",
		Name:    "build-report",
		Queue:   "reports",
		Pattern: "0 2 * * *",
		TZ:      "UTC",
	})
	_, _ = b.AddFlow(context.Background(), core.FlowSpec{
		Name:  "month-end",
		Queue: "billing",
		Children: []core.FlowSpec{
			{Name: "charge-card", Queue: "billing", Data: json.RawMessage(`{"tenant":"acme"}`)},
			{Name: "build-report", Queue: "reports", Data: json.RawMessage(`{"tenant":"acme"}`)},
		},
	})
}

// demoJob is the payload every demo job carries.
type demoJob struct {
	Tenant string `json:"tenant"`
	Amount int    `json:"amount"`
}

func demoPayload(rng *rand.Rand) json.RawMessage {
	data, _ := json.Marshal(demoJob{
		Tenant: demoTenants[rng.Intn(len(demoTenants))],
		Amount: rng.Intn(10000),
	})
	return data
}

// demoHandlers registers a handler per demo job name that sleeps briefly
// and fails at failRate.
func demoHandlers(failRate float64) []worker.Option {
	var opts []worker.Option
	for _, names := range demoQueues {
		for _, name := range names {
			h := worker.MustFunc(func(ctx context.Context, job demoJob) (map[string]any, error) {
				select {
				case <-time.After(time.Duration(50+rand.Intn(400)) * time.Millisecond):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				if rand.Float64() < failRate {
					return nil, fmt.Errorf("%s for %s: upstream returned 503", name, job.Tenant)
				}
				return map[string]any{"ok": true, "tenant": job.Tenant, "job_id": worker.JobIDFromContext(ctx)}, nil
			})
			opts = append(opts, worker.WithHandler(name, h))
		}
	}
	return opts
}

// generate enqueues a random demo job every interval.
func generate(ctx context.Context, wb *workbench.Workbench, interval time.Duration) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	queues := wb.QueueNames()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		queue := queues[rng.Intn(len(queues))]
		names := demoQueues[queue]
		job := workbench.TestJob{
			Queue: queue,
			Name:  names[rng.Intn(len(names))],
			Data:  demoPayload(rng),
		}
		if rng.Intn(5) == 0 {
			job.Opts.Delay = time.Duration(1+rng.Intn(30)) * time.Second
		}
		if _, err := wb.EnqueueTestJob(ctx, job); err != nil && ctx.Err() == nil {
			return fmt.Errorf("enqueue demo job: %w", err)
		}
	}
}
