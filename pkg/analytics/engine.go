// Package analytics computes the 24-hour metrics and 7-day activity views.
//
// Both views are cached as one unit and computed under a single hard
// timeout. A computation that times out is discarded; callers never see or
// cache a partial aggregate. Concurrent callers share one computation.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jdziat/queue-workbench/pkg/cache"
	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/registry"
	"github.com/jdziat/queue-workbench/pkg/scan"
	"github.com/jdziat/queue-workbench/pkg/state"
)

// Defaults.
const (
	DefaultTimeout     = 45 * time.Second
	DefaultMetricsTTL  = 5 * time.Minute
	DefaultActivityTTL = 5 * time.Minute

	// MetricsScanCap bounds the time scan per queue and status.
	MetricsScanCap = 100
	// ActivityScanCap bounds the activity scan per queue and status.
	ActivityScanCap = 500
)

const (
	metricsKey  = "metrics"
	activityKey = "activity"
)

// Engine computes and caches Metrics and Activity.
type Engine struct {
	reg     *registry.Registry
	counts  *state.CountCache
	scanner *scan.Scanner
	logger  *slog.Logger

	now         func() time.Time
	loc         *time.Location
	timeout     time.Duration
	metricsTTL  time.Duration
	activityTTL time.Duration

	cacheOpts []cache.Option
	metrics   *cache.Cache[*Metrics]
	activity  *cache.Cache[*Activity]
	flight    singleflight.Group
}

// Option configures an Engine.
type Option interface {
	apply(*Engine)
}

type optionFunc func(*Engine)

func (f optionFunc) apply(e *Engine) { f(e) }

// WithTimeout sets the hard computation timeout.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	})
}

// WithTTL sets how long metrics and activity stay cached.
func WithTTL(metrics, activity time.Duration) Option {
	return optionFunc(func(e *Engine) {
		if metrics > 0 {
			e.metricsTTL = metrics
		}
		if activity > 0 {
			e.activityTTL = activity
		}
	})
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(e *Engine) {
		e.now = now
	})
}

// WithLocation sets the zone whose midnight anchors the activity window.
func WithLocation(loc *time.Location) Option {
	return optionFunc(func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	})
}

// WithScanner shares a scanner with other engines.
func WithScanner(s *scan.Scanner) Option {
	return optionFunc(func(e *Engine) {
		if s != nil {
			e.scanner = s
		}
	})
}

// WithCacheOptions passes options to the result caches.
func WithCacheOptions(opts ...cache.Option) Option {
	return optionFunc(func(e *Engine) {
		e.cacheOpts = append(e.cacheOpts, opts...)
	})
}

// NewEngine creates an Engine. counts is used to skip queues with nothing
// finished.
func NewEngine(reg *registry.Registry, counts *state.CountCache, opts ...Option) *Engine {
	e := &Engine{
		reg:         reg,
		counts:      counts,
		logger:      slog.Default(),
		now:         time.Now,
		loc:         time.Local,
		timeout:     DefaultTimeout,
		metricsTTL:  DefaultMetricsTTL,
		activityTTL: DefaultActivityTTL,
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	if e.scanner == nil {
		e.scanner = scan.New(e.logger)
	}
	if e.counts == nil {
		e.counts = state.NewCountCache(0, e.cacheOpts...)
	}
	e.metrics = cache.New[*Metrics]("metrics", 1, e.cacheOpts...)
	e.activity = cache.New[*Activity]("activity", 1, e.cacheOpts...)
	return e
}

// Invalidate drops both cached views.
func (e *Engine) Invalidate() {
	e.InvalidateMetrics()
	e.InvalidateActivity()
}

// InvalidateMetrics drops the cached metrics.
func (e *Engine) InvalidateMetrics() {
	e.metrics.Clear("")
}

// InvalidateActivity drops the cached activity.
func (e *Engine) InvalidateActivity() {
	e.activity.Clear("")
}

// bounded runs fn under the engine timeout. The computation is detached from
// the caller's cancellation; only the timeout stops it.
func (e *Engine) bounded(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s exceeded %s", core.ErrComputationTimeout, name, e.timeout)
		}
		return r.v, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s exceeded %s", core.ErrComputationTimeout, name, e.timeout)
	}
}

// finishedQueues returns the queues whose counts show any completed or
// failed job, in registry order. Counts are read in parallel. Queues whose
// counts cannot be read are logged and skipped.
func (e *Engine) finishedQueues(ctx context.Context) []core.Queue {
	queues := e.reg.Queues()
	keep := make([]bool, len(queues))
	var g errgroup.Group
	for i, q := range queues {
		g.Go(func() error {
			c, err := e.counts.Get(ctx, q)
			if err != nil {
				e.logger.Warn("analytics: counts unavailable", "queue", q.Name(), "error", err)
				return nil
			}
			keep[i] = c.Completed+c.Failed > 0
			return nil
		})
	}
	_ = g.Wait()

	var out []core.Queue
	for i, q := range queues {
		if keep[i] {
			out = append(out, q)
		}
	}
	return out
}
