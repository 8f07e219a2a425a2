package workbench

import (
	"log/slog"
	"time"

	"github.com/jdziat/queue-workbench/pkg/cache"
	"github.com/jdziat/queue-workbench/pkg/state"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

// DefaultOverviewTTL is how long the overview stays cached.
const DefaultOverviewTTL = 5 * time.Second

// Option configures a Workbench.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	readOnly  bool
	logger    *slog.Logger
	hooks     []func(Event)
	tagFields []string
	queues    []string

	countTTL    time.Duration
	stateTTL    time.Duration
	overviewTTL time.Duration
	metricsTTL  time.Duration
	activityTTL time.Duration
	flowTTL     time.Duration
	maxEntries  int

	metricsTimeout time.Duration
	now            func() time.Time
	loc            *time.Location
	observer       cache.Observer
}

func defaultConfig() *config {
	return &config{
		logger:      slog.Default(),
		countTTL:    state.CountsTTL,
		stateTTL:    state.StateTTL,
		overviewTTL: DefaultOverviewTTL,
		now:         time.Now,
		loc:         time.Local,
		observer:    telemetry.ObserveCache,
	}
}

func (c *config) cacheOptions() []cache.Option {
	opts := []cache.Option{cache.WithClock(c.now)}
	if c.observer != nil {
		opts = append(opts, cache.WithObserver(c.observer))
	}
	return opts
}

// WithReadOnly rejects every mutation with ErrReadOnly.
func WithReadOnly(readOnly bool) Option {
	return optionFunc(func(c *config) {
		c.readOnly = readOnly
	})
}

// WithLogger sets the logger shared by every engine.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithEventHook calls fn for every mutation event. fn runs on its own
// goroutine and must not block for long.
func WithEventHook(fn func(Event)) Option {
	return optionFunc(func(c *config) {
		if fn != nil {
			c.hooks = append(c.hooks, fn)
		}
	})
}

// WithTagFields sets the payload fields exposed as tags.
func WithTagFields(fields ...string) Option {
	return optionFunc(func(c *config) {
		c.tagFields = append([]string(nil), fields...)
	})
}

// WithQueues registers the named queues instead of discovering them.
func WithQueues(names ...string) Option {
	return optionFunc(func(c *config) {
		c.queues = append([]string(nil), names...)
	})
}

// WithCountTTL sets how long per-queue counts are cached.
func WithCountTTL(d time.Duration) Option {
	return optionFunc(func(c *config) {
		if d > 0 {
			c.countTTL = d
		}
	})
}

// WithStateTTL sets how long resolved job states are cached.
func WithStateTTL(d time.Duration) Option {
	return optionFunc(func(c *config) {
		if d > 0 {
			c.stateTTL = d
		}
	})
}

// WithOverviewTTL sets how long the overview is cached.
func WithOverviewTTL(d time.Duration) Option {
	return optionFunc(func(c *config) {
		if d > 0 {
			c.overviewTTL = d
		}
	})
}

// WithAnalyticsTTL sets how long metrics and activity are cached.
func WithAnalyticsTTL(metrics, activity time.Duration) Option {
	return optionFunc(func(c *config) {
		c.metricsTTL = metrics
		c.activityTTL = activity
	})
}

// WithFlowTTL sets how long the flows listing is cached.
func WithFlowTTL(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.flowTTL = d
	})
}

// WithMaxCacheEntries bounds the job state cache.
func WithMaxCacheEntries(n int) Option {
	return optionFunc(func(c *config) {
		c.maxEntries = n
	})
}

// WithMetricsTimeout sets the hard timeout for metrics and activity.
func WithMetricsTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.metricsTimeout = d
	})
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *config) {
		if now != nil {
			c.now = now
		}
	})
}

// WithLocation sets the zone whose midnight anchors daily views.
func WithLocation(loc *time.Location) Option {
	return optionFunc(func(c *config) {
		if loc != nil {
			c.loc = loc
		}
	})
}

// WithCacheObserver reports cache hits and misses. The default feeds the
// prometheus lookup counter; nil disables reporting.
func WithCacheObserver(obs cache.Observer) Option {
	return optionFunc(func(c *config) {
		c.observer = obs
	})
}
