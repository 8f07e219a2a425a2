package worker

import (
	"log/slog"
	"time"
)

// MaxConcurrency bounds the goroutines started per queue.
const MaxConcurrency = 64

// Option configures a Worker.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// Config holds worker configuration.
type Config struct {
	Queues       []QueueConfig
	Handlers     map[string]Handler
	PollInterval time.Duration
	Logger       *slog.Logger
	OnFinish     func(job *Job, err error)

	// StorageRetry applies to Complete and Fail.
	StorageRetry RetryConfig
	// TakeRetry applies to Take. It backs off longer to avoid hammering a
	// backend that is down.
	TakeRetry RetryConfig
}

// QueueConfig is one source and its concurrency.
type QueueConfig struct {
	Source      Source
	Concurrency int
}

func defaultConfig() Config {
	return Config{
		Handlers:     make(map[string]Handler),
		PollInterval: 100 * time.Millisecond,
		Logger:       slog.Default(),
		StorageRetry: DefaultRetryConfig(),
		TakeRetry: RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			JitterFraction:    0.2,
		},
	}
}

func clampConcurrency(n int) int {
	return min(max(n, 1), MaxConcurrency)
}

// WithQueue adds a source processed by concurrency goroutines, clamped to
// [1, MaxConcurrency].
func WithQueue(src Source, concurrency int) Option {
	return optionFunc(func(c *Config) {
		c.Queues = append(c.Queues, QueueConfig{Source: src, Concurrency: clampConcurrency(concurrency)})
	})
}

// WithHandler registers the handler for jobs named name.
func WithHandler(name string, h Handler) Option {
	return optionFunc(func(c *Config) {
		c.Handlers[name] = h
	})
}

// WithPollInterval sets how often an idle queue is polled.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithOnFinish registers a callback run after each job is completed or
// failed. err is the handler error.
func WithOnFinish(fn func(job *Job, err error)) Option {
	return optionFunc(func(c *Config) {
		c.OnFinish = fn
	})
}

// WithStorageRetry configures retry for Complete and Fail.
func WithStorageRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry = cfg
	})
}

// WithTakeRetry configures retry for Take.
func WithTakeRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.TakeRetry = cfg
	})
}

// DisableRetry makes every storage call a single attempt.
func DisableRetry() Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry = RetryConfig{MaxAttempts: 1}
		c.TakeRetry = RetryConfig{MaxAttempts: 1}
	})
}
