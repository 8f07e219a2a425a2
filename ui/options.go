// Package ui serves the workbench over HTTP: a JSON API under /api, a
// server-sent event stream of operator actions, the prometheus endpoint and
// a placeholder page.
package ui

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// Option configures the UI handler.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	middleware func(http.Handler) http.Handler
	logger     *slog.Logger
	metrics    bool
	limit      rate.Limit
	burst      int
	title      string
}

func defaultConfig() *config {
	return &config{
		logger:  slog.Default(),
		metrics: true,
		title:   "Queue Workbench",
	}
}

// WithMiddleware wraps the handler with middleware (auth, etc.).
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return optionFunc(func(c *config) {
		c.middleware = mw
	})
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithMetricsEndpoint toggles the /metrics prometheus endpoint. Default: on.
func WithMetricsEndpoint(enabled bool) Option {
	return optionFunc(func(c *config) {
		c.metrics = enabled
	})
}

// WithMutationRateLimit limits POST requests to perSecond with the given
// burst. Excess requests get 429. Zero disables limiting.
func WithMutationRateLimit(perSecond float64, burst int) Option {
	return optionFunc(func(c *config) {
		c.limit = rate.Limit(perSecond)
		c.burst = max(burst, 1)
	})
}

// WithTitle sets the placeholder page title.
func WithTitle(title string) Option {
	return optionFunc(func(c *config) {
		if title != "" {
			c.title = title
		}
	})
}
