// Package telemetry provides the prometheus collectors and OpenTelemetry
// tracing used across the workbench.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every workbench collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CacheLookups, ScanFallbacks, BulkOutcomes,
		EngineDuration, HTTPRequests, HTTPDuration,
	)
}

// CacheLookups counts cache hits and misses per typed cache.
var CacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "workbench",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by cache and result.",
	},
	[]string{"cache", "result"}, // hit | miss
)

// ScanFallbacks counts time-range scans served by the linear fallback.
var ScanFallbacks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "workbench",
		Name:      "scan_fallbacks_total",
		Help:      "Time-range scans that used the fetch-and-filter fallback.",
	},
	[]string{"status", "reason"}, // unsupported | error
)

// BulkOutcomes counts per-item results of bulk mutations.
var BulkOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "workbench",
		Name:      "bulk_items_total",
		Help:      "Bulk mutation items by action and outcome.",
	},
	[]string{"action", "outcome"}, // success | failed
)

// EngineDuration observes how long uncached engine computations take.
var EngineDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "workbench",
		Name:      "engine_duration_seconds",
		Help:      "Duration of uncached engine computations.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"engine"},
)

// HTTPRequests counts API requests by route pattern and status code.
var HTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "workbench",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	},
	[]string{"route", "code"},
)

// HTTPDuration observes API latency by route pattern.
var HTTPDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "workbench",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"route"},
)

// ObserveCache is a cache.Observer feeding CacheLookups.
func ObserveCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveEngine records the duration since start for engine.
func ObserveEngine(engine string, start time.Time) {
	EngineDuration.WithLabelValues(engine).Observe(time.Since(start).Seconds())
}

// Handler serves Registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
