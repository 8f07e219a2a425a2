package ui

import (
	"html/template"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	workbench "github.com/jdziat/queue-workbench"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
)

// Handler creates an http.Handler for the workbench dashboard.
//
// Usage:
//
//	mux.Handle("/workbench/", http.StripPrefix("/workbench", ui.Handler(wb)))
func Handler(wb *workbench.Workbench, opts ...Option) http.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(cfg)
	}

	api := &api{wb: wb, logger: cfg.logger}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/overview", api.overview)
	mux.HandleFunc("GET /api/counts", api.counts)
	mux.HandleFunc("GET /api/runs", api.runs)
	mux.HandleFunc("GET /api/schedulers", api.schedulers)
	mux.HandleFunc("GET /api/queue-names", api.queueNames)
	mux.HandleFunc("GET /api/queues", api.queues)
	mux.HandleFunc("GET /api/metrics", api.metrics)
	mux.HandleFunc("GET /api/activity", api.activity)
	mux.HandleFunc("GET /api/queues/{name}/jobs", api.queueJobs)
	mux.HandleFunc("GET /api/jobs/{queue}/{id}", api.job)
	mux.HandleFunc("GET /api/search", api.search)
	mux.HandleFunc("GET /api/tags/{field}/values", api.tagValues)
	mux.HandleFunc("GET /api/flows", api.flows)
	mux.HandleFunc("GET /api/flows/{queue}/{id}", api.flow)
	mux.HandleFunc("GET /api/events", api.events)
	mux.HandleFunc("GET /config", api.config)

	mux.HandleFunc("POST /api/refresh", api.refresh)
	mux.HandleFunc("POST /api/test", api.enqueueTest)
	mux.HandleFunc("POST /api/jobs/{queue}/{id}/{action}", api.jobAction)
	mux.HandleFunc("POST /api/queues/{name}/clean", api.clean)
	mux.HandleFunc("POST /api/queues/{name}/pause", api.pause)
	mux.HandleFunc("POST /api/queues/{name}/resume", api.resume)
	mux.HandleFunc("POST /api/bulk/{action}", api.bulk)
	mux.HandleFunc("POST /api/flows", api.createFlow)

	if cfg.metrics {
		mux.Handle("GET /metrics", telemetry.Handler())
	}

	page := template.Must(template.New("index").Parse(placeholderHTML))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = page.Execute(w, struct {
			Title    string
			ReadOnly bool
			Queues   []string
		}{cfg.title, wb.ReadOnly(), wb.QueueNames()})
	})

	var h http.Handler = mux
	if cfg.limit > 0 {
		h = rateLimit(h, cfg.limit, cfg.burst)
	}
	h = instrument(h, mux, cfg.logger)

	// Wrap with H2C for HTTP/2 over cleartext
	h = h2c.NewHandler(h, &http2.Server{})

	if cfg.middleware != nil {
		return cfg.middleware(h)
	}
	return h
}

const placeholderHTML = `<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: #f5f5f5;
        }
        .container {
            text-align: center;
            padding: 40px;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 { color: #333; margin-bottom: 16px; }
        p { color: #666; margin-bottom: 24px; }
        code {
            background: #f0f0f0;
            padding: 8px 16px;
            border-radius: 4px;
            display: block;
            margin-top: 16px;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <p>The dashboard frontend is not bundled with this build.</p>
        <p>{{len .Queues}} queue(s) registered{{if .ReadOnly}}, read-only{{end}}.</p>
        <code>GET /api/overview</code>
        <p style="margin-top: 24px; font-size: 14px;">
            Live actions stream from <a href="api/events">api/events</a>
        </p>
    </div>
</body>
</html>`
