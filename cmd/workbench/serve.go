package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	workbench "github.com/jdziat/queue-workbench"
	"github.com/jdziat/queue-workbench/pkg/telemetry"
	"github.com/jdziat/queue-workbench/ui"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			wb, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer wb.Close()
			return a.serve(ctx, wb)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

// handler mounts the dashboard under the configured base path.
func (a *app) handler(wb *workbench.Workbench) http.Handler {
	opts := []ui.Option{
		ui.WithLogger(a.logger),
		ui.WithMetricsEndpoint(a.cfg.Telemetry.Metrics),
		ui.WithTitle(a.cfg.Server.Title),
	}
	if rl := a.cfg.Server.RateLimit; rl.PerSecond > 0 {
		opts = append(opts, ui.WithMutationRateLimit(rl.PerSecond, rl.Burst))
	}
	h := ui.Handler(wb, opts...)

	base := a.cfg.Server.BasePath
	if base == "" {
		return h
	}
	mux := http.NewServeMux()
	mux.Handle(base+"/", http.StripPrefix(base, h))
	mux.Handle(base, http.RedirectHandler(base+"/", http.StatusMovedPermanently))
	return mux
}

// serve runs the HTTP server until ctx is done, then shuts it down within
// the configured timeout. Request contexts derive from ctx so event streams
// end on shutdown.
func (a *app) serve(ctx context.Context, wb *workbench.Workbench) error {
	if endpoint := a.cfg.Telemetry.OTLPEndpoint; endpoint != "" {
		tp, err := telemetry.InitTracer(ctx, telemetry.TracingConfig{
			ServiceName: a.cfg.Telemetry.ServiceName,
			Endpoint:    endpoint,
			Insecure:    a.cfg.Telemetry.Insecure,
		})
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.handler(wb),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("workbench listening",
			"addr", srv.Addr,
			"base_path", a.cfg.Server.BasePath,
			"readonly", wb.ReadOnly(),
			"queues", len(wb.QueueNames()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", "timeout", a.cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
