package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	workbench "github.com/jdziat/queue-workbench"
	"github.com/jdziat/queue-workbench/pkg/config"
	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/logging"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfgPath  string
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error

	// backend overrides the configured backend. Tests and the demo set it.
	backend core.Backend
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "workbench",
		Short:         "Inspect and operate job queues",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newServeCmd(a),
		newOverviewCmd(a),
		newCleanCmd(a),
		newRetryFailedCmd(a),
		newDemoCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg, a.logger, a.closeLog = cfg, logger, closeLog
	return nil
}

// open builds the workbench over the configured backend. Closing the
// workbench closes the backend.
func (a *app) open(ctx context.Context) (*workbench.Workbench, error) {
	backend := a.backend
	if backend == nil {
		var err error
		if backend, err = openBackend(ctx, a.cfg.Backend); err != nil {
			return nil, err
		}
	}
	wb, err := workbench.New(ctx, backend, workbenchOptions(a.cfg, a.logger)...)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("open workbench: %w", err)
	}
	return wb, nil
}
