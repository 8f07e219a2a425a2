package main

import (
	"context"
	"fmt"
	"log/slog"

	workbench "github.com/jdziat/queue-workbench"
	"github.com/jdziat/queue-workbench/pkg/config"
	"github.com/jdziat/queue-workbench/pkg/core"
	"github.com/jdziat/queue-workbench/pkg/storage"
)

// openBackend opens the binding named by cfg.Driver.
func openBackend(ctx context.Context, cfg config.BackendConfig) (core.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		b := storage.NewMemoryBackend()
		for _, name := range cfg.Queues {
			b.MemoryQueue(name)
		}
		return b, nil
	case config.DriverSQLite, config.DriverPostgres:
		return storage.OpenGorm(ctx, cfg.Driver, cfg.DSN, cfg.Pool.PoolOptions()...)
	case config.DriverRedis:
		var opts []storage.RedisOption
		if cfg.Prefix != "" {
			opts = append(opts, storage.WithRedisPrefix(cfg.Prefix))
		}
		return storage.OpenRedis(ctx, cfg.RedisURL, opts...)
	default:
		return nil, fmt.Errorf("unknown backend driver %q", cfg.Driver)
	}
}

// workbenchOptions maps configuration onto workbench options.
func workbenchOptions(cfg *config.Config, logger *slog.Logger) []workbench.Option {
	opts := []workbench.Option{
		workbench.WithLogger(logger),
		workbench.WithReadOnly(cfg.Server.ReadOnly),
		workbench.WithTagFields(cfg.Tags.Fields...),
		workbench.WithCountTTL(cfg.Cache.CountTTL),
		workbench.WithStateTTL(cfg.Cache.StateTTL),
		workbench.WithOverviewTTL(cfg.Cache.OverviewTTL),
		workbench.WithAnalyticsTTL(cfg.Cache.MetricsTTL, cfg.Cache.ActivityTTL),
		workbench.WithFlowTTL(cfg.Cache.FlowTTL),
		workbench.WithMaxCacheEntries(cfg.Cache.MaxEntries),
		workbench.WithMetricsTimeout(cfg.Cache.MetricsTimeout),
	}
	if len(cfg.Backend.Queues) > 0 {
		opts = append(opts, workbench.WithQueues(cfg.Backend.Queues...))
	}
	if !cfg.Telemetry.Metrics {
		opts = append(opts, workbench.WithCacheObserver(nil))
	}
	return opts
}
