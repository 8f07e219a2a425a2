package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/queue-workbench/pkg/storage"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverMemory, cfg.Backend.Driver)
	assert.Equal(t, "wb", cfg.Backend.Prefix)
	assert.Equal(t, 5*time.Second, cfg.Cache.CountTTL)
	assert.Equal(t, time.Minute, cfg.Cache.MetricsTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ActivityTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.Telemetry.Metrics)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
  readonly: true
  base_path: /workbench
  shutdown_timeout: 3s
  rate_limit:
    per_second: 5
    burst: 2
backend:
  driver: sqlite
  dsn: "file:wb.db"
  queues: [emails, reports]
  pool:
    profile: constrained
    max_open_conns: 4
tags:
  fields: [tenant, region]
cache:
  metrics_ttl: 2m
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.True(t, cfg.Server.ReadOnly)
	assert.Equal(t, "/workbench", cfg.Server.BasePath)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5.0, cfg.Server.RateLimit.PerSecond)
	assert.Equal(t, 2, cfg.Server.RateLimit.Burst)
	assert.Equal(t, DriverSQLite, cfg.Backend.Driver)
	assert.Equal(t, []string{"emails", "reports"}, cfg.Backend.Queues)
	assert.Equal(t, []string{"tenant", "region"}, cfg.Tags.Fields)
	assert.Equal(t, 2*time.Minute, cfg.Cache.MetricsTTL)
	assert.Equal(t, 5*time.Second, cfg.Cache.StateTTL, "unset keys keep defaults")
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
`)
	t.Setenv("WORKBENCH_SERVER_ADDR", ":9999")
	t.Setenv("WORKBENCH_SERVER_READONLY", "true")
	t.Setenv("WORKBENCH_LOG_LEVEL", "warn")
	t.Setenv("WORKBENCH_CACHE_COUNT_TTL", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.True(t, cfg.Server.ReadOnly)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 750*time.Millisecond, cfg.Cache.CountTTL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown driver", func(c *Config) { c.Backend.Driver = "mongo" }, false},
		{"sqlite without dsn", func(c *Config) { c.Backend.Driver = DriverSQLite }, false},
		{"postgres with dsn", func(c *Config) { c.Backend.Driver = DriverPostgres; c.Backend.DSN = "host=db" }, true},
		{"redis without url", func(c *Config) { c.Backend.Driver = DriverRedis; c.Backend.RedisURL = "" }, false},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, false},
		{"bad pool profile", func(c *Config) { c.Backend.Pool.Profile = "huge" }, false},
		{"negative rate", func(c *Config) { c.Server.RateLimit.PerSecond = -1 }, false},
		{"base path without slash", func(c *Config) { c.Server.BasePath = "wb" }, false},
		{"base path trailing slash", func(c *Config) { c.Server.BasePath = "/wb/" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Pool
// ---------------------------------------------------------------------------

func TestPoolOptions(t *testing.T) {
	got := storage.ResolvePool(PoolConfig{Profile: "default"}.PoolOptions()...)
	assert.Equal(t, storage.DefaultPoolConfig(), got)

	got = storage.ResolvePool(PoolConfig{Profile: "dashboard"}.PoolOptions()...)
	assert.Equal(t, storage.DashboardPoolConfig(), got)

	got = storage.ResolvePool(PoolConfig{Profile: "constrained", MaxOpenConns: 4, ConnMaxIdleTime: time.Second}.PoolOptions()...)
	assert.Equal(t, 4, got.MaxOpenConns)
	assert.Equal(t, storage.ResourceConstrainedPoolConfig().MaxIdleConns, got.MaxIdleConns)
	assert.Equal(t, time.Second, got.ConnMaxIdleTime)
}
