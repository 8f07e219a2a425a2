// Package config loads workbench settings from a YAML file, WORKBENCH_*
// environment variables and defaults.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jdziat/queue-workbench/pkg/storage"
)

// EnvPrefix is prepended to every environment override. A key such as
// server.addr is read from WORKBENCH_SERVER_ADDR.
const EnvPrefix = "WORKBENCH"

// Supported backend drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the full workbench configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Tags      TagsConfig      `mapstructure:"tags"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string          `mapstructure:"addr"`
	ReadOnly        bool            `mapstructure:"readonly"`
	BasePath        string          `mapstructure:"base_path"`
	Title           string          `mapstructure:"title"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits mutating requests. Zero disables the limiter.
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// BackendConfig selects and opens the queue backend.
type BackendConfig struct {
	Driver   string     `mapstructure:"driver"` // memory | sqlite | postgres | redis
	DSN      string     `mapstructure:"dsn"`
	RedisURL string     `mapstructure:"redis_url"`
	Prefix   string     `mapstructure:"prefix"` // redis key prefix
	Queues   []string   `mapstructure:"queues"` // empty means discover
	Pool     PoolConfig `mapstructure:"pool"`
}

// PoolConfig sizes the SQL connection pool.
type PoolConfig struct {
	Profile         string        `mapstructure:"profile"` // default | dashboard | constrained
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// TagsConfig lists the payload fields exposed as tags.
type TagsConfig struct {
	Fields []string `mapstructure:"fields"`
}

// CacheConfig holds per-view TTLs and the cache size bound.
type CacheConfig struct {
	CountTTL       time.Duration `mapstructure:"count_ttl"`
	StateTTL       time.Duration `mapstructure:"state_ttl"`
	OverviewTTL    time.Duration `mapstructure:"overview_ttl"`
	MetricsTTL     time.Duration `mapstructure:"metrics_ttl"`
	ActivityTTL    time.Duration `mapstructure:"activity_ttl"`
	FlowTTL        time.Duration `mapstructure:"flow_ttl"`
	MetricsTimeout time.Duration `mapstructure:"metrics_timeout"`
	MaxEntries     int           `mapstructure:"max_entries"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
	File   string `mapstructure:"file"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	Metrics      bool   `mapstructure:"metrics"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"` // empty disables tracing
	Insecure     bool   `mapstructure:"insecure"`
	ServiceName  string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.readonly", false)
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.title", "Queue Workbench")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit.per_second", 0)
	v.SetDefault("server.rate_limit.burst", 10)

	v.SetDefault("backend.driver", DriverMemory)
	v.SetDefault("backend.dsn", "")
	v.SetDefault("backend.redis_url", "redis://localhost:6379/0")
	v.SetDefault("backend.prefix", "wb")
	v.SetDefault("backend.queues", []string{})
	v.SetDefault("backend.pool.profile", "dashboard")
	v.SetDefault("backend.pool.max_open_conns", 0)
	v.SetDefault("backend.pool.max_idle_conns", 0)
	v.SetDefault("backend.pool.conn_max_lifetime", time.Duration(0))
	v.SetDefault("backend.pool.conn_max_idle_time", time.Duration(0))

	v.SetDefault("tags.fields", []string{})

	v.SetDefault("cache.count_ttl", 5*time.Second)
	v.SetDefault("cache.state_ttl", 5*time.Second)
	v.SetDefault("cache.overview_ttl", 5*time.Second)
	v.SetDefault("cache.metrics_ttl", 60*time.Second)
	v.SetDefault("cache.activity_ttl", 5*time.Minute)
	v.SetDefault("cache.flow_ttl", 10*time.Second)
	v.SetDefault("cache.metrics_timeout", 30*time.Second)
	v.SetDefault("cache.max_entries", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("telemetry.metrics", true)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.service_name", "queue-workbench")
}

// Load reads path (optional) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Backend.DSN == "" {
			return fmt.Errorf("config: backend.dsn is required for driver %q", c.Backend.Driver)
		}
	case DriverRedis:
		if c.Backend.RedisURL == "" {
			return fmt.Errorf("config: backend.redis_url is required for driver %q", c.Backend.Driver)
		}
	default:
		return fmt.Errorf("config: unknown backend.driver %q", c.Backend.Driver)
	}

	if !slices.Contains([]string{"default", "dashboard", "constrained"}, c.Backend.Pool.Profile) {
		return fmt.Errorf("config: unknown backend.pool.profile %q", c.Backend.Pool.Profile)
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return fmt.Errorf("config: log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Server.RateLimit.PerSecond < 0 {
		return fmt.Errorf("config: server.rate_limit.per_second must not be negative")
	}
	if c.Server.BasePath != "" && (!strings.HasPrefix(c.Server.BasePath, "/") || strings.HasSuffix(c.Server.BasePath, "/")) {
		return fmt.Errorf("config: server.base_path %q must start with / and not end with /", c.Server.BasePath)
	}
	return nil
}

// PoolOptions converts the pool section into storage options. Explicit
// sizes override the profile.
func (p PoolConfig) PoolOptions() []storage.PoolOption {
	var opts []storage.PoolOption
	switch p.Profile {
	case "dashboard":
		opts = append(opts, storage.WithPoolConfig(storage.DashboardPoolConfig()))
	case "constrained":
		opts = append(opts, storage.WithPoolConfig(storage.ResourceConstrainedPoolConfig()))
	}
	if p.MaxOpenConns > 0 {
		opts = append(opts, storage.MaxOpenConns(p.MaxOpenConns))
	}
	if p.MaxIdleConns > 0 {
		opts = append(opts, storage.MaxIdleConns(p.MaxIdleConns))
	}
	if p.ConnMaxLifetime > 0 {
		opts = append(opts, storage.ConnMaxLifetime(p.ConnMaxLifetime))
	}
	if p.ConnMaxIdleTime > 0 {
		opts = append(opts, storage.ConnMaxIdleTime(p.ConnMaxIdleTime))
	}
	return opts
}
