// Package config holds the typed gateway configuration. Values come from
// gatewarden.yaml and GATEWARDEN_* environment variables through viper; this
// package owns the defaults and the validation, so every command sees the
// same effective configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root of the effective configuration tree.
type Config struct {
	Server  Server  `mapstructure:"server"`
	Store   Store   `mapstructure:"store"`
	Auth    Auth    `mapstructure:"auth"`
	Quota   Quota   `mapstructure:"quota"`
	IPLimit IPLimit `mapstructure:"ip_limit"`
	Usage   Usage   `mapstructure:"usage"`
	Purge   Purge   `mapstructure:"purge"`
	Log     Log     `mapstructure:"log"`
	MCP     MCP     `mapstructure:"mcp"`
}

// Server configures the HTTP listener.
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
}

// Store configures the key/audit database.
type Store struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	DataDir string `mapstructure:"data_dir"` // sqlite only

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// Auth configures credential hashing, session tokens, and the signed-caller
// path. The secrets have no defaults; serve falls back to dev values with a
// loud warning.
type Auth struct {
	KeyPepper     string `mapstructure:"key_pepper"`
	SessionSecret string `mapstructure:"session_secret"`
	SigningSecret string `mapstructure:"signing_secret"`
	SignedService string `mapstructure:"signed_service"`

	SessionTTL time.Duration `mapstructure:"session_ttl"`

	HashTime          uint32 `mapstructure:"hash_time"`
	HashMemoryKiB     uint32 `mapstructure:"hash_memory_kib"`
	HashThreads       uint8  `mapstructure:"hash_threads"`
	VerifyConcurrency int    `mapstructure:"verify_concurrency"`
}

// Quota configures the per-tier request ceilings. The tier tables map tier
// name to requests per window; zero or missing means unthrottled.
type Quota struct {
	Backend string         `mapstructure:"backend"` // memory or redis
	Window  time.Duration  `mapstructure:"window"`
	General map[string]int `mapstructure:"general"`
	Costly  map[string]int `mapstructure:"costly"`
	Redis   Redis          `mapstructure:"redis"`
}

// Redis locates the shared quota backend for multi-replica deployments.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IPLimit is the pre-authentication per-IP flood ceiling.
type IPLimit struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// Usage configures the background usage recorder.
type Usage struct {
	QueueSize int `mapstructure:"queue_size"`
}

// Purge configures the expired-key sweep. A zero or negative interval
// disables the scheduler.
type Purge struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Log configures slog output.
type Log struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// MCP configures the agent-facing MCP server.
type MCP struct {
	APIKey    string `mapstructure:"api_key"` // GATEWARDEN_MCP_API_KEY
	Transport string `mapstructure:"transport"`
	Port      int    `mapstructure:"port"`
}

// SetDefaults registers every default on the viper instance. Called before
// reading the config file so file values and env overrides win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_size", 1<<20)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.data_dir", "")
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", "30m")
	v.SetDefault("store.conn_max_idle_time", "5m")
	v.SetDefault("store.query_timeout", "5s")

	v.SetDefault("auth.session_ttl", "1h")
	v.SetDefault("auth.signed_service", "oracle-feeder")
	v.SetDefault("auth.hash_time", 3)
	v.SetDefault("auth.hash_memory_kib", 64*1024)
	v.SetDefault("auth.hash_threads", 2)
	v.SetDefault("auth.verify_concurrency", 0) // 0 = GOMAXPROCS

	v.SetDefault("quota.backend", "memory")
	v.SetDefault("quota.window", "1m")
	v.SetDefault("quota.general", map[string]int{
		"free":       100,
		"pro":        1000,
		"enterprise": 10000,
	})
	v.SetDefault("quota.costly", map[string]int{
		"free":       10,
		"pro":        100,
		"enterprise": 1000,
	})
	v.SetDefault("quota.redis.addr", "127.0.0.1:6379")
	v.SetDefault("quota.redis.db", 0)

	v.SetDefault("ip_limit.requests_per_minute", 600)
	v.SetDefault("usage.queue_size", 1024)
	v.SetDefault("purge.interval", "1h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.port", 3001)
}

// Load decodes the viper state into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot possibly run. Missing secrets
// are not errors here; serve substitutes dev values and warns.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "mysql", "sqlserver":
	default:
		return fmt.Errorf("store.driver %q not supported (sqlite, postgres, mysql, sqlserver)", c.Store.Driver)
	}
	if c.Store.Driver != "sqlite" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn required for driver %q", c.Store.Driver)
	}

	switch c.Quota.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("quota.backend %q not supported (memory, redis)", c.Quota.Backend)
	}
	if c.Quota.Backend == "redis" && c.Quota.Redis.Addr == "" {
		return fmt.Errorf("quota.redis.addr required for the redis backend")
	}
	if c.Quota.Window <= 0 {
		return fmt.Errorf("quota.window must be positive")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q not supported (debug, info, warn, error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q not supported (text, json)", c.Log.Format)
	}

	switch c.MCP.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("mcp.transport %q not supported (stdio, http)", c.MCP.Transport)
	}

	return nil
}
