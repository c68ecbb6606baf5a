package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// ---------------------------------------------------------------------------
// Load tests
// ---------------------------------------------------------------------------

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("server.shutdown_timeout = %v, want 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("store.driver = %q, want sqlite", cfg.Store.Driver)
	}
	if cfg.Quota.Backend != "memory" {
		t.Errorf("quota.backend = %q, want memory", cfg.Quota.Backend)
	}
	if cfg.Quota.Window != time.Minute {
		t.Errorf("quota.window = %v, want 1m", cfg.Quota.Window)
	}
	if got := cfg.Quota.General["free"]; got != 100 {
		t.Errorf("quota.general.free = %d, want 100", got)
	}
	if got := cfg.Quota.Costly["enterprise"]; got != 1000 {
		t.Errorf("quota.costly.enterprise = %d, want 1000", got)
	}
	if cfg.Auth.SessionTTL != time.Hour {
		t.Errorf("auth.session_ttl = %v, want 1h", cfg.Auth.SessionTTL)
	}
	if cfg.Auth.HashMemoryKiB != 64*1024 {
		t.Errorf("auth.hash_memory_kib = %d, want 65536", cfg.Auth.HashMemoryKiB)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %q/%q, want info/text", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.MCP.Transport != "stdio" {
		t.Errorf("mcp.transport = %q, want stdio", cfg.MCP.Transport)
	}
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	v.Set("server.port", 9090)
	v.Set("store.driver", "postgres")
	v.Set("store.dsn", "postgres://gw:gw@localhost:5432/gatewarden")
	v.Set("quota.backend", "redis")
	v.Set("quota.redis.addr", "redis.internal:6379")
	v.Set("quota.window", "30s")
	v.Set("quota.general", map[string]int{"free": 7})
	v.Set("log.format", "json")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("store.driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.Quota.Backend != "redis" {
		t.Errorf("quota.backend = %q, want redis", cfg.Quota.Backend)
	}
	if cfg.Quota.Window != 30*time.Second {
		t.Errorf("quota.window = %v, want 30s", cfg.Quota.Window)
	}
	if got := cfg.Quota.General["free"]; got != 7 {
		t.Errorf("quota.general.free = %d, want 7", got)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log.format = %q, want json", cfg.Log.Format)
	}
}

// ---------------------------------------------------------------------------
// Validate tests
// ---------------------------------------------------------------------------

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr string
	}{
		{
			name:    "port out of range",
			mutate:  func(v *viper.Viper) { v.Set("server.port", 70000) },
			wantErr: "server.port",
		},
		{
			name:    "unknown store driver",
			mutate:  func(v *viper.Viper) { v.Set("store.driver", "oracle") },
			wantErr: "store.driver",
		},
		{
			name: "network driver without dsn",
			mutate: func(v *viper.Viper) {
				v.Set("store.driver", "mysql")
			},
			wantErr: "store.dsn",
		},
		{
			name:    "unknown quota backend",
			mutate:  func(v *viper.Viper) { v.Set("quota.backend", "etcd") },
			wantErr: "quota.backend",
		},
		{
			name: "redis backend without addr",
			mutate: func(v *viper.Viper) {
				v.Set("quota.backend", "redis")
				v.Set("quota.redis.addr", "")
			},
			wantErr: "quota.redis.addr",
		},
		{
			name:    "non-positive window",
			mutate:  func(v *viper.Viper) { v.Set("quota.window", "0s") },
			wantErr: "quota.window",
		},
		{
			name:    "unknown log level",
			mutate:  func(v *viper.Viper) { v.Set("log.level", "trace") },
			wantErr: "log.level",
		},
		{
			name:    "unknown log format",
			mutate:  func(v *viper.Viper) { v.Set("log.format", "logfmt") },
			wantErr: "log.format",
		},
		{
			name:    "unknown mcp transport",
			mutate:  func(v *viper.Viper) { v.Set("mcp.transport", "grpc") },
			wantErr: "mcp.transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.mutate(v)
			_, err := Load(v)
			if err == nil {
				t.Fatalf("Load succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAcceptsEveryDriver(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "mysql", "sqlserver"} {
		v := viper.New()
		v.Set("store.driver", driver)
		if driver != "sqlite" {
			v.Set("store.dsn", "host=localhost")
		}
		if _, err := Load(v); err != nil {
			t.Errorf("driver %q rejected: %v", driver, err)
		}
	}
}
