package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Gatewarden configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default gatewarden.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

const defaultConfig = `# Gatewarden Configuration
# https://github.com/gatewarden/gatewarden

server:
  host: 0.0.0.0
  port: 8080
  shutdown_timeout: 30s
  max_body_size: 1048576   # bytes, enforced before signature checks
  cors_origins:
    - "*"

# Credential and audit store
store:
  driver: sqlite           # sqlite, postgres, mysql, sqlserver
  dsn: ""                  # required for network drivers
  data_dir: ""             # sqlite only (default: ~/.gatewarden)
  max_open_conns: 10
  max_idle_conns: 5
  conn_max_lifetime: 30m
  conn_max_idle_time: 5m
  query_timeout: 5s

# Authentication
auth:
  key_pepper: ""           # set via GATEWARDEN_AUTH_KEY_PEPPER
  session_secret: ""       # >= 32 bytes; set via GATEWARDEN_AUTH_SESSION_SECRET
  session_ttl: 1h
  signing_secret: ""       # shared secret for signed service calls
  signed_service: oracle-feeder
  hash_time: 3
  hash_memory_kib: 65536
  hash_threads: 2
  verify_concurrency: 0    # concurrent argon2 verifications; 0 = GOMAXPROCS

# Per-tier request quotas
quota:
  backend: memory          # memory or redis
  window: 1m
  general:
    free: 100
    pro: 1000
    enterprise: 10000
  costly:
    free: 10
    pro: 100
    enterprise: 1000
  redis:
    addr: 127.0.0.1:6379
    password: ""
    db: 0

# Pre-authentication per-IP ceiling on the tool surface
ip_limit:
  requests_per_minute: 600

# Background usage recorder
usage:
  queue_size: 1024

# Expired-key sweep; 0 disables the scheduler
purge:
  interval: 1h

# Logging
log:
  level: info    # debug, info, warn, error
  format: text   # text or json

# MCP server for AI agents
mcp:
  transport: stdio         # stdio or http
  port: 3001
  api_key: ""              # set via GATEWARDEN_MCP_API_KEY
`

func runConfigInit(force bool) error {
	path := "gatewarden.yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Set the secrets, then run 'gatewarden serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigShow() error {
	// Ensure config is loaded and defaults applied
	initConfig()
	if _, err := loadConfig(); err != nil {
		return err
	}

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("# Config file: %s\n", configFile)
	} else {
		fmt.Println("# Config file: (none found, using defaults)")
	}
	fmt.Println()

	settings := viper.AllSettings()
	redactSecrets(settings)

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("render settings: %w", err)
	}
	fmt.Print(string(out))

	return nil
}

// redactSecrets masks sensitive values before display.
func redactSecrets(settings map[string]any) {
	if auth, ok := settings["auth"].(map[string]any); ok {
		for _, k := range []string{"key_pepper", "session_secret", "signing_secret"} {
			if v, ok := auth[k].(string); ok && v != "" {
				auth[k] = "[redacted]"
			}
		}
	}
	if q, ok := settings["quota"].(map[string]any); ok {
		if r, ok := q["redis"].(map[string]any); ok {
			if v, ok := r["password"].(string); ok && v != "" {
				r["password"] = "[redacted]"
			}
		}
	}
	if m, ok := settings["mcp"].(map[string]any); ok {
		if v, ok := m["api_key"].(string); ok && v != "" {
			m["api_key"] = "[redacted]"
		}
	}
}
