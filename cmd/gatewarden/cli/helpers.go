package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/secret"
	"github.com/gatewarden/gatewarden/internal/store"
)

// Development fallbacks used when no secret is configured. serve and token
// warn loudly whenever one of these is in play.
const (
	devKeyPepper     = "gatewarden-dev-pepper-change-me"
	devSessionSecret = "gatewarden-dev-session-secret-change-me"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// GATEWARDEN_DATA_DIR env var, or ~/.gatewarden as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("GATEWARDEN_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.gatewarden"
}

// loadConfig decodes the viper state into the typed configuration. The
// SQLite data directory falls back to the resolved data dir so every
// command lands on the same store file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if cfg.Store.Driver == store.DriverSQLite && cfg.Store.DataDir == "" && cfg.Store.DSN == "" {
		cfg.Store.DataDir = resolveDataDir()
	}
	return cfg, nil
}

// newLogger builds the slog logger described by the log section. dev forces
// debug level regardless of configuration.
func newLogger(cfg config.Log, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore opens the credential store described by the configuration.
func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(store.Options{
		Driver:          cfg.Store.Driver,
		DSN:             cfg.Store.DSN,
		DataDir:         cfg.Store.DataDir,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		QueryTimeout:    cfg.Store.QueryTimeout,
	})
}

// newHasher builds the argon2 hasher from the auth section, substituting
// the development pepper when none is configured.
func newHasher(cfg *config.Config) (*secret.Hasher, bool, error) {
	pepper := cfg.Auth.KeyPepper
	usedDev := false
	if pepper == "" {
		pepper = devKeyPepper
		usedDev = true
	}
	h, err := secret.NewHasher(pepper, secret.Params{
		Time:    cfg.Auth.HashTime,
		Memory:  cfg.Auth.HashMemoryKiB,
		Threads: cfg.Auth.HashThreads,
	})
	if err != nil {
		return nil, false, fmt.Errorf("build hasher: %w", err)
	}
	return h, usedDev, nil
}

// sessionSecret returns the configured session secret, substituting the
// development secret when none is configured.
func sessionSecret(cfg *config.Config) (string, bool) {
	if cfg.Auth.SessionSecret != "" {
		return cfg.Auth.SessionSecret, false
	}
	return devSessionSecret, true
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "gatewarden.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "gatewarden.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
