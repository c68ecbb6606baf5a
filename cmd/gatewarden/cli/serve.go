package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/quota"
	"github.com/gatewarden/gatewarden/internal/server"
	"github.com/gatewarden/gatewarden/internal/server/middleware"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/tool"
	"github.com/gatewarden/gatewarden/internal/usage"
)

const banner = `
  ___    _    _____  ___ __      __   _    ___  ___   ___  _  _
 / __|  /_\  |_   _|| __|\ \    / /  /_\  | _ \|   \ | __|| \| |
| (_ | / _ \   | |  | _|  \ \/\/ /  / _ \ |   /| |) || _| | .' |
 \___|/_/ \_\  |_|  |___|  \_/\_/  /_/ \_\|_|_\|___/ |___||_|\_|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Gatewarden API server",
		Long:  "Start the HTTP server that admits callers, enforces quotas, and proxies the oracle tools.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return spawnDaemon()
			}
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run in the background, logging to the data directory")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, dev)

	// 1. Open the credential store
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened", "driver", st.Driver())

	// 2. Quota enforcer (in-process counters or shared Redis)
	enforcer, err := buildEnforcer(context.Background(), cfg, logger)
	if err != nil {
		st.Close()
		return err
	}
	logger.Info("quota enforcer ready", "backend", cfg.Quota.Backend, "window", cfg.Quota.Window)

	// 3. Key hasher and verifier
	hasher, devPepper, err := newHasher(cfg)
	if err != nil {
		st.Close()
		return err
	}
	if devPepper {
		logger.Warn("auth.key_pepper not set - using the development pepper; keys minted now will not verify against a production pepper")
	}
	verifier := service.NewVerifier(st, hasher, int64(cfg.Auth.VerifyConcurrency), logger)

	// 4. Session tokens for the management surface
	secretStr, devSecret := sessionSecret(cfg)
	if devSecret {
		logger.Warn("auth.session_secret not set - using the development secret; do not expose this instance")
	}
	sessions, err := service.NewSessions(secretStr, cfg.Auth.SessionTTL)
	if err != nil {
		st.Close()
		return fmt.Errorf("init sessions: %w", err)
	}

	// 5. Audit recorder and key issuer
	rec := audit.NewRecorder(st, logger)
	issuer := service.NewIssuer(st, hasher, rec)

	// 6. Background usage recorder
	usageRec := usage.NewRecorder(st, logger, cfg.Usage.QueueSize)
	usageRec.Start()

	// 7. Signed-caller admission for the feeder service
	var signed *middleware.SignedCaller
	if cfg.Auth.SigningSecret != "" {
		signed = &middleware.SignedCaller{
			Service: cfg.Auth.SignedService,
			Secret:  []byte(cfg.Auth.SigningSecret),
		}
	} else {
		logger.Warn("auth.signing_secret not set - signed service calls disabled")
	}

	// 8. Build and start the HTTP server
	srvCfg := server.Config{
		Host:                cfg.Server.Host,
		Port:                cfg.Server.Port,
		ShutdownTimeout:     cfg.Server.ShutdownTimeout,
		CORSOrigins:         cfg.Server.CORSOrigins,
		MaxBodySize:         cfg.Server.MaxBodySize,
		IPRequestsPerMinute: cfg.IPLimit.RequestsPerMinute,
		PurgeInterval:       cfg.Purge.Interval,
	}

	srv := server.New(srvCfg, server.Deps{
		Store:    st,
		Enforcer: enforcer,
		Verifier: verifier,
		Sessions: sessions,
		Issuer:   issuer,
		Audit:    rec,
		Usage:    usageRec,
		Runner:   tool.NewDemoRunner(),
		Signed:   signed,
	}, logger)

	fmt.Printf("→ Gatewarden %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Store:      %s | Quota: %s\n", cfg.Store.Driver, cfg.Quota.Backend)
	fmt.Println()

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("write pid file", "error", err)
	}
	defer removePID()

	// ListenAndServe owns shutdown: it drains the listener, then stops the
	// usage recorder and closes the enforcer and store.
	return srv.ListenAndServe(context.Background())
}

// buildEnforcer picks the quota backend named by the configuration.
func buildEnforcer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (quota.Enforcer, error) {
	qcfg := quota.Config{
		Window:  cfg.Quota.Window,
		General: tierLimits(cfg.Quota.General),
		Costly:  tierLimits(cfg.Quota.Costly),
	}

	switch cfg.Quota.Backend {
	case "redis":
		enf, err := quota.NewRedis(ctx, quota.RedisOptions{
			Addr:     cfg.Quota.Redis.Addr,
			Password: cfg.Quota.Redis.Password,
			DB:       cfg.Quota.Redis.DB,
		}, qcfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect quota redis: %w", err)
		}
		return enf, nil
	default:
		return quota.NewMemory(qcfg, logger), nil
	}
}

// tierLimits converts the config's string-keyed table into quota limits.
func tierLimits(m map[string]int) quota.Limits {
	limits := make(quota.Limits, len(m))
	for tier, n := range m {
		limits[model.Tier(tier)] = n
	}
	return limits
}

// spawnDaemon re-executes the current command in the background, detached
// from the terminal, with output going to the log file in the data dir.
func spawnDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	// Strip the daemon flag so the child runs in the foreground.
	args := make([]string, 0, len(os.Args)-1)
	for _, a := range os.Args[1:] {
		if a == "--daemon" || a == "-d" {
			continue
		}
		args = append(args, a)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	fmt.Printf("Gatewarden started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs:   %s\n", logFilePath())
	fmt.Printf("  Stop:   gatewarden stop\n")
	fmt.Printf("  Status: gatewarden status\n")
	return nil
}
