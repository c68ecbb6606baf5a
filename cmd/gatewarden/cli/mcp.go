package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatewarden/gatewarden/internal/audit"
	gmcp "github.com/gatewarden/gatewarden/internal/mcp"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/tool"
	"github.com/gatewarden/gatewarden/internal/usage"
)

// ---------- mcp command ----------

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes the gated oracle
tools to AI agents. Supports stdio (default) and HTTP transports.

The server authenticates as a single API key, read from GATEWARDEN_MCP_API_KEY
or mcp.api_key in the config file. Every tool call is verified, permission
checked, and charged against that key's quota, exactly like HTTP traffic.

In stdio mode, the server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with Claude Desktop or other MCP clients.
Logs go to stderr so they never corrupt the protocol stream.

In HTTP mode, the server listens on the specified port for streaming
connections.`,
		Example: `  GATEWARDEN_MCP_API_KEY=gwk_... gatewarden mcp
  gatewarden mcp --transport http --port 3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP()
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	viper.BindPFlag("mcp.transport", cmd.Flags().Lookup("transport")) //nolint:errcheck
	viper.BindPFlag("mcp.port", cmd.Flags().Lookup("port"))           //nolint:errcheck

	return cmd
}

func runMCP() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, false)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	enforcer, err := buildEnforcer(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("init quota backend: %w", err)
	}
	defer enforcer.Close()

	hasher, usedDevPepper, err := newHasher(cfg)
	if err != nil {
		return fmt.Errorf("init hasher: %w", err)
	}
	if usedDevPepper {
		logger.Warn("auth.key_pepper not set, using the development pepper; production keys will not verify")
	}

	rec := audit.NewRecorder(st, logger)

	usg := usage.NewRecorder(st, logger, cfg.Usage.QueueSize)
	usg.Start()
	defer usg.Shutdown()

	if cfg.MCP.APIKey == "" {
		logger.Warn("no API key configured; tool calls will be rejected until GATEWARDEN_MCP_API_KEY is set")
	}

	srv := gmcp.New(gmcp.Deps{
		Verifier: service.NewVerifier(st, hasher, int64(cfg.Auth.VerifyConcurrency), logger),
		Enforcer: enforcer,
		Store:    st,
		Audit:    rec,
		Usage:    usg,
		Runner:   tool.NewDemoRunner(),
	}, cfg.MCP.APIKey, logger)

	switch cfg.MCP.Transport {
	case "stdio":
		return srv.ServeStdio()
	case "http":
		return srv.ServeHTTP(fmt.Sprintf(":%d", cfg.MCP.Port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", cfg.MCP.Transport)
	}
}
