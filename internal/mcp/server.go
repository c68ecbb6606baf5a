// Package mcp exposes the gated oracle tools over the Model Context
// Protocol so AI agents can call them directly. Every tool call is admitted
// exactly like an HTTP request: the configured API key is verified, the
// route permission is checked, and a quota slot is acquired before the tool
// runs.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/quota"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/internal/tool"
	"github.com/gatewarden/gatewarden/internal/usage"
)

// Deps carries the gateway services the MCP server admits calls through.
type Deps struct {
	Verifier *service.Verifier
	Enforcer quota.Enforcer
	Store    *store.Store
	Audit    *audit.Recorder
	Usage    *usage.Recorder
	Runner   tool.Runner
}

// Server wraps the mcp-go server with Gatewarden's tool and resource
// registrations. One Server authenticates as one API key; agents that need
// different permissions or tiers run separate instances.
type Server struct {
	deps   Deps
	apiKey string
	logger *slog.Logger
	server *server.MCPServer
}

// New creates a Server pre-loaded with the oracle tools and resources. The
// apiKey is the credential presented on every tool call; it is verified per
// call so revocation takes effect immediately.
func New(deps Deps, apiKey string, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		apiKey: apiKey,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"Gatewarden Oracle Gateway",
		"0.1.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *Server) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode. This is the primary
// integration path for MCP clients that launch the server as a subprocess.
func (s *Server) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001"). This is suitable for remote MCP clients.
func (s *Server) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
