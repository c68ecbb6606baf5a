package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/quota"
	"github.com/gatewarden/gatewarden/internal/service"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *Server) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// gatewarden://tools — catalog of the gated oracle tools
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"gatewarden://tools",
			"Gated Oracle Tools",
			mcp.WithResourceDescription(
				"Catalog of the oracle tools this gateway fronts, including the "+
					"permission and quota class each call is charged against.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleToolsResource,
	)

	// -------------------------------------------------------------------
	// gatewarden://identity — the identity behind the configured key
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"gatewarden://identity",
			"Configured Key Identity",
			mcp.WithResourceDescription(
				"The identity the configured API key resolves to: subject, tier, "+
					"and permission set. Useful for checking what this session may call.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleIdentityResource,
	)
}

// handleToolsResource returns the static tool catalog. The catalog is fixed
// at build time; what varies per key is whether a call clears admission.
func (s *Server) handleToolsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	type toolInfo struct {
		Name       string `json:"name"`
		Permission string `json:"permission"`
		Class      string `json:"class"`
		Mutating   bool   `json:"mutating"`
	}

	items := []toolInfo{
		{Name: "oracle_get_price", Permission: model.PermToolsRead, Class: string(quota.ClassGeneral)},
		{Name: "oracle_analyze_market", Permission: model.PermToolsRead, Class: string(quota.ClassGeneral)},
		{Name: "oracle_feed_data", Permission: model.PermToolsWrite, Class: string(quota.ClassCostly), Mutating: true},
	}

	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool catalog: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "gatewarden://tools",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handleIdentityResource verifies the configured key and returns the
// resolved identity. Revoked or expired keys surface here as errors, which
// makes this the quickest way for an agent to diagnose rejected calls.
func (s *Server) handleIdentityResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	if s.apiKey == "" {
		return nil, errors.New("no API key configured: set GATEWARDEN_MCP_API_KEY or mcp.api_key")
	}

	id, err := s.deps.Verifier.Verify(ctx, s.apiKey)
	switch {
	case errors.Is(err, service.ErrUnavailable):
		return nil, fmt.Errorf("credential service unavailable: %w", err)
	case err != nil:
		return nil, errors.New("API key rejected: the configured key is unknown, revoked, or expired")
	}

	b, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identity: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "gatewarden://identity",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
