package mcp

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/quota"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/tool"
)

// mcpOrigin marks audit records produced by this surface so trail queries
// can separate agent traffic from HTTP traffic.
const mcpOrigin = "mcp"

func (s *Server) registerTools(srv *server.MCPServer) {
	s.registerGetPrice(srv)
	s.registerAnalyzeMarket(srv)
	s.registerFeedData(srv)
	s.registerUsage(srv)
}

// admit runs the same gauntlet an HTTP request passes through: verify the
// configured key, check the permission, acquire a quota unit, then record
// the key as used. A nil result means the call is admitted. Denials are
// returned as tool errors so the calling model sees why and can back off.
func (s *Server) admit(ctx context.Context, toolName string, class quota.Class, perm string) (*model.Identity, *mcp.CallToolResult) {
	if s.apiKey == "" {
		return nil, denyf("no API key configured: set GATEWARDEN_MCP_API_KEY or mcp.api_key in the config file")
	}

	id, err := s.deps.Verifier.Verify(ctx, s.apiKey)
	switch {
	case errors.Is(err, service.ErrUnavailable):
		s.recordReject(toolName, model.ActorUnknown, audit.ActionUpstreamUnavailable, audit.OutcomeError,
			map[string]string{"reason": "verifier unavailable"})
		return nil, denyf("credential service unavailable, retry shortly")
	case err != nil:
		s.recordReject(toolName, model.ActorUnknown, audit.ActionAuthRejected, audit.OutcomeDenied,
			map[string]string{"reason": "key rejected"})
		return nil, denyf("API key rejected: check that GATEWARDEN_MCP_API_KEY holds an active key")
	}

	if !id.Can(perm) {
		s.recordReject(toolName, id.SubjectID, audit.ActionPermissionDenied, audit.OutcomeDenied,
			map[string]string{"permission": perm})
		return nil, denyf("this key lacks the %q permission", perm)
	}

	d, err := s.deps.Enforcer.TryAcquire(ctx, id.SubjectID, id.Tier, class)
	if err != nil {
		s.recordReject(toolName, id.SubjectID, audit.ActionUpstreamUnavailable, audit.OutcomeError,
			map[string]string{"stage": "quota"})
		return nil, denyf("quota backend unavailable, retry shortly")
	}
	if !d.Allowed {
		s.recordReject(toolName, id.SubjectID, audit.ActionQuotaExceeded, audit.OutcomeDenied,
			map[string]string{"class": string(class), "limit": strconv.Itoa(d.Limit)})
		return nil, denyf("quota exceeded for the %s class (limit %d per window), retry in %d second(s)",
			class, d.Limit, retrySeconds(d))
	}

	if id.Method == model.MethodAPIKey && id.KeyID != "" {
		s.deps.Usage.Touch(id.KeyID)
	}
	return id, nil
}

func (s *Server) recordReject(toolName, actor, action, outcome string, detail map[string]string) {
	s.deps.Audit.Record(model.AuditRecord{
		Actor:        actor,
		Action:       action,
		ResourceType: audit.ResourceRoute,
		ResourceID:   toolName,
		Outcome:      outcome,
		Detail:       detail,
		Origin:       mcpOrigin,
	})
}

func retrySeconds(d quota.Decision) int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ---------- oracle_get_price ----------

func (s *Server) registerGetPrice(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("oracle_get_price",
		mcp.WithDescription("Get the current oracle quote for a symbol. Requires the tools:read permission and consumes one general-class quota unit."),
		mcp.WithToolAnnotation(readOnlyAnnotation()),
		mcp.WithString("symbol",
			mcp.Required(),
			mcp.Description("Ticker symbol to quote, e.g. 'ATOM' or 'OSMO'."),
		),
	), s.handleGetPrice)
}

func (s *Server) handleGetPrice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, deny := s.admit(ctx, "oracle_get_price", quota.ClassGeneral, model.PermToolsRead); deny != nil {
		return deny, nil
	}

	symbol, err := requireString(request, "symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.deps.Runner.Run(ctx, tool.GetPrice, map[string]any{
		"symbol": symbol,
	})
	if err != nil {
		s.logger.Error("tool run failed", "tool", tool.GetPrice, "error", err)
		return denyf("oracle backend unavailable: %v", err), nil
	}
	return successJSON(out)
}

// ---------- oracle_analyze_market ----------

func (s *Server) registerAnalyzeMarket(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("oracle_analyze_market",
		mcp.WithDescription("Get a trend assessment for a symbol. Requires the tools:read permission and consumes one general-class quota unit."),
		mcp.WithToolAnnotation(readOnlyAnnotation()),
		mcp.WithString("symbol",
			mcp.Required(),
			mcp.Description("Ticker symbol to analyze."),
		),
		mcp.WithString("horizon",
			mcp.Description("Assessment horizon such as '1h', '24h', or '7d'. Omit for the oracle's default."),
		),
	), s.handleAnalyzeMarket)
}

func (s *Server) handleAnalyzeMarket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, deny := s.admit(ctx, "oracle_analyze_market", quota.ClassGeneral, model.PermToolsRead); deny != nil {
		return deny, nil
	}

	symbol, err := requireString(request, "symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.deps.Runner.Run(ctx, tool.AnalyzeMarket, map[string]any{
		"symbol":  symbol,
		"horizon": optionalString(request, "horizon"),
	})
	if err != nil {
		s.logger.Error("tool run failed", "tool", tool.AnalyzeMarket, "error", err)
		return denyf("oracle backend unavailable: %v", err), nil
	}
	return successJSON(out)
}

// ---------- oracle_feed_data ----------

func (s *Server) registerFeedData(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("oracle_feed_data",
		mcp.WithDescription("Submit a price observation to the oracle. Requires the tools:write permission and consumes one costly-class quota unit."),
		mcp.WithToolAnnotation(mutatingAnnotation()),
		mcp.WithString("symbol",
			mcp.Required(),
			mcp.Description("Ticker symbol the observation is for."),
		),
		mcp.WithNumber("price",
			mcp.Required(),
			mcp.Description("Observed price. Must be greater than zero."),
		),
		mcp.WithString("source",
			mcp.Description("Optional name of the venue or feed the observation came from."),
		),
	), s.handleFeedData)
}

func (s *Server) handleFeedData(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, deny := s.admit(ctx, "oracle_feed_data", quota.ClassCostly, model.PermToolsWrite); deny != nil {
		return deny, nil
	}

	symbol, err := requireString(request, "symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	price, err := request.RequireFloat("price")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if price <= 0 {
		return denyf("price must be greater than zero, got %v", price), nil
	}

	args := map[string]any{
		"symbol": symbol,
		"price":  price,
	}
	if source := optionalString(request, "source"); source != "" {
		args["source"] = source
	}

	out, err := s.deps.Runner.Run(ctx, tool.FeedOracle, args)
	if err != nil {
		s.logger.Error("tool run failed", "tool", tool.FeedOracle, "error", err)
		return denyf("oracle backend unavailable: %v", err), nil
	}
	return successJSON(out)
}

// ---------- oracle_usage ----------

type usageWindow struct {
	Limit     int `json:"limit"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

type usageReport struct {
	Subject string                 `json:"subject"`
	KeyID   string                 `json:"key_id,omitempty"`
	Tier    model.Tier             `json:"tier"`
	Windows map[string]usageWindow `json:"windows"`
}

func (s *Server) registerUsage(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("oracle_usage",
		mcp.WithDescription("Report the remaining quota for the configured API key across both traffic classes. Does not consume quota."),
		mcp.WithToolAnnotation(readOnlyAnnotation()),
	), s.handleUsage)
}

// handleUsage verifies the key but deliberately skips the quota acquire:
// asking how much budget is left must not spend any of it.
func (s *Server) handleUsage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.apiKey == "" {
		return denyf("no API key configured: set GATEWARDEN_MCP_API_KEY or mcp.api_key in the config file"), nil
	}

	id, err := s.deps.Verifier.Verify(ctx, s.apiKey)
	switch {
	case errors.Is(err, service.ErrUnavailable):
		return denyf("credential service unavailable, retry shortly"), nil
	case err != nil:
		s.recordReject("oracle_usage", model.ActorUnknown, audit.ActionAuthRejected, audit.OutcomeDenied,
			map[string]string{"reason": "key rejected"})
		return denyf("API key rejected: check that GATEWARDEN_MCP_API_KEY holds an active key"), nil
	}

	report := usageReport{
		Subject: id.SubjectID,
		KeyID:   id.KeyID,
		Tier:    id.Tier,
		Windows: make(map[string]usageWindow, 2),
	}
	for _, class := range []quota.Class{quota.ClassGeneral, quota.ClassCostly} {
		d, err := s.deps.Enforcer.Snapshot(ctx, id.SubjectID, id.Tier, class)
		if err != nil {
			return denyf("quota backend unavailable, retry shortly"), nil
		}
		w := usageWindow{Limit: d.Limit, Remaining: d.Remaining}
		if d.Limit > 0 {
			w.Used = d.Limit - d.Remaining
		}
		report.Windows[string(class)] = w
	}

	return successJSON(report)
}
