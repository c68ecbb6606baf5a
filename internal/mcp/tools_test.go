package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/quota"
	"github.com/gatewarden/gatewarden/internal/secret"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/internal/tool"
	"github.com/gatewarden/gatewarden/internal/usage"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// mcpEnv wires the same dependency set the serve command does, with tiny
// quota tables so exhaustion is cheap and an hour window so it cannot roll
// over mid-test.
type mcpEnv struct {
	store    *store.Store
	issuer   *service.Issuer
	enforcer quota.Enforcer
	deps     Deps
	logger   *slog.Logger
}

func newMCPEnv(t *testing.T) *mcpEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(store.Options{Driver: store.DriverSQLite, QueryTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hasher, err := secret.NewHasher("mcp-test-pepper", secret.TestParams())
	if err != nil {
		t.Fatalf("secret.NewHasher: %v", err)
	}

	enforcer := quota.NewMemory(quota.Config{
		Window:  time.Hour,
		General: quota.Limits{model.TierFree: 2, model.TierPro: 50, model.TierEnterprise: 500},
		Costly:  quota.Limits{model.TierFree: 1, model.TierPro: 20, model.TierEnterprise: 200},
	}, logger)
	t.Cleanup(func() { enforcer.Close() })

	rec := audit.NewRecorder(st, logger)
	issuer := service.NewIssuer(st, hasher, rec)

	usg := usage.NewRecorder(st, logger, 64)
	usg.Start()
	t.Cleanup(usg.Shutdown)

	return &mcpEnv{
		store:    st,
		issuer:   issuer,
		enforcer: enforcer,
		logger:   logger,
		deps: Deps{
			Verifier: service.NewVerifier(st, hasher, 4, logger),
			Enforcer: enforcer,
			Store:    st,
			Audit:    rec,
			Usage:    usg,
			Runner:   tool.NewDemoRunner(),
		},
	}
}

func (e *mcpEnv) mintKey(t *testing.T, p service.IssueParams) *service.IssuedKey {
	t.Helper()
	if p.Actor == "" {
		p.Actor = p.OwnerID
	}
	if p.Origin == "" {
		p.Origin = "test"
	}
	issued, err := e.issuer.Issue(context.Background(), p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return issued
}

func (e *mcpEnv) newServer(apiKey string) *Server {
	return New(e.deps, apiKey, e.logger)
}

func assertToolError(t *testing.T, res *mcp.CallToolResult, wantSubstr string) {
	t.Helper()
	if !res.IsError {
		t.Fatalf("result not flagged as error; text = %s", resultText(t, res))
	}
	if got := resultText(t, res); !strings.Contains(got, wantSubstr) {
		t.Errorf("error text = %q, want substring %q", got, wantSubstr)
	}
}

// ---------------------------------------------------------------------------
// Admission tests
// ---------------------------------------------------------------------------

func TestGetPriceAdmitted(t *testing.T) {
	env := newMCPEnv(t)
	issued := env.mintKey(t, service.IssueParams{OwnerID: "alice"})
	srv := env.newServer(issued.Secret)

	res, err := srv.handleGetPrice(context.Background(), callReq(map[string]any{"symbol": "ATOM"}))
	if err != nil {
		t.Fatalf("handleGetPrice: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}

	var quote struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if quote.Symbol != "ATOM" || quote.Price <= 0 {
		t.Errorf("quote = %+v, want ATOM with a positive price", quote)
	}
}

func TestNoKeyConfigured(t *testing.T) {
	env := newMCPEnv(t)
	srv := env.newServer("")

	res, err := srv.handleGetPrice(context.Background(), callReq(map[string]any{"symbol": "ATOM"}))
	if err != nil {
		t.Fatalf("handleGetPrice: %v", err)
	}
	assertToolError(t, res, "GATEWARDEN_MCP_API_KEY")
}

func TestUnknownKeyRejected(t *testing.T) {
	env := newMCPEnv(t)
	srv := env.newServer("gwk_00000000000000000000000000000000")

	res, err := srv.handleGetPrice(context.Background(), callReq(map[string]any{"symbol": "ATOM"}))
	if err != nil {
		t.Fatalf("handleGetPrice: %v", err)
	}
	assertToolError(t, res, "rejected")
}

func TestRevokedKeyRejected(t *testing.T) {
	env := newMCPEnv(t)
	issued := env.mintKey(t, service.IssueParams{OwnerID: "alice"})
	if _, err := env.issuer.Revoke(context.Background(), issued.Key.ID, "alice", "test"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	srv := env.newServer(issued.Secret)

	res, err := srv.handleGetPrice(context.Background(), callReq(map[string]any{"symbol": "ATOM"}))
	if err != nil {
		t.Fatalf("handleGetPrice: %v", err)
	}
	assertToolError(t, res, "rejected")
}

func TestFeedDataRequiresWritePermission(t *testing.T) {
	env := newMCPEnv(t)
	issued := env.mintKey(t, service.IssueParams{
		OwnerID:     "alice",
		Permissions: []string{model.PermToolsRead},
	})
	srv := env.newServer(issued.Secret)

	res, err := srv.handleFeedData(context.Background(), callReq(map[string]any{
		"symbol": "ATOM",
		"price":  9.87,
	}))
	if err != nil {
		t.Fatalf("handleFeedData: %v", err)
	}
	assertToolError(t, res, model.PermToolsWrite)
}

func TestMissingSymbolRejectedAfterAdmission(t *testing.T) {
	env := newMCPEnv(t)
	issued := env.mintKey(t, service.IssueParams{OwnerID: "alice"})
	srv := env.newServer(issued.Secret)

	res, err := srv.handleGetPrice(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatalf("handleGetPrice: %v", err)
	}
	assertToolError(t, res, "symbol")
}

func TestFeedDataValidatesPrice(t *testing.T) {
	env := newMCPEnv(t)
	issued := env.mintKey(t, service.IssueParams{
		OwnerID:     "alice",
		Permissions: model.KnownPermissions(),
	})
	srv := env.newServer(issued.Secret)

	res, err := srv.handleFeedData(context.Background(), callReq(map[string]any{
		"symbol": "ATOM",
		"price":  -5.0,
	}))
	if err != nil {
		t.Fatalf("handleFeedData: %v", err)
	}
	assertToolError(t, res, "greater than zero")
}

// ---------------------------------------------------------------------------
// Quota tests
// ---------------------------------------------------------------------------

func TestQuotaExhaustionStopsCalls(t *testing.T) {
	env := newMCPEnv(t)
	issued := env.mintKey(t, service.IssueParams{
		OwnerID:     "alice",
		Permissions: model.KnownPermissions(),
	})
	srv := env.newServer(issued.Secret)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := srv.handleGetPrice(ctx, callReq(map[string]any{"symbol": "ATOM"}))
		if err != nil {
			t.Fatalf("handleGetPrice: %v", err)
		}
		if res.IsError {
			t.Fatalf("call %d rejected: %s", i, resultText(t, res))
		}
	}

	res, err := srv.handleGetPrice(ctx, callReq(map[string]any{"symbol": "ATOM"}))
	if err != nil {
		t.Fatalf("handleGetPrice: %v", err)
	}
	assertToolError(t, res, "quota exceeded")

	// The costly class has its own budget, so feeding still works.
	res, err = srv.handleFeedData(ctx, callReq(map[string]any{"symbol": "ATOM", "price": 9.87}))
	if err != nil {
		t.Fatalf("handleFeedData: %v", err)
	}
	if res.IsError {
		t.Fatalf("feed rejected: %s", resultText(t, res))
	}
}

func TestUsageReportsWindowsWithoutConsuming(t *testing.T) {
	env := newMCPEnv(t)
	issued := env.mintKey(t, service.IssueParams{OwnerID: "alice"})
	srv := env.newServer(issued.Secret)
	ctx := context.Background()

	if res, err := srv.handleGetPrice(ctx, callReq(map[string]any{"symbol": "ATOM"})); err != nil || res.IsError {
		t.Fatalf("priming call failed: err=%v", err)
	}

	readReport := func() usageReport {
		t.Helper()
		res, err := srv.handleUsage(ctx, callReq(nil))
		if err != nil {
			t.Fatalf("handleUsage: %v", err)
		}
		if res.IsError {
			t.Fatalf("usage rejected: %s", resultText(t, res))
		}
		var report usageReport
		if err := json.Unmarshal([]byte(resultText(t, res)), &report); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		return report
	}

	report := readReport()
	if report.Subject != "alice" || report.Tier != model.TierFree {
		t.Errorf("report = %+v, want subject alice on the free tier", report)
	}
	general := report.Windows[string(quota.ClassGeneral)]
	if general.Limit != 2 || general.Used != 1 || general.Remaining != 1 {
		t.Errorf("general window = %+v, want 1 of 2 used", general)
	}

	// Asking again must not change the counters.
	if again := readReport(); again.Windows[string(quota.ClassGeneral)] != general {
		t.Errorf("second report = %+v, want unchanged %+v", again.Windows[string(quota.ClassGeneral)], general)
	}
}

// ---------------------------------------------------------------------------
// Audit trail tests
// ---------------------------------------------------------------------------

func TestRejectionsLandInAuditTrail(t *testing.T) {
	env := newMCPEnv(t)
	issued := env.mintKey(t, service.IssueParams{
		OwnerID:     "alice",
		Permissions: []string{model.PermToolsRead},
	})
	srv := env.newServer(issued.Secret)

	res, err := srv.handleFeedData(context.Background(), callReq(map[string]any{
		"symbol": "ATOM",
		"price":  9.87,
	}))
	if err != nil {
		t.Fatalf("handleFeedData: %v", err)
	}
	assertToolError(t, res, model.PermToolsWrite)

	records, err := env.store.ListAudit(context.Background(), store.AuditQuery{
		Action: audit.ActionPermissionDenied,
	})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("permission_denied records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Actor != "alice" || rec.ResourceID != "oracle_feed_data" || rec.Origin != mcpOrigin {
		t.Errorf("record = %+v, want alice denied on oracle_feed_data via mcp", rec)
	}
}

// ---------------------------------------------------------------------------
// Resource tests
// ---------------------------------------------------------------------------

func TestToolsResourceListsCatalog(t *testing.T) {
	env := newMCPEnv(t)
	srv := env.newServer("")

	contents, err := srv.handleToolsResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("handleToolsResource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	text := contents[0].(mcp.TextResourceContents).Text
	for _, name := range []string{"oracle_get_price", "oracle_analyze_market", "oracle_feed_data"} {
		if !strings.Contains(text, name) {
			t.Errorf("catalog missing %s", name)
		}
	}
}

func TestIdentityResourceResolvesKey(t *testing.T) {
	env := newMCPEnv(t)
	issued := env.mintKey(t, service.IssueParams{OwnerID: "alice", OrgID: "acme"})
	srv := env.newServer(issued.Secret)

	contents, err := srv.handleIdentityResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("handleIdentityResource: %v", err)
	}
	var id model.Identity
	if err := json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &id); err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	if id.SubjectID != "alice" || id.OrgID != "acme" {
		t.Errorf("identity = %+v, want alice at acme", id)
	}
}

func TestIdentityResourceRejectsRevokedKey(t *testing.T) {
	env := newMCPEnv(t)
	issued := env.mintKey(t, service.IssueParams{OwnerID: "alice"})
	if _, err := env.issuer.Revoke(context.Background(), issued.Key.ID, "alice", "test"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	srv := env.newServer(issued.Secret)

	if _, err := srv.handleIdentityResource(context.Background(), mcp.ReadResourceRequest{}); err == nil {
		t.Fatal("expected an error for a revoked key")
	}
}
