package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/quota"
	"github.com/gatewarden/gatewarden/internal/secret"
	"github.com/gatewarden/gatewarden/internal/server/middleware"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/internal/tool"
)

const testSigningSecret = "handler-test-signing-secret"

// testEnv holds shared state for handler tests. Routes are mounted without
// the admission middleware; tests inject identities straight into the
// request context instead.
type testEnv struct {
	store    *store.Store
	issuer   *service.Issuer
	enforcer quota.Enforcer
	router   chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(store.Options{Driver: store.DriverSQLite, QueryTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hasher, err := secret.NewHasher("handler-test-pepper", secret.TestParams())
	if err != nil {
		t.Fatalf("secret.NewHasher: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer := service.NewIssuer(st, hasher, audit.NewRecorder(st, logger))

	enforcer := quota.NewMemory(quota.Config{
		Window:  time.Minute,
		General: quota.Limits{model.TierFree: 5, model.TierPro: 50, model.TierEnterprise: 500},
		Costly:  quota.Limits{model.TierFree: 2, model.TierPro: 20, model.TierEnterprise: 200},
	}, logger)
	t.Cleanup(func() { enforcer.Close() })

	toolsH := NewTools(tool.NewDemoRunner(), []byte(testSigningSecret), logger)
	keysH := NewKeys(issuer, st, logger)
	usageH := NewUsage(st, enforcer, logger)
	adminH := NewAdmin(issuer, st, logger)

	r := chi.NewRouter()
	r.Route("/tools", func(r chi.Router) {
		r.Post("/get_price", toolsH.GetPrice)
		r.Post("/analyze_market", toolsH.AnalyzeMarket)
		r.Post("/feed_oracle", toolsH.FeedOracle)
		r.Get("/health", toolsH.Health)
	})
	r.Route("/user", func(r chi.Router) {
		r.Post("/api-keys", keysH.Create)
		r.Get("/api-keys", keysH.ListMine)
		r.Patch("/api-keys/{keyID}", keysH.Update)
		r.Delete("/api-keys/{keyID}", keysH.Revoke)
		r.Get("/usage", usageH.Summary)
	})
	r.Get("/org/api-keys", keysH.ListOrg)
	r.Route("/admin", func(r chi.Router) {
		r.Get("/api-keys", adminH.ListKeys)
		r.Put("/api-keys/{keyID}/tier", adminH.ChangeTier)
		r.Post("/purge-expired", adminH.PurgeExpired)
		r.Get("/audit", adminH.ListAudit)
	})

	return &testEnv{store: st, issuer: issuer, enforcer: enforcer, router: r}
}

// do executes a request with the given identity injected into the context.
// A nil identity exercises the unauthenticated path.
func (e *testEnv) do(t *testing.T, method, path string, id *model.Identity, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id != nil {
		req = req.WithContext(middleware.WithIdentity(req.Context(), id))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// seedKey mints a key through the issuer so tests exercise the same path
// the API does. Actor defaults to the owner.
func (e *testEnv) seedKey(t *testing.T, p service.IssueParams) *service.IssuedKey {
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

func sessionIdentity(sub, org string) *model.Identity {
	return &model.Identity{SubjectID: sub, OrgID: org, Method: model.MethodSession}
}

func adminIdentity(sub string) *model.Identity {
	return &model.Identity{SubjectID: sub, Method: model.MethodSession, Admin: true}
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

// assertCode checks both the transport status and the code in the rejection
// envelope.
func assertCode(t *testing.T, rr *httptest.ResponseRecorder, code model.ErrorCode) {
	t.Helper()
	if rr.Code != code.HTTPStatus() {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, code.HTTPStatus(), rr.Body.String())
	}
	var env struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v; body = %s", err, rr.Body.String())
	}
	if env.OK {
		t.Errorf("envelope ok = true, want false; body = %s", rr.Body.String())
	}
	if env.Error != string(code) {
		t.Errorf("error = %q, want %q", env.Error, code)
	}
}

// decodeData unwraps the success envelope and decodes its data field into v.
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var env struct {
		OK   bool            `json:"ok"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v; body = %s", err, rr.Body.String())
	}
	if !env.OK {
		t.Fatalf("envelope ok = false; body = %s", rr.Body.String())
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v; body = %s", err, rr.Body.String())
	}
}
