package handler

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/service"
)

// ---------------------------------------------------------------------------
// admin key listing tests
// ---------------------------------------------------------------------------

func TestAdminListKeys(t *testing.T) {
	env := newTestEnv(t)
	env.seedKey(t, service.IssueParams{OwnerID: "alice", OrgID: "acme"})
	env.seedKey(t, service.IssueParams{OwnerID: "bob", OrgID: "globex"})
	env.seedKey(t, service.IssueParams{OwnerID: "carol"})

	rr := env.do(t, "GET", "/admin/api-keys", adminIdentity("root"), nil)
	assertStatus(t, rr, http.StatusOK)

	var list keyListResponse
	decodeData(t, rr, &list)
	if list.Count != 3 {
		t.Errorf("count = %d, want 3", list.Count)
	}
}

// ---------------------------------------------------------------------------
// tier change tests
// ---------------------------------------------------------------------------

func TestAdminChangeTier(t *testing.T) {
	env := newTestEnv(t)
	issued := env.seedKey(t, service.IssueParams{OwnerID: "alice"})

	rr := env.do(t, "PUT", "/admin/api-keys/"+issued.Key.ID+"/tier", adminIdentity("root"),
		strings.NewReader(`{"tier":"pro"}`))
	assertStatus(t, rr, http.StatusOK)

	var key model.APIKey
	decodeData(t, rr, &key)
	if key.Tier != model.TierPro {
		t.Errorf("tier = %q, want pro", key.Tier)
	}

	// The change lands in the audit trail.
	audit := env.do(t, "GET", "/admin/audit?action=tier_changed", adminIdentity("root"), nil)
	var trail auditListResponse
	decodeData(t, audit, &trail)
	if trail.Count != 1 {
		t.Fatalf("tier_changed records = %d, want 1", trail.Count)
	}
	rec := trail.Records[0]
	if rec.Actor != "root" || rec.ResourceID != issued.Key.ID {
		t.Errorf("audit record = %+v, want actor root on key %s", rec, issued.Key.ID)
	}
	if rec.Detail["tier"] != "pro" {
		t.Errorf("audit detail tier = %q, want pro", rec.Detail["tier"])
	}
}

func TestAdminChangeTierRejectsUnknownTier(t *testing.T) {
	env := newTestEnv(t)
	issued := env.seedKey(t, service.IssueParams{OwnerID: "alice"})

	rr := env.do(t, "PUT", "/admin/api-keys/"+issued.Key.ID+"/tier", adminIdentity("root"),
		strings.NewReader(`{"tier":"platinum"}`))
	assertCode(t, rr, model.CodeInvalidRequest)
}

func TestAdminChangeTierUnknownKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "PUT", "/admin/api-keys/no-such-key/tier", adminIdentity("root"),
		strings.NewReader(`{"tier":"pro"}`))
	assertCode(t, rr, model.CodeNotFound)
}

func TestAdminChangeTierRevokedKey(t *testing.T) {
	env := newTestEnv(t)
	issued := env.seedKey(t, service.IssueParams{OwnerID: "alice"})
	env.do(t, "DELETE", "/user/api-keys/"+issued.Key.ID, sessionIdentity("alice", ""), nil)

	rr := env.do(t, "PUT", "/admin/api-keys/"+issued.Key.ID+"/tier", adminIdentity("root"),
		strings.NewReader(`{"tier":"pro"}`))
	assertCode(t, rr, model.CodeNotFound)
}

// ---------------------------------------------------------------------------
// purge tests
// ---------------------------------------------------------------------------

func TestAdminPurgeExpired(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().UTC().Add(-time.Hour)
	expired := env.seedKey(t, service.IssueParams{OwnerID: "alice", ExpiresAt: &past})
	kept := env.seedKey(t, service.IssueParams{OwnerID: "alice"})

	rr := env.do(t, "POST", "/admin/purge-expired", adminIdentity("root"), nil)
	assertStatus(t, rr, http.StatusOK)

	var out struct {
		Purged int64 `json:"purged"`
	}
	decodeData(t, rr, &out)
	if out.Purged != 1 {
		t.Errorf("purged = %d, want 1", out.Purged)
	}

	list := env.do(t, "GET", "/user/api-keys", sessionIdentity("alice", ""), nil)
	var keys keyListResponse
	decodeData(t, list, &keys)
	if len(keys.Keys) != 1 || keys.Keys[0].ID != kept.Key.ID {
		t.Errorf("surviving keys = %+v, want only %s", keys.Keys, kept.Key.ID)
	}
	if strings.Contains(list.Body.String(), expired.Key.ID) {
		t.Errorf("expired key %s still listed", expired.Key.ID)
	}

	// A second sweep finds nothing.
	rr = env.do(t, "POST", "/admin/purge-expired", adminIdentity("root"), nil)
	decodeData(t, rr, &out)
	if out.Purged != 0 {
		t.Errorf("second purge = %d, want 0", out.Purged)
	}
}

// ---------------------------------------------------------------------------
// audit listing tests
// ---------------------------------------------------------------------------

func TestAdminListAudit(t *testing.T) {
	env := newTestEnv(t)
	alice := sessionIdentity("alice", "")

	first := env.do(t, "POST", "/user/api-keys", alice, strings.NewReader(`{"label":"one"}`))
	assertStatus(t, first, http.StatusCreated)
	var created struct {
		Key *model.APIKey `json:"key"`
	}
	decodeData(t, first, &created)
	env.do(t, "POST", "/user/api-keys", alice, strings.NewReader(`{"label":"two"}`))
	env.do(t, "DELETE", "/user/api-keys/"+created.Key.ID, alice, nil)

	rr := env.do(t, "GET", "/admin/audit", adminIdentity("root"), nil)
	assertStatus(t, rr, http.StatusOK)

	var trail auditListResponse
	decodeData(t, rr, &trail)
	if trail.Count != 3 {
		t.Fatalf("records = %d, want 3", trail.Count)
	}
	for _, rec := range trail.Records {
		if rec.Actor != "alice" {
			t.Errorf("actor = %q, want alice", rec.Actor)
		}
		if rec.Outcome != audit.OutcomeSuccess {
			t.Errorf("outcome = %q, want success", rec.Outcome)
		}
	}
}

func TestAdminListAuditFilters(t *testing.T) {
	env := newTestEnv(t)
	alice := sessionIdentity("alice", "")
	bob := sessionIdentity("bob", "")

	aliceKey := env.do(t, "POST", "/user/api-keys", alice, strings.NewReader(`{}`))
	var created struct {
		Key *model.APIKey `json:"key"`
	}
	decodeData(t, aliceKey, &created)
	env.do(t, "DELETE", "/user/api-keys/"+created.Key.ID, alice, nil)
	env.do(t, "POST", "/user/api-keys", bob, strings.NewReader(`{}`))

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"by action", "?action=" + audit.ActionKeyRevoked, 1},
		{"by actor", "?actor=bob", 1},
		{"actor and action", "?actor=alice&action=" + audit.ActionKeyCreated, 1},
		{"no match", "?actor=mallory", 0},
		{"limit", "?limit=2", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "GET", "/admin/audit"+tt.query, adminIdentity("root"), nil)
			assertStatus(t, rr, http.StatusOK)

			var trail auditListResponse
			decodeData(t, rr, &trail)
			if trail.Count != tt.want {
				t.Errorf("count = %d, want %d", trail.Count, tt.want)
			}
		})
	}
}

func TestAdminListAuditTimeWindow(t *testing.T) {
	env := newTestEnv(t)
	env.seedKey(t, service.IssueParams{OwnerID: "alice"})

	until := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	since := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)

	rr := env.do(t, "GET", "/admin/audit?since="+since+"&until="+until, adminIdentity("root"), nil)
	var trail auditListResponse
	decodeData(t, rr, &trail)
	if trail.Count != 1 {
		t.Errorf("records in window = %d, want 1", trail.Count)
	}

	// A window entirely in the past excludes the fresh record.
	rr = env.do(t, "GET", "/admin/audit?until="+since, adminIdentity("root"), nil)
	decodeData(t, rr, &trail)
	if trail.Count != 0 {
		t.Errorf("records before %s = %d, want 0", since, trail.Count)
	}
}
