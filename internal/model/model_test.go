package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValidTier(t *testing.T) {
	tests := []struct {
		tier Tier
		want bool
	}{
		{TierFree, true},
		{TierPro, true},
		{TierEnterprise, true},
		{Tier("platinum"), false},
		{Tier(""), false},
	}

	for _, tt := range tests {
		if got := ValidTier(tt.tier); got != tt.want {
			t.Errorf("ValidTier(%q) = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestValidatePermissions(t *testing.T) {
	tests := []struct {
		name    string
		perms   []string
		wantErr bool
	}{
		{"read only", []string{PermToolsRead}, false},
		{"read and write", []string{PermToolsRead, PermToolsWrite}, false},
		{"empty set", []string{}, true},
		{"nil set", nil, true},
		{"unknown token", []string{"tools:admin"}, true},
		{"mixed known and unknown", []string{PermToolsRead, "fs:read"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePermissions(tt.perms)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePermissions(%v) error = %v, wantErr %v", tt.perms, err, tt.wantErr)
			}
		})
	}
}

func TestAPIKeyDigestNotInJSON(t *testing.T) {
	key := APIKey{
		ID:          "0194f1c2-aaaa-7bbb-8ccc-dddddddddddd",
		KeyDigest:   "deadbeefdigestvalue",
		KeyPrefix:   "gwk_a1b2c3d4",
		OwnerID:     "user_1",
		Label:       "ci key",
		Permissions: []string{PermToolsRead},
		Tier:        TierFree,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}

	b, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if _, ok := m["key_digest"]; ok {
		t.Error("key_digest should NOT appear in JSON output (json:\"-\" tag)")
	}
	if _, ok := m["key_prefix"]; !ok {
		t.Error("key_prefix should be present in JSON output")
	}
	if _, ok := m["org_id"]; ok {
		t.Error("org_id should be omitted when empty")
	}
}

func TestAPIKeyExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry", nil, false},
		{"future expiry", &future, false},
		{"past expiry", &past, true},
		{"expiry exactly now", &now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := APIKey{ExpiresAt: tt.expiresAt}
			if got := k.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentityCan(t *testing.T) {
	id := Identity{
		SubjectID:   "user_1",
		Method:      MethodAPIKey,
		Permissions: []string{PermToolsRead},
	}

	if !id.Can(PermToolsRead) {
		t.Errorf("Can(%q) = false, want true", PermToolsRead)
	}
	if id.Can(PermToolsWrite) {
		t.Errorf("Can(%q) = true, want false", PermToolsWrite)
	}
	// Membership is exact: no prefix or hierarchy matching.
	if id.Can("tools:") {
		t.Error("Can(\"tools:\") = true, want false")
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeInvalidCredential, 401},
		{CodeMalformedRequest, 401},
		{CodePermissionDenied, 403},
		{CodeQuotaExceeded, 429},
		{CodeUpstreamUnavailable, 503},
		{CodeInvalidRequest, 400},
		{CodeNotFound, 404},
		{CodeInternal, 500},
		{ErrorCode("mystery"), 500},
	}

	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestErrorResponseJSON(t *testing.T) {
	b, err := json.Marshal(NewError(CodeQuotaExceeded))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	want := `{"ok":false,"error":"quota_exceeded"}`
	if string(b) != want {
		t.Errorf("error envelope = %s, want %s", b, want)
	}
}

func TestDataResponseJSON(t *testing.T) {
	b, err := json.Marshal(NewData(map[string]interface{}{"symbol": "BTC"}))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if m["ok"] != true {
		t.Errorf("ok = %v, want true", m["ok"])
	}
	data, ok := m["data"].(map[string]interface{})
	if !ok {
		t.Fatal("expected 'data' key to be an object")
	}
	if data["symbol"] != "BTC" {
		t.Errorf("data.symbol = %v, want %q", data["symbol"], "BTC")
	}
}
