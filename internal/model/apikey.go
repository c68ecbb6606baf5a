package model

import (
	"fmt"
	"time"
)

// Tier is the service level assigned to a credential. It selects the
// per-window request ceilings applied by the quota enforcer.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ValidTier reports whether t is one of the known tiers.
func ValidTier(t Tier) bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Permission tokens form a closed vocabulary. They are checked by exact
// string membership at issuance and at verification time; unknown tokens
// are rejected rather than persisted.
const (
	PermToolsRead  = "tools:read"
	PermToolsWrite = "tools:write"
)

// KnownPermissions returns the full permission vocabulary.
func KnownPermissions() []string {
	return []string{PermToolsRead, PermToolsWrite}
}

// ValidatePermissions checks that perms is a non-empty set drawn from the
// known vocabulary. It returns an error naming the first offending token.
func ValidatePermissions(perms []string) error {
	if len(perms) == 0 {
		return fmt.Errorf("permission set must not be empty")
	}
	for _, p := range perms {
		switch p {
		case PermToolsRead, PermToolsWrite:
		default:
			return fmt.Errorf("unknown permission %q", p)
		}
	}
	return nil
}

// APIKey represents one issued credential. The raw secret is returned to the
// owner exactly once at issuance; only its digest and a short non-secret
// display prefix are persisted.
type APIKey struct {
	ID          string     `json:"id"`
	KeyDigest   string     `json:"-"` // one-way digest, never expose
	KeyPrefix   string     `json:"key_prefix"`
	OwnerID     string     `json:"owner_id"`
	OrgID       string     `json:"org_id,omitempty"`
	Label       string     `json:"label"`
	Permissions []string   `json:"permissions"`
	Tier        Tier       `json:"tier"`
	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	UsageCount  int64      `json:"usage_count"`
}

// Expired reports whether the key's expiry has passed at the given instant.
// Keys without an expiry never expire.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}
