package service

import (
	"context"
	"strconv"
	"time"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/secret"
	"github.com/gatewarden/gatewarden/internal/store"
)

// Issuer owns the credential lifecycle: minting, revocation, updates and
// the expiry sweep. HTTP handlers and the CLI both go through it so every
// mutation lands in the audit trail the same way.
type Issuer struct {
	store  *store.Store
	hasher *secret.Hasher
	audit  *audit.Recorder
}

func NewIssuer(st *store.Store, hasher *secret.Hasher, rec *audit.Recorder) *Issuer {
	return &Issuer{store: st, hasher: hasher, audit: rec}
}

// IssueParams describes the key to mint. Zero-value Tier defaults to free
// and empty Permissions default to read-only.
type IssueParams struct {
	OwnerID     string
	OrgID       string
	Label       string
	Permissions []string
	Tier        model.Tier
	ExpiresAt   *time.Time

	Actor  string
	Origin string
}

// IssuedKey pairs the stored record with the raw secret. The secret exists
// only here; after this value is dropped it cannot be recovered.
type IssuedKey struct {
	Key    *model.APIKey
	Secret string
}

func (i *Issuer) Issue(ctx context.Context, p IssueParams) (*IssuedKey, error) {
	if p.Tier == "" {
		p.Tier = model.TierFree
	}
	if len(p.Permissions) == 0 {
		p.Permissions = []string{model.PermToolsRead}
	}

	raw, err := secret.NewKey()
	if err != nil {
		return nil, err
	}

	key := &model.APIKey{
		KeyDigest:   i.hasher.Digest(raw),
		KeyPrefix:   secret.DisplayPrefix(raw),
		OwnerID:     p.OwnerID,
		OrgID:       p.OrgID,
		Label:       p.Label,
		Permissions: p.Permissions,
		Tier:        p.Tier,
		IsActive:    true,
		ExpiresAt:   p.ExpiresAt,
	}
	if err := i.store.CreateKey(ctx, key); err != nil {
		return nil, err
	}

	i.audit.Record(model.AuditRecord{
		Actor:        p.Actor,
		Action:       audit.ActionKeyCreated,
		ResourceType: audit.ResourceAPIKey,
		ResourceID:   key.ID,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]string{"tier": string(key.Tier), "prefix": key.KeyPrefix},
		Origin:       p.Origin,
	})

	return &IssuedKey{Key: key, Secret: raw}, nil
}

// Revoke deactivates a key. Revoking an already revoked key reports
// changed=false and is not re-audited.
func (i *Issuer) Revoke(ctx context.Context, keyID, actor, origin string) (bool, error) {
	changed, err := i.store.RevokeKey(ctx, keyID)
	if err != nil {
		return false, err
	}
	if changed {
		i.audit.Record(model.AuditRecord{
			Actor:        actor,
			Action:       audit.ActionKeyRevoked,
			ResourceType: audit.ResourceAPIKey,
			ResourceID:   keyID,
			Outcome:      audit.OutcomeSuccess,
			Origin:       origin,
		})
	}
	return changed, nil
}

func (i *Issuer) UpdateLabel(ctx context.Context, keyID, label, actor, origin string) error {
	if err := i.store.UpdateKeyLabel(ctx, keyID, label); err != nil {
		return err
	}
	i.audit.Record(model.AuditRecord{
		Actor:        actor,
		Action:       audit.ActionKeyUpdated,
		ResourceType: audit.ResourceAPIKey,
		ResourceID:   keyID,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]string{"field": "label"},
		Origin:       origin,
	})
	return nil
}

func (i *Issuer) UpdatePermissions(ctx context.Context, keyID string, perms []string, actor, origin string) error {
	if err := i.store.UpdateKeyPermissions(ctx, keyID, perms); err != nil {
		return err
	}
	i.audit.Record(model.AuditRecord{
		Actor:        actor,
		Action:       audit.ActionKeyUpdated,
		ResourceType: audit.ResourceAPIKey,
		ResourceID:   keyID,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]string{"field": "permissions"},
		Origin:       origin,
	})
	return nil
}

func (i *Issuer) ChangeTier(ctx context.Context, keyID string, tier model.Tier, actor, origin string) error {
	if err := i.store.UpdateKeyTier(ctx, keyID, tier); err != nil {
		return err
	}
	i.audit.Record(model.AuditRecord{
		Actor:        actor,
		Action:       audit.ActionTierChanged,
		ResourceType: audit.ResourceAPIKey,
		ResourceID:   keyID,
		Outcome:      audit.OutcomeSuccess,
		Detail:       map[string]string{"tier": string(tier)},
		Origin:       origin,
	})
	return nil
}

// PurgeExpired batch-deactivates keys whose expiry has passed and reports
// how many changed. A sweep that changes nothing is not audited.
func (i *Issuer) PurgeExpired(ctx context.Context, actor, origin string) (int64, error) {
	n, err := i.store.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		i.audit.Record(model.AuditRecord{
			Actor:        actor,
			Action:       audit.ActionKeysPurged,
			ResourceType: audit.ResourceAPIKey,
			Outcome:      audit.OutcomeSuccess,
			Detail:       map[string]string{"purged": strconv.FormatInt(n, 10)},
			Origin:       origin,
		})
	}
	return n, nil
}
