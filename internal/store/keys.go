package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal/model"
)

// keyRow maps 1:1 to the api_keys table. The permissions column stores the
// JSON-encoded permission set, so the model type cannot be scanned directly.
type keyRow struct {
	ID              string         `db:"id"`
	KeyDigest       string         `db:"key_digest"`
	KeyPrefix       string         `db:"key_prefix"`
	OwnerID         string         `db:"owner_id"`
	OrgID           sql.NullString `db:"org_id"`
	Label           string         `db:"label"`
	PermissionsJSON string         `db:"permissions"`
	Tier            string         `db:"tier"`
	IsActive        bool           `db:"is_active"`
	ExpiresAt       *time.Time     `db:"expires_at"`
	CreatedAt       time.Time      `db:"created_at"`
	LastUsedAt      *time.Time     `db:"last_used_at"`
	UsageCount      int64          `db:"usage_count"`
}

func keyRowFromModel(key *model.APIKey) (keyRow, error) {
	permsJSON, err := json.Marshal(key.Permissions)
	if err != nil {
		return keyRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	return keyRow{
		ID:              key.ID,
		KeyDigest:       key.KeyDigest,
		KeyPrefix:       key.KeyPrefix,
		OwnerID:         key.OwnerID,
		OrgID:           sql.NullString{String: key.OrgID, Valid: key.OrgID != ""},
		Label:           key.Label,
		PermissionsJSON: string(permsJSON),
		Tier:            string(key.Tier),
		IsActive:        key.IsActive,
		ExpiresAt:       key.ExpiresAt,
		CreatedAt:       key.CreatedAt,
		LastUsedAt:      key.LastUsedAt,
		UsageCount:      key.UsageCount,
	}, nil
}

func (r keyRow) toModel() (model.APIKey, error) {
	var perms []string
	if r.PermissionsJSON != "" {
		if err := json.Unmarshal([]byte(r.PermissionsJSON), &perms); err != nil {
			return model.APIKey{}, fmt.Errorf("unmarshal permissions: %w", err)
		}
	}
	return model.APIKey{
		ID:          r.ID,
		KeyDigest:   r.KeyDigest,
		KeyPrefix:   r.KeyPrefix,
		OwnerID:     r.OwnerID,
		OrgID:       r.OrgID.String,
		Label:       r.Label,
		Permissions: perms,
		Tier:        model.Tier(r.Tier),
		IsActive:    r.IsActive,
		ExpiresAt:   r.ExpiresAt,
		CreatedAt:   r.CreatedAt,
		LastUsedAt:  r.LastUsedAt,
		UsageCount:  r.UsageCount,
	}, nil
}

// CreateKey inserts a new key record. The digest and prefix must already be
// set; ID and CreatedAt are populated on success. Unknown tiers and invalid
// permission sets fail with ErrValidation before touching the database.
func (s *Store) CreateKey(ctx context.Context, key *model.APIKey) error {
	if !model.ValidTier(key.Tier) {
		return fmt.Errorf("%w: unknown tier %q", ErrValidation, key.Tier)
	}
	if err := model.ValidatePermissions(key.Permissions); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if key.KeyDigest == "" {
		return fmt.Errorf("%w: key digest must be set", ErrValidation)
	}

	if key.ID == "" {
		key.ID = uuid.Must(uuid.NewV7()).String()
	}
	key.CreatedAt = now()
	if key.ExpiresAt != nil {
		t := key.ExpiresAt.UTC().Truncate(time.Second)
		key.ExpiresAt = &t
	}

	row, err := keyRowFromModel(key)
	if err != nil {
		return err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	const q = `INSERT INTO api_keys
		(id, key_digest, key_prefix, owner_id, org_id, label, permissions, tier,
		 is_active, expires_at, created_at, last_used_at, usage_count)
		VALUES
		(:id, :key_digest, :key_prefix, :owner_id, :org_id, :label, :permissions, :tier,
		 :is_active, :expires_at, :created_at, :last_used_at, :usage_count)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetKey returns a key record by ID regardless of its active state.
func (s *Store) GetKey(ctx context.Context, id string) (*model.APIKey, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var row keyRow
	q := s.db.Rebind("SELECT * FROM api_keys WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// FindByDigest returns the live record matching a digest: active and either
// unexpired or without an expiry. Revoked and expired records are invisible
// here, which is what makes their rejections indistinguishable upstream.
func (s *Store) FindByDigest(ctx context.Context, digest string) (*model.APIKey, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var row keyRow
	q := s.db.Rebind(`SELECT * FROM api_keys
		WHERE key_digest = ? AND is_active = ? AND (expires_at IS NULL OR expires_at > ?)`)
	if err := s.db.GetContext(ctx, &row, q, digest, true, now()); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find api key by digest: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// RevokeKey deactivates a key. Revocation is terminal: no store path ever
// sets is_active back to true. The call is idempotent and reports whether a
// record changed; an unknown ID fails with ErrNotFound.
func (s *Store) RevokeKey(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := s.db.Rebind("UPDATE api_keys SET is_active = ? WHERE id = ? AND is_active = ?")
	result, err := s.db.ExecContext(ctx, q, false, id, true)
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var count int
	cq := s.db.Rebind("SELECT COUNT(*) FROM api_keys WHERE id = ?")
	if err := s.db.GetContext(ctx, &count, cq, id); err != nil {
		return false, fmt.Errorf("revoke api key existence check: %w", err)
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil // already inactive
}

// UpdateKeyLabel renames a key. Missing and inactive records both fail with
// ErrNotFound.
func (s *Store) UpdateKeyLabel(ctx context.Context, id, label string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := s.db.Rebind("UPDATE api_keys SET label = ? WHERE id = ? AND is_active = ?")
	return s.execOnLive(ctx, q, "update api key label", label, id, true)
}

// UpdateKeyPermissions replaces a key's permission set. The new set is
// validated against the closed vocabulary.
func (s *Store) UpdateKeyPermissions(ctx context.Context, id string, perms []string) error {
	if err := model.ValidatePermissions(perms); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := s.db.Rebind("UPDATE api_keys SET permissions = ? WHERE id = ? AND is_active = ?")
	return s.execOnLive(ctx, q, "update api key permissions", string(permsJSON), id, true)
}

// UpdateKeyTier moves a key to a different tier.
func (s *Store) UpdateKeyTier(ctx context.Context, id string, tier model.Tier) error {
	if !model.ValidTier(tier) {
		return fmt.Errorf("%w: unknown tier %q", ErrValidation, tier)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := s.db.Rebind("UPDATE api_keys SET tier = ? WHERE id = ? AND is_active = ?")
	return s.execOnLive(ctx, q, "update api key tier", string(tier), id, true)
}

// execOnLive runs a partial update that only applies to active records,
// translating zero affected rows into ErrNotFound.
func (s *Store) execOnLive(ctx context.Context, query, op string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListKeysForOwner returns the owner's active keys, newest first.
func (s *Store) ListKeysForOwner(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	q := `SELECT * FROM api_keys WHERE owner_id = ? AND is_active = ?
		ORDER BY created_at DESC, id DESC`
	return s.selectKeys(ctx, "list api keys for owner", q, ownerID, true)
}

// ListKeysForOrg returns an organization's active keys, newest first.
func (s *Store) ListKeysForOrg(ctx context.Context, orgID string) ([]model.APIKey, error) {
	q := `SELECT * FROM api_keys WHERE org_id = ? AND is_active = ?
		ORDER BY created_at DESC, id DESC`
	return s.selectKeys(ctx, "list api keys for org", q, orgID, true)
}

// ListKeys returns every key record, active or not, newest first.
func (s *Store) ListKeys(ctx context.Context) ([]model.APIKey, error) {
	q := `SELECT * FROM api_keys ORDER BY created_at DESC, id DESC`
	return s.selectKeys(ctx, "list api keys", q)
}

func (s *Store) selectKeys(ctx context.Context, op, query string, args ...any) ([]model.APIKey, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		key, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PurgeExpired batch-deactivates every record past its expiry. It never
// hard-deletes. Returns the number of records affected; idempotent.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := s.db.Rebind(`UPDATE api_keys SET is_active = ?
		WHERE is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?`)
	result, err := s.db.ExecContext(ctx, q, false, true, now())
	if err != nil {
		return 0, fmt.Errorf("purge expired api keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired rows affected: %w", err)
	}
	return n, nil
}

// DeleteKey hard-deletes a record. Administrative path only; normal
// lifecycle uses RevokeKey.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := s.db.Rebind("DELETE FROM api_keys WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchKeyUsage stamps last-used and bumps the usage counter in one atomic
// statement. The counter only ever increases.
func (s *Store) TouchKeyUsage(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := s.db.Rebind(`UPDATE api_keys
		SET last_used_at = ?, usage_count = usage_count + 1 WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, q, now(), id)
	if err != nil {
		return fmt.Errorf("touch api key usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch api key usage rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveKeys reports how many records are currently active.
func (s *Store) CountActiveKeys(ctx context.Context) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var count int
	q := s.db.Rebind("SELECT COUNT(*) FROM api_keys WHERE is_active = ?")
	if err := s.db.GetContext(ctx, &count, q, true); err != nil {
		return 0, fmt.Errorf("count active api keys: %w", err)
	}
	return count, nil
}
