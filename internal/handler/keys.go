package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/server/middleware"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/store"
)

// Keys serves self-service credential management for session callers. Every
// mutation is scoped to the caller's own keys; requests touching another
// owner's key get the same not_found as a key that does not exist.
type Keys struct {
	issuer *service.Issuer
	store  *store.Store
	logger *slog.Logger
}

// NewKeys creates a Keys handler.
func NewKeys(issuer *service.Issuer, st *store.Store, logger *slog.Logger) *Keys {
	return &Keys{
		issuer: issuer,
		store:  st,
		logger: logger,
	}
}

type createKeyRequest struct {
	Label         string     `json:"label"`
	Permissions   []string   `json:"permissions"`
	Tier          model.Tier `json:"tier,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ExpiresInDays int        `json:"expires_in_days,omitempty"`
}

// createKeyResponse carries the plaintext secret. This is the ONLY time it
// is visible; only the digest is stored.
type createKeyResponse struct {
	Key    *model.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

// Create issues a new API key for the calling subject.
// POST /user/api-keys
func (h *Keys) Create(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		writeCode(w, model.CodeInvalidCredential)
		return
	}

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeCode(w, model.CodeInvalidRequest)
		return
	}

	// Non-admins issue free-tier keys only; tier upgrades go through the
	// admin surface.
	if req.Tier != "" && req.Tier != model.TierFree && !id.Admin {
		writeCode(w, model.CodePermissionDenied)
		return
	}

	expiresAt, ok := resolveExpiry(req.ExpiresAt, req.ExpiresInDays)
	if !ok {
		writeCode(w, model.CodeInvalidRequest)
		return
	}

	issued, err := h.issuer.Issue(r.Context(), service.IssueParams{
		OwnerID:     id.SubjectID,
		OrgID:       id.OrgID,
		Label:       req.Label,
		Permissions: req.Permissions,
		Tier:        req.Tier,
		ExpiresAt:   expiresAt,
		Actor:       id.SubjectID,
		Origin:      r.RemoteAddr,
	})
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			writeCode(w, model.CodeInvalidRequest)
			return
		}
		h.logger.Error("issue key", "owner", id.SubjectID, "error", err)
		writeCode(w, model.CodeInternal)
		return
	}

	writeData(w, http.StatusCreated, createKeyResponse{
		Key:    issued.Key,
		Secret: issued.Secret,
	})
}

// resolveExpiry reconciles the two expiry inputs. Exactly one of expires_at
// and expires_in_days may be set; days must be positive.
func resolveExpiry(at *time.Time, days int) (*time.Time, bool) {
	if at != nil && days != 0 {
		return nil, false
	}
	if days < 0 {
		return nil, false
	}
	if days > 0 {
		t := time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour)
		return &t, true
	}
	return at, true
}

type keyListResponse struct {
	Keys  []model.APIKey `json:"keys"`
	Count int            `json:"count"`
}

// ListMine returns the calling subject's active keys; revoked and purged
// keys drop out of the listing.
// GET /user/api-keys
func (h *Keys) ListMine(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		writeCode(w, model.CodeInvalidCredential)
		return
	}

	keys, err := h.store.ListKeysForOwner(r.Context(), id.SubjectID)
	if err != nil {
		h.logger.Error("list keys", "owner", id.SubjectID, "error", err)
		writeCode(w, storeCode(err))
		return
	}
	writeData(w, http.StatusOK, keyListResponse{Keys: keys, Count: len(keys)})
}

// ListOrg returns every key in the caller's organization. Sessions without
// an org claim have no organization to list.
// GET /org/api-keys
func (h *Keys) ListOrg(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		writeCode(w, model.CodeInvalidCredential)
		return
	}
	if id.OrgID == "" {
		writeCode(w, model.CodePermissionDenied)
		return
	}

	keys, err := h.store.ListKeysForOrg(r.Context(), id.OrgID)
	if err != nil {
		h.logger.Error("list org keys", "org", id.OrgID, "error", err)
		writeCode(w, storeCode(err))
		return
	}
	writeData(w, http.StatusOK, keyListResponse{Keys: keys, Count: len(keys)})
}

type updateKeyRequest struct {
	Label       *string  `json:"label,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Update changes a key's label and/or permission set.
// PATCH /user/api-keys/{keyID}
func (h *Keys) Update(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		writeCode(w, model.CodeInvalidCredential)
		return
	}

	key, ok := h.ownedKey(w, r, id)
	if !ok {
		return
	}

	var req updateKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeCode(w, model.CodeInvalidRequest)
		return
	}
	if req.Label == nil && req.Permissions == nil {
		writeCode(w, model.CodeInvalidRequest)
		return
	}

	if req.Label != nil {
		if err := h.issuer.UpdateLabel(r.Context(), key.ID, *req.Label, id.SubjectID, r.RemoteAddr); err != nil {
			writeCode(w, storeCode(err))
			return
		}
	}
	if req.Permissions != nil {
		if err := h.issuer.UpdatePermissions(r.Context(), key.ID, req.Permissions, id.SubjectID, r.RemoteAddr); err != nil {
			writeCode(w, storeCode(err))
			return
		}
	}

	updated, err := h.store.GetKey(r.Context(), key.ID)
	if err != nil {
		writeCode(w, storeCode(err))
		return
	}
	writeData(w, http.StatusOK, updated)
}

// Revoke deactivates a key. Revoking an already-revoked key succeeds with
// changed=false.
// DELETE /user/api-keys/{keyID}
func (h *Keys) Revoke(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		writeCode(w, model.CodeInvalidCredential)
		return
	}

	key, ok := h.ownedKey(w, r, id)
	if !ok {
		return
	}

	changed, err := h.issuer.Revoke(r.Context(), key.ID, id.SubjectID, r.RemoteAddr)
	if err != nil {
		writeCode(w, storeCode(err))
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"revoked": true,
		"changed": changed,
	})
}

// ownedKey loads the key named in the URL and enforces ownership. Keys owned
// by someone else are reported as not_found so the API never confirms that a
// foreign identifier exists.
func (h *Keys) ownedKey(w http.ResponseWriter, r *http.Request, id *model.Identity) (*model.APIKey, bool) {
	keyID := chi.URLParam(r, "keyID")

	key, err := h.store.GetKey(r.Context(), keyID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("get key", "key", keyID, "error", err)
		}
		writeCode(w, storeCode(err))
		return nil, false
	}
	if key.OwnerID != id.SubjectID {
		writeCode(w, model.CodeNotFound)
		return nil, false
	}
	return key, true
}
