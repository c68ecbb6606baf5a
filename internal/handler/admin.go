package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/server/middleware"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/store"
)

// Admin serves the operator surface: fleet-wide key listing, tier changes,
// expired-key purging, and the audit trail. Routes mounting these handlers
// must already require the admin claim.
type Admin struct {
	issuer *service.Issuer
	store  *store.Store
	logger *slog.Logger
}

// NewAdmin creates an Admin handler.
func NewAdmin(issuer *service.Issuer, st *store.Store, logger *slog.Logger) *Admin {
	return &Admin{
		issuer: issuer,
		store:  st,
		logger: logger,
	}
}

// ListKeys returns every key in the system, active or not.
// GET /admin/api-keys
func (h *Admin) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("admin list keys", "error", err)
		writeCode(w, storeCode(err))
		return
	}
	writeData(w, http.StatusOK, keyListResponse{Keys: keys, Count: len(keys)})
}

type changeTierRequest struct {
	Tier model.Tier `json:"tier"`
}

// ChangeTier moves a key to a different tier.
// PUT /admin/api-keys/{keyID}/tier
func (h *Admin) ChangeTier(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		writeCode(w, model.CodeInvalidCredential)
		return
	}

	var req changeTierRequest
	if err := readJSON(r, &req); err != nil {
		writeCode(w, model.CodeInvalidRequest)
		return
	}

	keyID := chi.URLParam(r, "keyID")
	if err := h.issuer.ChangeTier(r.Context(), keyID, req.Tier, id.SubjectID, r.RemoteAddr); err != nil {
		writeCode(w, storeCode(err))
		return
	}

	key, err := h.store.GetKey(r.Context(), keyID)
	if err != nil {
		writeCode(w, storeCode(err))
		return
	}
	writeData(w, http.StatusOK, key)
}

// PurgeExpired deletes all expired keys immediately.
// POST /admin/purge-expired
func (h *Admin) PurgeExpired(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		writeCode(w, model.CodeInvalidCredential)
		return
	}

	n, err := h.issuer.PurgeExpired(r.Context(), id.SubjectID, r.RemoteAddr)
	if err != nil {
		h.logger.Error("purge expired", "error", err)
		writeCode(w, storeCode(err))
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"purged": n})
}

type auditListResponse struct {
	Records []model.AuditRecord `json:"records"`
	Count   int                 `json:"count"`
}

// ListAudit returns audit records, newest first. Filters: actor, action,
// since, until (RFC 3339), limit.
// GET /admin/audit
func (h *Admin) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := store.AuditQuery{
		Actor:  queryString(r, "actor"),
		Action: queryString(r, "action"),
		Since:  queryTime(r, "since"),
		Until:  queryTime(r, "until"),
		Limit:  queryInt(r, "limit", 0),
	}

	records, err := h.store.ListAudit(r.Context(), q)
	if err != nil {
		h.logger.Error("list audit", "error", err)
		writeCode(w, storeCode(err))
		return
	}
	writeData(w, http.StatusOK, auditListResponse{Records: records, Count: len(records)})
}
