package handler

import (
	"log/slog"
	"net/http"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/quota"
	"github.com/gatewarden/gatewarden/internal/server/middleware"
	"github.com/gatewarden/gatewarden/internal/store"
)

// Usage reports quota state and cumulative key usage for a subject.
type Usage struct {
	store    *store.Store
	enforcer quota.Enforcer
	logger   *slog.Logger
}

// NewUsage creates a Usage handler.
func NewUsage(st *store.Store, enforcer quota.Enforcer, logger *slog.Logger) *Usage {
	return &Usage{
		store:    st,
		enforcer: enforcer,
		logger:   logger,
	}
}

type usageWindow struct {
	Limit     int `json:"limit"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

type usageSummary struct {
	Subject    string                 `json:"subject"`
	Tier       model.Tier             `json:"tier"`
	Windows    map[string]usageWindow `json:"windows"`
	Keys       int                    `json:"keys"`
	ActiveKeys int                    `json:"active_keys"`
	UsageCount int64                  `json:"usage_count"`
}

// Summary returns the caller's effective tier, the current quota windows for
// each request class, and cumulative usage across all their keys.
// GET /user/usage
func (h *Usage) Summary(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		writeCode(w, model.CodeInvalidCredential)
		return
	}

	keys, err := h.store.ListKeysForOwner(r.Context(), id.SubjectID)
	if err != nil {
		h.logger.Error("list keys for usage", "owner", id.SubjectID, "error", err)
		writeCode(w, storeCode(err))
		return
	}

	// Quota windows are counted per subject, but limits follow the key
	// tier. Report against the strongest tier the subject holds.
	tier := effectiveTier(keys)

	var total int64
	active := 0
	for i := range keys {
		total += keys[i].UsageCount
		if keys[i].IsActive {
			active++
		}
	}

	windows := make(map[string]usageWindow, 2)
	for _, class := range []quota.Class{quota.ClassGeneral, quota.ClassCostly} {
		dec, err := h.enforcer.Snapshot(r.Context(), id.SubjectID, tier, class)
		if err != nil {
			h.logger.Error("quota snapshot", "subject", id.SubjectID, "class", class, "error", err)
			writeCode(w, model.CodeUpstreamUnavailable)
			return
		}
		used := 0
		if dec.Limit > 0 {
			used = dec.Limit - dec.Remaining
		}
		windows[string(class)] = usageWindow{
			Limit:     dec.Limit,
			Used:      used,
			Remaining: dec.Remaining,
		}
	}

	writeData(w, http.StatusOK, usageSummary{
		Subject:    id.SubjectID,
		Tier:       tier,
		Windows:    windows,
		Keys:       len(keys),
		ActiveKeys: active,
		UsageCount: total,
	})
}

// effectiveTier picks the highest tier among a subject's active keys. A
// subject with no active keys reports the free tier.
func effectiveTier(keys []model.APIKey) model.Tier {
	best := model.TierFree
	for i := range keys {
		if !keys[i].IsActive {
			continue
		}
		if tierRank(keys[i].Tier) > tierRank(best) {
			best = keys[i].Tier
		}
	}
	return best
}

func tierRank(t model.Tier) int {
	switch t {
	case model.TierEnterprise:
		return 2
	case model.TierPro:
		return 1
	default:
		return 0
	}
}
