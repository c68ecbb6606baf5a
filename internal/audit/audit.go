// Package audit appends security events to the append-only trail. Writes
// happen before the response is sent but never fail the request.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
)

// Action vocabulary. Every entry in the trail uses one of these.
const (
	ActionKeyCreated          = "key_created"
	ActionKeyRevoked          = "key_revoked"
	ActionKeyUpdated          = "key_updated"
	ActionTierChanged         = "tier_changed"
	ActionKeysPurged          = "keys_purged"
	ActionSessionIssued       = "session_issued"
	ActionAuthRejected        = "auth_rejected"
	ActionPermissionDenied    = "permission_denied"
	ActionQuotaExceeded       = "quota_exceeded"
	ActionUpstreamUnavailable = "upstream_unavailable"
)

const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

const (
	ResourceAPIKey  = "api_key"
	ResourceRoute   = "route"
	ResourceSession = "session"
)

const writeTimeout = 3 * time.Second

// Appender persists one audit record.
type Appender interface {
	AppendAudit(ctx context.Context, rec *model.AuditRecord) error
}

// Recorder writes audit records through an Appender. Append failures are
// logged and swallowed so the trail never takes down request handling.
type Recorder struct {
	store  Appender
	logger *slog.Logger
}

func NewRecorder(store Appender, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record persists one entry. It runs on a detached context so a client
// disconnect cannot lose the entry for the request it describes.
func (r *Recorder) Record(rec model.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.AppendAudit(ctx, &rec); err != nil {
		r.logger.Error("audit append failed",
			"action", rec.Action,
			"actor", rec.Actor,
			"error", err,
		)
		return
	}

	r.logger.Debug("audit",
		"actor", rec.Actor,
		"action", rec.Action,
		"resource", rec.ResourceType,
		"resource_id", rec.ResourceID,
		"outcome", rec.Outcome,
	)
}
