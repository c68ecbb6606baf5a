package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/quota"
	"github.com/gatewarden/gatewarden/internal/usage"
)

// QuotaGate acquires one unit of the class budget for the admitted subject.
// Denials answer 429 with Retry-After; enforcer failures answer 503 rather
// than silently waving traffic through. Must run after Admission.
func QuotaGate(enf quota.Enforcer, class quota.Class, rec *audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if id == nil {
				writeReject(w, model.CodeInvalidCredential)
				return
			}

			d, err := enf.TryAcquire(r.Context(), id.SubjectID, id.Tier, class)
			if err != nil {
				rec.Record(model.AuditRecord{
					Actor:        id.SubjectID,
					Action:       audit.ActionUpstreamUnavailable,
					ResourceType: audit.ResourceRoute,
					ResourceID:   r.URL.Path,
					Outcome:      audit.OutcomeError,
					Detail:       map[string]string{"stage": "quota"},
					Origin:       r.RemoteAddr,
				})
				writeReject(w, model.CodeUpstreamUnavailable)
				return
			}

			if d.Limit > 0 {
				w.Header().Set("X-Quota-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("X-Quota-Remaining", strconv.Itoa(d.Remaining))
			}

			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(d)))
				rec.Record(model.AuditRecord{
					Actor:        id.SubjectID,
					Action:       audit.ActionQuotaExceeded,
					ResourceType: audit.ResourceRoute,
					ResourceID:   r.URL.Path,
					Outcome:      audit.OutcomeDenied,
					Detail:       map[string]string{"class": string(class), "limit": strconv.Itoa(d.Limit)},
					Origin:       r.RemoteAddr,
				})
				writeReject(w, model.CodeQuotaExceeded)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retrySeconds(d quota.Decision) int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// UsageTouch notifies the usage recorder once a key-authenticated request
// has cleared every admission stage. Requests rejected earlier in the chain
// never reach this point, so they leave no usage trace.
func UsageTouch(rec *usage.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := GetIdentity(r.Context()); id != nil && id.Method == model.MethodAPIKey && id.KeyID != "" {
				rec.Touch(id.KeyID)
			}
			next.ServeHTTP(w, r)
		})
	}
}
