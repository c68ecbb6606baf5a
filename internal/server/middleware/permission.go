package middleware

import (
	"net/http"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/model"
)

// RequirePermission enforces that the admitted identity holds the named
// permission. Must run after Admission.
func RequirePermission(perm string, rec *audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if id == nil {
				writeReject(w, model.CodeInvalidCredential)
				return
			}

			if !id.Can(perm) {
				rec.Record(model.AuditRecord{
					Actor:        id.SubjectID,
					Action:       audit.ActionPermissionDenied,
					ResourceType: audit.ResourceRoute,
					ResourceID:   r.URL.Path,
					Outcome:      audit.OutcomeDenied,
					Detail:       map[string]string{"permission": perm},
					Origin:       r.RemoteAddr,
				})
				writeReject(w, model.CodePermissionDenied)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
