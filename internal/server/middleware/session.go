package middleware

import (
	"net/http"
	"strings"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/model"
)

// SessionVerifier parses a bearer session token into an identity.
type SessionVerifier interface {
	Verify(token string) (*model.Identity, error)
}

// Session authenticates the management surface with bearer session tokens.
// On success the identity is attached to the request context.
func Session(sessions SessionVerifier, rec *audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				rejectSession(w, rec, r, "missing bearer token")
				return
			}

			id, err := sessions.Verify(strings.TrimPrefix(authz, "Bearer "))
			if err != nil {
				rejectSession(w, rec, r, "token rejected")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin enforces the admin claim. Must run after Session.
func RequireAdmin(rec *audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if id == nil {
				writeReject(w, model.CodeInvalidCredential)
				return
			}

			if !id.Admin {
				rec.Record(model.AuditRecord{
					Actor:        id.SubjectID,
					Action:       audit.ActionPermissionDenied,
					ResourceType: audit.ResourceRoute,
					ResourceID:   r.URL.Path,
					Outcome:      audit.OutcomeDenied,
					Detail:       map[string]string{"required": "admin"},
					Origin:       r.RemoteAddr,
				})
				writeReject(w, model.CodePermissionDenied)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rejectSession(w http.ResponseWriter, rec *audit.Recorder, r *http.Request, reason string) {
	rec.Record(model.AuditRecord{
		Actor:        model.ActorUnknown,
		Action:       audit.ActionAuthRejected,
		ResourceType: audit.ResourceSession,
		ResourceID:   r.URL.Path,
		Outcome:      audit.OutcomeDenied,
		Detail:       map[string]string{"reason": reason},
		Origin:       r.RemoteAddr,
	})
	writeReject(w, model.CodeInvalidCredential)
}
