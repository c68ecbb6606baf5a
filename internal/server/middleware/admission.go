package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/signing"
)

// KeyVerifier resolves a presented API key to an identity.
type KeyVerifier interface {
	Verify(ctx context.Context, raw string) (*model.Identity, error)
}

// SignedCaller describes the trusted service allowed to authenticate by
// signing request bodies instead of presenting a key.
type SignedCaller struct {
	Service string
	Secret  []byte
}

func (s *SignedCaller) identity() *model.Identity {
	return &model.Identity{
		SubjectID:   "svc:" + s.Service,
		Method:      model.MethodSignature,
		Tier:        model.TierEnterprise,
		Permissions: model.KnownPermissions(),
	}
}

// Admission enforces the credential rules on the tools surface: the request
// must carry exactly one credential, either an Authorization bearer key or a
// body signature. Both or neither is rejected as malformed before any
// verification work happens. The admitted identity is attached to the
// request context.
func Admission(verifier KeyVerifier, signed *SignedCaller, rec *audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			sig := r.Header.Get(signing.Header)

			// Exactly one credential. This check precedes every lookup so
			// a malformed request costs nothing and leaks nothing.
			if (authz == "") == (sig == "") {
				reason := "no credential"
				if authz != "" {
					reason = "multiple credentials"
				}
				rejectAuth(w, rec, r, model.CodeMalformedRequest, reason)
				return
			}

			if sig != "" {
				admitSigned(w, r, next, signed, rec, sig)
				return
			}

			admitKey(w, r, next, verifier, rec, authz)
		})
	}
}

func admitKey(w http.ResponseWriter, r *http.Request, next http.Handler, verifier KeyVerifier, rec *audit.Recorder, authz string) {
	raw := strings.TrimPrefix(authz, "Bearer ")

	id, err := verifier.Verify(r.Context(), raw)
	switch {
	case errors.Is(err, service.ErrUnavailable):
		rejectAuth(w, rec, r, model.CodeUpstreamUnavailable, "verifier unavailable")
		return
	case err != nil:
		rejectAuth(w, rec, r, model.CodeInvalidCredential, "key rejected")
		return
	}

	next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
}

func admitSigned(w http.ResponseWriter, r *http.Request, next http.Handler, signed *SignedCaller, rec *audit.Recorder, sig string) {
	if signed == nil || len(signed.Secret) == 0 {
		rejectAuth(w, rec, r, model.CodeInvalidCredential, "signature caller not configured")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		rejectAuth(w, rec, r, model.CodeMalformedRequest, "unreadable body")
		return
	}
	r.Body.Close()

	// The MAC covers the exact bytes as transmitted; nothing is
	// re-serialized on either side.
	if !signing.Verify(body, sig, signed.Secret) {
		rejectAuth(w, rec, r, model.CodeInvalidCredential, "signature mismatch")
		return
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), signed.identity())))
}

func rejectAuth(w http.ResponseWriter, rec *audit.Recorder, r *http.Request, code model.ErrorCode, reason string) {
	outcome := audit.OutcomeDenied
	action := audit.ActionAuthRejected
	if code == model.CodeUpstreamUnavailable {
		outcome = audit.OutcomeError
		action = audit.ActionUpstreamUnavailable
	}

	rec.Record(model.AuditRecord{
		Actor:        model.ActorUnknown,
		Action:       action,
		ResourceType: audit.ResourceRoute,
		ResourceID:   r.URL.Path,
		Outcome:      outcome,
		Detail:       map[string]string{"reason": reason},
		Origin:       r.RemoteAddr,
	})
	writeReject(w, code)
}
