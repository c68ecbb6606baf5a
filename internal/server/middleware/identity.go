package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gatewarden/gatewarden/internal/model"
)

type contextKeyIdentity string

const (
	// IdentityKey is the context key for the admitted caller identity.
	IdentityKey contextKeyIdentity = "identity"

	identityHolderKey contextKeyIdentity = "identity_holder"
)

// identityHolder lets the access logger observe an identity attached by
// middleware that runs after it. The logger plants the holder; WithIdentity
// fills it.
type identityHolder struct {
	id *model.Identity
}

// WithIdentity attaches the admitted identity to the context.
func WithIdentity(ctx context.Context, id *model.Identity) context.Context {
	if holder, ok := ctx.Value(identityHolderKey).(*identityHolder); ok {
		holder.id = id
	}
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentity extracts the admitted identity from the context. Returns nil
// for requests that never passed admission.
func GetIdentity(ctx context.Context) *model.Identity {
	if id, ok := ctx.Value(IdentityKey).(*model.Identity); ok {
		return id
	}
	return nil
}

// writeReject sends the uniform rejection envelope for the code.
func writeReject(w http.ResponseWriter, code model.ErrorCode) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(model.NewError(code))
}
