package service

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/secret"
	"github.com/gatewarden/gatewarden/internal/store"
)

var (
	// ErrInvalidCredential covers every rejection reason for a presented
	// credential. Unknown, revoked and expired keys are indistinguishable
	// to the caller.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnavailable means verification could not be attempted at all.
	ErrUnavailable = errors.New("credential backend unavailable")
)

// Verifier resolves raw API keys to identities. Digest computation is
// memory-hard, so concurrent verifications are bounded by a semaphore;
// waiters queue until a slot frees or their context ends.
type Verifier struct {
	store  *store.Store
	hasher *secret.Hasher
	sem    *semaphore.Weighted
	logger *slog.Logger
}

func NewVerifier(st *store.Store, hasher *secret.Hasher, maxConcurrent int64, logger *slog.Logger) *Verifier {
	if maxConcurrent <= 0 {
		maxConcurrent = int64(runtime.GOMAXPROCS(0))
	}
	return &Verifier{
		store:  st,
		hasher: hasher,
		sem:    semaphore.NewWeighted(maxConcurrent),
		logger: logger,
	}
}

// Verify checks a raw key and returns the identity it grants.
func (v *Verifier) Verify(ctx context.Context, raw string) (*model.Identity, error) {
	// Cheap shape check before burning a hash slot on garbage.
	if !secret.LooksLikeKey(raw) {
		return nil, ErrInvalidCredential
	}

	if err := v.sem.Acquire(ctx, 1); err != nil {
		return nil, ErrUnavailable
	}
	digest := v.hasher.Digest(raw)
	v.sem.Release(1)

	key, err := v.store.FindByDigest(ctx, digest)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrInvalidCredential
	case err != nil:
		v.logger.Error("credential lookup failed", "error", err)
		return nil, ErrUnavailable
	}

	return &model.Identity{
		SubjectID:   key.OwnerID,
		OrgID:       key.OrgID,
		KeyID:       key.ID,
		Method:      model.MethodAPIKey,
		Tier:        key.Tier,
		Permissions: key.Permissions,
	}, nil
}
