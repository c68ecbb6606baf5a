package secret

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/argon2"
)

// digestLen is the derived digest size in bytes (64 hex characters stored).
const digestLen = 32

// Params holds the Argon2id cost knobs. Raising Time is the primary way to
// make digest derivation more expensive.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams returns the production cost settings. Derivation lands in
// the tens-of-milliseconds range on current server hardware.
func DefaultParams() Params {
	return Params{Time: 3, Memory: 64 * 1024, Threads: 2}
}

// TestParams returns deliberately cheap settings for tests.
func TestParams() Params {
	return Params{Time: 1, Memory: 8 * 1024, Threads: 1}
}

// Hasher derives storable digests from raw key secrets using Argon2id.
// Derivation is deterministic for a given pepper, which is what lets the
// store index records by digest; the pepper is an application-level secret
// configured outside the database, so leaked rows alone are not enough to
// test candidate keys offline.
type Hasher struct {
	pepper []byte
	params Params
}

// NewHasher creates a Hasher. The pepper must be non-empty; cost parameters
// of zero fall back to defaults.
func NewHasher(pepper string, params Params) (*Hasher, error) {
	if pepper == "" {
		return nil, errors.New("secret: pepper must not be empty")
	}
	def := DefaultParams()
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.Memory == 0 {
		params.Memory = def.Memory
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	return &Hasher{pepper: []byte(pepper), params: params}, nil
}

// Digest returns the hex-encoded Argon2id digest of a raw key secret.
func (h *Hasher) Digest(raw string) string {
	sum := argon2.IDKey([]byte(raw), h.pepper, h.params.Time, h.params.Memory, h.params.Threads, digestLen)
	return hex.EncodeToString(sum)
}

// Verify re-derives the digest of raw and compares it to stored. The final
// comparison is constant time; no byte position short-circuits.
func (h *Hasher) Verify(raw, stored string) bool {
	derived := h.Digest(raw)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(stored)) == 1
}
