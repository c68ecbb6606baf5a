package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyMarker is the leading marker on every issued key secret.
	KeyMarker = "gwk_"

	// displayPrefixLen is how many leading characters of a raw secret are
	// kept as the non-secret display prefix.
	displayPrefixLen = 12

	rawKeyBytes = 32
)

// NewKey generates a fresh random key secret: the marker followed by
// 64 hex characters of entropy.
func NewKey() (string, error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key secret: %w", err)
	}
	return KeyMarker + hex.EncodeToString(buf), nil
}

// DisplayPrefix returns the non-secret leading characters of a raw key,
// used to identify records in listings without exposing the secret.
func DisplayPrefix(raw string) string {
	if len(raw) <= displayPrefixLen {
		return raw
	}
	return raw[:displayPrefixLen]
}

// LooksLikeKey reports whether s has the shape of a raw key secret. Shape
// alone grants nothing; it only routes the credential to key verification.
func LooksLikeKey(s string) bool {
	return strings.HasPrefix(s, KeyMarker) && len(s) > displayPrefixLen
}
