// Package signing implements the symmetric request-signing protocol used by
// trusted services that call the gateway without an API key. The MAC is
// computed over the exact transmitted byte form of the payload; neither side
// re-serializes, so there is no canonicalization step to disagree about.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header carries the hex-encoded signature on both signed requests and
// signed responses.
const Header = "X-Gatewarden-Signature"

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the MAC for payload and compares it to the presented
// hex signature. The comparison is constant time; a malformed (non-hex or
// truncated) signature fails without revealing where.
func Verify(payload []byte, hexSig string, secret []byte) bool {
	presented, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), presented)
}
