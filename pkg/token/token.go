package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewShareToken returns an opaque URL-safe token used for anonymous
// read access to a single scan. 32 hex chars from a CSPRNG.
func NewShareToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating share token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Sign computes the hex HMAC-SHA256 of body under secret. Used to
// verify billing webhook payloads.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is a valid signature for body.
// Comparison is constant-time.
func VerifySignature(secret string, body []byte, sig string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(sig))
}
