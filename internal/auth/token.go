package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

// GenerateToken returns a raw 32-byte bearer token (base64url-encoded) and
// its hash. Only the hash is ever stored or used as a cache key; the raw
// token exists solely in the response to the client that signed in.
func GenerateToken() (raw string, hash string, err error) {
	b := make([]byte, 32)
	if _, err = rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, HashToken(raw), nil
}

// HashToken converts a raw bearer token into its irreversible lookup key:
// base58-encoded SHA-256 of the token bytes.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base58.Encode(sum[:])
}
