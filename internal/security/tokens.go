package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// tokenBytes is the entropy of every opaque token: 256 bits, well above the 128-bit floor
// needed to resist enumeration.
const tokenBytes = 32

// maxTokenLen bounds what ValidTokenFormat accepts before any hashing or store lookup.
const maxTokenLen = 128

// NewOpaqueToken returns a uniformly random, URL-safe token (base64url, no padding).
// Used for session cookies and invitation links.
func NewOpaqueToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 of token. Only hashes are persisted; the raw token
// lives in the cookie or the invitation link.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ValidTokenFormat reports whether token is non-empty, bounded, and drawn from the base64url alphabet.
func ValidTokenFormat(token string) bool {
	if token == "" || len(token) > maxTokenLen {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
