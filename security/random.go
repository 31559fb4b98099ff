package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// GenerateNonce returns a 128-bit random value as 32 hex characters.
func GenerateNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// GenerateToken returns a 256-bit random value as a URL-safe string.
// Used for bearer session tokens.
func GenerateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GeneratePassword returns a 128-bit random value as a 22 character
// URL-safe string, used to fill compose password placeholders.
func GeneratePassword() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
