package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NewTokenID returns a random Base64URL token id (32 bytes of entropy).
func NewTokenID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
