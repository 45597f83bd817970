package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// EmailProof computes the HMAC-SHA256 proof a trusted caller sends alongside
// an email on the server-to-server issuance endpoint.
func EmailProof(apiKey, email string) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write([]byte(normalizeEmail(email)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyEmailProof checks the caller's proof in constant time.
func VerifyEmailProof(apiKey, email, proof string) bool {
	expected := EmailProof(apiKey, email)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(proof))))
}
