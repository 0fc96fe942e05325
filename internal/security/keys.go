package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// API keys have the form "<keyID>.<secret>". Only the SHA-256 of the secret
// is persisted; the raw secret exists client-side and at mint time.

// MintAPIKey generates a new API key and the hash to persist for it.
func MintAPIKey(keyID string) (apiKey, hash string, err error) {
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("api key entropy: %w", err)
	}
	encoded := hex.EncodeToString(secret)
	return keyID + "." + encoded, HashAPIKeySecret(encoded), nil
}

// SplitAPIKey separates the key id from the secret. ok is false when the key
// is malformed.
func SplitAPIKey(apiKey string) (keyID, secret string, ok bool) {
	keyID, secret, found := strings.Cut(apiKey, ".")
	if !found || keyID == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}

// HashAPIKeySecret returns the hex SHA-256 of an API key secret.
func HashAPIKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKeySecret compares a presented secret against a stored hash in
// constant time.
func VerifyAPIKeySecret(secret, storedHash string) bool {
	computed := HashAPIKeySecret(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
