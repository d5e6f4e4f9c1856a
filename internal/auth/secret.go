package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// GenerateSecret returns a random Base64URL secret (32 bytes) and its SHA256 hash as hex
func GenerateSecret() (secret string, hashHex string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	secret = base64.RawURLEncoding.EncodeToString(b)
	return secret, HashSecret(secret), nil
}

// HashSecret returns SHA256 hex of the secret
func HashSecret(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}

// EncodeAPIKey builds the API-Key header value for a key ID and secret.
func EncodeAPIKey(keyID, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(keyID + ":" + secret))
}
