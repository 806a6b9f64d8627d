package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// secretBytes is the entropy of a refresh secret.
const secretBytes = 32

// SecretHasher generates refresh secrets and hashes them with bcrypt. bcrypt
// salts every hash, so two hashes of one secret differ and stored credentials
// can only be matched by comparison, never by lookup.
type SecretHasher struct {
	cost int
}

// NewSecretHasher creates a hasher with the given bcrypt cost.
func NewSecretHasher(cost int) *SecretHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &SecretHasher{cost: cost}
}

// Generate returns a new random secret, URL-safe for use as a cookie value.
func (h *SecretHasher) Generate() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash returns the salted one-way hash of secret.
func (h *SecretHasher) Hash(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash refresh secret: %w", err)
	}
	return string(hash), nil
}

// Matches reports whether secret hashes to hash. The comparison is constant
// time. A malformed hash never matches.
func (h *SecretHasher) Matches(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
