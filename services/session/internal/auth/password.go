package auth

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
)

// MinPasswordLength is the minimum password length required.
const MinPasswordLength = 8

// PasswordCost is the bcrypt cost for account passwords.
const PasswordCost = 12

// ValidatePassword checks that the password meets minimum complexity requirements.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > 72 {
		return apperrors.InvalidInput("password must be at most 72 bytes")
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}
	return nil
}

// HashPassword hashes a password with bcrypt at cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash. An empty hash, as held
// by wallet-only identities, never matches.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
