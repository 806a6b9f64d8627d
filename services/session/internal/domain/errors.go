package domain

import (
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
)

// CodeSessionNotFound is the error code of a rotation or logout that presented
// a secret matching no live credential.
const CodeSessionNotFound = "SESSION_NOT_FOUND"

// ErrNoMatchingSession wraps ErrForbidden: the caller had a cookie, it just
// matched nothing live.
var ErrNoMatchingSession = fmt.Errorf("no matching session: %w", apperrors.ErrForbidden)

// NoMatchingSession creates the 403 returned when a presented refresh secret
// was already rotated, revoked, expired or never issued.
func NoMatchingSession() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeSessionNotFound,
		Message: "session not found, please log in again",
		Status:  http.StatusForbidden,
		Err:     ErrNoMatchingSession,
	}
}

// InvalidCredentials never says which of the login fields was wrong.
func InvalidCredentials() *apperrors.AppError {
	return apperrors.Unauthorized("invalid credentials")
}

// Unauthenticated is returned when no credential was presented at all.
func Unauthenticated() *apperrors.AppError {
	return apperrors.Unauthorized("authentication required")
}
