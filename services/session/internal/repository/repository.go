package repository

import (
	"context"
	"time"

	"github.com/utafrali/rentchain/services/session/internal/domain"
)

// IdentityRepository defines persistence for identities.
type IdentityRepository interface {
	// Create inserts a new identity. A duplicate email or username yields
	// ErrAlreadyExists; a wallet claimed by another identity yields ErrConflict.
	Create(ctx context.Context, identity *domain.Identity) error

	// GetByID retrieves an identity by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Identity, error)

	// GetByEmail retrieves an identity by normalised email.
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)

	// GetByUsername retrieves an identity by exact username.
	GetByUsername(ctx context.Context, username string) (*domain.Identity, error)

	// GetByWallet retrieves an identity by normalised wallet address.
	GetByWallet(ctx context.Context, address string) (*domain.Identity, error)

	// Update persists every mutable field of the identity.
	Update(ctx context.Context, identity *domain.Identity) error
}

// CredentialRepository defines persistence for hashed refresh credentials.
// It never sees a plaintext secret.
type CredentialRepository interface {
	// Create stores a new credential.
	Create(ctx context.Context, credential *domain.Credential) error

	// ListActive returns every credential, of every identity, not expired at now.
	ListActive(ctx context.Context, now time.Time) ([]domain.Credential, error)

	// Delete removes one credential and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteByIdentity removes all credentials of an identity.
	DeleteByIdentity(ctx context.Context, identityID string) (int64, error)

	// Rotate deletes oldID and stores next in one transaction. When oldID is
	// already gone nothing is stored and a NoMatchingSession error is returned.
	Rotate(ctx context.Context, oldID string, next *domain.Credential) error

	// PurgeExpired deletes credentials expired at now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
