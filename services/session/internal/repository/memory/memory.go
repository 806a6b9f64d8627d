// Package memory holds map-backed repositories used for local development
// (SESSION_STORAGE_BACKEND=memory) and tests. State is lost on restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
	"github.com/utafrali/rentchain/services/session/internal/domain"
)

// IdentityRepository implements repository.IdentityRepository using a map.
// It enforces the same uniqueness rules as the identities table.
type IdentityRepository struct {
	mu         sync.RWMutex
	identities map[string]domain.Identity
}

// NewIdentityRepository creates an empty identity repository.
func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{identities: make(map[string]domain.Identity)}
}

// Create stores a new identity.
func (r *IdentityRepository) Create(_ context.Context, identity *domain.Identity) error {
	if err := identity.Validate(); err != nil {
		return apperrors.InvalidInput(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkUnique(identity); err != nil {
		return err
	}
	r.identities[identity.ID] = *identity
	return nil
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	return r.find(func(i domain.Identity) bool { return i.ID == id })
}

// GetByEmail retrieves an identity by email, ignoring case.
func (r *IdentityRepository) GetByEmail(_ context.Context, email string) (*domain.Identity, error) {
	return r.find(func(i domain.Identity) bool {
		return i.Email != "" && strings.EqualFold(i.Email, email)
	})
}

// GetByUsername retrieves an identity by exact username.
func (r *IdentityRepository) GetByUsername(_ context.Context, username string) (*domain.Identity, error) {
	return r.find(func(i domain.Identity) bool { return i.Username == username })
}

// GetByWallet retrieves an identity by wallet address, ignoring case.
func (r *IdentityRepository) GetByWallet(_ context.Context, address string) (*domain.Identity, error) {
	return r.find(func(i domain.Identity) bool {
		return i.WalletAddress != "" && strings.EqualFold(i.WalletAddress, address)
	})
}

// Update replaces the stored identity.
func (r *IdentityRepository) Update(_ context.Context, identity *domain.Identity) error {
	if err := identity.Validate(); err != nil {
		return apperrors.InvalidInput(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.identities[identity.ID]; !ok {
		return apperrors.NotFound("identity", identity.ID)
	}
	if err := r.checkUnique(identity); err != nil {
		return err
	}
	r.identities[identity.ID] = *identity
	return nil
}

// checkUnique must be called with mu held.
func (r *IdentityRepository) checkUnique(identity *domain.Identity) error {
	for id, other := range r.identities {
		if id == identity.ID {
			continue
		}
		if identity.WalletAddress != "" && strings.EqualFold(other.WalletAddress, identity.WalletAddress) {
			return apperrors.Conflict("wallet address is already linked to another identity")
		}
		if other.Username == identity.Username {
			return apperrors.AlreadyExists("identity", "username", identity.Username)
		}
		if identity.Email != "" && strings.EqualFold(other.Email, identity.Email) {
			return apperrors.AlreadyExists("identity", "email", identity.Email)
		}
	}
	return nil
}

func (r *IdentityRepository) find(match func(domain.Identity) bool) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, identity := range r.identities {
		if match(identity) {
			found := identity
			return &found, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// CredentialRepository implements repository.CredentialRepository using a map.
type CredentialRepository struct {
	mu          sync.Mutex
	credentials map[string]domain.Credential
}

// NewCredentialRepository creates an empty credential repository.
func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{credentials: make(map[string]domain.Credential)}
}

// Create stores a credential.
func (r *CredentialRepository) Create(_ context.Context, credential *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.credentials[credential.ID]; ok {
		return apperrors.AlreadyExists("credential", "id", credential.ID)
	}
	r.credentials[credential.ID] = *credential
	return nil
}

// ListActive returns the credentials not expired at now, oldest first.
func (r *CredentialRepository) ListActive(_ context.Context, now time.Time) ([]domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make([]domain.Credential, 0, len(r.credentials))
	for _, c := range r.credentials {
		if !c.Expired(now) {
			active = append(active, c)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// Delete removes a credential.
func (r *CredentialRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.credentials[id]
	delete(r.credentials, id)
	return ok, nil
}

// DeleteByIdentity removes every credential of an identity.
func (r *CredentialRepository) DeleteByIdentity(_ context.Context, identityID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, c := range r.credentials {
		if c.IdentityID == identityID {
			delete(r.credentials, id)
			n++
		}
	}
	return n, nil
}

// Rotate replaces oldID with next atomically.
func (r *CredentialRepository) Rotate(_ context.Context, oldID string, next *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.credentials[oldID]; !ok {
		return domain.NoMatchingSession()
	}
	delete(r.credentials, oldID)
	r.credentials[next.ID] = *next
	return nil
}

// PurgeExpired removes the credentials expired at now.
func (r *CredentialRepository) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, c := range r.credentials {
		if c.Expired(now) {
			delete(r.credentials, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored credentials, expired or not.
func (r *CredentialRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.credentials)
}
