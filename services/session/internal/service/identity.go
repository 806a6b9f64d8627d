package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
	"github.com/utafrali/rentchain/services/session/internal/auth"
	"github.com/utafrali/rentchain/services/session/internal/domain"
	"github.com/utafrali/rentchain/services/session/internal/event"
	"github.com/utafrali/rentchain/services/session/internal/repository"
)

// IdentityService manages identity profiles, wallet linking and roles.
type IdentityService struct {
	identities repository.IdentityRepository
	tokens     *auth.TokenCodec
	events     *event.Producer
	logger     *slog.Logger
	now        func() time.Time
}

// NewIdentityService creates a new identity service.
func NewIdentityService(
	identities repository.IdentityRepository,
	tokens *auth.TokenCodec,
	events *event.Producer,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		identities: identities,
		tokens:     tokens,
		events:     events,
		logger:     logger,
		now:        time.Now,
	}
}

// UpdateProfileInput holds the optional fields of a profile update. Nil
// fields are left unchanged.
type UpdateProfileInput struct {
	Username     *string
	ProfileImage *string
}

// GetProfile returns the identity with the given ID.
func (s *IdentityService) GetProfile(ctx context.Context, identityID string) (*domain.Identity, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("identity", identityID)
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

// UpdateProfile changes the username or profile image of an identity.
func (s *IdentityService) UpdateProfile(ctx context.Context, identityID string, in UpdateProfileInput) (*domain.Identity, error) {
	identity, err := s.GetProfile(ctx, identityID)
	if err != nil {
		return nil, err
	}

	if in.Username != nil {
		username := domain.NormalizeUsername(*in.Username)
		if username == "" {
			return nil, apperrors.InvalidInput("username must not be empty")
		}
		if username != identity.Username {
			if _, err := s.identities.GetByUsername(ctx, username); err == nil {
				return nil, apperrors.AlreadyExists("identity", "username", username)
			} else if !errors.Is(err, apperrors.ErrNotFound) {
				return nil, fmt.Errorf("check username: %w", err)
			}
			identity.Username = username
		}
	}
	if in.ProfileImage != nil {
		identity.ProfileImage = strings.TrimSpace(*in.ProfileImage)
	}

	identity.UpdatedAt = s.now().UTC()
	if err := s.identities.Update(ctx, identity); err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}

	s.logger.InfoContext(ctx, "profile updated", slog.String("identity_id", identityID))
	return identity, nil
}

// ConnectWallet links a wallet address to an identity. Linking the wallet the
// identity already holds is a no-op. A wallet owned by another identity, or
// an identity that already holds a different wallet, is a Conflict.
func (s *IdentityService) ConnectWallet(ctx context.Context, identityID, address string) (*domain.Identity, error) {
	address = domain.NormalizeWalletAddress(address)
	if address == "" {
		return nil, apperrors.InvalidInput("wallet address is required")
	}

	identity, err := s.GetProfile(ctx, identityID)
	if err != nil {
		return nil, err
	}

	if identity.HasWallet() {
		if identity.WalletAddress == address {
			return identity, nil
		}
		return nil, apperrors.Conflict("identity already has a different wallet linked")
	}

	owner, err := s.identities.GetByWallet(ctx, address)
	switch {
	case err == nil && owner.ID != identity.ID:
		return nil, apperrors.Conflict("wallet address is already linked to another identity")
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("check wallet owner: %w", err)
	}

	identity.WalletAddress = address
	identity.UpdatedAt = s.now().UTC()
	if err := s.identities.Update(ctx, identity); err != nil {
		return nil, fmt.Errorf("link wallet: %w", err)
	}

	if err := s.events.PublishWalletLinked(ctx, identity); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish identity.wallet_linked event",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "wallet linked", slog.String("identity_id", identity.ID))
	return identity, nil
}

// EnsureWalletIdentity returns the identity linked to address, creating a
// wallet-only TENANT identity when none exists.
func (s *IdentityService) EnsureWalletIdentity(ctx context.Context, address string) (*domain.Identity, error) {
	address = domain.NormalizeWalletAddress(address)
	if address == "" {
		return nil, apperrors.InvalidInput("wallet address is required")
	}

	existing, err := s.identities.GetByWallet(ctx, address)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("get identity by wallet: %w", err)
	}

	username, err := s.walletUsername(ctx, address)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	identity := &domain.Identity{
		ID:            uuid.New().String(),
		Username:      username,
		WalletAddress: address,
		Role:          domain.RoleTenant,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		// A concurrent request created the same wallet identity first.
		if errors.Is(err, apperrors.ErrConflict) {
			return s.identities.GetByWallet(ctx, address)
		}
		return nil, fmt.Errorf("create wallet identity: %w", err)
	}

	if err := s.events.PublishIdentityRegistered(ctx, identity, "wallet"); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish identity.registered event",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "wallet identity created", slog.String("identity_id", identity.ID))
	return identity, nil
}

// walletUsername picks the short synthesised username, or the full address
// form when the short one is taken.
func (s *IdentityService) walletUsername(ctx context.Context, address string) (string, error) {
	short := domain.WalletUsername(address)
	_, err := s.identities.GetByUsername(ctx, short)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return short, nil
	case err != nil:
		return "", fmt.Errorf("check username: %w", err)
	}
	return "wallet-" + strings.TrimPrefix(address, "0x"), nil
}

// GetByWallet returns the identity linked to address.
func (s *IdentityService) GetByWallet(ctx context.Context, address string) (*domain.Identity, error) {
	address = domain.NormalizeWalletAddress(address)
	identity, err := s.identities.GetByWallet(ctx, address)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("identity", address)
		}
		return nil, fmt.Errorf("get identity by wallet: %w", err)
	}
	return identity, nil
}

// ResolveWallet maps a wallet address header to an identity ID.
func (s *IdentityService) ResolveWallet(ctx context.Context, address string) (string, error) {
	identity, err := s.GetByWallet(ctx, address)
	if err != nil {
		return "", err
	}
	return identity.ID, nil
}

// ChangeRole sets the role of an identity and issues a fresh access token.
// Only an identity whose stored role is ADMIN may grant ADMIN.
func (s *IdentityService) ChangeRole(ctx context.Context, identityID string, role domain.Role) (*domain.Identity, string, error) {
	if !role.Valid() {
		return nil, "", apperrors.InvalidInput(fmt.Sprintf("invalid role %q", role))
	}

	identity, err := s.GetProfile(ctx, identityID)
	if err != nil {
		return nil, "", err
	}
	if role == domain.RoleAdmin && identity.Role != domain.RoleAdmin {
		return nil, "", apperrors.Forbidden("only administrators may grant the ADMIN role")
	}

	previous := identity.Role
	if previous != role {
		identity.Role = role
		identity.UpdatedAt = s.now().UTC()
		if err := s.identities.Update(ctx, identity); err != nil {
			return nil, "", fmt.Errorf("update role: %w", err)
		}

		if err := s.events.PublishRoleChanged(ctx, identity.ID, previous, role); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish identity.role_changed event",
				slog.String("identity_id", identity.ID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.InfoContext(ctx, "role changed",
			slog.String("identity_id", identity.ID),
			slog.String("from", string(previous)),
			slog.String("to", string(role)),
		)
	}

	token, err := s.tokens.Issue(identity.ID)
	if err != nil {
		return nil, "", err
	}
	return identity, token, nil
}
