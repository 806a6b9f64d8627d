package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
	"github.com/utafrali/rentchain/services/session/internal/auth"
	"github.com/utafrali/rentchain/services/session/internal/domain"
	"github.com/utafrali/rentchain/services/session/internal/event"
	"github.com/utafrali/rentchain/services/session/internal/repository"
)

// SessionOptions tunes credential lifetimes and hashing.
type SessionOptions struct {
	RefreshTTL   time.Duration
	PasswordCost int
}

// SessionService issues, rotates and revokes sessions.
type SessionService struct {
	identities  repository.IdentityRepository
	credentials repository.CredentialRepository
	tokens      *auth.TokenCodec
	hasher      *auth.SecretHasher
	events      *event.Producer
	logger      *slog.Logger
	opts        SessionOptions
	now         func() time.Time
	dummyHash   func() string
}

// NewSessionService creates a new session service.
func NewSessionService(
	identities repository.IdentityRepository,
	credentials repository.CredentialRepository,
	tokens *auth.TokenCodec,
	hasher *auth.SecretHasher,
	events *event.Producer,
	logger *slog.Logger,
	opts SessionOptions,
) *SessionService {
	if opts.PasswordCost == 0 {
		opts.PasswordCost = auth.PasswordCost
	}
	return &SessionService{
		identities:  identities,
		credentials: credentials,
		tokens:      tokens,
		hasher:      hasher,
		events:      events,
		logger:      logger,
		opts:        opts,
		now:         time.Now,
		dummyHash: sync.OnceValue(func() string {
			hash, _ := auth.HashPassword("not-a-real-password-Aa1", opts.PasswordCost)
			return hash
		}),
	}
}

// RegisterInput holds the parameters for registering a password identity.
type RegisterInput struct {
	Email      string
	Username   string
	Password   string
	Provenance domain.Provenance
}

// LoginInput holds the parameters for a password login. Login is an email
// address or a username.
type LoginInput struct {
	Login      string
	Password   string
	Provenance domain.Provenance
}

// Register creates a TENANT identity and opens its first session.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (*domain.Session, error) {
	email := domain.NormalizeEmail(in.Email)
	username := domain.NormalizeUsername(in.Username)
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if username == "" {
		return nil, apperrors.InvalidInput("username is required")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	if err := s.ensureAvailable(ctx, email, username); err != nil {
		return nil, err
	}

	passwordHash, err := auth.HashPassword(in.Password, s.opts.PasswordCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	identity := &domain.Identity{
		ID:           uuid.New().String(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         domain.RoleTenant,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	session, err := s.open(ctx, identity, in.Provenance)
	if err != nil {
		return nil, err
	}

	if err := s.events.PublishIdentityRegistered(ctx, identity, "password"); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish identity.registered event",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "identity registered",
		slog.String("identity_id", identity.ID),
		slog.String("username", identity.Username),
	)
	return session, nil
}

func (s *SessionService) ensureAvailable(ctx context.Context, email, username string) error {
	if _, err := s.identities.GetByEmail(ctx, email); err == nil {
		return apperrors.AlreadyExists("identity", "email", email)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("check email: %w", err)
	}

	if _, err := s.identities.GetByUsername(ctx, username); err == nil {
		return apperrors.AlreadyExists("identity", "username", username)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("check username: %w", err)
	}
	return nil
}

// Login verifies a password and opens a session. Every credential the
// identity held before is revoked first.
func (s *SessionService) Login(ctx context.Context, in LoginInput) (*domain.Session, error) {
	identity, err := s.lookupLogin(ctx, in.Login)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Burn the same bcrypt time as a real comparison.
			auth.CheckPassword(s.dummyHash(), in.Password)
			loginsTotal.WithLabelValues(outcomeInvalid).Inc()
			return nil, domain.InvalidCredentials()
		}
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("look up identity: %w", err)
	}

	if !auth.CheckPassword(identity.PasswordHash, in.Password) {
		loginsTotal.WithLabelValues(outcomeInvalid).Inc()
		return nil, domain.InvalidCredentials()
	}

	revoked, err := s.credentials.DeleteByIdentity(ctx, identity.ID)
	if err != nil {
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("revoke prior sessions: %w", err)
	}
	if revoked > 0 {
		if err := s.events.PublishSessionRevoked(ctx, identity.ID, revoked, event.RevokedByLogin); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish session.revoked event",
				slog.String("identity_id", identity.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	session, err := s.open(ctx, identity, in.Provenance)
	if err != nil {
		loginsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}
	loginsTotal.WithLabelValues(outcomeSuccess).Inc()

	s.logger.InfoContext(ctx, "identity logged in",
		slog.String("identity_id", identity.ID),
		slog.Int64("revoked_sessions", revoked),
	)
	return session, nil
}

// lookupLogin resolves login as an email address when it looks like one and
// as a username otherwise. Usernames may contain "@", so a miss on the email
// lookup falls through to the username lookup.
func (s *SessionService) lookupLogin(ctx context.Context, login string) (*domain.Identity, error) {
	if strings.Contains(login, "@") {
		identity, err := s.identities.GetByEmail(ctx, domain.NormalizeEmail(login))
		if !errors.Is(err, apperrors.ErrNotFound) {
			return identity, err
		}
	}
	username := domain.NormalizeUsername(login)
	if username == "" {
		return nil, apperrors.ErrNotFound
	}
	return s.identities.GetByUsername(ctx, username)
}

// Rotate exchanges a refresh secret for a replacement and a fresh access
// token. A secret is single use: presenting it again yields NoMatchingSession.
func (s *SessionService) Rotate(ctx context.Context, secret string, prov domain.Provenance) (*domain.Session, error) {
	if secret == "" {
		return nil, domain.Unauthenticated()
	}

	current, err := s.findCredential(ctx, secret)
	if err != nil {
		rotationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}
	if current == nil {
		rotationsTotal.WithLabelValues(outcomeNoMatch).Inc()
		s.logger.WarnContext(ctx, "refresh secret matched no live session")
		return nil, domain.NoMatchingSession()
	}

	accessToken, err := s.tokens.Issue(current.IdentityID)
	if err != nil {
		rotationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}

	next, nextSecret, err := s.newCredential(current.IdentityID, prov)
	if err != nil {
		rotationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}

	if err := s.credentials.Rotate(ctx, current.ID, next); err != nil {
		if errors.Is(err, domain.ErrNoMatchingSession) {
			rotationsTotal.WithLabelValues(outcomeNoMatch).Inc()
			s.logger.WarnContext(ctx, "lost concurrent rotation", slog.String("identity_id", current.IdentityID))
			return nil, err
		}
		rotationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("rotate credential: %w", err)
	}
	rotationsTotal.WithLabelValues(outcomeSuccess).Inc()

	s.logger.InfoContext(ctx, "session rotated", slog.String("identity_id", current.IdentityID))
	return &domain.Session{
		AccessToken: accessToken,
		Secret:      nextSecret,
		ExpiresAt:   next.ExpiresAt,
	}, nil
}

// Logout revokes the credential matching secret, if any. No secret and an
// unknown secret both succeed.
func (s *SessionService) Logout(ctx context.Context, secret string) error {
	if secret == "" {
		return nil
	}

	current, err := s.findCredential(ctx, secret)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}

	deleted, err := s.credentials.Delete(ctx, current.ID)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if deleted {
		if err := s.events.PublishSessionRevoked(ctx, current.IdentityID, 1, event.RevokedByLogout); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish session.revoked event",
				slog.String("identity_id", current.IdentityID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "session revoked", slog.String("identity_id", current.IdentityID))
	return nil
}

// VerifyAccessToken returns the identity ID of a valid access token.
func (s *SessionService) VerifyAccessToken(token string) (string, error) {
	return s.tokens.Verify(token)
}

// PurgeExpired deletes credentials that have passed their expiry.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.credentials.PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired credentials: %w", err)
	}
	return n, nil
}

// open stores a fresh credential for identity and issues an access token.
func (s *SessionService) open(ctx context.Context, identity *domain.Identity, prov domain.Provenance) (*domain.Session, error) {
	accessToken, err := s.tokens.Issue(identity.ID)
	if err != nil {
		return nil, err
	}

	credential, secret, err := s.newCredential(identity.ID, prov)
	if err != nil {
		return nil, err
	}
	if err := s.credentials.Create(ctx, credential); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	return &domain.Session{
		Identity:    identity,
		AccessToken: accessToken,
		Secret:      secret,
		ExpiresAt:   credential.ExpiresAt,
	}, nil
}

func (s *SessionService) newCredential(identityID string, prov domain.Provenance) (*domain.Credential, string, error) {
	secret, err := s.hasher.Generate()
	if err != nil {
		return nil, "", err
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, "", err
	}

	now := s.now().UTC()
	return &domain.Credential{
		ID:         uuid.New().String(),
		IdentityID: identityID,
		SecretHash: hash,
		ExpiresAt:  now.Add(s.opts.RefreshTTL),
		Provenance: prov,
		CreatedAt:  now,
	}, secret, nil
}

// findCredential compares secret against every live credential. Salted
// hashes cannot be looked up by equality, so this is linear in the number of
// active sessions. A secondary random lookup id sent alongside the secret
// would make it indexable.
func (s *SessionService) findCredential(ctx context.Context, secret string) (*domain.Credential, error) {
	candidates, err := s.credentials.ListActive(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list active credentials: %w", err)
	}

	for i := range candidates {
		if s.hasher.Matches(candidates[i].SecretHash, secret) {
			candidatesScanned.Observe(float64(i + 1))
			return &candidates[i], nil
		}
	}
	candidatesScanned.Observe(float64(len(candidates)))
	return nil, nil
}
