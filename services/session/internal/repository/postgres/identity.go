package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/rentchain/pkg/database"
	apperrors "github.com/utafrali/rentchain/pkg/errors"
	"github.com/utafrali/rentchain/services/session/internal/domain"
)

const identityColumns = `id, email, username, password_hash, wallet_address, role, profile_image, created_at, updated_at`

// IdentityRepository implements repository.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	db database.DBTX
}

// NewIdentityRepository creates a new PostgreSQL-backed identity repository.
func NewIdentityRepository(db database.DBTX) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create inserts a new identity into the database.
func (r *IdentityRepository) Create(ctx context.Context, i *domain.Identity) (err error) {
	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ctx, end := database.TraceQuery(ctx, "CreateIdentity", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		i.ID,
		nullable(i.Email),
		i.Username,
		nullable(i.PasswordHash),
		nullable(i.WalletAddress),
		string(i.Role),
		nullable(i.ProfileImage),
		i.CreatedAt,
		i.UpdatedAt,
	)
	if err != nil {
		return identityWriteError(err, i, "insert identity")
	}
	return nil
}

// GetByID retrieves an identity by its ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.getOne(ctx, "GetIdentityByID", `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
}

// GetByEmail retrieves an identity by case-insensitive email.
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.getOne(ctx, "GetIdentityByEmail", `SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, email)
}

// GetByUsername retrieves an identity by exact username.
func (r *IdentityRepository) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	return r.getOne(ctx, "GetIdentityByUsername", `SELECT `+identityColumns+` FROM identities WHERE username = $1`, username)
}

// GetByWallet retrieves an identity by case-insensitive wallet address.
func (r *IdentityRepository) GetByWallet(ctx context.Context, address string) (*domain.Identity, error) {
	return r.getOne(ctx, "GetIdentityByWallet", `SELECT `+identityColumns+` FROM identities WHERE lower(wallet_address) = lower($1)`, address)
}

// Update modifies an existing identity in the database.
func (r *IdentityRepository) Update(ctx context.Context, i *domain.Identity) (err error) {
	i.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE identities
		SET email = $1, username = $2, password_hash = $3, wallet_address = $4,
		    role = $5, profile_image = $6, updated_at = $7
		WHERE id = $8`

	ctx, end := database.TraceQuery(ctx, "UpdateIdentity", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query,
		nullable(i.Email),
		i.Username,
		nullable(i.PasswordHash),
		nullable(i.WalletAddress),
		string(i.Role),
		nullable(i.ProfileImage),
		i.UpdatedAt,
		i.ID,
	)
	if err != nil {
		return identityWriteError(err, i, "update identity")
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("identity", i.ID)
	}
	return nil
}

func (r *IdentityRepository) getOne(ctx context.Context, op, query string, arg any) (_ *domain.Identity, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	var (
		i                                         domain.Identity
		email, passwordHash, wallet, profileImage *string
		role                                      string
	)
	err = r.db.QueryRow(ctx, query, arg).Scan(
		&i.ID,
		&email,
		&i.Username,
		&passwordHash,
		&wallet,
		&role,
		&profileImage,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}

	i.Email = deref(email)
	i.PasswordHash = deref(passwordHash)
	i.WalletAddress = deref(wallet)
	i.ProfileImage = deref(profileImage)
	i.Role = domain.Role(role)
	return &i, nil
}

// identityWriteError maps unique violations to the field that collided.
func identityWriteError(err error, i *domain.Identity, what string) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return fmt.Errorf("%s: %w", what, err)
	}
	switch {
	case strings.Contains(constraint, "wallet"):
		return apperrors.Conflict("wallet address is already linked to another identity")
	case strings.Contains(constraint, "username"):
		return apperrors.AlreadyExists("identity", "username", i.Username)
	default:
		return apperrors.AlreadyExists("identity", "email", i.Email)
	}
}
