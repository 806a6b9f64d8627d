package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/rentchain/pkg/database"
	"github.com/utafrali/rentchain/services/session/internal/domain"
)

const (
	insertCredentialQuery = `
		INSERT INTO refresh_tokens (id, identity_id, token_hash, expires_at, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	deleteCredentialQuery = `DELETE FROM refresh_tokens WHERE id = $1`
)

// CredentialRepository implements repository.CredentialRepository using PostgreSQL.
type CredentialRepository struct {
	db database.DBTX
}

// NewCredentialRepository creates a new PostgreSQL-backed credential repository.
func NewCredentialRepository(db database.DBTX) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create stores a new credential.
func (r *CredentialRepository) Create(ctx context.Context, c *domain.Credential) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateCredential", insertCredentialQuery)
	defer func() { end(err) }()

	return insertCredential(ctx, r.db, c)
}

// ListActive returns all credentials not expired at now, oldest first.
func (r *CredentialRepository) ListActive(ctx context.Context, now time.Time) (_ []domain.Credential, err error) {
	query := `
		SELECT id, identity_id, token_hash, expires_at, ip_address, user_agent, created_at
		FROM refresh_tokens
		WHERE expires_at > $1
		ORDER BY created_at`

	ctx, end := database.TraceQuery(ctx, "ListActiveCredentials", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list active credentials: %w", err)
	}
	defer rows.Close()

	credentials := []domain.Credential{}
	for rows.Next() {
		var (
			c             domain.Credential
			ip, userAgent *string
		)
		if err := rows.Scan(&c.ID, &c.IdentityID, &c.SecretHash, &c.ExpiresAt, &ip, &userAgent, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		c.IPAddress = deref(ip)
		c.UserAgent = deref(userAgent)
		credentials = append(credentials, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential rows: %w", err)
	}
	return credentials, nil
}

// Delete removes one credential.
func (r *CredentialRepository) Delete(ctx context.Context, id string) (_ bool, err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteCredential", deleteCredentialQuery)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, deleteCredentialQuery, id)
	if err != nil {
		return false, fmt.Errorf("delete credential: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// DeleteByIdentity removes every credential of an identity.
func (r *CredentialRepository) DeleteByIdentity(ctx context.Context, identityID string) (_ int64, err error) {
	query := `DELETE FROM refresh_tokens WHERE identity_id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteCredentialsByIdentity", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, identityID)
	if err != nil {
		return 0, fmt.Errorf("delete credentials by identity: %w", err)
	}
	return ct.RowsAffected(), nil
}

// Rotate replaces oldID with next atomically.
func (r *CredentialRepository) Rotate(ctx context.Context, oldID string, next *domain.Credential) (err error) {
	ctx, end := database.TraceQuery(ctx, "RotateCredential", deleteCredentialQuery)
	defer func() { end(err) }()

	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, deleteCredentialQuery, oldID)
		if err != nil {
			return fmt.Errorf("delete rotated credential: %w", err)
		}
		// A concurrent rotation of the same secret got here first.
		if ct.RowsAffected() == 0 {
			return domain.NoMatchingSession()
		}
		return insertCredential(ctx, tx, next)
	})
}

// PurgeExpired deletes credentials expired at now.
func (r *CredentialRepository) PurgeExpired(ctx context.Context, now time.Time) (_ int64, err error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at <= $1`

	ctx, end := database.TraceQuery(ctx, "PurgeExpiredCredentials", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired credentials: %w", err)
	}
	return ct.RowsAffected(), nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertCredential(ctx context.Context, db execer, c *domain.Credential) error {
	_, err := db.Exec(ctx, insertCredentialQuery,
		c.ID,
		c.IdentityID,
		c.SecretHash,
		c.ExpiresAt,
		nullable(c.IPAddress),
		nullable(c.UserAgent),
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}
