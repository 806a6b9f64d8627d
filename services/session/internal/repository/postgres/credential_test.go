package postgres

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
	"github.com/utafrali/rentchain/services/session/internal/domain"
)

func newCredentialTestFixture(t *testing.T) (*CredentialRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewCredentialRepository(mock), mock
}

func sampleCredential(id string) *domain.Credential {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Credential{
		ID:         id,
		IdentityID: "ident-1234",
		SecretHash: "$2a$10$hash",
		ExpiresAt:  now.Add(7 * 24 * time.Hour),
		Provenance: domain.Provenance{IPAddress: "203.0.113.7", UserAgent: "rentchain-web/1.0"},
		CreatedAt:  now,
	}
}

func credentialArgs(c *domain.Credential) []any {
	return []any{
		c.ID, c.IdentityID, c.SecretHash, c.ExpiresAt,
		nullable(c.IPAddress), nullable(c.UserAgent), c.CreatedAt,
	}
}

func TestCredentialRepository_Create(t *testing.T) {
	repo, mock := newCredentialTestFixture(t)
	defer mock.Close()

	c := sampleCredential("cred-1")
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(credentialArgs(c)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepository_ListActive(t *testing.T) {
	repo, mock := newCredentialTestFixture(t)
	defer mock.Close()

	now := time.Now().UTC()
	a := sampleCredential("cred-1")
	b := sampleCredential("cred-2")
	b.Provenance = domain.Provenance{}

	mock.ExpectQuery("SELECT .+ FROM refresh_tokens WHERE expires_at > ").
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "identity_id", "token_hash", "expires_at", "ip_address", "user_agent", "created_at"}).
			AddRow(a.ID, a.IdentityID, a.SecretHash, a.ExpiresAt, nullable(a.IPAddress), nullable(a.UserAgent), a.CreatedAt).
			AddRow(b.ID, b.IdentityID, b.SecretHash, b.ExpiresAt, (*string)(nil), (*string)(nil), b.CreatedAt))

	got, err := repo.ListActive(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, *a, got[0])
	assert.Equal(t, *b, got[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepository_ListActive_Empty(t *testing.T) {
	repo, mock := newCredentialTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("FROM refresh_tokens").
		WillReturnRows(pgxmock.NewRows([]string{"id", "identity_id", "token_hash", "expires_at", "ip_address", "user_agent", "created_at"}))

	got, err := repo.ListActive(context.Background(), time.Now())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCredentialRepository_Delete(t *testing.T) {
	repo, mock := newCredentialTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM refresh_tokens WHERE id =").
		WithArgs("cred-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE id =").
		WithArgs("cred-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	deleted, err := repo.Delete(context.Background(), "cred-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(context.Background(), "cred-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCredentialRepository_DeleteByIdentity(t *testing.T) {
	repo, mock := newCredentialTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM refresh_tokens WHERE identity_id =").
		WithArgs("ident-1234").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := repo.DeleteByIdentity(context.Background(), "ident-1234")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCredentialRepository_Rotate_Success(t *testing.T) {
	repo, mock := newCredentialTestFixture(t)
	defer mock.Close()

	next := sampleCredential("cred-2")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE id =").
		WithArgs("cred-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(credentialArgs(next)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Rotate(context.Background(), "cred-1", next))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepository_Rotate_LostRace(t *testing.T) {
	repo, mock := newCredentialTestFixture(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE id =").
		WithArgs("cred-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "cred-1", sampleCredential("cred-2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoMatchingSession)
	assert.Equal(t, http.StatusForbidden, apperrors.HTTPStatus(err))
	assert.NoError(t, mock.ExpectationsWereMet(), "replacement must not be inserted")
}

func TestCredentialRepository_Rotate_InsertFailsRollsBack(t *testing.T) {
	repo, mock := newCredentialTestFixture(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM refresh_tokens").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "cred-1", sampleCredential("cred-2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert credential")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepository_PurgeExpired(t *testing.T) {
	repo, mock := newCredentialTestFixture(t)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectExec("DELETE FROM refresh_tokens WHERE expires_at <=").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))

	n, err := repo.PurgeExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
