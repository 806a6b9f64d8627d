package domain

import "time"

// Provenance records where a refresh credential was issued.
type Provenance struct {
	IPAddress string
	UserAgent string
}

// Credential is one stored refresh credential. Only the salted hash of the
// secret is kept; the plaintext lives in the client's cookie.
type Credential struct {
	ID         string
	IdentityID string
	SecretHash string
	ExpiresAt  time.Time
	Provenance
	CreatedAt time.Time
}

// Expired reports whether the credential is past its expiry at now.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Session is the result of a successful register, login or rotation. Secret
// is the plaintext refresh credential to hand to the client exactly once.
type Session struct {
	Identity    *Identity
	AccessToken string
	Secret      string
	ExpiresAt   time.Time
}
