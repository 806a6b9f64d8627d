package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the iss claim of every access token.
const Issuer = "session-service"

var (
	// ErrTokenExpired is returned for a well-signed token past its expiry.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenInvalid covers every other rejection: bad signature, wrong
	// algorithm, malformed token, missing subject.
	ErrTokenInvalid = errors.New("access token invalid")
)

// TokenCodec signs and verifies short-lived access tokens. A token carries
// only the identity ID; callers re-resolve the identity for anything else.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec creates a codec signing with HS256.
func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	return &TokenCodec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the lifetime of issued tokens.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue signs a token for identityID. Each token gets a unique jti, so two
// tokens issued within the same second still differ.
func (c *TokenCodec) Issue(identityID string) (string, error) {
	now := c.now().UTC()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   identityID,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify returns the identity ID carried by token. It never consults the
// identity store.
func (c *TokenCodec) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}
