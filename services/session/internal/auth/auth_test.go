package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
)

const testSecret = "test-secret-key-that-is-at-least-32-chars"

func TestTokenCodec_IssueAndVerify(t *testing.T) {
	codec := NewTokenCodec(testSecret, 10*time.Minute)

	token, err := codec.Issue("ident-1")
	require.NoError(t, err)

	id, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ident-1", id)
}

func TestTokenCodec_CarriesOnlyIdentity(t *testing.T) {
	codec := NewTokenCodec(testSecret, 10*time.Minute)
	token, err := codec.Issue("ident-1")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)

	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"jti", "sub", "iss", "iat", "exp"}, keys)
	assert.Equal(t, "ident-1", claims["sub"])
}

func TestTokenCodec_TokensAreUnique(t *testing.T) {
	codec := NewTokenCodec(testSecret, 10*time.Minute)
	first, err := codec.Issue("ident-1")
	require.NoError(t, err)
	second, err := codec.Issue("ident-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestTokenCodec_Expired(t *testing.T) {
	codec := NewTokenCodec(testSecret, 10*time.Minute)
	issuedAt := time.Now()
	codec.now = func() time.Time { return issuedAt }

	token, err := codec.Issue("ident-1")
	require.NoError(t, err)

	codec.now = func() time.Time { return issuedAt.Add(11 * time.Minute) }
	_, err = codec.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenCodec_WrongSecret(t *testing.T) {
	token, err := NewTokenCodec(testSecret, time.Minute).Issue("ident-1")
	require.NoError(t, err)

	_, err = NewTokenCodec("another-secret-key-that-is-32-chars-long", time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_RejectsNoneAlgorithm(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "ident-1",
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenCodec(testSecret, time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_RejectsForeignIssuer(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "ident-1",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewTokenCodec(testSecret, time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_Garbage(t *testing.T) {
	codec := NewTokenCodec(testSecret, time.Minute)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := codec.Verify(tok)
		assert.ErrorIs(t, err, ErrTokenInvalid, "token %q", tok)
	}
}

func TestSecretHasher_Generate(t *testing.T) {
	h := NewSecretHasher(bcrypt.MinCost)

	a, err := h.Generate()
	require.NoError(t, err)
	b, err := h.Generate()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, secretBytes)
}

func TestSecretHasher_HashIsSaltedAndOneWay(t *testing.T) {
	h := NewSecretHasher(bcrypt.MinCost)
	secret, err := h.Generate()
	require.NoError(t, err)

	first, err := h.Hash(secret)
	require.NoError(t, err)
	second, err := h.Hash(secret)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "each hash carries its own salt")
	assert.NotContains(t, first, secret)
	assert.True(t, h.Matches(first, secret))
	assert.True(t, h.Matches(second, secret))
	assert.False(t, h.Matches(first, secret+"x"))
	assert.False(t, h.Matches("not-a-bcrypt-hash", secret))
}

func TestNewSecretHasher_FloorsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewSecretHasher(0).cost)
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
	}{
		{"Aa1!aaaa", true},
		{"Password1", true},
		{"Aa1!", false},
		{"alllowercase1", false},
		{"ALLUPPERCASE1", false},
		{"NoDigitsHere", false},
		{strings.Repeat("Aa1", 25), false},
	}
	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if tt.valid {
			assert.NoError(t, err, tt.password)
			continue
		}
		require.Error(t, err, tt.password)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("Aa1!aaaa", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "Aa1!aaaa"))
	assert.False(t, CheckPassword(hash, "Aa1!aaab"))
	assert.False(t, CheckPassword("", "Aa1!aaaa"), "wallet-only identities have no password")
}
