package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
	"github.com/utafrali/rentchain/pkg/httputil"
)

const walletAddr = "0x52908400098527886E0F7030069857D2E4169EE7"

func stubVerifier(token string) (string, error) {
	if token == "good-token" {
		return "ident-1", nil
	}
	return "", errors.New("token rejected")
}

func stubWallets(_ context.Context, address string) (string, error) {
	if address == walletAddr {
		return "ident-wallet", nil
	}
	if address == "0xboom" {
		return "", errors.New("db down")
	}
	return "", apperrors.ErrNotFound
}

type authResult struct {
	status     int
	identityID string
	method     AuthMethod
	body       httputil.Response
}

func runAuth(t *testing.T, resolver WalletResolver, headers map[string]string) authResult {
	t.Helper()

	var res authResult
	handler := Authenticate(stubVerifier, resolver, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res.identityID = IdentityIDFromContext(r.Context())
		res.method = AuthMethodFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	res.status = rec.Code
	if rec.Code != http.StatusOK {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&res.body))
	}
	return res
}

func TestAuthenticate_BearerToken(t *testing.T) {
	res := runAuth(t, stubWallets, map[string]string{"Authorization": "Bearer good-token"})

	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "ident-1", res.identityID)
	assert.Equal(t, AuthMethodBearer, res.method)
}

func TestAuthenticate_BearerSchemeIsCaseInsensitive(t *testing.T) {
	res := runAuth(t, nil, map[string]string{"Authorization": "bearer good-token"})
	assert.Equal(t, http.StatusOK, res.status)
}

func TestAuthenticate_WalletFallback(t *testing.T) {
	res := runAuth(t, stubWallets, map[string]string{WalletHeader: walletAddr})

	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "ident-wallet", res.identityID)
	assert.Equal(t, AuthMethodWallet, res.method)
}

func TestAuthenticate_InvalidBearerNeverFallsBack(t *testing.T) {
	res := runAuth(t, stubWallets, map[string]string{
		"Authorization": "Bearer forged",
		WalletHeader:    walletAddr,
	})

	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Empty(t, res.identityID)
}

func TestAuthenticate_WalletFallbackDisabled(t *testing.T) {
	res := runAuth(t, nil, map[string]string{WalletHeader: walletAddr})
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestAuthenticate_RejectionsAreIndistinguishable(t *testing.T) {
	cases := map[string]map[string]string{
		"missing":        {},
		"malformed":      {"Authorization": "Token abc"},
		"empty bearer":   {"Authorization": "Bearer "},
		"invalid token":  {"Authorization": "Bearer nope"},
		"unknown wallet": {WalletHeader: "0x0000000000000000000000000000000000000001"},
	}

	for name, headers := range cases {
		t.Run(name, func(t *testing.T) {
			res := runAuth(t, stubWallets, headers)
			require.Equal(t, http.StatusUnauthorized, res.status)
			require.NotNil(t, res.body.Error)
			assert.Equal(t, "UNAUTHORIZED", res.body.Error.Code)
			assert.Equal(t, "authentication required", res.body.Error.Message)
		})
	}
}

func TestAuthenticate_WalletLookupFailureIsInternal(t *testing.T) {
	res := runAuth(t, stubWallets, map[string]string{WalletHeader: "0xboom"})

	assert.Equal(t, http.StatusInternalServerError, res.status)
	assert.Equal(t, "INTERNAL_ERROR", res.body.Error.Code)
}

func TestAuthenticate_CountsRejections(t *testing.T) {
	before := counterValue(authRejectionsTotal, map[string]string{"reason": "invalid_token"})
	runAuth(t, nil, map[string]string{"Authorization": "Bearer nope"})
	after := counterValue(authRejectionsTotal, map[string]string{"reason": "invalid_token"})

	assert.Equal(t, before+1, after)
}
