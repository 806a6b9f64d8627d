package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
	"github.com/utafrali/rentchain/pkg/httputil"
	"github.com/utafrali/rentchain/pkg/logger"
)

type contextKeyType string

const (
	identityIDKey contextKeyType = "identity_id"
	authMethodKey contextKeyType = "auth_method"
)

// WalletHeader carries a wallet address used as the identity hint when no
// bearer token is presented.
const WalletHeader = "X-Wallet-Address"

// AuthMethod records which credential authenticated the request.
type AuthMethod string

const (
	AuthMethodBearer AuthMethod = "bearer"
	AuthMethodWallet AuthMethod = "wallet"
)

// TokenVerifier validates an access token and returns the identity it was issued for.
type TokenVerifier func(token string) (identityID string, err error)

// WalletResolver returns the identity that owns the given wallet address.
// It should return an error wrapping apperrors.ErrNotFound for unknown wallets.
type WalletResolver func(ctx context.Context, address string) (identityID string, err error)

// Authenticate resolves the caller's identity from the Authorization header,
// or from WalletHeader when no Authorization header is sent and resolveWallet
// is non-nil. A present but invalid bearer token is rejected without trying
// the wallet header. Every rejection carries the same message.
func Authenticate(verify TokenVerifier, resolveWallet WalletResolver, fallback *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				identityID string
				method     AuthMethod
			)

			switch authHeader, address := r.Header.Get("Authorization"), r.Header.Get(WalletHeader); {
			case authHeader != "":
				scheme, token, ok := strings.Cut(authHeader, " ")
				if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
					reject(w, r, "malformed_header", fallback)
					return
				}
				id, err := verify(strings.TrimSpace(token))
				if err != nil {
					reject(w, r, "invalid_token", fallback)
					return
				}
				identityID, method = id, AuthMethodBearer

			case address != "" && resolveWallet != nil:
				id, err := resolveWallet(r.Context(), address)
				if err != nil {
					if errors.Is(err, apperrors.ErrNotFound) {
						reject(w, r, "unknown_wallet", fallback)
						return
					}
					httputil.WriteError(w, r, err, fallback)
					return
				}
				identityID, method = id, AuthMethodWallet

			default:
				reject(w, r, "missing_credentials", fallback)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identityID, method)))
		})
	}
}

// WithIdentity stores the authenticated identity in ctx and adds identity_id to
// the request-scoped logger when one is present.
func WithIdentity(ctx context.Context, identityID string, method AuthMethod) context.Context {
	ctx = context.WithValue(ctx, identityIDKey, identityID)
	ctx = context.WithValue(ctx, authMethodKey, method)
	ctx = logger.WithIdentityID(ctx, identityID)
	if l := logger.FromContext(ctx); l != slog.Default() {
		ctx = logger.NewContext(ctx, l.With(slog.String("identity_id", identityID)))
	}
	return ctx
}

// IdentityIDFromContext returns the identity set by Authenticate, or "".
func IdentityIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(identityIDKey).(string); ok {
		return id
	}
	return ""
}

// AuthMethodFromContext returns how the request was authenticated.
func AuthMethodFromContext(ctx context.Context) AuthMethod {
	if m, ok := ctx.Value(authMethodKey).(AuthMethod); ok {
		return m
	}
	return ""
}

func reject(w http.ResponseWriter, r *http.Request, reason string, fallback *slog.Logger) {
	authRejectionsTotal.WithLabelValues(reason).Inc()
	httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), fallback)
}
