package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/utafrali/rentchain/pkg/httputil"
)

// RealIP resolves the caller address used by httputil.ClientIP. Forwarding
// headers are honoured only when the socket peer is inside trustedCIDRs; the
// address is then the rightmost X-Forwarded-For hop that is not itself a
// trusted proxy, or X-Real-IP when no such hop exists. With no trusted
// proxies the peer address is used as is.
func RealIP(trustedCIDRs []string, logger *slog.Logger) func(http.Handler) http.Handler {
	trusted := parseCIDRs(trustedCIDRs, "trusted proxy", logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, trusted)
			next.ServeHTTP(w, r.WithContext(httputil.WithClientIP(r.Context(), ip)))
		})
	}
}

func resolveClientIP(r *http.Request, trusted []*net.IPNet) string {
	peer := httputil.PeerIP(r)
	if len(trusted) == 0 || !containsIP(trusted, net.ParseIP(peer)) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			// A hop we cannot parse ends the chain we can vouch for.
			break
		}
		if !containsIP(trusted, ip) {
			return ip.String()
		}
	}

	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return peer
}
