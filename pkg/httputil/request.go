package httputil

import (
	"context"
	"net"
	"net/http"
)

type clientIPKey struct{}

// WithClientIP records the resolved caller address for ClientIP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the caller's address. Forwarding headers are never read
// here; they are honoured only when middleware.RealIP resolved the address
// from a trusted proxy and stored it with WithClientIP.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return PeerIP(r)
}

// PeerIP returns the host part of the socket peer address.
func PeerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
