package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/rentchain/pkg/httputil"
)

func TestIPAllowlist(t *testing.T) {
	tests := []struct {
		name       string
		cidrs      []string
		remoteAddr string
		headers    map[string]string
		want       int
	}{
		{name: "loopback allowed", cidrs: []string{"127.0.0.0/8"}, remoteAddr: "127.0.0.1:1234", want: http.StatusOK},
		{name: "outside range", cidrs: []string{"10.0.0.0/8"}, remoteAddr: "192.168.1.1:1234", want: http.StatusForbidden},
		{name: "ipv6 loopback", cidrs: []string{"::1/128"}, remoteAddr: "[::1]:1234", want: http.StatusOK},
		{name: "invalid cidr skipped", cidrs: []string{"garbage", "127.0.0.0/8"}, remoteAddr: "127.0.0.1:1234", want: http.StatusOK},
		{name: "empty list denies", cidrs: nil, remoteAddr: "127.0.0.1:1234", want: http.StatusForbidden},
		{
			name:       "forwarded header is ignored",
			cidrs:      []string{"127.0.0.0/8"},
			remoteAddr: "198.51.100.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "127.0.0.1"},
			want:       http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := IPAllowlist(tt.cidrs, discardLogger())(okHandler)

			req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				var resp httputil.Response
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, "FORBIDDEN", resp.Error.Code)
			}
		})
	}
}

func TestRegisterPprof_MountsIndex(t *testing.T) {
	r := chi.NewRouter()
	RegisterPprof(r, []string{"127.0.0.0/8"}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")
}
