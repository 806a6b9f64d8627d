package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentTypeJSON(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		body        string
		contentType string
		wantStatus  int
	}{
		{"post json", http.MethodPost, `{"a":1}`, "application/json", http.StatusOK},
		{"post json with charset", http.MethodPost, `{"a":1}`, "application/json; charset=utf-8", http.StatusOK},
		{"post without content type", http.MethodPost, `{"a":1}`, "", http.StatusOK},
		{"put json", http.MethodPut, `{"a":1}`, "application/json", http.StatusOK},
		{"bodiless post", http.MethodPost, "", "text/plain", http.StatusOK},
		{"get", http.MethodGet, "", "", http.StatusOK},
		{"form body", http.MethodPost, "a=1", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"text body", http.MethodPut, "data", "text/plain", http.StatusUnsupportedMediaType},
		{"malformed content type", http.MethodPost, `{"a":1}`, "application/", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, "/api/test", body)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
			if tt.wantStatus == http.StatusUnsupportedMediaType {
				assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
				assert.Contains(t, rr.Body.String(), "UNSUPPORTED_MEDIA_TYPE")
			}
		})
	}
}
