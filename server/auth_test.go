package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, serverOptions{cfg: Config{AuthToken: "control-secret"}})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{
			name:   "valid token",
			path:   "/status?profile=abc123",
			header: "Bearer control-secret",
			want:   http.StatusOK,
		},
		{
			name: "missing header",
			path: "/status?profile=abc123",
			want: http.StatusUnauthorized,
		},
		{
			name:   "wrong token",
			path:   "/status?profile=abc123",
			header: "Bearer wrong",
			want:   http.StatusUnauthorized,
		},
		{
			name:   "wrong scheme",
			path:   "/status?profile=abc123",
			header: "Basic control-secret",
			want:   http.StatusUnauthorized,
		},
		{
			name: "health exempt",
			path: "/health",
			want: http.StatusOK,
		},
		{
			name: "metrics exempt",
			path: "/metrics",
			want: http.StatusNotFound, // prometheus export not enabled, but auth passed
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code)

			if rec.Code == http.StatusUnauthorized {
				require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAuthDisabledWhenNoToken(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	req := httptest.NewRequest(http.MethodGet, "/profiles", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
