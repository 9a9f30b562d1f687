package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstrumentedTransportRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil)}

	resp, err := client.Get(srv.URL + "/profiles")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestInstrumentedTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil)}

	_, err := client.Get(srv.URL + "/profiles") //nolint:bodyclose
	require.Error(t, err)
}

func TestDeriveEndpoint(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/profiles", "GET /profiles"},
		{http.MethodPut, "/profiles/abc123", "PUT /profiles/{id}"},
		{http.MethodGet, "/profiles/abc123/options", "GET /profiles/{id}"},
		{http.MethodGet, "/account", "GET /account"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "https://api.example.com"+tt.path, nil)
			require.Equal(t, tt.want, deriveEndpoint(req))
		})
	}
}

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", StatusClass(200))
	require.Equal(t, "3xx", StatusClass(304))
	require.Equal(t, "4xx", StatusClass(429))
	require.Equal(t, "5xx", StatusClass(503))
	require.Equal(t, "unknown", StatusClass(42))
}
