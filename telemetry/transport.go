package telemetry

import (
	"net/http"
	"strings"
	"time"
)

// InstrumentedTransport wraps an http.RoundTripper with control-plane
// request metrics, labelled by logical endpoint and status class.
type InstrumentedTransport struct {
	base http.RoundTripper
}

// NewInstrumentedTransport creates a new instrumented transport.
// If base is nil, http.DefaultTransport is used.
func NewInstrumentedTransport(base http.RoundTripper) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base}
}

// RoundTrip implements http.RoundTripper with metrics recording.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := deriveEndpoint(req)

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		statusClass := "error"
		if req.Context().Err() != nil {
			statusClass = "canceled"
		}
		RecordAPIRequest(req.Context(), endpoint, statusClass, duration)
		return nil, err
	}

	RecordAPIRequest(req.Context(), endpoint, StatusClass(resp.StatusCode), duration)
	return resp, nil
}

// deriveEndpoint maps a request to a low-cardinality endpoint label. Profile
// identifiers are collapsed so each profile does not mint a new label.
func deriveEndpoint(req *http.Request) string {
	path := req.URL.Path
	if strings.HasPrefix(path, "/profiles") {
		if path == "/profiles" {
			return req.Method + " /profiles"
		}
		return req.Method + " /profiles/{id}"
	}
	return req.Method + " " + path
}
