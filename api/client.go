// Package api is the HTTP client for the DNS-filtering control-plane REST
// API. It performs exactly one round trip per method call; retries and
// caching are layered above it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dnspause/dnspause"
)

const (
	// DefaultBaseURL is the production control-plane endpoint.
	DefaultBaseURL = "https://api.controld.com"

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response body is retained.
	maxErrorBody = 4 << 10
)

// Client talks to the control-plane API with bearer authentication.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithToken sets the bearer token. The token is validated on each request
// before any network activity.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a new API client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListProfiles fetches all profiles on the account.
func (c *Client) ListProfiles(ctx context.Context) ([]dnspause.Profile, error) {
	var resp profilesResponse
	if err := c.do(ctx, http.MethodGet, "/profiles", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, ErrUpstreamRejected
	}

	profiles := make([]dnspause.Profile, 0, len(resp.Body.Profiles))
	for _, w := range resp.Body.Profiles {
		profiles = append(profiles, w.toProfile())
	}
	return profiles, nil
}

// UpdateProfile sets the profile's disable deadline as a unix timestamp.
// Zero re-enables the profile immediately.
func (c *Client) UpdateProfile(ctx context.Context, id string, disableTTL int64) error {
	if id == "" {
		return fmt.Errorf("%w: empty profile id", ErrNotFound)
	}

	path := "/profiles/" + url.PathEscape(id)
	var resp updateProfileResponse
	if err := c.do(ctx, http.MethodPut, path, updateProfileRequest{DisableTTL: disableTTL}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return ErrUpstreamRejected
	}
	return nil
}

// do performs a single authenticated round trip and decodes the response
// into out. Status codes map to the error taxonomy in errors.go.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := dnspause.ValidateToken(c.token); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Timeout: isTimeout(err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Fall through to decode.
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Cause: err}
	}
	return nil
}

// isTimeout reports whether the transport failure was a deadline problem.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter parses the Retry-After header, accepting both the
// delta-seconds and HTTP-date forms. Returns 0 when absent or unparseable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
