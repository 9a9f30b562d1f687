// Package server exposes dnspause over a small HTTP control API, so the
// toggle can be driven by shortcuts, status bars and other local tooling.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dnspause/dnspause"
	"github.com/dnspause/dnspause/coalesce"
	"github.com/dnspause/dnspause/state"
	"github.com/dnspause/dnspause/telemetry"
	"github.com/dnspause/dnspause/toggle"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., "127.0.0.1:8053")
	Address string

	// AuthToken protects the control endpoints with Bearer auth.
	// When empty the server accepts unauthenticated requests; only do
	// that on loopback addresses.
	AuthToken string

	// HistoryLimit caps the records returned by /history. Default 50.
	HistoryLimit int

	// ToggleMinInterval is the minimum gap between accepted toggle
	// requests; a shortcut key held down should not hammer the upstream
	// API. Default 2s; zero keeps the default, negative disables.
	ToggleMinInterval time.Duration

	// RefreshDelay is how long after the last toggle the profile list is
	// re-fetched in the background. Default 3s.
	RefreshDelay time.Duration

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP control server.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	toggler *toggle.Service
	store   *state.Store

	// throttle gates POST /toggle; refresh coalesces the background
	// profile re-fetch after a burst of toggles.
	throttle *coalesce.Throttle
	refresh  *coalesce.Debouncer
}

// New creates a new server around the toggle service. The state store may
// be nil; /history then reports an empty list.
func New(cfg Config, toggler *toggle.Service, store *state.Store) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8053"
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.ToggleMinInterval == 0 {
		cfg.ToggleMinInterval = 2 * time.Second
	}
	if cfg.RefreshDelay == 0 {
		cfg.RefreshDelay = 3 * time.Second
	}

	s := &Server{
		config:  cfg,
		logger:  cfg.Logger,
		toggler: toggler,
		store:   store,
		refresh: coalesce.NewDebouncer(cfg.RefreshDelay),
	}
	if cfg.ToggleMinInterval > 0 {
		s.throttle = coalesce.NewThrottle(cfg.ToggleMinInterval)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(s.authMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second, // toggles retry against the upstream API
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /profiles", s.handleProfiles)
	mux.HandleFunc("GET /history", s.handleHistory)

	mux.HandleFunc("POST /toggle", s.handleToggle)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// profilePayload is the wire shape of a profile plus its derived status.
type profilePayload struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   string     `json:"status"`
	Until    *time.Time `json:"until,omitempty"`
	Updated  time.Time  `json:"updated"`
	Selected bool       `json:"selected,omitempty"`
}

func toPayload(p dnspause.Profile, status dnspause.Status) profilePayload {
	out := profilePayload{
		ID:      p.ID,
		Name:    p.Name,
		Status:  string(status),
		Updated: p.Updated,
	}
	if status == dnspause.StatusPaused {
		until := p.DisableUntil
		out.Until = &until
	}
	return out
}

// handleStatus reports the selected profile and its status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	profile, status, err := s.toggler.Status(r.Context(), r.URL.Query().Get("profile"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPayload(profile, status))
}

// handleProfiles lists all profiles. ?refresh=1 bypasses the cache.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") != ""

	profiles, err := s.toggler.Profiles(r.Context(), refresh)
	if err != nil {
		s.writeError(w, err)
		return
	}

	now := time.Now()
	payload := make([]profilePayload, 0, len(profiles))
	for _, p := range profiles {
		payload = append(payload, toPayload(p, p.StatusAt(now)))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"profiles": payload})
}

// handleHistory returns recent toggle records, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"history": []state.ToggleRecord{}})
		return
	}

	records, err := s.store.History(r.Context(), s.config.HistoryLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []state.ToggleRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

// toggleRequest is the body of POST /toggle. Action is "toggle" (default),
// "pause" or "resume"; DurationSeconds applies to pauses only.
type toggleRequest struct {
	ProfileID       string `json:"profile_id,omitempty"`
	Action          string `json:"action,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
}

// toggleResponse reports the transition that took place.
type toggleResponse struct {
	Profile  profilePayload `json:"profile"`
	Previous string         `json:"previous"`
	Current  string         `json:"current"`
	Until    *time.Time     `json:"until,omitempty"`
	Verified bool           `json:"verified"`
	Warning  string         `json:"warning,omitempty"`
}

// handleToggle performs a pause, resume or flip.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	switch req.Action {
	case "", "toggle", "pause", "resume":
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown action %q", req.Action)})
		return
	}

	var (
		result *toggle.Result
		err    error
	)
	run := func() {
		switch req.Action {
		case "pause":
			result, err = s.toggler.Pause(r.Context(), req.ProfileID, time.Duration(req.DurationSeconds)*time.Second)
		case "resume":
			result, err = s.toggler.Resume(r.Context(), req.ProfileID)
		default:
			result, err = s.toggler.Toggle(r.Context(), req.ProfileID)
		}
	}

	if s.throttle != nil {
		if !s.throttle.Call(run) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(s.config.ToggleMinInterval.Seconds())))
			s.writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "toggling too fast"})
			return
		}
	} else {
		run()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Re-fetch the profile list once the burst settles so /status reflects
	// the server-side view.
	s.refresh.Call(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.toggler.Profiles(ctx, true); err != nil {
			s.logger.Warn("background profile refresh failed", "error", err)
		}
	})

	resp := toggleResponse{
		Profile:  toPayload(result.Profile, result.Current),
		Previous: string(result.Previous),
		Current:  string(result.Current),
		Verified: result.Verified,
	}
	if !result.Until.IsZero() {
		until := result.Until
		resp.Until = &until
	}
	if result.VerifyErr != nil {
		resp.Warning = result.VerifyErr.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, toggle.ErrProfileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, toggle.ErrNoProfileSelected):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response failed", "error", err)
	}
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting control server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down control server")
	s.refresh.Cancel()
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
