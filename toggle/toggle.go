// Package toggle orchestrates pausing and resuming a DNS-filtering profile:
// list profiles, locate the selected one, flip its disable deadline through
// the control-plane API, and optionally verify the transition landed.
package toggle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dnspause/dnspause"
	"github.com/dnspause/dnspause/api"
	"github.com/dnspause/dnspause/cache"
	"github.com/dnspause/dnspause/notify"
	"github.com/dnspause/dnspause/retry"
	"github.com/dnspause/dnspause/state"
	"github.com/dnspause/dnspause/telemetry"
)

const (
	// DefaultPauseDuration is how long a profile stays paused when no
	// duration is given.
	DefaultPauseDuration = time.Hour

	// DefaultOperationBudget bounds one whole toggle operation, retries
	// and verification included.
	DefaultOperationBudget = 60 * time.Second

	// profilesCacheKey is the single cache key for the profile list.
	profilesCacheKey = "profiles"
)

// ErrProfileNotFound is returned when the selected profile is not on the
// account.
var ErrProfileNotFound = errors.New("profile not found")

// ErrVerificationFailed means the post-toggle re-fetch did not show the
// intended status. The remote update has usually still taken effect; the
// error is reported on the Result rather than failing the operation.
var ErrVerificationFailed = errors.New("verification failed")

// ErrNoProfileSelected is returned when no profile ID was given and none
// is remembered in the state store.
var ErrNoProfileSelected = errors.New("no profile selected")

// Client is the slice of the API the service needs.
type Client interface {
	ListProfiles(ctx context.Context) ([]dnspause.Profile, error)
	UpdateProfile(ctx context.Context, id string, disableTTL int64) error
}

// History records completed toggles; implemented by *state.Store.
type History interface {
	SelectedProfile(ctx context.Context) (string, error)
	SetSelectedProfile(ctx context.Context, id string) error
	AppendToggle(ctx context.Context, rec state.ToggleRecord) error
}

// Result describes one completed toggle.
type Result struct {
	Profile  dnspause.Profile
	Previous dnspause.Status
	Current  dnspause.Status

	// Until is the new pause deadline; zero when the profile was resumed.
	Until time.Time

	// Verified is true when the post-toggle re-fetch confirmed the
	// transition. VerifyErr carries the soft failure otherwise.
	Verified  bool
	VerifyErr error
}

// Service orchestrates toggle operations. It is stateless between calls;
// concurrent toggles for the same profile are not serialized.
type Service struct {
	client        Client
	policy        retry.Policy
	profiles      *cache.Cache[[]dnspause.Profile]
	notifier      notify.Notifier
	history       History
	logger        *slog.Logger
	now           func() time.Time
	pauseDuration time.Duration
	budget        time.Duration
	verify        bool
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy sets the retry policy wrapped around each API call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithCache sets the profile-list cache. Without one every read hits the
// API.
func WithCache(c *cache.Cache[[]dnspause.Profile]) Option {
	return func(s *Service) {
		s.profiles = c
	}
}

// WithNotifier sets the toggle event notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithHistory sets the state store used for the selected profile and the
// toggle history.
func WithHistory(h History) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithPauseDuration sets the default pause duration.
func WithPauseDuration(d time.Duration) Option {
	return func(s *Service) {
		s.pauseDuration = d
	}
}

// WithVerify enables the post-toggle verification re-fetch.
func WithVerify(verify bool) Option {
	return func(s *Service) {
		s.verify = verify
	}
}

// WithNow sets the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a toggle service around the given API client.
func New(client Client, opts ...Option) *Service {
	s := &Service{
		client:        client,
		policy:        retry.Default(),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:           time.Now,
		pauseDuration: DefaultPauseDuration,
		budget:        DefaultOperationBudget,
		verify:        true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.Retryable == nil {
		s.policy.Retryable = api.IsRetryable
	}
	if s.policy.OnRetry == nil {
		logger := s.logger
		s.policy.OnRetry = func(err error, next time.Duration) {
			telemetry.RecordRetryAttempt(context.Background())
			logger.Warn("retrying api call", "error", err, "next_attempt_in", next)
		}
	}
	return s
}

// Profiles returns the profile list, from cache unless refresh is set.
func (s *Service) Profiles(ctx context.Context, refresh bool) ([]dnspause.Profile, error) {
	if s.profiles != nil && !refresh {
		if profiles, ok := s.profiles.Get(profilesCacheKey); ok {
			telemetry.RecordCacheEvent(ctx, "hit")
			return profiles, nil
		}
		telemetry.RecordCacheEvent(ctx, "miss")
	}

	profiles, err := retry.Do(ctx, s.policy, func() ([]dnspause.Profile, error) {
		return s.client.ListProfiles(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}

	if s.profiles != nil {
		s.profiles.Set(profilesCacheKey, profiles)
	}
	return profiles, nil
}

// Status returns the profile and its derived status.
func (s *Service) Status(ctx context.Context, profileID string) (dnspause.Profile, dnspause.Status, error) {
	profileID, err := s.resolveProfileID(ctx, profileID)
	if err != nil {
		return dnspause.Profile{}, "", err
	}

	profiles, err := s.Profiles(ctx, false)
	if err != nil {
		return dnspause.Profile{}, "", err
	}

	profile, ok := findProfile(profiles, profileID)
	if !ok {
		return dnspause.Profile{}, "", fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
	}
	return profile, profile.StatusAt(s.now()), nil
}

// Toggle flips the profile between enabled and paused, pausing for the
// service's default duration.
func (s *Service) Toggle(ctx context.Context, profileID string) (*Result, error) {
	return s.transition(ctx, profileID, s.pauseDuration, actionToggle)
}

// Pause suspends filtering for the given duration (the default when d is
// zero). Pausing an already paused profile moves its deadline.
func (s *Service) Pause(ctx context.Context, profileID string, d time.Duration) (*Result, error) {
	if d <= 0 {
		d = s.pauseDuration
	}
	return s.transition(ctx, profileID, d, actionPause)
}

// Resume re-enables filtering immediately. Resuming an enabled profile is
// a no-op on the server but still reported as a resume.
func (s *Service) Resume(ctx context.Context, profileID string) (*Result, error) {
	return s.transition(ctx, profileID, 0, actionResume)
}

type action int

const (
	actionToggle action = iota
	actionPause
	actionResume
)

// transition performs the full orchestration sequence for one operation.
func (s *Service) transition(ctx context.Context, profileID string, pauseFor time.Duration, act action) (result *Result, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
		case result != nil && result.VerifyErr != nil:
			outcome = "unverified"
		}
		label := "toggle"
		if result != nil {
			label = string(kindFor(result.Current))
		}
		telemetry.RecordToggle(ctx, label, outcome, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	profileID, err = s.resolveProfileID(ctx, profileID)
	if err != nil {
		return nil, err
	}

	// Always work from a fresh list; a cached one may hide a toggle made
	// elsewhere.
	profiles, err := s.Profiles(ctx, true)
	if err != nil {
		return nil, err
	}

	profile, ok := findProfile(profiles, profileID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
	}

	now := s.now()
	previous := profile.StatusAt(now)

	var disableTTL int64
	var until time.Time
	switch {
	case act == actionResume,
		act == actionToggle && previous == dnspause.StatusPaused:
		disableTTL = 0
	default:
		until = now.Add(pauseFor)
		disableTTL = until.Unix()
	}

	_, err = retry.Do(ctx, s.policy, func() (struct{}, error) {
		return struct{}{}, s.client.UpdateProfile(ctx, profile.ID, disableTTL)
	})
	if err != nil {
		return nil, fmt.Errorf("updating profile %s: %w", profile.ID, err)
	}

	// The cached list is stale now.
	if s.profiles != nil {
		s.profiles.Remove(profilesCacheKey)
		telemetry.RecordCacheEvent(ctx, "invalidate")
	}

	current := dnspause.StatusEnabled
	if disableTTL > 0 {
		current = dnspause.StatusPaused
	}

	result = &Result{
		Profile:  profile,
		Previous: previous,
		Current:  current,
		Until:    until,
	}
	result.Profile.DisableUntil = until

	if s.verify {
		result.Verified, result.VerifyErr = s.verifyTransition(ctx, profile.ID, current)
	}

	s.fanOut(ctx, result)
	return result, nil
}

// verifyTransition re-fetches the profile list and checks the status
// matches. A mismatch or fetch failure is a soft failure: the update has
// already been accepted upstream.
func (s *Service) verifyTransition(ctx context.Context, profileID string, want dnspause.Status) (bool, error) {
	profiles, err := retry.Do(ctx, s.policy, func() ([]dnspause.Profile, error) {
		return s.client.ListProfiles(ctx)
	})
	if err != nil {
		return false, fmt.Errorf("%w: re-fetch failed: %v", ErrVerificationFailed, err)
	}

	profile, ok := findProfile(profiles, profileID)
	if !ok {
		return false, fmt.Errorf("%w: profile %s missing after update", ErrVerificationFailed, profileID)
	}

	if got := profile.StatusAt(s.now()); got != want {
		return false, fmt.Errorf("%w: status is %s, wanted %s", ErrVerificationFailed, got, want)
	}
	return true, nil
}

// fanOut delivers the result to collaborators. Their failures are logged
// and discarded; the toggle already happened.
func (s *Service) fanOut(ctx context.Context, result *Result) {
	kind := kindFor(result.Current)

	if s.notifier != nil {
		event := notify.NewEvent(kind, result.Profile, result.Until)
		if err := s.notifier.Notify(ctx, event); err != nil {
			telemetry.RecordNotification(ctx, "error")
			s.logger.Warn("notifier failed", "error", err, "event_id", event.ID)
		} else {
			telemetry.RecordNotification(ctx, "success")
		}
	}

	if s.history != nil {
		rec := state.ToggleRecord{
			ProfileID:   result.Profile.ID,
			ProfileName: result.Profile.Name,
			Action:      string(kind),
			Until:       result.Until,
			At:          s.now(),
		}
		if err := s.history.AppendToggle(ctx, rec); err != nil {
			s.logger.Warn("recording toggle history failed", "error", err)
		}
		if err := s.history.SetSelectedProfile(ctx, result.Profile.ID); err != nil {
			s.logger.Warn("remembering selected profile failed", "error", err)
		}
	}
}

// resolveProfileID falls back to the remembered selection when no explicit
// profile was given.
func (s *Service) resolveProfileID(ctx context.Context, profileID string) (string, error) {
	if profileID != "" {
		return profileID, nil
	}
	if s.history == nil {
		return "", ErrNoProfileSelected
	}
	id, err := s.history.SelectedProfile(ctx)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return "", ErrNoProfileSelected
		}
		return "", fmt.Errorf("reading selected profile: %w", err)
	}
	if id == "" {
		return "", ErrNoProfileSelected
	}
	return id, nil
}

func findProfile(profiles []dnspause.Profile, id string) (dnspause.Profile, bool) {
	for _, p := range profiles {
		if p.ID == id {
			return p, true
		}
	}
	return dnspause.Profile{}, false
}

func kindFor(status dnspause.Status) notify.Kind {
	if status == dnspause.StatusPaused {
		return notify.KindPaused
	}
	return notify.KindResumed
}
