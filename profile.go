// Package dnspause provides the core types for pausing and resuming
// DNS-filtering profiles on a remote control-plane service.
package dnspause

import "time"

// Status is the derived enabled/paused state of a profile.
type Status string

const (
	// StatusEnabled means the profile is filtering DNS traffic now.
	StatusEnabled Status = "enabled"

	// StatusPaused means filtering is suspended until the profile's
	// disable deadline passes.
	StatusPaused Status = "paused"
)

// Profile is a named DNS-filtering configuration on the remote service.
// Profiles are created and updated server-side; clients only read them
// and flip the disable deadline.
type Profile struct {
	// ID is the service-assigned identifier, unique per account.
	ID string

	// Name is the display name.
	Name string

	// Updated is the server-side last-modified time.
	Updated time.Time

	// DisableUntil is the instant the profile becomes active again.
	// A zero value means the profile is active now.
	DisableUntil time.Time
}

// StatusAt returns the profile status as observed at the given instant.
// A profile is paused iff its disable deadline is strictly in the future.
func (p Profile) StatusAt(now time.Time) Status {
	if p.PausedAt(now) {
		return StatusPaused
	}
	return StatusEnabled
}

// PausedAt reports whether the profile is paused at the given instant.
func (p Profile) PausedAt(now time.Time) bool {
	return !p.DisableUntil.IsZero() && p.DisableUntil.After(now)
}
