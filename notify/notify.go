// Package notify delivers toggle events to interested collaborators:
// structured logs, webhooks, or anything else implementing Notifier.
// Delivery is best-effort; the toggle path logs and discards failures.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dnspause/dnspause"
)

// Kind classifies a toggle event.
type Kind string

const (
	// KindPaused means filtering was suspended until a deadline.
	KindPaused Kind = "paused"

	// KindResumed means filtering was re-enabled.
	KindResumed Kind = "resumed"
)

// Event describes one completed toggle operation.
type Event struct {
	// ID is a unique event identifier.
	ID string `json:"id"`

	// Kind is what happened.
	Kind Kind `json:"kind"`

	// ProfileID and ProfileName identify the affected profile.
	ProfileID   string `json:"profile_id"`
	ProfileName string `json:"profile_name"`

	// Until is the pause deadline; zero for resume events.
	Until time.Time `json:"until,omitempty"`

	// At is when the operation completed.
	At time.Time `json:"at"`
}

// NewEvent builds an event for the given profile transition.
func NewEvent(kind Kind, profile dnspause.Profile, until time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		ProfileID:   profile.ID,
		ProfileName: profile.Name,
		Until:       until,
		At:          time.Now(),
	}
}

// Notifier receives toggle events. Implementations must tolerate concurrent
// calls. Errors are advisory only; callers never fail an operation over a
// notification.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to several notifiers, collecting all errors.
type Multi []Notifier

// Notify delivers the event to every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
