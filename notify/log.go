package notify

import (
	"context"
	"log/slog"
)

// LogNotifier records toggle events as structured log lines.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that writes to the given logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event. It never fails.
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		"event_id", event.ID,
		"kind", string(event.Kind),
		"profile_id", event.ProfileID,
		"profile_name", event.ProfileName,
	}
	if !event.Until.IsZero() {
		attrs = append(attrs, "until", event.Until)
	}
	n.logger.Info("profile toggled", attrs...)
	return nil
}
