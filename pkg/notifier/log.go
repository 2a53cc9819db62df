package notifier

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the log instead of delivering them.
// Used in development and as a fallback when email is not configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, event EventType, email string, payload map[string]any) error {
	n.log.InfoContext(ctx, "notification",
		slog.String("event", string(event)),
		slog.String("email", email),
		slog.Any("payload", payload))
	return nil
}
