package notify

import (
	"context"
	"log/slog"

	"github.com/winterhq/tokenforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the structured log. Used when no
// Telegram sink is configured so cycle outcomes still land somewhere.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger falls back to the
// default logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the message at Info.
func (n *LogNotifier) Notify(_ context.Context, message string) error {
	n.logger.Info("notification", "message", message)
	return nil
}
