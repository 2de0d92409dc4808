package driven

import "context"

// Notifier defines the driven port for the operator notification sink.
// Implementations deliver one text message per call.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
