package driven

import (
	"context"

	"github.com/winterhq/tokenforge/internal/domain/model"
)

// RunStore defines the driven port for the run-history ledger.
type RunStore interface {
	// Record appends one completed run.
	Record(ctx context.Context, run model.Run) error

	// ListRecent returns up to limit runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.Run, error)
}
