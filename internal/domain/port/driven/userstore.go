// Package driven defines the driven (outbound) ports implemented by adapters.
package driven

import (
	"context"
	"time"

	"github.com/winterhq/tokenforge/internal/domain/model"
)

// UserStore defines the driven port for durable per-user credential state.
// The adapter exclusively owns the on-disk representation; a missing or
// corrupt backing file is treated as an empty store, never as an error.
// Every mutating call persists before returning.
type UserStore interface {
	// Load returns the full user mapping.
	Load(ctx context.Context) (map[string]model.UserRecord, error)

	// Get returns the record for one user, or (nil, nil) when absent.
	Get(ctx context.Context, userID string) (*model.UserRecord, error)

	// SetAccounts validates and replaces the user's guest account list,
	// creating the record when absent. Returns *model.ValidationError on a
	// malformed submission without writing anything.
	SetAccounts(ctx context.Context, userID string, accounts []model.GuestAccount) error

	// UpdateBatchMeta records the outcome of a completed batch on the user
	// record (token count, artifact path, completion time).
	UpdateBatchMeta(ctx context.Context, userID string, count int, artifactPath string, generatedAt time.Time) error

	// Delete removes the record entirely. Deleting an absent user is a no-op.
	Delete(ctx context.Context, userID string) error
}
