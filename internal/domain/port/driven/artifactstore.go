package driven

import (
	"context"
	"errors"

	"github.com/winterhq/tokenforge/internal/domain/model"
)

// ErrArtifactNotFound is returned when no local artifact exists for a user.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore defines the driven port for the local result artifacts. The
// artifact path is derived deterministically from the user identifier, so
// repeated writes for the same user overwrite the same file.
type ArtifactStore interface {
	// WriteTokens materializes the token list for a user and returns the
	// artifact path it was written to.
	WriteTokens(ctx context.Context, userID, filename string, tokens []model.TokenResult) (string, error)

	// ReadArtifact returns the raw artifact bytes and the path they were
	// read from. Returns ErrArtifactNotFound when the artifact is missing.
	ReadArtifact(ctx context.Context, userID, filename string) ([]byte, string, error)
}
