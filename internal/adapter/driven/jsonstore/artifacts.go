package jsonstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/winterhq/tokenforge/internal/domain/model"
	"github.com/winterhq/tokenforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ArtifactStore = (*ArtifactStore)(nil)

// ArtifactStore materializes per-user token lists as JSON files under a
// single directory. The path is derived from the user identifier and
// filename, so each run overwrites the previous artifact for that user.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates an ArtifactStore rooted at dir.
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

// Path returns the deterministic artifact path for a user.
func (a *ArtifactStore) Path(userID, filename string) string {
	return filepath.Join(a.dir, userID+"_"+filename)
}

// WriteTokens writes the token list as an indented JSON array and returns
// the artifact path. The write is an atomic replacement.
func (a *ArtifactStore) WriteTokens(_ context.Context, userID, filename string, tokens []model.TokenResult) (string, error) {
	if tokens == nil {
		tokens = []model.TokenResult{}
	}
	data, err := json.MarshalIndent(tokens, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode tokens for user %q: %w", userID, err)
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	path := a.Path(userID, filename)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", path, err)
	}
	return path, nil
}

// ReadArtifact returns the raw artifact bytes and the path they were read
// from, or ErrArtifactNotFound when no artifact exists for the user.
func (a *ArtifactStore) ReadArtifact(_ context.Context, userID, filename string) ([]byte, string, error) {
	path := a.Path(userID, filename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, "", driven.ErrArtifactNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("read artifact %s: %w", path, err)
	}
	return data, path, nil
}
