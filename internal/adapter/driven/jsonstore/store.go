// Package jsonstore implements the UserStore and ArtifactStore ports on
// plain JSON files.
package jsonstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/winterhq/tokenforge/internal/domain/model"
	"github.com/winterhq/tokenforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UserStore = (*Store)(nil)

// Store persists the user mapping as a single JSON object file. Every write
// replaces the file wholesale via an atomic rename, and every mutating call
// runs the whole read-modify-write under one lock so concurrent writers
// cannot interleave.
type Store struct {
	path string
	mu   sync.RWMutex
}

// NewStore creates a Store backed by the file at path. The file does not
// need to exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the full user mapping. A missing or malformed file yields an
// empty mapping: corruption means "no data yet", not a fatal error.
func (s *Store) Load(_ context.Context) (map[string]model.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(), nil
}

// Get returns the record for one user, or (nil, nil) when absent.
func (s *Store) Get(_ context.Context, userID string) (*model.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.read()[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// SetAccounts validates and replaces the user's guest account list. The
// previous batch metadata is reset: a new credential list invalidates the
// old counts.
func (s *Store) SetAccounts(_ context.Context, userID string, accounts []model.GuestAccount) error {
	if err := model.ValidateAccounts(accounts); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.read()
	rec := users[userID]
	rec.Accounts = accounts
	rec.LastTokenCount = 0
	rec.LastResultPath = ""
	rec.LastGeneratedAt = nil
	users[userID] = rec

	return s.write(users)
}

// UpdateBatchMeta records the outcome of a completed batch on the user
// record. The user must still exist; a record deleted mid-batch stays
// deleted.
func (s *Store) UpdateBatchMeta(_ context.Context, userID string, count int, artifactPath string, generatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.read()
	rec, ok := users[userID]
	if !ok {
		return fmt.Errorf("user %q not found", userID)
	}
	rec.LastTokenCount = count
	rec.LastResultPath = artifactPath
	at := generatedAt.UTC()
	rec.LastGeneratedAt = &at
	users[userID] = rec

	return s.write(users)
}

// Delete removes the record entirely. Deleting an absent user is a no-op.
func (s *Store) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.read()
	if _, ok := users[userID]; !ok {
		return nil
	}
	delete(users, userID)

	return s.write(users)
}

// read loads the mapping from disk. Callers must hold at least the read lock.
func (s *Store) read() map[string]model.UserRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("user store unreadable, treating as empty", "path", s.path, "error", err)
		}
		return map[string]model.UserRecord{}
	}

	var users map[string]model.UserRecord
	if err := json.Unmarshal(data, &users); err != nil {
		slog.Warn("user store corrupt, treating as empty", "path", s.path, "error", err)
		return map[string]model.UserRecord{}
	}
	if users == nil {
		users = map[string]model.UserRecord{}
	}
	return users
}

// write replaces the backing file with the given mapping. Callers must hold
// the write lock.
func (s *Store) write(users map[string]model.UserRecord) error {
	data, err := json.MarshalIndent(users, "", "    ")
	if err != nil {
		return fmt.Errorf("encode user store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}

	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write user store: %w", err)
	}
	return nil
}
