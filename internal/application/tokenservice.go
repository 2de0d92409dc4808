// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/winterhq/tokenforge/internal/domain/model"
	"github.com/winterhq/tokenforge/internal/domain/port/driven"
)

// maxConcurrentFetches bounds the fan-out of token fetches within one batch
// so the issuing endpoint is not overwhelmed and local socket usage stays
// capped, regardless of credential list length.
const maxConcurrentFetches = 15

// ErrNotConfigured is returned when a batch is requested for a user with no
// guest accounts. It is a distinct outcome, not a failure.
var ErrNotConfigured = errors.New("user has no guest accounts configured")

// ErrNoData is returned by Status for an unknown user.
var ErrNoData = errors.New("no data for user")

// PublishError wraps a failed remote publication with the underlying
// transport or API error. Local artifact and store metadata are left as
// already written; there is no rollback.
type PublishError struct {
	Reason string
	Err    error
}

func (e *PublishError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// TokenService orchestrates the token pipeline: credential configuration,
// concurrent batch generation, artifact persistence, and remote publication.
// All mutating operations for one user serialize on a per-user lock.
type TokenService struct {
	users     driven.UserStore
	artifacts driven.ArtifactStore
	issuer    driven.TokenIssuer
	remote    driven.RemoteStore
	runs      driven.RunStore

	remoteFolder string
	scrubKeys    []string
	maxWorkers   int
	locks        *userLocks
}

// NewTokenService creates a TokenService. remote may be nil when no remote
// repository is configured; Publish then fails with a PublishError. runs may
// be nil to disable run recording.
func NewTokenService(
	users driven.UserStore,
	artifacts driven.ArtifactStore,
	issuer driven.TokenIssuer,
	remote driven.RemoteStore,
	runs driven.RunStore,
	remoteFolder string,
	scrubKeys []string,
) *TokenService {
	return &TokenService{
		users:        users,
		artifacts:    artifacts,
		issuer:       issuer,
		remote:       remote,
		runs:         runs,
		remoteFolder: remoteFolder,
		scrubKeys:    scrubKeys,
		maxWorkers:   maxConcurrentFetches,
		locks:        newUserLocks(),
	}
}

// Configure validates and stores the user's guest account list.
func (s *TokenService) Configure(ctx context.Context, userID string, accounts []model.GuestAccount) error {
	mu := s.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	return s.users.SetAccounts(ctx, userID, accounts)
}

// Status returns the user's record, or ErrNoData for an unknown user.
func (s *TokenService) Status(ctx context.Context, userID string) (*model.UserRecord, error) {
	rec, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoData
	}
	return rec, nil
}

// Delete removes all data for the user. Idempotent: deleting an unknown
// user succeeds. The artifact file itself is left behind; the next batch
// for a re-created user overwrites it.
func (s *TokenService) Delete(ctx context.Context, userID string) error {
	mu := s.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	return s.users.Delete(ctx, userID)
}

// Generate runs one batch for the user: fetches a token per guest account
// under the concurrency ceiling, writes the artifact, and updates the user
// record. Returns ErrNotConfigured when the user has no accounts.
func (s *TokenService) Generate(ctx context.Context, userID string) (*model.BatchResult, error) {
	mu := s.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	result, err := s.generateLocked(ctx, userID)
	if errors.Is(err, ErrNotConfigured) {
		return nil, err
	}
	s.recordRun(ctx, buildRun("", userID, model.RunTriggerManual, result, "", start, err))
	return result, err
}

// Publish reads the user's most recent artifact, scrubs sensitive keys,
// and creates or updates the corresponding object in the remote repository.
// Returns the remote path on success.
func (s *TokenService) Publish(ctx context.Context, userID string) (string, error) {
	mu := s.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	remotePath, err := s.publishLocked(ctx, userID)
	if errors.Is(err, driven.ErrArtifactNotFound) {
		return "", err
	}
	run := buildRun("", userID, model.RunTriggerManual, nil, remotePath, start, err)
	s.recordRun(ctx, run)
	return remotePath, err
}

// RunUser executes generate-then-publish for one user as a single critical
// section, on behalf of a scheduler cycle identified by cycleID.
func (s *TokenService) RunUser(ctx context.Context, userID, cycleID string) (*model.BatchResult, string, error) {
	mu := s.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	result, err := s.generateLocked(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotConfigured) {
			s.recordRun(ctx, buildRun(cycleID, userID, model.RunTriggerScheduled, nil, "", start, err))
		}
		return nil, "", err
	}

	remotePath, err := s.publishLocked(ctx, userID)
	s.recordRun(ctx, buildRun(cycleID, userID, model.RunTriggerScheduled, result, remotePath, start, err))
	if err != nil {
		return result, "", err
	}
	return result, remotePath, nil
}

// generateLocked is the batch core. Callers must hold the user's lock.
func (s *TokenService) generateLocked(ctx context.Context, userID string) (*model.BatchResult, error) {
	rec, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.Configured() {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	// A started batch runs to completion: fetch fan-out and the writes that
	// record its outcome are detached from the caller's cancellation, so a
	// client disconnect or shutdown mid-batch cannot turn every in-flight
	// fetch into a failure and overwrite the previous artifact with an
	// empty one. Each fetch attempt is still bounded by the issuer's own
	// per-attempt timeout.
	batchCtx := context.WithoutCancel(ctx)
	tokens := s.fetchAll(batchCtx, rec.Accounts)

	artifactPath, err := s.artifacts.WriteTokens(batchCtx, userID, rec.ArtifactName(), tokens)
	if err != nil {
		return nil, fmt.Errorf("writing artifact: %w", err)
	}

	if err := s.users.UpdateBatchMeta(batchCtx, userID, len(tokens), artifactPath, time.Now()); err != nil {
		// The artifact is already on disk; the next run reconciles the record.
		return nil, fmt.Errorf("updating user record: %w", err)
	}

	slog.Info("batch complete",
		"user", userID,
		"accounts", len(rec.Accounts),
		"tokens", len(tokens),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return &model.BatchResult{
		Count:        len(tokens),
		ArtifactPath: artifactPath,
		Tokens:       tokens,
	}, nil
}

// fetchAll dispatches one fetch per account under the worker ceiling and
// collects results in completion order. Failed fetches are dropped; the
// issuer adapter already logged them.
func (s *TokenService) fetchAll(ctx context.Context, accounts []model.GuestAccount) []model.TokenResult {
	sem := make(chan struct{}, s.maxWorkers)
	results := make(chan model.TokenResult, len(accounts))

	var wg sync.WaitGroup
	for _, acc := range accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := s.issuer.FetchToken(ctx, acc)
			if err != nil {
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	tokens := make([]model.TokenResult, 0, len(accounts))
	for res := range results {
		tokens = append(tokens, res)
	}
	return tokens
}

// publishLocked is the publication core. Callers must hold the user's lock.
func (s *TokenService) publishLocked(ctx context.Context, userID string) (string, error) {
	rec, err := s.users.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", driven.ErrArtifactNotFound
	}

	raw, localPath, err := s.artifacts.ReadArtifact(ctx, userID, rec.ArtifactName())
	if err != nil {
		return "", err
	}

	if s.remote == nil {
		return "", &PublishError{Reason: "remote repository not configured"}
	}

	content := scrubSecrets(raw, s.scrubKeys)
	name := rec.ArtifactName()
	remotePath := path.Join(s.remoteFolder, userID, name)

	existing, err := s.remote.GetFile(ctx, remotePath)
	if err != nil {
		return "", &PublishError{Reason: "reading remote object", Err: err}
	}

	if existing != nil {
		if err := s.remote.UpdateFile(ctx, remotePath, content, existing.SHA, "Update "+name); err != nil {
			return "", &PublishError{Reason: "updating remote object", Err: err}
		}
	} else {
		if err := s.remote.CreateFile(ctx, remotePath, content, "Create "+name); err != nil {
			return "", &PublishError{Reason: "creating remote object", Err: err}
		}
	}

	slog.Info("artifact published",
		"user", userID,
		"local_path", localPath,
		"remote_path", remotePath,
		"updated", existing != nil,
	)

	return remotePath, nil
}

// recordRun appends a run to the history ledger. Recording failures are
// logged and swallowed; history must never fail a batch.
func (s *TokenService) recordRun(ctx context.Context, run model.Run) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Record(ctx, run); err != nil {
		slog.Error("record run failed", "user", run.UserID, "error", err)
	}
}

// buildRun assembles a run record from an operation outcome.
func buildRun(cycleID, userID string, trigger model.RunTrigger, result *model.BatchResult, remotePath string, start time.Time, err error) model.Run {
	run := model.Run{
		CycleID:    cycleID,
		UserID:     userID,
		Trigger:    trigger,
		RemotePath: remotePath,
		Status:     model.RunStatusSucceeded,
		StartedAt:  start,
		FinishedAt: time.Now(),
	}
	if result != nil {
		run.TokenCount = result.Count
		run.ArtifactPath = result.ArtifactPath
	}
	if err != nil {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
	}
	return run
}
