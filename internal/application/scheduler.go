package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/winterhq/tokenforge/internal/domain/port/driven"
)

// Scheduler drives the recurring token refresh: on a fixed period it walks
// every configured user, generates a fresh batch, publishes it, and reports
// each outcome to the notification sink. Cycles never overlap: the loop is
// a single sequential task and the period re-arms only after a cycle
// finishes, so a long cycle delays the next one rather than racing it.
type Scheduler struct {
	svc      *TokenService
	users    driven.UserStore
	notifier driven.Notifier
	interval time.Duration
}

// NewScheduler creates a Scheduler with all required dependencies.
func NewScheduler(svc *TokenService, users driven.UserStore, notifier driven.Notifier, interval time.Duration) *Scheduler {
	return &Scheduler{
		svc:      svc,
		users:    users,
		notifier: notifier,
		interval: interval,
	}
}

// Start runs an immediate cycle, then repeats on the configured period.
// Start blocks until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.runCycle(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-timer.C:
			s.runCycle(ctx)
			timer.Reset(s.interval)
		}
	}
}

// RunCycleNow executes one cycle outside the periodic cadence. It shares
// the per-user locks with scheduled and interactive work, so it is safe to
// call concurrently with either.
func (s *Scheduler) RunCycleNow(ctx context.Context) {
	s.runCycle(ctx)
}

// runCycle walks every configured user and processes each one. Per-user
// failures are reported and the walk continues; nothing here may take the
// periodic loop down, so unexpected panics are absorbed and reported too.
func (s *Scheduler) runCycle(ctx context.Context) {
	cycleID := uuid.NewString()
	start := time.Now()

	defer func() {
		if v := recover(); v != nil {
			slog.Error("cycle panic", "cycle_id", cycleID, "panic", v)
			s.notify(ctx, fmt.Sprintf("[auto] cycle error: %v", v))
		}
	}()

	users, err := s.users.Load(ctx)
	if err != nil {
		slog.Error("cycle load failed", "cycle_id", cycleID, "error", err)
		s.notify(ctx, fmt.Sprintf("[auto] cycle error: %v", err))
		return
	}

	ids := make([]string, 0, len(users))
	for id, rec := range users {
		if rec.Configured() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var failures int
	for _, userID := range ids {
		if ctx.Err() != nil {
			slog.Info("cycle interrupted", "cycle_id", cycleID)
			return
		}

		result, remotePath, err := s.svc.RunUser(ctx, userID, cycleID)
		switch {
		case errors.Is(err, ErrNotConfigured):
			// Deleted between Load and RunUser; skip silently.
		case err != nil:
			failures++
			slog.Error("scheduled run failed", "cycle_id", cycleID, "user", userID, "error", err)
			s.notify(ctx, fmt.Sprintf("[auto] run failed for user %s: %v", userID, err))
		default:
			slog.Info("scheduled run complete",
				"cycle_id", cycleID,
				"user", userID,
				"tokens", result.Count,
				"remote_path", remotePath,
			)
			s.notify(ctx, fmt.Sprintf("[auto] tokens generated and uploaded for user %s: %d accounts", userID, result.Count))
		}
	}

	slog.Info("cycle complete",
		"cycle_id", cycleID,
		"users", len(ids),
		"failures", failures,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// notify delivers one message to the sink, logging delivery failures.
func (s *Scheduler) notify(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, message); err != nil {
		slog.Error("notification failed", "error", err)
	}
}
