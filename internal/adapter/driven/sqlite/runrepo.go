package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/winterhq/tokenforge/internal/domain/model"
	"github.com/winterhq/tokenforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunStore = (*RunRepo)(nil)

// RunRepo is the SQLite implementation of the RunStore port interface.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Record appends one completed run.
func (r *RunRepo) Record(ctx context.Context, run model.Run) error {
	const query = `
		INSERT INTO runs (cycle_id, user_id, triggered_by, token_count, artifact_path, remote_path, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Writer.ExecContext(ctx, query,
		run.CycleID,
		run.UserID,
		string(run.Trigger),
		run.TokenCount,
		run.ArtifactPath,
		run.RemotePath,
		string(run.Status),
		run.Error,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record run for user %q: %w", run.UserID, err)
	}
	return nil
}

// ListRecent returns up to limit runs, newest first.
func (r *RunRepo) ListRecent(ctx context.Context, limit int) ([]model.Run, error) {
	const query = `
		SELECT id, cycle_id, user_id, triggered_by, token_count, artifact_path, remote_path, status, error, started_at, finished_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var run model.Run
		var trigger, status, startedAt, finishedAt string
		if err := rows.Scan(
			&run.ID,
			&run.CycleID,
			&run.UserID,
			&trigger,
			&run.TokenCount,
			&run.ArtifactPath,
			&run.RemotePath,
			&status,
			&run.Error,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		run.Trigger = model.RunTrigger(trigger)
		run.Status = model.RunStatus(status)
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at for run %d: %w", run.ID, err)
		}
		if run.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at for run %d: %w", run.ID, err)
		}

		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// parseTime parses an RFC3339 timestamp column.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
