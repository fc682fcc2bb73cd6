package db

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/meridianhq/partner-sync/internal/errors"
	"github.com/meridianhq/partner-sync/internal/models"
)

const runColumns = `id, task_name, mode, status, started_at, finished_at, last_error,
	processed, created_count, updated_count, deactivated, skipped, failed,
	fk_errors, pages_failed, api_calls_made, api_calls_saved`

// CreateSyncRun opens a new row in the run ledger.
func (s *PostgresStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, task_name, mode, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.TaskName, string(run.Mode), string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// CompleteSyncRun writes the terminal status and counters. The mode is
// rewritten because a cadence-lifted pass resolves it after the row opened.
// The row is immutable after this.
func (s *PostgresStore) CompleteSyncRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			mode = $1,
			status = $2,
			finished_at = $3,
			last_error = $4,
			processed = $5,
			created_count = $6,
			updated_count = $7,
			deactivated = $8,
			skipped = $9,
			failed = $10,
			fk_errors = $11,
			pages_failed = $12,
			api_calls_made = $13,
			api_calls_saved = $14
		WHERE id = $15 AND status = 'running'
	`, string(run.Mode), string(run.Status), run.FinishedAt, run.LastError,
		run.Processed, run.Created, run.Updated, run.Deactivated,
		run.Skipped, run.Failed, run.FKErrors, run.PagesFailed,
		run.APICallsMade, run.APICallsSaved, run.ID)
	if err != nil {
		return fmt.Errorf("failed to complete sync run: %w", err)
	}
	return nil
}

func scanRun(scan func(...interface{}) error) (*models.SyncRun, error) {
	var run models.SyncRun
	var mode, status string
	var finishedAt sql.NullTime
	var lastError sql.NullString

	err := scan(
		&run.ID, &run.TaskName, &mode, &status, &run.StartedAt, &finishedAt,
		&lastError, &run.Processed, &run.Created, &run.Updated,
		&run.Deactivated, &run.Skipped, &run.Failed, &run.FKErrors,
		&run.PagesFailed, &run.APICallsMade, &run.APICallsSaved,
	)
	if err != nil {
		return nil, err
	}

	run.Mode = models.SyncMode(mode)
	run.Status = models.RunStatus(status)
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if lastError.Valid {
		run.LastError = lastError.String
	}
	return &run, nil
}

// GetSyncRun retrieves one run ledger row.
func (s *PostgresStore) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM sync_runs WHERE id = $1", id).Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("sync run not found: %s", id), err)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	return run, nil
}

// ListSyncRuns lists ledger rows, most recent first, optionally filtered by
// task name.
func (s *PostgresStore) ListSyncRuns(ctx context.Context, taskName string, limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + runColumns + " FROM sync_runs"
	args := []interface{}{}
	if taskName != "" {
		query += " WHERE task_name = $1"
		args = append(args, taskName)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
