package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/meridianhq/partner-sync/internal/errors"
	"github.com/meridianhq/partner-sync/internal/models"
)

const taskColumns = `id, name, kind, enabled, interval_minutes, day_of_week,
	time_of_day, config_json, last_run_at, created_at, updated_at`

func scanTask(scan func(...interface{}) error) (*models.SyncTask, error) {
	var task models.SyncTask
	var kind string
	var configJSON []byte
	var lastRunAt sql.NullTime

	err := scan(
		&task.ID, &task.Name, &kind, &task.Enabled, &task.IntervalMinutes,
		&task.DayOfWeek, &task.TimeOfDay, &configJSON, &lastRunAt,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Kind = models.TaskKind(kind)
	if lastRunAt.Valid {
		task.LastRunAt = &lastRunAt.Time
	}
	cfg, err := models.DecodeTaskConfig(configJSON)
	if err != nil {
		return nil, fmt.Errorf("task %s has malformed config: %w", task.Name, err)
	}
	task.Config = cfg
	return &task, nil
}

// ListSyncTasks retrieves all scheduled task definitions.
func (s *PostgresStore) ListSyncTasks(ctx context.Context) ([]*models.SyncTask, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM sync_tasks ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.SyncTask
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetSyncTaskByName retrieves one scheduled task definition.
func (s *PostgresStore) GetSyncTaskByName(ctx context.Context, name string) (*models.SyncTask, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM sync_tasks WHERE name = $1", name).Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("sync task not found: %s", name), err)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get sync task: %w", err)
	}
	return task, nil
}

// UpdateSyncTask persists the mutable scheduling fields of a task.
func (s *PostgresStore) UpdateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if err := task.Config.Validate(); err != nil {
		return apperrors.NewConfigError("invalid task config", err)
	}
	configJSON, err := json.Marshal(task.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal task config: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_tasks
		SET enabled = $1,
			interval_minutes = $2,
			day_of_week = $3,
			time_of_day = $4,
			config_json = $5,
			updated_at = NOW()
		WHERE name = $6
	`, task.Enabled, task.IntervalMinutes, task.DayOfWeek, task.TimeOfDay, configJSON, task.Name)
	if err != nil {
		return fmt.Errorf("failed to update sync task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("sync task not found: %s", task.Name), nil)
	}
	return nil
}

// MarkTaskRun records when the orchestrator last invoked a task.
func (s *PostgresStore) MarkTaskRun(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sync_tasks SET last_run_at = $1, updated_at = NOW() WHERE name = $2", at, name)
	if err != nil {
		return fmt.Errorf("failed to mark task run: %w", err)
	}
	return nil
}
