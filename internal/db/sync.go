package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianhq/partner-sync/internal/models"
)

// GetSyncCursor retrieves the incremental watermark for an entity type.
// Returns nil when no cursor exists yet.
func (s *PostgresStore) GetSyncCursor(ctx context.Context, entity models.EntityType) (*models.SyncCursor, error) {
	var cursor models.SyncCursor
	var lastSynced, lastFull sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT last_synced_at, last_full_sync_at FROM sync_cursors
		WHERE entity_type = $1
	`, string(entity)).Scan(&lastSynced, &lastFull)

	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get sync cursor: %w", err)
	}

	cursor.EntityType = entity
	if lastSynced.Valid {
		cursor.LastSyncedAt = lastSynced.Time
	}
	if lastFull.Valid {
		cursor.LastFullSyncAt = lastFull.Time
	}
	return &cursor, nil
}

// AdvanceSyncCursor moves the watermark forward. GREATEST keeps the stored
// watermark monotonic even if a late-finishing run reports an older value.
func (s *PostgresStore) AdvanceSyncCursor(ctx context.Context, entity models.EntityType, watermark time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (entity_type, last_synced_at)
		VALUES ($1, $2)
		ON CONFLICT (entity_type) DO UPDATE SET
			last_synced_at = GREATEST(sync_cursors.last_synced_at, EXCLUDED.last_synced_at)
	`, string(entity), watermark)
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor for %s: %w", entity, err)
	}
	return nil
}

// MarkFullSync records the completion time of a full pass for an entity type.
func (s *PostgresStore) MarkFullSync(ctx context.Context, entity models.EntityType, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (entity_type, last_full_sync_at)
		VALUES ($1, $2)
		ON CONFLICT (entity_type) DO UPDATE SET
			last_full_sync_at = GREATEST(COALESCE(sync_cursors.last_full_sync_at, 'epoch'::timestamptz), EXCLUDED.last_full_sync_at)
	`, string(entity), at)
	if err != nil {
		return fmt.Errorf("failed to mark full sync for %s: %w", entity, err)
	}
	return nil
}

// GetCheckpoint retrieves the persisted checkpoint for a task, or the
// zero-value default when none has been saved.
func (s *PostgresStore) GetCheckpoint(ctx context.Context, taskName string) (*models.Checkpoint, error) {
	var payload []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT payload_json FROM sync_checkpoints WHERE task_name = $1
	`, taskName).Scan(&payload)

	if err == sql.ErrNoRows {
		return &models.Checkpoint{TaskName: taskName}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	cp.TaskName = taskName
	return &cp, nil
}

// SaveCheckpoint durably overwrites the checkpoint for a task.
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	cp.UpdatedAt = time.Now()

	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (task_name, payload_json, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (task_name) DO UPDATE SET
			payload_json = EXCLUDED.payload_json,
			updated_at = NOW()
	`, cp.TaskName, payload)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// ResetCheckpoint clears a task's checkpoint after a full traversal so a
// stale offset never survives a completed run.
func (s *PostgresStore) ResetCheckpoint(ctx context.Context, taskName string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_checkpoints WHERE task_name = $1", taskName)
	if err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return nil
}

// RecordSyncFailure stores one granular problem record.
func (s *PostgresStore) RecordSyncFailure(ctx context.Context, f *models.SyncFailure) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sync_failures (run_id, entity_type, external_id, reason, http_status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id
	`, f.RunID, string(f.EntityType), f.ExternalID, f.Reason, f.HTTPStatus).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}
	return nil
}

// ListSyncFailures lists problem records, most recent first.
func (s *PostgresStore) ListSyncFailures(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.SyncFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, run_id, entity_type, external_id, reason, http_status, resolved, created_at
		FROM sync_failures`
	if unresolvedOnly {
		query += " WHERE NOT resolved"
	}
	query += " ORDER BY created_at DESC LIMIT $1"

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync failures: %w", err)
	}
	defer rows.Close()

	var failures []*models.SyncFailure
	for rows.Next() {
		var f models.SyncFailure
		var entity string
		if err := rows.Scan(&f.ID, &f.RunID, &entity, &f.ExternalID, &f.Reason, &f.HTTPStatus, &f.Resolved, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync failure: %w", err)
		}
		f.EntityType = models.EntityType(entity)
		failures = append(failures, &f)
	}
	return failures, rows.Err()
}

// ResolveSyncFailure marks one problem record as triaged.
func (s *PostgresStore) ResolveSyncFailure(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sync_failures SET resolved = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to resolve sync failure: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no sync failure found with id %d", id)
	}
	return nil
}
