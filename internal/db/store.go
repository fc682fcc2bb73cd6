package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/meridianhq/partner-sync/internal/errors"
	"github.com/meridianhq/partner-sync/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

// EntityStore covers the mirrored entity and membership tables. All writes
// use insert-or-update-on-conflict semantics keyed by external ID.
type EntityStore interface {
	UpsertUser(ctx context.Context, u *models.User) (created bool, err error)
	UpsertGroup(ctx context.Context, g *models.Group) (created bool, err error)
	UpsertMembership(ctx context.Context, m *models.GroupMembership) (created bool, err error)
	UpsertCourse(ctx context.Context, c *models.Course) (created bool, err error)
	UpsertEnrollment(ctx context.Context, e *models.Enrollment) (created bool, err error)
	UpsertAccount(ctx context.Context, a *models.Account) (created bool, err error)
	UpsertContact(ctx context.Context, c *models.Contact) (created bool, err error)
	UpsertLead(ctx context.Context, l *models.Lead) (created bool, err error)

	ListActiveExternalIDs(ctx context.Context, entity models.EntityType) ([]string, error)
	DeactivateAbsent(ctx context.Context, entity models.EntityType, observed []string, reason string) (int64, error)
	DeleteAPIMembershipsAbsent(ctx context.Context, groupExternalID string, observedUsers []string) (int64, error)
	ListActiveUserIDs(ctx context.Context) ([]string, error)
}

// SyncStore covers sync bookkeeping: cursors, checkpoints, tasks, the run
// ledger and granular failures.
type SyncStore interface {
	GetSyncCursor(ctx context.Context, entity models.EntityType) (*models.SyncCursor, error)
	AdvanceSyncCursor(ctx context.Context, entity models.EntityType, watermark time.Time) error
	MarkFullSync(ctx context.Context, entity models.EntityType, at time.Time) error

	GetCheckpoint(ctx context.Context, taskName string) (*models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	ResetCheckpoint(ctx context.Context, taskName string) error

	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	CompleteSyncRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, taskName string, limit int) ([]*models.SyncRun, error)

	RecordSyncFailure(ctx context.Context, f *models.SyncFailure) error
	ListSyncFailures(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.SyncFailure, error)
	ResolveSyncFailure(ctx context.Context, id int64) error

	ListSyncTasks(ctx context.Context) ([]*models.SyncTask, error)
	GetSyncTaskByName(ctx context.Context, name string) (*models.SyncTask, error)
	UpdateSyncTask(ctx context.Context, task *models.SyncTask) error
	MarkTaskRun(ctx context.Context, name string, at time.Time) error

	AcquireTaskLock(ctx context.Context, key string) (release func() error, err error)
}

// Store is the full database interface.
type Store interface {
	EntityStore
	SyncStore
}

func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// classifyWriteError maps foreign-key violations to the referential error
// class so reconcilers can count them instead of aborting the batch.
func classifyWriteError(err error, what string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return apperrors.NewReferentialError(what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// activeIDTables maps deactivatable entity types to their tables. Membership
// and enrollment rows are handled separately (hard delete / cascade).
var activeIDTables = map[models.EntityType]string{
	models.EntityUser:    "users",
	models.EntityGroup:   "groups",
	models.EntityCourse:  "courses",
	models.EntityAccount: "accounts",
	models.EntityLead:    "leads",
}

// ListActiveExternalIDs returns the external IDs of all locally-active rows
// for one entity type.
func (s *PostgresStore) ListActiveExternalIDs(ctx context.Context, entity models.EntityType) ([]string, error) {
	table, ok := activeIDTables[entity]
	if !ok {
		return nil, fmt.Errorf("entity type %s has no active-row table", entity)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT external_id FROM %s WHERE is_active", table))
	if err != nil {
		return nil, fmt.Errorf("failed to list active %s ids: %w", entity, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", entity, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeactivateAbsent soft-deletes every locally-active row whose external ID is
// not in the observed set, tagging the reason and timestamp.
func (s *PostgresStore) DeactivateAbsent(ctx context.Context, entity models.EntityType, observed []string, reason string) (int64, error) {
	table, ok := activeIDTables[entity]
	if !ok {
		return 0, fmt.Errorf("entity type %s has no active-row table", entity)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET is_active = FALSE,
			deactivated_at = NOW(),
			deactivation_reason = $1
		WHERE is_active AND NOT (external_id = ANY($2))`, table)

	result, err := s.db.ExecContext(ctx, query, reason, pq.Array(observed))
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate absent %s rows: %w", entity, err)
	}
	return result.RowsAffected()
}

// AcquireTaskLock takes the session-level advisory lock that enforces at most
// one active run per lock key. Callers key it by task kind, so two tasks
// sharing cursors and checkpoints exclude each other regardless of name. The
// lock is held on a pinned connection until release is called.
func (s *PostgresStore) AcquireTaskLock(ctx context.Context, key string) (func() error, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection for task lock: %w", err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx,
		"SELECT pg_try_advisory_lock(hashtextextended($1, 0))", key).Scan(&acquired)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire task lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, apperrors.NewSyncInProgressError(key)
	}

	release := func() error {
		_, unlockErr := conn.ExecContext(context.Background(),
			"SELECT pg_advisory_unlock(hashtextextended($1, 0))", key)
		closeErr := conn.Close()
		if unlockErr != nil {
			return fmt.Errorf("failed to release task lock: %w", unlockErr)
		}
		return closeErr
	}
	return release, nil
}
