package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	apperrors "github.com/meridianhq/partner-sync/internal/errors"
)

// The migration runner applies ordered, versioned blocks of structural
// operations exactly once, tracked by a single schema-version row. The run is
// not wrapped in one atomic transaction, so every operation independently
// detects "already applied" state (schema metadata first, duplicate-object
// SQLSTATE as fallback) and treats it as success. This makes any migration
// safe to replay from a crashed or partially-applied state.

// SchemaInspector answers "is this structural change already present"
// questions from schema metadata, and owns the schema-version row.
type SchemaInspector interface {
	TableExists(ctx context.Context, table string) (bool, error)
	ColumnExists(ctx context.Context, table, column string) (bool, error)
	IndexExists(ctx context.Context, index string) (bool, error)
	CurrentVersion(ctx context.Context) (int, error)
	SetVersion(ctx context.Context, version int) error
}

type migrationExecer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// appliedCheck probes schema metadata before an operation is attempted.
type appliedCheck func(ctx context.Context, in SchemaInspector) (bool, error)

func tableExists(table string) appliedCheck {
	return func(ctx context.Context, in SchemaInspector) (bool, error) {
		return in.TableExists(ctx, table)
	}
}

func columnExists(table, column string) appliedCheck {
	return func(ctx context.Context, in SchemaInspector) (bool, error) {
		return in.ColumnExists(ctx, table, column)
	}
}

func indexExists(index string) appliedCheck {
	return func(ctx context.Context, in SchemaInspector) (bool, error) {
		return in.IndexExists(ctx, index)
	}
}

// operation is one structural or seed step inside a migration block.
type operation struct {
	desc string
	stmt string
	// critical operations abort the whole run on failure; non-critical ones
	// (seed data) are skipped with a warning. Structural correctness is
	// required, seed completeness is not.
	critical bool
	applied  appliedCheck
}

// migration is one ordered block of operations for a single version bump.
type migration struct {
	version int
	ops     []operation
}

// Migrator applies pending migrations against a database.
type Migrator struct {
	db        migrationExecer
	inspector SchemaInspector
	logger    *logrus.Logger
	steps     []migration
}

// NewMigrator builds a migrator over the standard migration set.
func NewMigrator(db migrationExecer, inspector SchemaInspector, logger *logrus.Logger) *Migrator {
	return &Migrator{db: db, inspector: inspector, logger: logger, steps: allMigrations}
}

func newMigratorWithSteps(db migrationExecer, inspector SchemaInspector, logger *logrus.Logger, steps []migration) *Migrator {
	return &Migrator{db: db, inspector: inspector, logger: logger, steps: steps}
}

// isDuplicateObjectErr reports whether err is a Postgres duplicate-object
// signal, meaning the structural change already exists. Used as a fallback
// when no metadata probe covers the operation.
func isDuplicateObjectErr(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "42701", // duplicate_column
		"42P07", // duplicate_table
		"42710", // duplicate_object
		"42723": // duplicate_function
		return true
	}
	return false
}

// isDuplicateRowErr reports a unique violation, which for seed operations
// means the row was already inserted by an earlier partial run.
func isDuplicateRowErr(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Run applies all pending migrations in strictly increasing version order,
// then writes the schema-version row once.
func (m *Migrator) Run(ctx context.Context) error {
	current, err := m.inspector.CurrentVersion(ctx)
	if err != nil {
		return apperrors.NewMigrationError("failed to read schema version", err)
	}

	steps := make([]migration, len(m.steps))
	copy(steps, m.steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })

	target := current
	for _, step := range steps {
		if step.version <= current {
			continue
		}
		if err := m.apply(ctx, step); err != nil {
			return err
		}
		target = step.version
	}

	if target == current {
		m.logger.WithField("version", current).Debug("Schema already up to date")
		return nil
	}

	if err := m.inspector.SetVersion(ctx, target); err != nil {
		return apperrors.NewMigrationError("failed to update schema version", err)
	}
	m.logger.WithFields(logrus.Fields{
		"from": current,
		"to":   target,
	}).Info("Schema migrated")
	return nil
}

func (m *Migrator) apply(ctx context.Context, step migration) error {
	logger := m.logger.WithField("migration", step.version)
	logger.Info("Applying migration")

	for _, op := range step.ops {
		if op.applied != nil {
			done, err := op.applied(ctx, m.inspector)
			if err != nil {
				return apperrors.NewMigrationError(
					fmt.Sprintf("migration %d: metadata probe failed for %q", step.version, op.desc), err)
			}
			if done {
				logger.WithField("op", op.desc).Debug("Operation already applied, skipping")
				continue
			}
		}

		if _, err := m.db.ExecContext(ctx, op.stmt); err != nil {
			if isDuplicateObjectErr(err) || (!op.critical && isDuplicateRowErr(err)) {
				logger.WithField("op", op.desc).Debug("Operation already applied, skipping")
				continue
			}
			if !op.critical {
				logger.WithError(err).WithField("op", op.desc).Warn("Non-critical operation failed, skipping")
				continue
			}
			return apperrors.NewMigrationError(
				fmt.Sprintf("migration %d: operation %q failed", step.version, op.desc), err)
		}
		logger.WithField("op", op.desc).Debug("Operation applied")
	}
	return nil
}

// Migrate brings the store's schema up to date.
func (s *PostgresStore) Migrate(ctx context.Context, logger *logrus.Logger) error {
	if err := s.ensureSchemaInfo(ctx); err != nil {
		return apperrors.NewMigrationError("failed to initialize schema_info", err)
	}
	return NewMigrator(s.db, s, logger).Run(ctx)
}

// ensureSchemaInfo bootstraps the single-row version table.
func (s *PostgresStore) ensureSchemaInfo(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_info (
			version INTEGER NOT NULL
		)`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schema_info (version)
		SELECT 0 WHERE NOT EXISTS (SELECT 1 FROM schema_info)`)
	return err
}

// TableExists implements SchemaInspector.
func (s *PostgresStore) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table).Scan(&exists)
	return exists, err
}

// ColumnExists implements SchemaInspector.
func (s *PostgresStore) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, table, column).Scan(&exists)
	return exists, err
}

// IndexExists implements SchemaInspector.
func (s *PostgresStore) IndexExists(ctx context.Context, index string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = current_schema() AND indexname = $1
		)`, index).Scan(&exists)
	return exists, err
}

// CurrentVersion implements SchemaInspector.
func (s *PostgresStore) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_info LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return version, err
}

// SetVersion implements SchemaInspector. Single-row update, written once per
// migration run.
func (s *PostgresStore) SetVersion(ctx context.Context, version int) error {
	_, err := s.db.ExecContext(ctx, "UPDATE schema_info SET version = $1", version)
	return err
}
