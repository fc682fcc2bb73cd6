package db

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/meridianhq/partner-sync/internal/errors"
)

type fakeExecer struct {
	executed []string
	// fail maps a statement to the error it should return
	fail map[string]error
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, _ ...interface{}) (sql.Result, error) {
	f.executed = append(f.executed, query)
	if err, ok := f.fail[query]; ok {
		return nil, err
	}
	return nil, nil
}

type fakeInspector struct {
	version    int
	setCalls   int
	tables     map[string]bool
	columns    map[string]bool
	indexes    map[string]bool
	versionErr error
}

func (f *fakeInspector) TableExists(_ context.Context, table string) (bool, error) {
	return f.tables[table], nil
}

func (f *fakeInspector) ColumnExists(_ context.Context, table, column string) (bool, error) {
	return f.columns[table+"."+column], nil
}

func (f *fakeInspector) IndexExists(_ context.Context, index string) (bool, error) {
	return f.indexes[index], nil
}

func (f *fakeInspector) CurrentVersion(context.Context) (int, error) {
	return f.version, f.versionErr
}

func (f *fakeInspector) SetVersion(_ context.Context, version int) error {
	f.version = version
	f.setCalls++
	return nil
}

func newTestMigrator(execer *fakeExecer, inspector *fakeInspector, steps []migration) *Migrator {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return newMigratorWithSteps(execer, inspector, logger, steps)
}

func TestMigrator_Run(t *testing.T) {
	ctx := context.Background()

	steps := []migration{
		{version: 2, ops: []operation{
			{desc: "create idx", stmt: "CREATE INDEX i1", critical: true, applied: indexExists("i1")},
		}},
		{version: 1, ops: []operation{
			{desc: "create t1", stmt: "CREATE TABLE t1", critical: true, applied: tableExists("t1")},
			{desc: "seed t1", stmt: "INSERT INTO t1", critical: false},
		}},
	}

	t.Run("applies pending migrations in version order", func(t *testing.T) {
		execer := &fakeExecer{}
		inspector := &fakeInspector{tables: map[string]bool{}, indexes: map[string]bool{}}

		err := newTestMigrator(execer, inspector, steps).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"CREATE TABLE t1", "INSERT INTO t1", "CREATE INDEX i1"}, execer.executed)
		assert.Equal(t, 2, inspector.version)
		assert.Equal(t, 1, inspector.setCalls, "version row written once per run")
	})

	t.Run("skips versions at or below the current one", func(t *testing.T) {
		execer := &fakeExecer{}
		inspector := &fakeInspector{version: 1, tables: map[string]bool{}, indexes: map[string]bool{}}

		err := newTestMigrator(execer, inspector, steps).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"CREATE INDEX i1"}, execer.executed)
		assert.Equal(t, 2, inspector.version)
	})

	t.Run("no-op when up to date", func(t *testing.T) {
		execer := &fakeExecer{}
		inspector := &fakeInspector{version: 2}

		err := newTestMigrator(execer, inspector, steps).Run(ctx)
		require.NoError(t, err)
		assert.Empty(t, execer.executed)
		assert.Equal(t, 0, inspector.setCalls)
	})

	t.Run("metadata probe skips already-applied operations", func(t *testing.T) {
		// Simulates replay after a crash between applying v1 and recording it.
		execer := &fakeExecer{}
		inspector := &fakeInspector{
			tables:  map[string]bool{"t1": true},
			indexes: map[string]bool{},
		}

		err := newTestMigrator(execer, inspector, steps).Run(ctx)
		require.NoError(t, err)
		assert.NotContains(t, execer.executed, "CREATE TABLE t1")
		assert.Contains(t, execer.executed, "CREATE INDEX i1")
		assert.Equal(t, 2, inspector.version)
	})

	t.Run("duplicate-object errors are treated as applied", func(t *testing.T) {
		execer := &fakeExecer{fail: map[string]error{
			"CREATE TABLE t1": &pq.Error{Code: "42P07"},
		}}
		inspector := &fakeInspector{tables: map[string]bool{}, indexes: map[string]bool{}}

		err := newTestMigrator(execer, inspector, steps).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, inspector.version)
	})

	t.Run("duplicate seed rows are tolerated", func(t *testing.T) {
		execer := &fakeExecer{fail: map[string]error{
			"INSERT INTO t1": &pq.Error{Code: "23505"},
		}}
		inspector := &fakeInspector{tables: map[string]bool{}, indexes: map[string]bool{}}

		err := newTestMigrator(execer, inspector, steps).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, inspector.version)
	})

	t.Run("non-critical failures are skipped", func(t *testing.T) {
		execer := &fakeExecer{fail: map[string]error{
			"INSERT INTO t1": fmt.Errorf("connection reset"),
		}}
		inspector := &fakeInspector{tables: map[string]bool{}, indexes: map[string]bool{}}

		err := newTestMigrator(execer, inspector, steps).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, inspector.version)
	})

	t.Run("critical failures abort without bumping the version", func(t *testing.T) {
		execer := &fakeExecer{fail: map[string]error{
			"CREATE TABLE t1": fmt.Errorf("out of disk"),
		}}
		inspector := &fakeInspector{tables: map[string]bool{}, indexes: map[string]bool{}}

		err := newTestMigrator(execer, inspector, steps).Run(ctx)
		require.Error(t, err)
		assert.True(t, apperrors.IsMigration(err))
		assert.Equal(t, 0, inspector.version)
		assert.Equal(t, 0, inspector.setCalls)
	})

	t.Run("replay after full apply is a no-op", func(t *testing.T) {
		execer := &fakeExecer{}
		inspector := &fakeInspector{tables: map[string]bool{}, indexes: map[string]bool{}}
		m := newTestMigrator(execer, inspector, steps)

		require.NoError(t, m.Run(ctx))
		applied := len(execer.executed)
		require.NoError(t, m.Run(ctx))
		assert.Equal(t, applied, len(execer.executed))
	})
}

func TestAllMigrations_Shape(t *testing.T) {
	seen := map[int]bool{}
	for _, step := range allMigrations {
		assert.False(t, seen[step.version], "duplicate migration version %d", step.version)
		seen[step.version] = true
		assert.NotEmpty(t, step.ops)
		for _, op := range step.ops {
			assert.NotEmpty(t, op.desc)
			assert.NotEmpty(t, op.stmt)
		}
	}
}
