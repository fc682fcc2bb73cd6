package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/partner-sync/internal/models"
)

func TestCursorTracker_ShouldFullSync(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	newTracker := func(store *fakeStore) *CursorTracker {
		tr := NewCursorTracker(store, 24*time.Hour)
		tr.now = func() time.Time { return now }
		return tr
	}

	t.Run("no cursor means full", func(t *testing.T) {
		full, err := newTracker(newFakeStore()).ShouldFullSync(ctx, models.EntityUser)
		require.NoError(t, err)
		assert.True(t, full)
	})

	t.Run("no recorded full pass means full", func(t *testing.T) {
		store := newFakeStore()
		store.cursors[models.EntityUser] = &models.SyncCursor{
			EntityType:   models.EntityUser,
			LastSyncedAt: now.Add(-time.Hour),
		}
		full, err := newTracker(store).ShouldFullSync(ctx, models.EntityUser)
		require.NoError(t, err)
		assert.True(t, full)
	})

	t.Run("within cadence stays incremental", func(t *testing.T) {
		store := newFakeStore()
		store.cursors[models.EntityUser] = &models.SyncCursor{
			EntityType:     models.EntityUser,
			LastFullSyncAt: now.Add(-23 * time.Hour),
		}
		full, err := newTracker(store).ShouldFullSync(ctx, models.EntityUser)
		require.NoError(t, err)
		assert.False(t, full)
	})

	t.Run("lapsed cadence forces full", func(t *testing.T) {
		store := newFakeStore()
		store.cursors[models.EntityUser] = &models.SyncCursor{
			EntityType:     models.EntityUser,
			LastFullSyncAt: now.Add(-25 * time.Hour),
		}
		full, err := newTracker(store).ShouldFullSync(ctx, models.EntityUser)
		require.NoError(t, err)
		assert.True(t, full)
	})
}

func TestCursorTracker_Advance(t *testing.T) {
	ctx := context.Background()

	t.Run("zero watermark is a no-op", func(t *testing.T) {
		store := newFakeStore()
		tr := NewCursorTracker(store, 24*time.Hour)
		require.NoError(t, tr.Advance(ctx, models.EntityUser, time.Time{}))
		assert.Empty(t, store.cursors)
	})

	t.Run("watermark never moves backwards", func(t *testing.T) {
		store := newFakeStore()
		tr := NewCursorTracker(store, 24*time.Hour)

		later := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
		earlier := later.Add(-time.Hour)

		require.NoError(t, tr.Advance(ctx, models.EntityUser, later))
		require.NoError(t, tr.Advance(ctx, models.EntityUser, earlier))
		assert.Equal(t, later, store.cursors[models.EntityUser].LastSyncedAt)
	})
}
