package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianhq/partner-sync/internal/models"
)

// CursorStore is the slice of the database the tracker needs.
type CursorStore interface {
	GetSyncCursor(ctx context.Context, entity models.EntityType) (*models.SyncCursor, error)
	AdvanceSyncCursor(ctx context.Context, entity models.EntityType, watermark time.Time) error
	MarkFullSync(ctx context.Context, entity models.EntityType, at time.Time) error
}

// CursorTracker decides between full and incremental passes and owns
// watermark advancement. A watermark is advanced only after the
// corresponding batch has been durably committed, never optimistically.
type CursorTracker struct {
	store CursorStore
	// fullSyncCadence forces a full pass on this interval even when
	// incremental mode is enabled, so deletion detection can see drift that
	// incremental diffs cannot.
	fullSyncCadence time.Duration
	now             func() time.Time
}

// NewCursorTracker creates a tracker with the given full-sync cadence.
func NewCursorTracker(store CursorStore, fullSyncCadence time.Duration) *CursorTracker {
	return &CursorTracker{
		store:           store,
		fullSyncCadence: fullSyncCadence,
		now:             time.Now,
	}
}

// ShouldFullSync reports whether the next pass for an entity type must be a
// full one: no cursor yet, no full sync recorded, or the cadence has lapsed.
func (t *CursorTracker) ShouldFullSync(ctx context.Context, entity models.EntityType) (bool, error) {
	cursor, err := t.store.GetSyncCursor(ctx, entity)
	if err != nil {
		return false, fmt.Errorf("failed to check full-sync cadence: %w", err)
	}
	if cursor == nil || cursor.LastFullSyncAt.IsZero() {
		return true, nil
	}
	return t.now().Sub(cursor.LastFullSyncAt) >= t.fullSyncCadence, nil
}

// Since returns the incremental watermark for an entity type, or nil when no
// watermark exists and the fetch must be unbounded.
func (t *CursorTracker) Since(ctx context.Context, entity models.EntityType) (*time.Time, error) {
	cursor, err := t.store.GetSyncCursor(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync cursor: %w", err)
	}
	if cursor == nil || cursor.LastSyncedAt.IsZero() {
		return nil, nil
	}
	since := cursor.LastSyncedAt
	return &since, nil
}

// Advance moves the watermark to the given timestamp. The timestamp must be
// the external system's clock (the max updated_at observed in the committed
// batch), not local wall-clock, to avoid skipping records updated between
// request and response. A zero watermark is a no-op: an empty batch proves
// nothing.
func (t *CursorTracker) Advance(ctx context.Context, entity models.EntityType, watermark time.Time) error {
	if watermark.IsZero() {
		return nil
	}
	return t.store.AdvanceSyncCursor(ctx, entity, watermark)
}

// MarkFullSync records a completed full pass for cadence accounting.
func (t *CursorTracker) MarkFullSync(ctx context.Context, entity models.EntityType) error {
	return t.store.MarkFullSync(ctx, entity, t.now())
}
