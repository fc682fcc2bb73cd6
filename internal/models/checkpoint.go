package models

import "time"

// Checkpoint is the resumable progress record for one batch task. It is read
// once at batch start and written once at batch end, and reset to the zero
// value when the full entity set has been traversed.
type Checkpoint struct {
	TaskName      string    `json:"task_name"`
	NextOffset    int       `json:"next_offset"`
	RecordsSynced int       `json:"records_synced"`
	FKErrors      int       `json:"fk_errors"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsZero reports whether the checkpoint carries no resumable progress.
func (c Checkpoint) IsZero() bool {
	return c.NextOffset == 0 && c.RecordsSynced == 0 && c.FKErrors == 0
}

// SyncCursor is the per-entity-type incremental watermark. LastSyncedAt uses
// the external system's clock (the max updated_at observed in a committed
// batch), never local wall-clock.
type SyncCursor struct {
	EntityType     EntityType `json:"entity_type"`
	LastSyncedAt   time.Time  `json:"last_synced_at"`
	LastFullSyncAt time.Time  `json:"last_full_sync_at"`
}
