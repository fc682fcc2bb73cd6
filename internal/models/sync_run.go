package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncMode selects between a full pass (enables deletion detection) and an
// incremental pass bounded by the stored watermark.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// RunStatus is the terminal (or in-flight) status of one sync run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunCounters accumulates per-run reconciliation totals.
type RunCounters struct {
	Processed    int `json:"processed"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Deactivated  int `json:"deactivated"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	FKErrors     int `json:"fk_errors"`
	// PagesFailed counts page fetches that were absorbed as empty pages. A
	// nonzero value means the observed set may be incomplete, so deletion
	// detection is skipped for that pass.
	PagesFailed  int `json:"pages_failed"`
	APICallsMade int `json:"api_calls_made"`
	// APICallsSaved counts requests the incremental watermark made
	// unnecessary, for cache-effectiveness dashboards.
	APICallsSaved int `json:"api_calls_saved"`
}

// Add merges another counter set into this one.
func (c *RunCounters) Add(other RunCounters) {
	c.Processed += other.Processed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Deactivated += other.Deactivated
	c.Skipped += other.Skipped
	c.Failed += other.Failed
	c.FKErrors += other.FKErrors
	c.PagesFailed += other.PagesFailed
	c.APICallsMade += other.APICallsMade
	c.APICallsSaved += other.APICallsSaved
}

// SyncRun is one row in the run ledger. Immutable once closed.
type SyncRun struct {
	ID         string     `json:"id"`
	TaskName   string     `json:"task_name"`
	Mode       SyncMode   `json:"mode"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	RunCounters
}

// String returns the JSON representation of the run, used in logs.
func (r *SyncRun) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal sync run: %v"}`, err)
	}
	return string(data)
}

// SyncFailure records a single problem record, kept separate from the coarse
// run ledger so it can be triaged and resolved without re-running the batch.
type SyncFailure struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"run_id"`
	EntityType EntityType `json:"entity_type"`
	ExternalID string     `json:"external_id"`
	Reason     string     `json:"reason"`
	HTTPStatus int        `json:"http_status,omitempty"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
}
