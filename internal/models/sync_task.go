package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskKind discriminates the configuration payload of a scheduled task.
type TaskKind string

const (
	TaskSyncUsers       TaskKind = "sync_users"
	TaskSyncGroups      TaskKind = "sync_groups"
	TaskSyncCourses     TaskKind = "sync_courses"
	TaskSyncEnrollments TaskKind = "sync_enrollments"
	TaskSyncAccounts    TaskKind = "sync_accounts"
	TaskSyncContacts    TaskKind = "sync_contacts"
	TaskSyncLeads       TaskKind = "sync_leads"
	// TaskSyncChain runs users, groups, courses and enrollments in dependency
	// order so foreign-key-dependent entities sync after their parents.
	TaskSyncChain TaskKind = "sync_chain"
)

// TaskConfig is the validated configuration payload of one scheduled task.
// Stored as JSON but decoded into a fixed shape, not a free-form map.
type TaskConfig struct {
	Mode SyncMode `json:"mode,omitempty"`
	// MaxAgeDays filters out source records older than this many days.
	// Zero means no filter.
	MaxAgeDays int `json:"max_age_days,omitempty"`
	// PageSize overrides the fetcher page size when positive.
	PageSize int `json:"page_size,omitempty"`
}

// Validate rejects malformed payloads before any external call is made.
func (c TaskConfig) Validate() error {
	switch c.Mode {
	case "", SyncModeFull, SyncModeIncremental:
	default:
		return fmt.Errorf("invalid sync mode %q", c.Mode)
	}
	if c.MaxAgeDays < 0 {
		return fmt.Errorf("max_age_days must be >= 0, got %d", c.MaxAgeDays)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("page_size must be >= 0, got %d", c.PageSize)
	}
	return nil
}

// SyncTask is one named scheduler row. A task runs either every
// IntervalMinutes, or at TimeOfDay on DayOfWeek when IntervalMinutes is zero.
type SyncTask struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Kind      TaskKind `json:"kind"`
	Enabled   bool     `json:"enabled"`
	// IntervalMinutes triggers the task on a fixed cadence when positive.
	IntervalMinutes int `json:"interval_minutes"`
	// DayOfWeek is 0 (Sunday) through 6 (Saturday); -1 means every day.
	DayOfWeek int `json:"day_of_week"`
	// TimeOfDay is "HH:MM" in the scheduler's timezone.
	TimeOfDay string `json:"time_of_day,omitempty"`
	Config    TaskConfig `json:"config"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CronSpec renders the day/time trigger as a cron expression, or "" when the
// task is interval-driven.
func (t *SyncTask) CronSpec() string {
	if t.IntervalMinutes > 0 || t.TimeOfDay == "" {
		return ""
	}
	var hh, mm int
	if _, err := fmt.Sscanf(t.TimeOfDay, "%d:%d", &hh, &mm); err != nil {
		return ""
	}
	dow := "*"
	if t.DayOfWeek >= 0 && t.DayOfWeek <= 6 {
		dow = fmt.Sprintf("%d", t.DayOfWeek)
	}
	return fmt.Sprintf("%d %d * * %s", mm, hh, dow)
}

// DecodeTaskConfig decodes and validates a stored config payload. A nil or
// empty payload yields the zero config.
func DecodeTaskConfig(raw []byte) (TaskConfig, error) {
	var cfg TaskConfig
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode task config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
