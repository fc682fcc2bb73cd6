package config

import "time"

// SyncConfig holds synchronization configuration
type SyncConfig struct {
	// TickInterval is how often the orchestrator checks interval tasks
	// for due work.
	TickInterval time.Duration
	// FullSyncCadence forces a full pass (enabling deletion detection) even
	// when incremental mode is configured.
	FullSyncCadence time.Duration
	PageSize        int
	RunTimeout      time.Duration
}

// DefaultSyncConfig returns the default sync configuration
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		TickInterval:    time.Minute,
		FullSyncCadence: 24 * time.Hour,
		PageSize:        100,
		RunTimeout:      30 * time.Minute,
	}
}
