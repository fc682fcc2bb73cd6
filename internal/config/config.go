package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port               string
	DBConnectionString string
	LMS                *LMSConfig
	CRM                *CRMConfig
	Sync               *SyncConfig
}

func Load() (*Config, error) {
	lms := DefaultLMSConfig()
	lms.Token = getEnv("LMS_API_TOKEN", "")
	lms.BaseURL = getEnv("LMS_API_URL", lms.BaseURL)

	crm := DefaultCRMConfig()
	crm.Token = getEnv("CRM_API_TOKEN", "")
	crm.BaseURL = getEnv("CRM_API_URL", crm.BaseURL)

	sync := DefaultSyncConfig()
	if v, err := strconv.Atoi(getEnv("SYNC_TICK_SECONDS", "")); err == nil && v > 0 {
		sync.TickInterval = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(getEnv("FULL_SYNC_HOURS", "")); err == nil && v > 0 {
		sync.FullSyncCadence = time.Duration(v) * time.Hour
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DBConnectionString: getEnv("DB_CONNECTION_STRING", ""),
		LMS:                lms,
		CRM:                crm,
		Sync:               sync,
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
