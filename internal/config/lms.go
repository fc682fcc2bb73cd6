package config

import "time"

// LMSConfig holds LMS API configuration
type LMSConfig struct {
	Token     string
	BaseURL   string
	RateLimit RateLimitConfig
}

// CRMConfig holds CRM API configuration
type CRMConfig struct {
	Token     string
	BaseURL   string
	RateLimit RateLimitConfig
}

// RateLimitConfig holds rate limit configuration
type RateLimitConfig struct {
	MaxRetries     int
	RetryBackoff   time.Duration
	// RecordDelay is the deliberate throttle between individual record
	// fetches, not an artifact of I/O latency.
	RecordDelay time.Duration
}

// DefaultLMSConfig returns the default LMS configuration
func DefaultLMSConfig() *LMSConfig {
	return &LMSConfig{
		BaseURL: "https://lms.example.com/api/v1",
		RateLimit: RateLimitConfig{
			MaxRetries:   1,
			RetryBackoff: 5 * time.Second,
			RecordDelay:  50 * time.Millisecond,
		},
	}
}

// DefaultCRMConfig returns the default CRM configuration
func DefaultCRMConfig() *CRMConfig {
	return &CRMConfig{
		BaseURL: "https://crm.example.com/api/v2",
		RateLimit: RateLimitConfig{
			MaxRetries:   1,
			RetryBackoff: 5 * time.Second,
			RecordDelay:  50 * time.Millisecond,
		},
	}
}
