package models

import "time"

// Course mirrors an LMS course record.
type Course struct {
	ID         int64     `json:"-"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Code       string    `json:"code,omitempty"`
	Category   string    `json:"category,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	SyncedAt   time.Time `json:"synced_at"`
	Deactivation
}

// Enrollment mirrors one user's transcript entry for a course. Cascade
// deleted when the parent user or course row is removed.
type Enrollment struct {
	ID               int64      `json:"-"`
	UserExternalID   string     `json:"user_external_id"`
	CourseExternalID string     `json:"course_external_id"`
	Status           string     `json:"status"`
	Score            float64    `json:"score"`
	EnrolledAt       *time.Time `json:"enrolled_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CertificateURL   string     `json:"certificate_url,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
	SyncedAt         time.Time  `json:"synced_at"`
}
