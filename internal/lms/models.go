package lms

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the wire shape of one LMS collection item: an id plus a bag of
// entity-specific attributes.
type envelope struct {
	ID         json.Number     `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

type collection struct {
	Data []envelope `json:"data"`
}

// User is a decoded LMS user record.
type User struct {
	ExternalID string
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Title      string    `json:"title"`
	Language   string    `json:"language"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"last_updated"`
}

// Group is a decoded LMS group record.
type Group struct {
	ExternalID  string
	Name        string    `json:"name"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"last_updated"`
}

// GroupMember is one user id inside a group's member collection.
type GroupMember struct {
	ExternalID string
	AddedAt    time.Time `json:"added_at"`
}

// Course is a decoded LMS course record.
type Course struct {
	ExternalID string
	Name       string    `json:"name"`
	Code       string    `json:"code"`
	Category   string    `json:"category"`
	UpdatedAt  time.Time `json:"last_updated"`
}

// Transcript is one entry of a user's transcript sub-resource.
type Transcript struct {
	UserExternalID   string
	CourseExternalID string     `json:"course_id"`
	Status           string     `json:"status"`
	Score            float64    `json:"score"`
	EnrolledAt       *time.Time `json:"enrolled_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	CertificateURL   string     `json:"certificate_url"`
	UpdatedAt        time.Time  `json:"last_updated"`
}

func decodeEnvelope(env envelope, out interface{}) error {
	if err := json.Unmarshal(env.Attributes, out); err != nil {
		return fmt.Errorf("failed to decode attributes for id %s: %w", env.ID.String(), err)
	}
	return nil
}
