package models

import "time"

// User mirrors an LMS user record.
type User struct {
	ID         int64     `json:"-"`
	ExternalID string    `json:"external_id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Title      string    `json:"title,omitempty"`
	Language   string    `json:"language,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	SyncedAt   time.Time `json:"synced_at"`
	Deactivation
}

// Group mirrors an LMS group (branch/team) record.
type Group struct {
	ID         int64     `json:"-"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Descr      string    `json:"description,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	SyncedAt   time.Time `json:"synced_at"`
	Deactivation
}

// MembershipSource discriminates how a group membership row originated.
type MembershipSource string

const (
	// MembershipSourceAPI marks a row confirmed present in the last external
	// fetch. Eligible for removal by full-sync deletion detection.
	MembershipSourceAPI MembershipSource = "api"
	// MembershipSourceLocal marks a row added outside of sync, awaiting
	// confirmation. Never dropped silently.
	MembershipSourceLocal MembershipSource = "local"
)

// GroupMembership is a many-to-many association between a group and a user,
// keyed by the pair of external IDs.
type GroupMembership struct {
	ID              int64            `json:"-"`
	GroupExternalID string           `json:"group_external_id"`
	UserExternalID  string           `json:"user_external_id"`
	PendingSource   MembershipSource `json:"pending_source"`
	SyncedAt        time.Time        `json:"synced_at"`
}
