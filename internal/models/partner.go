package models

import "time"

// Account mirrors a CRM account (partner company). ParentExternalID links a
// child account to its parent in the partner-family hierarchy. The owner link
// is soft: it is set NULL when the owning user is removed.
type Account struct {
	ID               int64     `json:"-"`
	ExternalID       string    `json:"external_id"`
	Name             string    `json:"name"`
	ParentExternalID string    `json:"parent_external_id,omitempty"`
	OwnerExternalID  string    `json:"owner_external_id,omitempty"`
	Tier             string    `json:"tier,omitempty"`
	Country          string    `json:"country,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
	SyncedAt         time.Time `json:"synced_at"`
	Deactivation
}

// Contact mirrors a CRM contact attached to an account.
type Contact struct {
	ID                int64     `json:"-"`
	ExternalID        string    `json:"external_id"`
	AccountExternalID string    `json:"account_external_id,omitempty"`
	Email             string    `json:"email"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Phone             string    `json:"phone,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
	SyncedAt          time.Time `json:"synced_at"`
}

// Lead mirrors a CRM lead record.
type Lead struct {
	ID         int64     `json:"-"`
	ExternalID string    `json:"external_id"`
	Email      string    `json:"email"`
	Company    string    `json:"company,omitempty"`
	Status     string    `json:"status,omitempty"`
	Source     string    `json:"source,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	SyncedAt   time.Time `json:"synced_at"`
	Deactivation
}
