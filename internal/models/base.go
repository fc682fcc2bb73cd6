package models

import "time"

// BaseModel contains common fields for all database models
type BaseModel struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deactivation contains the soft-delete fields shared by mirrored entities.
// A record is never physically removed by a sync; it is marked inactive with
// a reason tag and a timestamp.
type Deactivation struct {
	IsActive           bool       `json:"is_active"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`
}

// DeactivationReasonNotInSource marks records deactivated because a full sync
// did not observe them in the external system.
const DeactivationReasonNotInSource = "not_in_source"

// EntityType identifies one mirrored external entity type.
type EntityType string

const (
	EntityUser       EntityType = "user"
	EntityGroup      EntityType = "group"
	EntityMembership EntityType = "membership"
	EntityCourse     EntityType = "course"
	EntityEnrollment EntityType = "enrollment"
	EntityAccount    EntityType = "account"
	EntityContact    EntityType = "contact"
	EntityLead       EntityType = "lead"
)
