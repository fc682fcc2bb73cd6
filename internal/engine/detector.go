package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/meridianhq/partner-sync/internal/models"
)

// DetectorStore is the slice of the database deletion detection needs.
type DetectorStore interface {
	DeactivateAbsent(ctx context.Context, entity models.EntityType, observed []string, reason string) (int64, error)
	DeleteAPIMembershipsAbsent(ctx context.Context, groupExternalID string, observedUsers []string) (int64, error)
}

// Detector reconciles records the external system no longer returns. It only
// ever deactivates, never deletes: local history stays queryable, and a record
// that reappears upstream is reactivated by its next upsert.
//
// It must only run after a COMPLETE full enumeration. Running it on a partial
// or incremental result set would deactivate everything the page window
// happened to miss.
type Detector struct {
	store  DetectorStore
	logger *logrus.Logger
}

// NewDetector creates a detector over the given store.
func NewDetector(store DetectorStore, logger *logrus.Logger) *Detector {
	return &Detector{store: store, logger: logger}
}

// DeactivateAbsent soft-deletes every active record of the entity type whose
// external ID was not observed in the full enumeration. Returns the number of
// records deactivated.
func (d *Detector) DeactivateAbsent(ctx context.Context, entity models.EntityType, observed []string) (int64, error) {
	n, err := d.store.DeactivateAbsent(ctx, entity, observed, models.DeactivationReasonNotInSource)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate absent %s records: %w", entity, err)
	}
	if n > 0 {
		d.logger.WithFields(logrus.Fields{
			"entity_type": entity,
			"deactivated": n,
			"observed":    len(observed),
		}).Info("Deactivated records no longer present in source")
	}
	return n, nil
}

// PruneMemberships removes API-sourced memberships of one group that the
// external roster no longer contains. Memberships created locally are left
// alone regardless of what the API reports: the external system does not know
// about them and their absence there means nothing.
func (d *Detector) PruneMemberships(ctx context.Context, groupExternalID string, observedUsers []string) (int64, error) {
	n, err := d.store.DeleteAPIMembershipsAbsent(ctx, groupExternalID, observedUsers)
	if err != nil {
		return 0, fmt.Errorf("failed to prune memberships for group %s: %w", groupExternalID, err)
	}
	if n > 0 {
		d.logger.WithFields(logrus.Fields{
			"group_external_id": groupExternalID,
			"removed":           n,
		}).Info("Removed memberships no longer present in source")
	}
	return n, nil
}
