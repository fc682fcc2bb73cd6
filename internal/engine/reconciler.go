package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/meridianhq/partner-sync/internal/errors"
	"github.com/meridianhq/partner-sync/internal/models"
)

// FailureRecorder persists per-record failures so a run can continue past
// them and an operator can review them later.
type FailureRecorder interface {
	RecordSyncFailure(ctx context.Context, failure *models.SyncFailure) error
}

// Reconciler applies fetched records to the local store one at a time,
// classifying each outcome into the run counters. A single bad record never
// aborts the batch.
type Reconciler struct {
	failures FailureRecorder
	logger   *logrus.Logger
	runID    string
	counters *models.RunCounters
	maxAge   time.Duration
	now      func() time.Time
}

// NewReconciler creates a reconciler bound to one sync run.
func NewReconciler(failures FailureRecorder, logger *logrus.Logger, run *models.SyncRun, maxAgeDays int) *Reconciler {
	return &Reconciler{
		failures: failures,
		logger:   logger,
		runID:    run.ID,
		counters: &run.RunCounters,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

// TooOld reports whether a record falls outside the configured age window.
// A zero window admits everything; a zero timestamp is never filtered, since
// records without a modification time cannot be aged out safely.
func (r *Reconciler) TooOld(updatedAt time.Time) bool {
	if r.maxAge <= 0 || updatedAt.IsZero() {
		return false
	}
	return updatedAt.Before(r.now().Add(-r.maxAge))
}

// Skip counts a record that was filtered before reaching the store.
func (r *Reconciler) Skip() {
	r.counters.Processed++
	r.counters.Skipped++
}

// Apply runs one upsert and folds its outcome into the counters. Referential
// failures (the parent row has not been mirrored yet) are counted separately
// from other failures: they resolve themselves on the next pass once the
// parent entity has been synced, so they are recorded but not alarming.
func (r *Reconciler) Apply(ctx context.Context, entity models.EntityType, externalID string, upsert func(ctx context.Context) (bool, error)) {
	r.counters.Processed++
	created, err := upsert(ctx)
	if err == nil {
		if created {
			r.counters.Created++
		} else {
			r.counters.Updated++
		}
		return
	}

	reason := err.Error()
	if apperrors.IsReferential(err) {
		r.counters.FKErrors++
		r.counters.Skipped++
		r.logger.WithFields(logrus.Fields{
			"entity_type": entity,
			"external_id": externalID,
		}).Debug("Skipping record with unresolved reference")
	} else {
		r.counters.Failed++
		r.logger.WithFields(logrus.Fields{
			"entity_type": entity,
			"external_id": externalID,
			"error":       reason,
		}).Warn("Failed to persist record")
	}

	r.record(ctx, entity, externalID, reason)
}

// Fail records a record-level failure that happened outside the store, such
// as a per-record API call that could not be completed.
func (r *Reconciler) Fail(ctx context.Context, entity models.EntityType, externalID string, err error, httpStatus int) {
	r.counters.Processed++
	r.counters.Failed++
	r.logger.WithFields(logrus.Fields{
		"entity_type": entity,
		"external_id": externalID,
		"error":       err.Error(),
	}).Warn("Failed to sync record")

	failure := &models.SyncFailure{
		RunID:      r.runID,
		EntityType: entity,
		ExternalID: externalID,
		Reason:     err.Error(),
		HTTPStatus: httpStatus,
	}
	if recErr := r.failures.RecordSyncFailure(ctx, failure); recErr != nil {
		r.logger.WithField("error", recErr.Error()).Error("Failed to record sync failure")
	}
}

func (r *Reconciler) record(ctx context.Context, entity models.EntityType, externalID, reason string) {
	failure := &models.SyncFailure{
		RunID:      r.runID,
		EntityType: entity,
		ExternalID: externalID,
		Reason:     reason,
	}
	if err := r.failures.RecordSyncFailure(ctx, failure); err != nil {
		r.logger.WithField("error", err.Error()).Error("Failed to record sync failure")
	}
}
