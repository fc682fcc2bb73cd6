package engine

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/meridianhq/partner-sync/internal/models"
)

// CheckpointStore persists mid-run progress for long batch tasks.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, taskName string) (*models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	ResetCheckpoint(ctx context.Context, taskName string) error
}

// checkpointer wraps the store with the load/save/reset discipline a
// resumable batch needs: load once at the start, save whenever progress is
// worth keeping, reset only after the whole batch completed. Checkpoint
// write failures are logged and swallowed; losing a checkpoint costs
// re-processing, which the idempotent upserts make safe.
type checkpointer struct {
	store    CheckpointStore
	logger   *logrus.Logger
	taskName string
}

func newCheckpointer(store CheckpointStore, logger *logrus.Logger, taskName string) *checkpointer {
	return &checkpointer{store: store, logger: logger, taskName: taskName}
}

// resume returns the saved checkpoint, or a zero checkpoint when none exists
// or the load fails. A failed load degrades to starting over, not to aborting.
func (c *checkpointer) resume(ctx context.Context) *models.Checkpoint {
	cp, err := c.store.GetCheckpoint(ctx, c.taskName)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"task":  c.taskName,
			"error": err.Error(),
		}).Warn("Failed to load checkpoint, starting from the beginning")
		return &models.Checkpoint{TaskName: c.taskName}
	}
	if !cp.IsZero() {
		c.logger.WithFields(logrus.Fields{
			"task":        c.taskName,
			"next_offset": cp.NextOffset,
		}).Info("Resuming from checkpoint")
	}
	return cp
}

func (c *checkpointer) save(ctx context.Context, cp *models.Checkpoint) {
	cp.TaskName = c.taskName
	if err := c.store.SaveCheckpoint(ctx, cp); err != nil {
		c.logger.WithFields(logrus.Fields{
			"task":  c.taskName,
			"error": err.Error(),
		}).Warn("Failed to save checkpoint")
	}
}

func (c *checkpointer) clear(ctx context.Context) {
	if err := c.store.ResetCheckpoint(ctx, c.taskName); err != nil {
		c.logger.WithFields(logrus.Fields{
			"task":  c.taskName,
			"error": err.Error(),
		}).Warn("Failed to reset checkpoint")
	}
}
