package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/meridianhq/partner-sync/internal/config"
	"github.com/meridianhq/partner-sync/internal/crm"
	"github.com/meridianhq/partner-sync/internal/db"
	apperrors "github.com/meridianhq/partner-sync/internal/errors"
	"github.com/meridianhq/partner-sync/internal/lms"
	"github.com/meridianhq/partner-sync/internal/models"
)

// LMSFetcher is the slice of the LMS client the engine consumes.
type LMSFetcher interface {
	FetchUsers(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn lms.PageFunc[lms.User]) error
	FetchGroups(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn lms.PageFunc[lms.Group]) error
	FetchGroupMembers(ctx context.Context, groupID string, pageSize int, stats *models.RunCounters, fn lms.PageFunc[lms.GroupMember]) error
	FetchCourses(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn lms.PageFunc[lms.Course]) error
	GetUserTranscripts(ctx context.Context, userID string, stats *models.RunCounters) ([]lms.Transcript, error)
	RecordDelay() time.Duration
}

// CRMFetcher is the slice of the CRM client the engine consumes.
type CRMFetcher interface {
	FetchAccounts(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn func([]crm.Account) error) error
	FetchContacts(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn func([]crm.Contact) error) error
	FetchLeads(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn func([]crm.Lead) error) error
}

// Engine executes sync tasks end to end: fetch, reconcile, detect deletions,
// advance cursors and keep the run ledger. One engine instance is shared by
// the scheduler and the admin API.
type Engine struct {
	store    db.Store
	lms      LMSFetcher
	crm      CRMFetcher
	cursor   *CursorTracker
	detector *Detector
	cfg      *config.SyncConfig
	logger   *logrus.Logger
	sleep    func(time.Duration)
}

// New creates a sync engine over the given store and API clients.
func New(store db.Store, lmsClient LMSFetcher, crmClient CRMFetcher, cfg *config.SyncConfig, logger *logrus.Logger) *Engine {
	return &Engine{
		store:    store,
		lms:      lmsClient,
		crm:      crmClient,
		cursor:   NewCursorTracker(store, cfg.FullSyncCadence),
		detector: NewDetector(store, logger),
		cfg:      cfg,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// RunTask executes one sync task under single-flight protection and records
// the outcome in the run ledger. The returned run is always non-nil once the
// task was admitted; callers inspect it for counters regardless of error.
func (e *Engine) RunTask(ctx context.Context, task *models.SyncTask) (*models.SyncRun, error) {
	if !task.Enabled {
		return nil, apperrors.NewConfigError(fmt.Sprintf("task %s is disabled", task.Name), nil)
	}
	if err := task.Config.Validate(); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("task %s has invalid config", task.Name), err)
	}

	// The lock is keyed by kind, not name: two tasks of the same kind share
	// cursors and checkpoints, so they must never run concurrently even under
	// different names.
	release, err := e.store.AcquireTaskLock(ctx, string(task.Kind))
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := release(); relErr != nil {
			e.logger.WithFields(logrus.Fields{
				"task":  task.Name,
				"error": relErr.Error(),
			}).Warn("Failed to release task lock")
		}
	}()

	run := &models.SyncRun{
		ID:        uuid.NewString(),
		TaskName:  task.Name,
		Mode:      task.Config.Mode,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if run.Mode == "" {
		run.Mode = models.SyncModeIncremental
	}
	if err := e.store.CreateSyncRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to open sync run: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"task":   task.Name,
		"run_id": run.ID,
		"mode":   run.Mode,
	}).Info("Starting sync run")

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	runErr := e.dispatch(runCtx, run, task)

	finished := time.Now()
	run.FinishedAt = &finished
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.LastError = runErr.Error()
	} else {
		run.Status = models.RunStatusCompleted
	}
	if err := e.store.CompleteSyncRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger.WithFields(logrus.Fields{
			"run_id": run.ID,
			"error":  err.Error(),
		}).Error("Failed to close sync run")
	}
	if err := e.store.MarkTaskRun(context.WithoutCancel(ctx), task.Name, finished); err != nil {
		e.logger.WithFields(logrus.Fields{
			"task":  task.Name,
			"error": err.Error(),
		}).Warn("Failed to record task run time")
	}

	e.logger.WithFields(logrus.Fields{
		"task":     task.Name,
		"run_id":   run.ID,
		"status":   run.Status,
		"duration": finished.Sub(run.StartedAt).String(),
		"summary":  run.String(),
	}).Info("Sync run finished")

	return run, runErr
}

func (e *Engine) dispatch(ctx context.Context, run *models.SyncRun, task *models.SyncTask) error {
	rec := NewReconciler(e.store, e.logger, run, task.Config.MaxAgeDays)

	switch task.Kind {
	case models.TaskSyncUsers:
		return e.syncUsers(ctx, run, rec, task.Config)
	case models.TaskSyncGroups:
		return e.syncGroups(ctx, run, rec, task.Config)
	case models.TaskSyncCourses:
		return e.syncCourses(ctx, run, rec, task.Config)
	case models.TaskSyncEnrollments:
		return e.syncEnrollments(ctx, run, rec, task.Config)
	case models.TaskSyncAccounts:
		return e.syncAccounts(ctx, run, rec, task.Config)
	case models.TaskSyncContacts:
		return e.syncContacts(ctx, run, rec, task.Config)
	case models.TaskSyncLeads:
		return e.syncLeads(ctx, run, rec, task.Config)
	case models.TaskSyncChain:
		return e.syncChain(ctx, run, rec, task.Config)
	default:
		return apperrors.NewConfigError(fmt.Sprintf("unknown task kind %q", task.Kind), nil)
	}
}

// syncChain runs the LMS entity syncs in dependency order so that parent rows
// exist before their dependents arrive. A hard failure in one step aborts the
// chain; per-record failures inside a step never do.
//
// Each step takes the lock of the standalone task of the same kind before
// running, so a chain can never share a cursor or checkpoint row with a
// concurrent standalone run. A step whose lock is held is skipped, like the
// scheduler skips an in-progress task.
func (e *Engine) syncChain(ctx context.Context, run *models.SyncRun, rec *Reconciler, cfg models.TaskConfig) error {
	steps := []struct {
		kind models.TaskKind
		fn   func(context.Context, *models.SyncRun, *Reconciler, models.TaskConfig) error
	}{
		{models.TaskSyncUsers, e.syncUsers},
		{models.TaskSyncGroups, e.syncGroups},
		{models.TaskSyncCourses, e.syncCourses},
		{models.TaskSyncEnrollments, e.syncEnrollments},
	}
	for _, step := range steps {
		if err := e.runChainStep(ctx, run, rec, cfg, step.kind, step.fn); err != nil {
			return fmt.Errorf("chain step %s failed: %w", step.kind, err)
		}
	}
	return nil
}

func (e *Engine) runChainStep(
	ctx context.Context,
	run *models.SyncRun,
	rec *Reconciler,
	cfg models.TaskConfig,
	kind models.TaskKind,
	fn func(context.Context, *models.SyncRun, *Reconciler, models.TaskConfig) error,
) error {
	release, err := e.store.AcquireTaskLock(ctx, string(kind))
	if err != nil {
		if apperrors.IsSyncInProgress(err) {
			e.logger.WithFields(logrus.Fields{
				"run_id": run.ID,
				"step":   kind,
			}).Warn("Skipping chain step, a standalone run of the same kind is active")
			return nil
		}
		return err
	}
	defer func() {
		if relErr := release(); relErr != nil {
			e.logger.WithFields(logrus.Fields{
				"step":  kind,
				"error": relErr.Error(),
			}).Warn("Failed to release chain step lock")
		}
	}()
	return fn(ctx, run, rec, cfg)
}

// resolveMode lifts a configured incremental pass to a full one when the
// full-sync cadence for the entity type has lapsed.
func (e *Engine) resolveMode(ctx context.Context, entity models.EntityType, cfg models.TaskConfig) (models.SyncMode, error) {
	if cfg.Mode == models.SyncModeFull {
		return models.SyncModeFull, nil
	}
	full, err := e.cursor.ShouldFullSync(ctx, entity)
	if err != nil {
		return "", err
	}
	if full {
		return models.SyncModeFull, nil
	}
	return models.SyncModeIncremental, nil
}

func (e *Engine) pageSize(cfg models.TaskConfig) int {
	if cfg.PageSize > 0 {
		return cfg.PageSize
	}
	return e.cfg.PageSize
}

// syncMirrored drives one paginated entity collection through the reconciler:
// resolve the watermark, stream pages, upsert records, then run deletion
// detection on a full pass and advance the cursor. The watermark is the max
// source-side timestamp observed, never local time.
func syncMirrored[T any](
	ctx context.Context,
	e *Engine,
	run *models.SyncRun,
	rec *Reconciler,
	entity models.EntityType,
	mode models.SyncMode,
	detectAbsent bool,
	fetch func(since *time.Time, fn func([]T) error) error,
	meta func(T) (externalID string, updatedAt time.Time),
	upsert func(context.Context, T) (bool, error),
) error {
	// The ledger records the mode the run actually performed, not the one it
	// was configured with, so a cadence-lifted pass shows up as full.
	if mode == models.SyncModeFull {
		run.Mode = models.SyncModeFull
	}

	var since *time.Time
	if mode == models.SyncModeIncremental {
		s, err := e.cursor.Since(ctx, entity)
		if err != nil {
			return err
		}
		since = s
	}

	pagesFailedBefore := run.PagesFailed
	var watermark time.Time
	var observed []string
	err := fetch(since, func(page []T) error {
		for _, record := range page {
			record := record
			id, updatedAt := meta(record)
			observed = append(observed, id)
			if updatedAt.After(watermark) {
				watermark = updatedAt
			}
			if rec.TooOld(updatedAt) {
				rec.Skip()
				continue
			}
			rec.Apply(ctx, entity, id, func(ctx context.Context) (bool, error) {
				return upsert(ctx, record)
			})
		}
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("failed to fetch %s records: %w", entity, err)
	}

	if mode == models.SyncModeFull {
		// An absorbed page failure means the observed set is incomplete.
		// Deactivating against it would soft-delete rows that are still live
		// upstream, so the pass keeps its upserts but skips detection, and the
		// cadence is left lapsed so the next run retries a full pass.
		if run.PagesFailed > pagesFailedBefore {
			e.logger.WithFields(logrus.Fields{
				"entity_type":  entity,
				"pages_failed": run.PagesFailed - pagesFailedBefore,
			}).Warn("Fetch sequence was truncated, skipping deletion detection")
		} else {
			if detectAbsent {
				n, err := e.detector.DeactivateAbsent(ctx, entity, observed)
				if err != nil {
					return err
				}
				run.Deactivated += int(n)
			}
			if err := e.cursor.MarkFullSync(ctx, entity); err != nil {
				e.logger.WithFields(logrus.Fields{
					"entity_type": entity,
					"error":       err.Error(),
				}).Warn("Failed to record full sync")
			}
		}
	}
	if err := e.cursor.Advance(ctx, entity, watermark); err != nil {
		return fmt.Errorf("failed to advance %s cursor: %w", entity, err)
	}
	return nil
}

// httpStatus extracts the upstream status code from a fetch error, if any.
func httpStatus(err error) int {
	var apiErr *lms.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var rlErr *lms.RateLimitError
	if errors.As(err, &rlErr) {
		return 429
	}
	return 0
}
