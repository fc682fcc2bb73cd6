package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/meridianhq/partner-sync/internal/config"
	apperrors "github.com/meridianhq/partner-sync/internal/errors"
	"github.com/meridianhq/partner-sync/internal/models"
)

// Runner executes a single sync task. Satisfied by the engine.
type Runner interface {
	RunTask(ctx context.Context, task *models.SyncTask) (*models.SyncRun, error)
}

// TaskSource reads task definitions. Satisfied by the database store.
type TaskSource interface {
	ListSyncTasks(ctx context.Context) ([]*models.SyncTask, error)
	GetSyncTaskByName(ctx context.Context, name string) (*models.SyncTask, error)
}

// Orchestrator drives the sync schedule. Interval tasks are checked on a
// fixed tick against their last run time; day/time tasks are registered as
// cron entries. Task definitions live in the database, so an edit through the
// admin API takes effect on the next Reload (for cron entries) or the next
// tick (for interval tasks) without a restart.
type Orchestrator struct {
	tasks  TaskSource
	runner Runner
	logger *logrus.Logger
	tick   time.Duration

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an orchestrator. Call Start to begin scheduling.
func New(tasks TaskSource, runner Runner, cfg *config.SyncConfig, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		tasks:   tasks,
		runner:  runner,
		logger:  logger,
		tick:    cfg.TickInterval,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		stop:    make(chan struct{}),
	}
}

// Start registers cron entries and launches the interval tick loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.Reload(ctx); err != nil {
		return err
	}
	o.cron.Start()

	o.wg.Add(1)
	go o.tickLoop(ctx)

	o.logger.WithField("tick", o.tick.String()).Info("Sync orchestrator started")
	return nil
}

// Stop halts scheduling and waits for the tick loop to exit. Runs already in
// flight are not interrupted; they finish under their own run timeout.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stop)
	})
	<-o.cron.Stop().Done()
	o.wg.Wait()
	o.logger.Info("Sync orchestrator stopped")
}

// Reload rebuilds the cron entries from the current task table. Interval
// tasks need no registration; the tick loop reads them fresh every tick.
func (o *Orchestrator) Reload(ctx context.Context) error {
	tasks, err := o.tasks.ListSyncTasks(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for name, id := range o.entries {
		o.cron.Remove(id)
		delete(o.entries, name)
	}

	for _, task := range tasks {
		spec := task.CronSpec()
		if !task.Enabled || spec == "" {
			continue
		}
		name := task.Name
		id, err := o.cron.AddFunc(spec, func() { o.fire(name) })
		if err != nil {
			o.logger.WithFields(logrus.Fields{
				"task":  name,
				"spec":  spec,
				"error": err.Error(),
			}).Error("Failed to register scheduled task")
			continue
		}
		o.entries[name] = id
		o.logger.WithFields(logrus.Fields{
			"task": name,
			"spec": spec,
		}).Info("Registered scheduled task")
	}
	return nil
}

func (o *Orchestrator) tickLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runDue(ctx)
		}
	}
}

// runDue starts every interval task whose cadence has lapsed. Tasks run
// concurrently with each other; the engine's per-task lock prevents the same
// task from overlapping itself.
func (o *Orchestrator) runDue(ctx context.Context) {
	tasks, err := o.tasks.ListSyncTasks(ctx)
	if err != nil {
		o.logger.WithField("error", err.Error()).Error("Failed to list sync tasks")
		return
	}

	now := time.Now()
	for _, task := range tasks {
		if !task.Enabled || task.IntervalMinutes <= 0 {
			continue
		}
		interval := time.Duration(task.IntervalMinutes) * time.Minute
		if task.LastRunAt != nil && now.Sub(*task.LastRunAt) < interval {
			continue
		}
		task := task
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.execute(ctx, task)
		}()
	}
}

// fire runs a cron-triggered task. The task is re-read at fire time so edits
// made since registration are honored.
func (o *Orchestrator) fire(name string) {
	ctx := context.Background()
	task, err := o.tasks.GetSyncTaskByName(ctx, name)
	if err != nil {
		o.logger.WithFields(logrus.Fields{
			"task":  name,
			"error": err.Error(),
		}).Error("Failed to load scheduled task")
		return
	}
	if !task.Enabled {
		return
	}
	o.execute(ctx, task)
}

func (o *Orchestrator) execute(ctx context.Context, task *models.SyncTask) {
	run, err := o.runner.RunTask(ctx, task)
	if err != nil {
		if apperrors.IsSyncInProgress(err) {
			o.logger.WithField("task", task.Name).Debug("Task already running, skipping")
			return
		}
		fields := logrus.Fields{"task": task.Name, "error": err.Error()}
		if run != nil {
			fields["run_id"] = run.ID
		}
		o.logger.WithFields(fields).Error("Sync task failed")
	}
}
