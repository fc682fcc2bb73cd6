package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "github.com/meridianhq/partner-sync/internal/errors"
	"github.com/meridianhq/partner-sync/internal/models"
)

// TaskRunner executes one sync task. Satisfied by the engine.
type TaskRunner interface {
	RunTask(ctx context.Context, task *models.SyncTask) (*models.SyncRun, error)
}

// ScheduleReloader re-reads the task table into the scheduler. Satisfied by
// the orchestrator.
type ScheduleReloader interface {
	Reload(ctx context.Context) error
}

// SyncAdminStore is the slice of the database the admin API reads and writes.
type SyncAdminStore interface {
	ListSyncTasks(ctx context.Context) ([]*models.SyncTask, error)
	GetSyncTaskByName(ctx context.Context, name string) (*models.SyncTask, error)
	UpdateSyncTask(ctx context.Context, task *models.SyncTask) error

	GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, taskName string, limit int) ([]*models.SyncRun, error)

	ListSyncFailures(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.SyncFailure, error)
	ResolveSyncFailure(ctx context.Context, id int64) error
}

type Handler struct {
	store    SyncAdminStore
	runner   TaskRunner
	reloader ScheduleReloader
	logger   *logrus.Logger
}

func NewHandler(store SyncAdminStore, runner TaskRunner, reloader ScheduleReloader, logger *logrus.Logger) *Handler {
	return &Handler{
		store:    store,
		runner:   runner,
		reloader: reloader,
		logger:   logger,
	}
}

// TriggerSync starts a task by name. The run executes in the background; the
// response acknowledges admission, and the run ledger carries the outcome.
func (h *Handler) TriggerSync(c *gin.Context) {
	name := c.Param("task")
	task, err := h.store.GetSyncTaskByName(c.Request.Context(), name)
	if err != nil {
		h.respondError(c, err, "Failed to load sync task")
		return
	}
	if !task.Enabled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Task is disabled"})
		return
	}

	go func() {
		if _, err := h.runner.RunTask(context.Background(), task); err != nil && !apperrors.IsSyncInProgress(err) {
			h.logger.WithFields(logrus.Fields{
				"task":  task.Name,
				"error": err.Error(),
			}).Error("Triggered sync failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "task": task.Name})
}

// ListRuns returns recent sync runs, optionally filtered by task name.
func (h *Handler) ListRuns(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	runs, err := h.store.ListSyncRuns(c.Request.Context(), c.Query("task"), limit)
	if err != nil {
		h.respondError(c, err, "Failed to list sync runs")
		return
	}
	c.JSON(http.StatusOK, runs)
}

// GetRun returns one sync run by ID.
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.store.GetSyncRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to load sync run")
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListTasks returns every configured sync task.
func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.store.ListSyncTasks(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list sync tasks")
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// taskUpdateRequest carries the editable fields of a task. Pointers
// distinguish "leave unchanged" from explicit zero values.
type taskUpdateRequest struct {
	Enabled         *bool              `json:"enabled"`
	IntervalMinutes *int               `json:"interval_minutes"`
	DayOfWeek       *int               `json:"day_of_week"`
	TimeOfDay       *string            `json:"time_of_day"`
	Config          *models.TaskConfig `json:"config"`
}

// UpdateTask edits a task's schedule or configuration and reloads the
// scheduler so the change takes effect without a restart.
func (h *Handler) UpdateTask(c *gin.Context) {
	task, err := h.store.GetSyncTaskByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err, "Failed to load sync task")
		return
	}

	var req taskUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	if req.IntervalMinutes != nil {
		task.IntervalMinutes = *req.IntervalMinutes
	}
	if req.DayOfWeek != nil {
		task.DayOfWeek = *req.DayOfWeek
	}
	if req.TimeOfDay != nil {
		task.TimeOfDay = *req.TimeOfDay
	}
	if req.Config != nil {
		task.Config = *req.Config
	}

	if err := h.store.UpdateSyncTask(c.Request.Context(), task); err != nil {
		h.respondError(c, err, "Failed to update sync task")
		return
	}

	if h.reloader != nil {
		if err := h.reloader.Reload(c.Request.Context()); err != nil {
			h.logger.WithField("error", err.Error()).Warn("Failed to reload schedule")
		}
	}

	c.JSON(http.StatusOK, task)
}

// ListFailures returns recorded per-record sync failures, unresolved only by
// default.
func (h *Handler) ListFailures(c *gin.Context) {
	unresolvedOnly := c.DefaultQuery("unresolved", "true") != "false"
	limit := intQuery(c, "limit", 100)
	failures, err := h.store.ListSyncFailures(c.Request.Context(), unresolvedOnly, limit)
	if err != nil {
		h.respondError(c, err, "Failed to list sync failures")
		return
	}
	c.JSON(http.StatusOK, failures)
}

// ResolveFailure marks one failure as handled.
func (h *Handler) ResolveFailure(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid failure id"})
		return
	}
	if err := h.store.ResolveSyncFailure(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Failed to resolve sync failure")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (h *Handler) respondError(c *gin.Context, err error, message string) {
	switch {
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case apperrors.IsConfig(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.IsSyncInProgress(err):
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already in progress"})
	default:
		h.logger.WithField("error", err.Error()).Error(message)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

func intQuery(c *gin.Context, param string, defaultValue int) int {
	value := c.Query(param)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
