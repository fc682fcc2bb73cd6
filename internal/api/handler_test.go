package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/meridianhq/partner-sync/internal/errors"
	"github.com/meridianhq/partner-sync/internal/models"
)

type fakeAdminStore struct {
	mu       sync.Mutex
	tasks    map[string]*models.SyncTask
	runs     map[string]*models.SyncRun
	failures []*models.SyncFailure
	resolved []int64
	updated  []*models.SyncTask
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{
		tasks: map[string]*models.SyncTask{},
		runs:  map[string]*models.SyncRun{},
	}
}

func (f *fakeAdminStore) ListSyncTasks(context.Context) ([]*models.SyncTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SyncTask
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeAdminStore) GetSyncTaskByName(_ context.Context, name string) (*models.SyncTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[name]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, apperrors.NewNotFoundError("task not found", nil)
}

func (f *fakeAdminStore) UpdateSyncTask(_ context.Context, task *models.SyncTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := task.Config.Validate(); err != nil {
		return apperrors.NewConfigError("invalid task config", err)
	}
	f.tasks[task.Name] = task
	f.updated = append(f.updated, task)
	return nil
}

func (f *fakeAdminStore) GetSyncRun(_ context.Context, id string) (*models.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[id]; ok {
		return r, nil
	}
	return nil, apperrors.NewNotFoundError("run not found", nil)
}

func (f *fakeAdminStore) ListSyncRuns(_ context.Context, taskName string, _ int) ([]*models.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SyncRun
	for _, r := range f.runs {
		if taskName == "" || r.TaskName == taskName {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAdminStore) ListSyncFailures(_ context.Context, unresolvedOnly bool, _ int) ([]*models.SyncFailure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SyncFailure
	for _, failure := range f.failures {
		if unresolvedOnly && failure.Resolved {
			continue
		}
		out = append(out, failure)
	}
	return out, nil
}

func (f *fakeAdminStore) ResolveSyncFailure(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, id)
	return nil
}

type fakeTaskRunner struct {
	mu   sync.Mutex
	runs []string
	done chan string
}

func (f *fakeTaskRunner) RunTask(_ context.Context, task *models.SyncTask) (*models.SyncRun, error) {
	f.mu.Lock()
	f.runs = append(f.runs, task.Name)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- task.Name
	}
	return &models.SyncRun{ID: "run-1", TaskName: task.Name}, nil
}

type fakeReloader struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeReloader) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type fakeValidator struct {
	capabilities map[string][]string
}

func (f *fakeValidator) HasCapability(_ context.Context, token, capability string) (bool, error) {
	for _, c := range f.capabilities[token] {
		if c == capability {
			return true, nil
		}
	}
	return false, nil
}

func setupTestRouter(store *fakeAdminStore, runner *fakeTaskRunner, reloader *fakeReloader, validator SessionValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return SetupRouter(NewHandler(store, runner, reloader, logger), validator, logger)
}

func TestHandler_TriggerSync(t *testing.T) {
	store := newFakeAdminStore()
	store.tasks["sync_users"] = &models.SyncTask{Name: "sync_users", Kind: models.TaskSyncUsers, Enabled: true}
	store.tasks["sync_off"] = &models.SyncTask{Name: "sync_off", Kind: models.TaskSyncUsers, Enabled: false}

	runner := &fakeTaskRunner{done: make(chan string, 1)}
	router := setupTestRouter(store, runner, &fakeReloader{}, nil)

	t.Run("admits an enabled task", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/v1/sync/trigger/sync_users", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		select {
		case name := <-runner.done:
			assert.Equal(t, "sync_users", name)
		case <-time.After(time.Second):
			t.Fatal("run never started")
		}
	})

	t.Run("rejects a disabled task", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/v1/sync/trigger/sync_off", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown task is a 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/v1/sync/trigger/nope", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_Runs(t *testing.T) {
	store := newFakeAdminStore()
	finished := time.Now()
	store.runs["r1"] = &models.SyncRun{
		ID: "r1", TaskName: "sync_users", Mode: models.SyncModeFull,
		Status: models.RunStatusCompleted, FinishedAt: &finished,
		RunCounters: models.RunCounters{Processed: 520, Created: 20, Deactivated: 500},
	}
	router := setupTestRouter(store, &fakeTaskRunner{}, &fakeReloader{}, nil)

	t.Run("get by id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/sync/runs/r1", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var run models.SyncRun
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
		assert.Equal(t, 520, run.Processed)
		assert.Equal(t, 500, run.Deactivated)
	})

	t.Run("list", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/sync/runs?task=sync_users", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var runs []models.SyncRun
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
		assert.Len(t, runs, 1)
	})

	t.Run("missing run is a 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/sync/runs/r2", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_UpdateTask(t *testing.T) {
	store := newFakeAdminStore()
	store.tasks["sync_users"] = &models.SyncTask{
		Name: "sync_users", Kind: models.TaskSyncUsers, Enabled: true,
		IntervalMinutes: 60,
		Config:          models.TaskConfig{Mode: models.SyncModeIncremental},
	}
	reloader := &fakeReloader{}
	router := setupTestRouter(store, &fakeTaskRunner{}, reloader, nil)

	t.Run("patches only the provided fields", func(t *testing.T) {
		body := bytes.NewBufferString(`{"interval_minutes":30,"config":{"mode":"full","max_age_days":540}}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest("PATCH", "/api/v1/sync/tasks/sync_users", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		updated := store.tasks["sync_users"]
		assert.Equal(t, 30, updated.IntervalMinutes)
		assert.True(t, updated.Enabled, "enabled untouched")
		assert.Equal(t, models.SyncModeFull, updated.Config.Mode)
		assert.Equal(t, 540, updated.Config.MaxAgeDays)
		assert.Equal(t, 1, reloader.calls, "schedule reloaded after the edit")
	})

	t.Run("invalid config is a 400", func(t *testing.T) {
		body := bytes.NewBufferString(`{"config":{"mode":"sometimes"}}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest("PATCH", "/api/v1/sync/tasks/sync_users", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown task is a 404", func(t *testing.T) {
		body := bytes.NewBufferString(`{"enabled":false}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest("PATCH", "/api/v1/sync/tasks/ghost", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_Failures(t *testing.T) {
	store := newFakeAdminStore()
	store.failures = []*models.SyncFailure{
		{ID: 1, EntityType: models.EntityEnrollment, ExternalID: "u1:c1", Reason: "fk violation"},
		{ID: 2, EntityType: models.EntityUser, ExternalID: "u9", Reason: "timeout", Resolved: true},
	}
	router := setupTestRouter(store, &fakeTaskRunner{}, &fakeReloader{}, nil)

	t.Run("unresolved only by default", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/sync/failures", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var failures []models.SyncFailure
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failures))
		require.Len(t, failures, 1)
		assert.Equal(t, int64(1), failures[0].ID)
	})

	t.Run("all when asked", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/sync/failures?unresolved=false", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var failures []models.SyncFailure
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failures))
		assert.Len(t, failures, 2)
	})

	t.Run("resolve", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/sync/failures/1/resolve", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []int64{1}, store.resolved)
	})

	t.Run("non-numeric id is a 400", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/sync/failures/abc/resolve", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRequireCapability(t *testing.T) {
	store := newFakeAdminStore()
	validator := &fakeValidator{capabilities: map[string][]string{
		"admin-token":  {CapabilitySync},
		"viewer-token": {"reports.view"},
	}}
	router := setupTestRouter(store, &fakeTaskRunner{}, &fakeReloader{}, validator)

	t.Run("missing token is a 401", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/sync/tasks", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token without the capability is a 403", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/sync/tasks", nil)
		req.Header.Set("Authorization", "Bearer viewer-token")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("token with the capability passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/sync/tasks", nil)
		req.Header.Set("Authorization", "Bearer admin-token")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("health endpoint is open", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
