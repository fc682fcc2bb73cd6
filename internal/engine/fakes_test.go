package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meridianhq/partner-sync/internal/crm"
	apperrors "github.com/meridianhq/partner-sync/internal/errors"
	"github.com/meridianhq/partner-sync/internal/lms"
	"github.com/meridianhq/partner-sync/internal/models"
)

// fakeStore is an in-memory stand-in for the Postgres store, faithful to its
// observable semantics: upserts report created-vs-updated, deactivation only
// touches active rows not in the observed set, membership pruning spares
// locally sourced rows, and cursor advancement never moves backwards.
type fakeStore struct {
	mu sync.Mutex

	active      map[models.EntityType]map[string]bool
	memberships map[string]models.MembershipSource
	activeUsers []string

	cursors     map[models.EntityType]*models.SyncCursor
	checkpoints map[string]*models.Checkpoint
	runs        map[string]*models.SyncRun
	failures    []*models.SyncFailure
	tasks       map[string]*models.SyncTask
	locked      map[string]bool
	taskRuns    map[string]time.Time

	upsertErrs map[string]error
	cursorErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		active:      map[models.EntityType]map[string]bool{},
		memberships: map[string]models.MembershipSource{},
		cursors:     map[models.EntityType]*models.SyncCursor{},
		checkpoints: map[string]*models.Checkpoint{},
		runs:        map[string]*models.SyncRun{},
		tasks:       map[string]*models.SyncTask{},
		locked:      map[string]bool{},
		taskRuns:    map[string]time.Time{},
		upsertErrs:  map[string]error{},
	}
}

func (f *fakeStore) seed(entity models.EntityType, ids ...string) {
	if f.active[entity] == nil {
		f.active[entity] = map[string]bool{}
	}
	for _, id := range ids {
		f.active[entity][id] = true
	}
}

func (f *fakeStore) upsert(entity models.EntityType, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.upsertErrs[id]; ok {
		return false, err
	}
	if f.active[entity] == nil {
		f.active[entity] = map[string]bool{}
	}
	_, existed := f.active[entity][id]
	f.active[entity][id] = true
	return !existed, nil
}

func (f *fakeStore) UpsertUser(_ context.Context, u *models.User) (bool, error) {
	return f.upsert(models.EntityUser, u.ExternalID)
}

func (f *fakeStore) UpsertGroup(_ context.Context, g *models.Group) (bool, error) {
	return f.upsert(models.EntityGroup, g.ExternalID)
}

func (f *fakeStore) UpsertMembership(_ context.Context, m *models.GroupMembership) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := m.GroupExternalID + ":" + m.UserExternalID
	if err, ok := f.upsertErrs[key]; ok {
		return false, err
	}
	_, existed := f.memberships[key]
	f.memberships[key] = m.PendingSource
	return !existed, nil
}

func (f *fakeStore) UpsertCourse(_ context.Context, c *models.Course) (bool, error) {
	return f.upsert(models.EntityCourse, c.ExternalID)
}

func (f *fakeStore) UpsertEnrollment(_ context.Context, e *models.Enrollment) (bool, error) {
	return f.upsert(models.EntityEnrollment, e.UserExternalID+":"+e.CourseExternalID)
}

func (f *fakeStore) UpsertAccount(_ context.Context, a *models.Account) (bool, error) {
	return f.upsert(models.EntityAccount, a.ExternalID)
}

func (f *fakeStore) UpsertContact(_ context.Context, c *models.Contact) (bool, error) {
	return f.upsert(models.EntityContact, c.ExternalID)
}

func (f *fakeStore) UpsertLead(_ context.Context, l *models.Lead) (bool, error) {
	return f.upsert(models.EntityLead, l.ExternalID)
}

func (f *fakeStore) ListActiveExternalIDs(_ context.Context, entity models.EntityType) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, active := range f.active[entity] {
		if active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) DeactivateAbsent(_ context.Context, entity models.EntityType, observed []string, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keep := map[string]bool{}
	for _, id := range observed {
		keep[id] = true
	}
	var n int64
	for id, active := range f.active[entity] {
		if active && !keep[id] {
			f.active[entity][id] = false
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteAPIMembershipsAbsent(_ context.Context, groupID string, observedUsers []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keep := map[string]bool{}
	for _, id := range observedUsers {
		keep[groupID+":"+id] = true
	}
	var n int64
	for key, source := range f.memberships {
		if len(key) > len(groupID) && key[:len(groupID)+1] == groupID+":" &&
			source == models.MembershipSourceAPI && !keep[key] {
			delete(f.memberships, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListActiveUserIDs(context.Context) ([]string, error) {
	return f.activeUsers, nil
}

func (f *fakeStore) GetSyncCursor(_ context.Context, entity models.EntityType) (*models.SyncCursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursorErr != nil {
		return nil, f.cursorErr
	}
	c, ok := f.cursors[entity]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) AdvanceSyncCursor(_ context.Context, entity models.EntityType, watermark time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cursors[entity]
	if !ok {
		c = &models.SyncCursor{EntityType: entity}
		f.cursors[entity] = c
	}
	if watermark.After(c.LastSyncedAt) {
		c.LastSyncedAt = watermark
	}
	return nil
}

func (f *fakeStore) MarkFullSync(_ context.Context, entity models.EntityType, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cursors[entity]
	if !ok {
		c = &models.SyncCursor{EntityType: entity}
		f.cursors[entity] = c
	}
	if at.After(c.LastFullSyncAt) {
		c.LastFullSyncAt = at
	}
	return nil
}

func (f *fakeStore) GetCheckpoint(_ context.Context, taskName string) (*models.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cp, ok := f.checkpoints[taskName]; ok {
		c := *cp
		return &c, nil
	}
	return &models.Checkpoint{TaskName: taskName}, nil
}

func (f *fakeStore) SaveCheckpoint(_ context.Context, cp *models.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *cp
	f.checkpoints[cp.TaskName] = &c
	return nil
}

func (f *fakeStore) ResetCheckpoint(_ context.Context, taskName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.checkpoints, taskName)
	return nil
}

func (f *fakeStore) CreateSyncRun(_ context.Context, run *models.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := *run
	f.runs[run.ID] = &r
	return nil
}

func (f *fakeStore) CompleteSyncRun(_ context.Context, run *models.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.runs[run.ID]
	if !ok || existing.Status != models.RunStatusRunning {
		return nil
	}
	r := *run
	f.runs[run.ID] = &r
	return nil
}

func (f *fakeStore) GetSyncRun(_ context.Context, id string) (*models.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, apperrors.NewNotFoundError("run not found", nil)
}

func (f *fakeStore) ListSyncRuns(context.Context, string, int) ([]*models.SyncRun, error) {
	return nil, nil
}

func (f *fakeStore) RecordSyncFailure(_ context.Context, failure *models.SyncFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *failure
	f.failures = append(f.failures, &cp)
	return nil
}

func (f *fakeStore) ListSyncFailures(context.Context, bool, int) ([]*models.SyncFailure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.SyncFailure{}, f.failures...), nil
}

func (f *fakeStore) ResolveSyncFailure(context.Context, int64) error { return nil }

func (f *fakeStore) ListSyncTasks(context.Context) ([]*models.SyncTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var tasks []*models.SyncTask
	for _, t := range f.tasks {
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (f *fakeStore) GetSyncTaskByName(_ context.Context, name string) (*models.SyncTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[name]; ok {
		return t, nil
	}
	return nil, apperrors.NewNotFoundError("task not found", nil)
}

func (f *fakeStore) UpdateSyncTask(_ context.Context, task *models.SyncTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.Name] = task
	return nil
}

func (f *fakeStore) MarkTaskRun(_ context.Context, name string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskRuns[name] = at
	return nil
}

func (f *fakeStore) AcquireTaskLock(_ context.Context, taskName string) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[taskName] {
		return nil, apperrors.NewSyncInProgressError(taskName)
	}
	f.locked[taskName] = true
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.locked[taskName] = false
		return nil
	}, nil
}

// fakeLMS serves canned collections and records the watermark each fetch was
// given, filtering by it the way the real API filters on modified_since.
type fakeLMS struct {
	mu sync.Mutex

	users       []lms.User
	groups      []lms.Group
	members     map[string][]lms.GroupMember
	courses     []lms.Course
	transcripts map[string][]lms.Transcript

	transcriptErrs  map[string]error
	transcriptCalls []string
	sinceSeen       map[string]*time.Time
	callOrder       []string

	// failPages marks a collection whose first page request fails and is
	// absorbed: the fetch reports a failed page and yields no records.
	failPages map[string]bool
}

func newFakeLMS() *fakeLMS {
	return &fakeLMS{
		members:        map[string][]lms.GroupMember{},
		transcripts:    map[string][]lms.Transcript{},
		transcriptErrs: map[string]error{},
		sinceSeen:      map[string]*time.Time{},
		failPages:      map[string]bool{},
	}
}

func (f *fakeLMS) failedPage(coll string, stats *models.RunCounters) bool {
	if !f.failPages[coll] {
		return false
	}
	if stats != nil {
		stats.APICallsMade++
		stats.PagesFailed++
	}
	return true
}

func (f *fakeLMS) RecordDelay() time.Duration { return 0 }

func (f *fakeLMS) record(coll string, since *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callOrder = append(f.callOrder, coll)
	f.sinceSeen[coll] = since
}

func pageOut[T any](records []T, since *time.Time, updatedAt func(T) time.Time, stats *models.RunCounters, fn func([]T) error) error {
	var page []T
	for _, r := range records {
		if since != nil && !updatedAt(r).After(*since) {
			continue
		}
		page = append(page, r)
	}
	if stats != nil {
		stats.APICallsMade++
		if len(page) == 0 && since != nil {
			stats.APICallsSaved++
		}
	}
	if len(page) == 0 {
		return nil
	}
	return fn(page)
}

func (f *fakeLMS) FetchUsers(_ context.Context, since *time.Time, _ int, stats *models.RunCounters, fn lms.PageFunc[lms.User]) error {
	f.record("users", since)
	if f.failedPage("users", stats) {
		return nil
	}
	return pageOut(f.users, since, func(u lms.User) time.Time { return u.UpdatedAt }, stats, fn)
}

func (f *fakeLMS) FetchGroups(_ context.Context, since *time.Time, _ int, stats *models.RunCounters, fn lms.PageFunc[lms.Group]) error {
	f.record("groups", since)
	return pageOut(f.groups, since, func(g lms.Group) time.Time { return g.UpdatedAt }, stats, fn)
}

func (f *fakeLMS) FetchGroupMembers(_ context.Context, groupID string, _ int, stats *models.RunCounters, fn lms.PageFunc[lms.GroupMember]) error {
	f.record("members:"+groupID, nil)
	if f.failedPage("members:"+groupID, stats) {
		return nil
	}
	return pageOut(f.members[groupID], nil, func(lms.GroupMember) time.Time { return time.Time{} }, stats, fn)
}

func (f *fakeLMS) FetchCourses(_ context.Context, since *time.Time, _ int, stats *models.RunCounters, fn lms.PageFunc[lms.Course]) error {
	f.record("courses", since)
	return pageOut(f.courses, since, func(c lms.Course) time.Time { return c.UpdatedAt }, stats, fn)
}

func (f *fakeLMS) GetUserTranscripts(_ context.Context, userID string, stats *models.RunCounters) ([]lms.Transcript, error) {
	f.mu.Lock()
	f.transcriptCalls = append(f.transcriptCalls, userID)
	f.callOrder = append(f.callOrder, "transcripts:"+userID)
	f.mu.Unlock()
	if stats != nil {
		stats.APICallsMade++
	}
	if err, ok := f.transcriptErrs[userID]; ok {
		return nil, err
	}
	return f.transcripts[userID], nil
}

type fakeCRM struct {
	mu sync.Mutex

	accounts []crm.Account
	contacts []crm.Contact
	leads    []crm.Lead

	sinceSeen map[string]*time.Time
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{sinceSeen: map[string]*time.Time{}}
}

func (f *fakeCRM) record(coll string, since *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceSeen[coll] = since
}

func (f *fakeCRM) FetchAccounts(_ context.Context, since *time.Time, _ int, stats *models.RunCounters, fn func([]crm.Account) error) error {
	f.record("accounts", since)
	return pageOut(f.accounts, since, func(a crm.Account) time.Time { return a.UpdatedAt }, stats, fn)
}

func (f *fakeCRM) FetchContacts(_ context.Context, since *time.Time, _ int, stats *models.RunCounters, fn func([]crm.Contact) error) error {
	f.record("contacts", since)
	return pageOut(f.contacts, since, func(c crm.Contact) time.Time { return c.UpdatedAt }, stats, fn)
}

func (f *fakeCRM) FetchLeads(_ context.Context, since *time.Time, _ int, stats *models.RunCounters, fn func([]crm.Lead) error) error {
	f.record("leads", since)
	return pageOut(f.leads, since, func(l crm.Lead) time.Time { return l.UpdatedAt }, stats, fn)
}
