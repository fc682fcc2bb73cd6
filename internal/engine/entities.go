package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meridianhq/partner-sync/internal/crm"
	"github.com/meridianhq/partner-sync/internal/lms"
	"github.com/meridianhq/partner-sync/internal/models"
)

func (e *Engine) syncUsers(ctx context.Context, run *models.SyncRun, rec *Reconciler, cfg models.TaskConfig) error {
	mode, err := e.resolveMode(ctx, models.EntityUser, cfg)
	if err != nil {
		return err
	}
	return syncMirrored(ctx, e, run, rec, models.EntityUser, mode, true,
		func(since *time.Time, fn func([]lms.User) error) error {
			return e.lms.FetchUsers(ctx, since, e.pageSize(cfg), &run.RunCounters, fn)
		},
		func(u lms.User) (string, time.Time) { return u.ExternalID, u.UpdatedAt },
		func(ctx context.Context, u lms.User) (bool, error) {
			return e.store.UpsertUser(ctx, &models.User{
				ExternalID: u.ExternalID,
				Email:      u.Email,
				FirstName:  u.FirstName,
				LastName:   u.LastName,
				Title:      u.Title,
				Language:   u.Language,
				UpdatedAt:  u.UpdatedAt,
			})
		})
}

// syncGroups mirrors the group collection, then reconciles each observed
// group's member roster. Roster reconciliation only ever removes memberships
// the API itself created; locally added rows are kept until the external
// system confirms them.
func (e *Engine) syncGroups(ctx context.Context, run *models.SyncRun, rec *Reconciler, cfg models.TaskConfig) error {
	mode, err := e.resolveMode(ctx, models.EntityGroup, cfg)
	if err != nil {
		return err
	}

	var groupIDs []string
	err = syncMirrored(ctx, e, run, rec, models.EntityGroup, mode, true,
		func(since *time.Time, fn func([]lms.Group) error) error {
			return e.lms.FetchGroups(ctx, since, e.pageSize(cfg), &run.RunCounters, func(page []lms.Group) error {
				for _, g := range page {
					groupIDs = append(groupIDs, g.ExternalID)
				}
				return fn(page)
			})
		},
		func(g lms.Group) (string, time.Time) { return g.ExternalID, g.UpdatedAt },
		func(ctx context.Context, g lms.Group) (bool, error) {
			return e.store.UpsertGroup(ctx, &models.Group{
				ExternalID: g.ExternalID,
				Name:       g.Name,
				Descr:      g.Description,
				UpdatedAt:  g.UpdatedAt,
			})
		})
	if err != nil {
		return err
	}

	for i, groupID := range groupIDs {
		if i > 0 {
			e.sleep(e.lms.RecordDelay())
		}
		if err := e.syncGroupRoster(ctx, run, rec, cfg, groupID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) syncGroupRoster(ctx context.Context, run *models.SyncRun, rec *Reconciler, cfg models.TaskConfig, groupID string) error {
	pagesFailedBefore := run.PagesFailed
	var memberIDs []string
	err := e.lms.FetchGroupMembers(ctx, groupID, e.pageSize(cfg), &run.RunCounters, func(page []lms.GroupMember) error {
		for _, m := range page {
			memberIDs = append(memberIDs, m.ExternalID)
			userID := m.ExternalID
			rec.Apply(ctx, models.EntityMembership, fmt.Sprintf("%s:%s", groupID, userID), func(ctx context.Context) (bool, error) {
				return e.store.UpsertMembership(ctx, &models.GroupMembership{
					GroupExternalID: groupID,
					UserExternalID:  userID,
					PendingSource:   models.MembershipSourceAPI,
				})
			})
		}
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("failed to fetch members of group %s: %w", groupID, err)
	}

	// Pruning against a truncated roster would drop memberships that are still
	// present upstream.
	if run.PagesFailed > pagesFailedBefore {
		e.logger.WithFields(logrus.Fields{
			"group_id": groupID,
		}).Warn("Roster fetch was truncated, skipping membership pruning")
		return nil
	}

	n, err := e.detector.PruneMemberships(ctx, groupID, memberIDs)
	if err != nil {
		return err
	}
	run.Deactivated += int(n)
	return nil
}

func (e *Engine) syncCourses(ctx context.Context, run *models.SyncRun, rec *Reconciler, cfg models.TaskConfig) error {
	mode, err := e.resolveMode(ctx, models.EntityCourse, cfg)
	if err != nil {
		return err
	}
	return syncMirrored(ctx, e, run, rec, models.EntityCourse, mode, true,
		func(since *time.Time, fn func([]lms.Course) error) error {
			return e.lms.FetchCourses(ctx, since, e.pageSize(cfg), &run.RunCounters, fn)
		},
		func(c lms.Course) (string, time.Time) { return c.ExternalID, c.UpdatedAt },
		func(ctx context.Context, c lms.Course) (bool, error) {
			return e.store.UpsertCourse(ctx, &models.Course{
				ExternalID: c.ExternalID,
				Name:       c.Name,
				Code:       c.Code,
				Category:   c.Category,
				UpdatedAt:  c.UpdatedAt,
			})
		})
}

// checkpointSaveEvery is how many users a transcript batch processes between
// checkpoint writes.
const checkpointSaveEvery = 25

// syncEnrollments walks every active user's transcript sub-resource. There is
// no list endpoint for transcripts, so this is one API call per user; the
// checkpoint makes the walk resumable when a run is cut short.
func (e *Engine) syncEnrollments(ctx context.Context, run *models.SyncRun, rec *Reconciler, cfg models.TaskConfig) error {
	users, err := e.store.ListActiveUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active users: %w", err)
	}

	cpr := newCheckpointer(e.store, e.logger, string(models.TaskSyncEnrollments))
	cp := cpr.resume(ctx)
	if cp.NextOffset >= len(users) {
		cp.NextOffset = 0
	}

	start := cp.NextOffset
	for i := start; i < len(users); i++ {
		if ctx.Err() != nil {
			cpr.save(context.WithoutCancel(ctx), cp)
			return ctx.Err()
		}
		if i > start {
			e.sleep(e.lms.RecordDelay())
		}

		userID := users[i]
		transcripts, err := e.lms.GetUserTranscripts(ctx, userID, &run.RunCounters)
		if err != nil {
			if ctx.Err() != nil {
				cpr.save(context.WithoutCancel(ctx), cp)
				return ctx.Err()
			}
			rec.Fail(ctx, models.EntityEnrollment, userID, err, httpStatus(err))
			cp.NextOffset = i + 1
			continue
		}

		for _, t := range transcripts {
			if rec.TooOld(t.UpdatedAt) {
				rec.Skip()
				continue
			}
			t := t
			rec.Apply(ctx, models.EntityEnrollment, fmt.Sprintf("%s:%s", userID, t.CourseExternalID), func(ctx context.Context) (bool, error) {
				return e.store.UpsertEnrollment(ctx, &models.Enrollment{
					UserExternalID:   userID,
					CourseExternalID: t.CourseExternalID,
					Status:           t.Status,
					Score:            t.Score,
					EnrolledAt:       t.EnrolledAt,
					CompletedAt:      t.CompletedAt,
					CertificateURL:   t.CertificateURL,
					UpdatedAt:        t.UpdatedAt,
				})
			})
		}

		cp.NextOffset = i + 1
		cp.RecordsSynced += len(transcripts)
		cp.FKErrors = run.FKErrors
		if (i+1-start)%checkpointSaveEvery == 0 {
			cpr.save(ctx, cp)
		}
	}

	cpr.clear(ctx)
	return nil
}

func (e *Engine) syncAccounts(ctx context.Context, run *models.SyncRun, rec *Reconciler, cfg models.TaskConfig) error {
	mode, err := e.resolveMode(ctx, models.EntityAccount, cfg)
	if err != nil {
		return err
	}
	return syncMirrored(ctx, e, run, rec, models.EntityAccount, mode, true,
		func(since *time.Time, fn func([]crm.Account) error) error {
			return e.crm.FetchAccounts(ctx, since, e.pageSize(cfg), &run.RunCounters, fn)
		},
		func(a crm.Account) (string, time.Time) { return a.ExternalID, a.UpdatedAt },
		func(ctx context.Context, a crm.Account) (bool, error) {
			return e.store.UpsertAccount(ctx, &models.Account{
				ExternalID:       a.ExternalID,
				Name:             a.Name,
				ParentExternalID: a.ParentID,
				OwnerExternalID:  a.OwnerID,
				Tier:             a.Tier,
				Country:          a.Country,
				UpdatedAt:        a.UpdatedAt,
			})
		})
}

func (e *Engine) syncContacts(ctx context.Context, run *models.SyncRun, rec *Reconciler, cfg models.TaskConfig) error {
	mode, err := e.resolveMode(ctx, models.EntityContact, cfg)
	if err != nil {
		return err
	}
	// Contacts carry no active flag, so a full pass refreshes rows but never
	// deactivates them.
	return syncMirrored(ctx, e, run, rec, models.EntityContact, mode, false,
		func(since *time.Time, fn func([]crm.Contact) error) error {
			return e.crm.FetchContacts(ctx, since, e.pageSize(cfg), &run.RunCounters, fn)
		},
		func(c crm.Contact) (string, time.Time) { return c.ExternalID, c.UpdatedAt },
		func(ctx context.Context, c crm.Contact) (bool, error) {
			return e.store.UpsertContact(ctx, &models.Contact{
				ExternalID:        c.ExternalID,
				AccountExternalID: c.AccountID,
				Email:             c.Email,
				FirstName:         c.FirstName,
				LastName:          c.LastName,
				Phone:             c.Phone,
				UpdatedAt:         c.UpdatedAt,
			})
		})
}

func (e *Engine) syncLeads(ctx context.Context, run *models.SyncRun, rec *Reconciler, cfg models.TaskConfig) error {
	mode, err := e.resolveMode(ctx, models.EntityLead, cfg)
	if err != nil {
		return err
	}
	return syncMirrored(ctx, e, run, rec, models.EntityLead, mode, true,
		func(since *time.Time, fn func([]crm.Lead) error) error {
			return e.crm.FetchLeads(ctx, since, e.pageSize(cfg), &run.RunCounters, fn)
		},
		func(l crm.Lead) (string, time.Time) { return l.ExternalID, l.UpdatedAt },
		func(ctx context.Context, l crm.Lead) (bool, error) {
			return e.store.UpsertLead(ctx, &models.Lead{
				ExternalID: l.ExternalID,
				Email:      l.Email,
				Company:    l.Company,
				Status:     l.Status,
				Source:     l.Source,
				UpdatedAt:  l.UpdatedAt,
			})
		})
}
