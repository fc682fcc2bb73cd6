package db

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/meridianhq/partner-sync/internal/models"
)

// Upserts use ON CONFLICT ... DO UPDATE with last-writer-wins at the field
// level, and RETURNING (xmax = 0) to report whether the row was inserted or
// updated. Reactivation on upsert is deliberate: a record present in the
// external feed is active by definition.

// UpsertUser writes one LMS user with insert-or-update semantics.
func (s *PostgresStore) UpsertUser(ctx context.Context, u *models.User) (bool, error) {
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (
			external_id, email, first_name, last_name, title, language,
			source_updated_at, synced_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), TRUE)
		ON CONFLICT (external_id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			title = EXCLUDED.title,
			language = EXCLUDED.language,
			source_updated_at = EXCLUDED.source_updated_at,
			synced_at = NOW(),
			is_active = TRUE,
			deactivated_at = NULL,
			deactivation_reason = ''
		RETURNING (xmax = 0)`,
		u.ExternalID, u.Email, u.FirstName, u.LastName, u.Title, u.Language,
		u.UpdatedAt,
	).Scan(&created)
	if err != nil {
		return false, classifyWriteError(err, fmt.Sprintf("failed to upsert user %s", u.ExternalID))
	}
	return created, nil
}

// UpsertGroup writes one LMS group with insert-or-update semantics.
func (s *PostgresStore) UpsertGroup(ctx context.Context, g *models.Group) (bool, error) {
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO groups (
			external_id, name, description, source_updated_at, synced_at, is_active
		) VALUES ($1, $2, $3, $4, NOW(), TRUE)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			source_updated_at = EXCLUDED.source_updated_at,
			synced_at = NOW(),
			is_active = TRUE,
			deactivated_at = NULL,
			deactivation_reason = ''
		RETURNING (xmax = 0)`,
		g.ExternalID, g.Name, g.Descr, g.UpdatedAt,
	).Scan(&created)
	if err != nil {
		return false, classifyWriteError(err, fmt.Sprintf("failed to upsert group %s", g.ExternalID))
	}
	return created, nil
}

// UpsertMembership confirms one group-user pair as present in the external
// fetch. An existing local-sourced row is promoted to api-sourced.
func (s *PostgresStore) UpsertMembership(ctx context.Context, m *models.GroupMembership) (bool, error) {
	source := m.PendingSource
	if source == "" {
		source = models.MembershipSourceAPI
	}

	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO group_memberships (group_external_id, user_external_id, pending_source, synced_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (group_external_id, user_external_id) DO UPDATE SET
			pending_source = EXCLUDED.pending_source,
			synced_at = NOW()
		RETURNING (xmax = 0)`,
		m.GroupExternalID, m.UserExternalID, string(source),
	).Scan(&created)
	if err != nil {
		return false, classifyWriteError(err,
			fmt.Sprintf("failed to upsert membership %s/%s", m.GroupExternalID, m.UserExternalID))
	}
	return created, nil
}

// DeleteAPIMembershipsAbsent drops api-sourced membership rows of one group
// that were not observed in the full fetch. Rows with pending_source='local'
// are preserved pending manual reconciliation.
func (s *PostgresStore) DeleteAPIMembershipsAbsent(ctx context.Context, groupExternalID string, observedUsers []string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM group_memberships
		WHERE group_external_id = $1
			AND pending_source = 'api'
			AND NOT (user_external_id = ANY($2))`,
		groupExternalID, pq.Array(observedUsers))
	if err != nil {
		return 0, fmt.Errorf("failed to delete absent memberships for group %s: %w", groupExternalID, err)
	}
	return result.RowsAffected()
}

// UpsertCourse writes one LMS course with insert-or-update semantics.
func (s *PostgresStore) UpsertCourse(ctx context.Context, c *models.Course) (bool, error) {
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO courses (
			external_id, name, code, category, source_updated_at, synced_at, is_active
		) VALUES ($1, $2, $3, $4, $5, NOW(), TRUE)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			code = EXCLUDED.code,
			category = EXCLUDED.category,
			source_updated_at = EXCLUDED.source_updated_at,
			synced_at = NOW(),
			is_active = TRUE,
			deactivated_at = NULL,
			deactivation_reason = ''
		RETURNING (xmax = 0)`,
		c.ExternalID, c.Name, c.Code, c.Category, c.UpdatedAt,
	).Scan(&created)
	if err != nil {
		return false, classifyWriteError(err, fmt.Sprintf("failed to upsert course %s", c.ExternalID))
	}
	return created, nil
}

// UpsertEnrollment writes one transcript entry. A foreign-key violation (the
// referenced user or course is not yet mirrored) comes back as a referential
// error for the reconciler to count.
func (s *PostgresStore) UpsertEnrollment(ctx context.Context, e *models.Enrollment) (bool, error) {
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO enrollments (
			user_external_id, course_external_id, status, score,
			enrolled_at, completed_at, certificate_url, source_updated_at, synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_external_id, course_external_id) DO UPDATE SET
			status = EXCLUDED.status,
			score = EXCLUDED.score,
			enrolled_at = EXCLUDED.enrolled_at,
			completed_at = EXCLUDED.completed_at,
			certificate_url = EXCLUDED.certificate_url,
			source_updated_at = EXCLUDED.source_updated_at,
			synced_at = NOW()
		RETURNING (xmax = 0)`,
		e.UserExternalID, e.CourseExternalID, e.Status, e.Score,
		e.EnrolledAt, e.CompletedAt, e.CertificateURL, e.UpdatedAt,
	).Scan(&created)
	if err != nil {
		return false, classifyWriteError(err,
			fmt.Sprintf("failed to upsert enrollment %s/%s", e.UserExternalID, e.CourseExternalID))
	}
	return created, nil
}

// UpsertAccount writes one CRM account. The owner link is nulled by the
// database when the owning user disappears, so an unknown owner here is a
// referential error like any other.
func (s *PostgresStore) UpsertAccount(ctx context.Context, a *models.Account) (bool, error) {
	var created bool
	var owner interface{}
	if a.OwnerExternalID != "" {
		owner = a.OwnerExternalID
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (
			external_id, name, parent_external_id, owner_external_id, tier, country,
			source_updated_at, synced_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), TRUE)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			parent_external_id = EXCLUDED.parent_external_id,
			owner_external_id = EXCLUDED.owner_external_id,
			tier = EXCLUDED.tier,
			country = EXCLUDED.country,
			source_updated_at = EXCLUDED.source_updated_at,
			synced_at = NOW(),
			is_active = TRUE,
			deactivated_at = NULL,
			deactivation_reason = ''
		RETURNING (xmax = 0)`,
		a.ExternalID, a.Name, a.ParentExternalID, owner, a.Tier, a.Country,
		a.UpdatedAt,
	).Scan(&created)
	if err != nil {
		return false, classifyWriteError(err, fmt.Sprintf("failed to upsert account %s", a.ExternalID))
	}
	return created, nil
}

// UpsertContact writes one CRM contact with insert-or-update semantics.
func (s *PostgresStore) UpsertContact(ctx context.Context, c *models.Contact) (bool, error) {
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contacts (
			external_id, account_external_id, email, first_name, last_name, phone,
			source_updated_at, synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			account_external_id = EXCLUDED.account_external_id,
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone,
			source_updated_at = EXCLUDED.source_updated_at,
			synced_at = NOW()
		RETURNING (xmax = 0)`,
		c.ExternalID, c.AccountExternalID, c.Email, c.FirstName, c.LastName, c.Phone,
		c.UpdatedAt,
	).Scan(&created)
	if err != nil {
		return false, classifyWriteError(err, fmt.Sprintf("failed to upsert contact %s", c.ExternalID))
	}
	return created, nil
}

// UpsertLead writes one CRM lead with insert-or-update semantics.
func (s *PostgresStore) UpsertLead(ctx context.Context, l *models.Lead) (bool, error) {
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO leads (
			external_id, email, company, status, source, source_updated_at, synced_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), TRUE)
		ON CONFLICT (external_id) DO UPDATE SET
			email = EXCLUDED.email,
			company = EXCLUDED.company,
			status = EXCLUDED.status,
			source = EXCLUDED.source,
			source_updated_at = EXCLUDED.source_updated_at,
			synced_at = NOW(),
			is_active = TRUE,
			deactivated_at = NULL,
			deactivation_reason = ''
		RETURNING (xmax = 0)`,
		l.ExternalID, l.Email, l.Company, l.Status, l.Source, l.UpdatedAt,
	).Scan(&created)
	if err != nil {
		return false, classifyWriteError(err, fmt.Sprintf("failed to upsert lead %s", l.ExternalID))
	}
	return created, nil
}

// ListActiveUserIDs returns external IDs of active users, used to drive the
// per-user transcript fetch.
func (s *PostgresStore) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	return s.ListActiveExternalIDs(ctx, models.EntityUser)
}
