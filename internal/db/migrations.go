package db

// allMigrations is the ordered schema history. Versions are applied strictly
// in order; every operation must stay replay-safe (see migrate.go).
var allMigrations = []migration{
	{
		version: 1,
		ops: []operation{
			{
				desc:     "create users table",
				critical: true,
				applied:  tableExists("users"),
				stmt: `CREATE TABLE users (
					id BIGSERIAL PRIMARY KEY,
					external_id TEXT NOT NULL UNIQUE,
					email TEXT NOT NULL DEFAULT '',
					first_name TEXT NOT NULL DEFAULT '',
					last_name TEXT NOT NULL DEFAULT '',
					title TEXT NOT NULL DEFAULT '',
					language TEXT NOT NULL DEFAULT '',
					source_updated_at TIMESTAMPTZ,
					synced_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					deactivated_at TIMESTAMPTZ,
					deactivation_reason TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`,
			},
			{
				desc:     "create groups table",
				critical: true,
				applied:  tableExists("groups"),
				stmt: `CREATE TABLE groups (
					id BIGSERIAL PRIMARY KEY,
					external_id TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					source_updated_at TIMESTAMPTZ,
					synced_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					deactivated_at TIMESTAMPTZ,
					deactivation_reason TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`,
			},
			{
				desc:     "create group_memberships table",
				critical: true,
				applied:  tableExists("group_memberships"),
				stmt: `CREATE TABLE group_memberships (
					id BIGSERIAL PRIMARY KEY,
					group_external_id TEXT NOT NULL REFERENCES groups(external_id) ON DELETE CASCADE,
					user_external_id TEXT NOT NULL REFERENCES users(external_id) ON DELETE CASCADE,
					pending_source TEXT NOT NULL DEFAULT 'api',
					synced_at TIMESTAMPTZ,
					UNIQUE (group_external_id, user_external_id)
				)`,
			},
			{
				desc:     "create courses table",
				critical: true,
				applied:  tableExists("courses"),
				stmt: `CREATE TABLE courses (
					id BIGSERIAL PRIMARY KEY,
					external_id TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL DEFAULT '',
					code TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					source_updated_at TIMESTAMPTZ,
					synced_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					deactivated_at TIMESTAMPTZ,
					deactivation_reason TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`,
			},
			{
				desc:     "create enrollments table",
				critical: true,
				applied:  tableExists("enrollments"),
				stmt: `CREATE TABLE enrollments (
					id BIGSERIAL PRIMARY KEY,
					user_external_id TEXT NOT NULL REFERENCES users(external_id) ON DELETE CASCADE,
					course_external_id TEXT NOT NULL REFERENCES courses(external_id) ON DELETE CASCADE,
					status TEXT NOT NULL DEFAULT '',
					score DOUBLE PRECISION NOT NULL DEFAULT 0,
					enrolled_at TIMESTAMPTZ,
					completed_at TIMESTAMPTZ,
					source_updated_at TIMESTAMPTZ,
					synced_at TIMESTAMPTZ,
					UNIQUE (user_external_id, course_external_id)
				)`,
			},
			{
				desc:     "index enrollments by course",
				critical: true,
				applied:  indexExists("idx_enrollments_course"),
				stmt:     `CREATE INDEX idx_enrollments_course ON enrollments (course_external_id)`,
			},
		},
	},
	{
		version: 2,
		ops: []operation{
			{
				desc:     "create accounts table",
				critical: true,
				applied:  tableExists("accounts"),
				stmt: `CREATE TABLE accounts (
					id BIGSERIAL PRIMARY KEY,
					external_id TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL DEFAULT '',
					parent_external_id TEXT NOT NULL DEFAULT '',
					owner_external_id TEXT REFERENCES users(external_id) ON DELETE SET NULL,
					tier TEXT NOT NULL DEFAULT '',
					country TEXT NOT NULL DEFAULT '',
					source_updated_at TIMESTAMPTZ,
					synced_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					deactivated_at TIMESTAMPTZ,
					deactivation_reason TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`,
			},
			{
				desc:     "create contacts table",
				critical: true,
				applied:  tableExists("contacts"),
				stmt: `CREATE TABLE contacts (
					id BIGSERIAL PRIMARY KEY,
					external_id TEXT NOT NULL UNIQUE,
					account_external_id TEXT NOT NULL DEFAULT '',
					email TEXT NOT NULL DEFAULT '',
					first_name TEXT NOT NULL DEFAULT '',
					last_name TEXT NOT NULL DEFAULT '',
					phone TEXT NOT NULL DEFAULT '',
					source_updated_at TIMESTAMPTZ,
					synced_at TIMESTAMPTZ
				)`,
			},
			{
				desc:     "create leads table",
				critical: true,
				applied:  tableExists("leads"),
				stmt: `CREATE TABLE leads (
					id BIGSERIAL PRIMARY KEY,
					external_id TEXT NOT NULL UNIQUE,
					email TEXT NOT NULL DEFAULT '',
					company TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT '',
					source TEXT NOT NULL DEFAULT '',
					source_updated_at TIMESTAMPTZ,
					synced_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					deactivated_at TIMESTAMPTZ,
					deactivation_reason TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`,
			},
			{
				desc:     "index contacts by account",
				critical: true,
				applied:  indexExists("idx_contacts_account"),
				stmt:     `CREATE INDEX idx_contacts_account ON contacts (account_external_id)`,
			},
		},
	},
	{
		version: 3,
		ops: []operation{
			{
				desc:     "create sync_cursors table",
				critical: true,
				applied:  tableExists("sync_cursors"),
				stmt: `CREATE TABLE sync_cursors (
					entity_type TEXT PRIMARY KEY,
					last_synced_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
					last_full_sync_at TIMESTAMPTZ
				)`,
			},
			{
				desc:     "create sync_checkpoints table",
				critical: true,
				applied:  tableExists("sync_checkpoints"),
				stmt: `CREATE TABLE sync_checkpoints (
					task_name TEXT PRIMARY KEY,
					payload_json JSONB NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`,
			},
			{
				desc:     "create sync_runs table",
				critical: true,
				applied:  tableExists("sync_runs"),
				stmt: `CREATE TABLE sync_runs (
					id UUID PRIMARY KEY,
					task_name TEXT NOT NULL,
					mode TEXT NOT NULL,
					status TEXT NOT NULL,
					started_at TIMESTAMPTZ NOT NULL,
					finished_at TIMESTAMPTZ,
					last_error TEXT,
					processed INTEGER NOT NULL DEFAULT 0,
					created_count INTEGER NOT NULL DEFAULT 0,
					updated_count INTEGER NOT NULL DEFAULT 0,
					deactivated INTEGER NOT NULL DEFAULT 0,
					skipped INTEGER NOT NULL DEFAULT 0,
					failed INTEGER NOT NULL DEFAULT 0,
					fk_errors INTEGER NOT NULL DEFAULT 0,
					pages_failed INTEGER NOT NULL DEFAULT 0,
					api_calls_made INTEGER NOT NULL DEFAULT 0,
					api_calls_saved INTEGER NOT NULL DEFAULT 0
				)`,
			},
			{
				desc:     "create sync_failures table",
				critical: true,
				applied:  tableExists("sync_failures"),
				stmt: `CREATE TABLE sync_failures (
					id BIGSERIAL PRIMARY KEY,
					run_id UUID NOT NULL,
					entity_type TEXT NOT NULL,
					external_id TEXT NOT NULL,
					reason TEXT NOT NULL,
					http_status INTEGER NOT NULL DEFAULT 0,
					resolved BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`,
			},
		},
	},
	{
		version: 4,
		ops: []operation{
			{
				desc:     "create sync_tasks table",
				critical: true,
				applied:  tableExists("sync_tasks"),
				stmt: `CREATE TABLE sync_tasks (
					id BIGSERIAL PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					kind TEXT NOT NULL,
					enabled BOOLEAN NOT NULL DEFAULT FALSE,
					interval_minutes INTEGER NOT NULL DEFAULT 0,
					day_of_week INTEGER NOT NULL DEFAULT -1,
					time_of_day TEXT NOT NULL DEFAULT '',
					config_json JSONB NOT NULL DEFAULT '{}',
					last_run_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`,
			},
			{
				desc: "seed sync_users task",
				stmt: `INSERT INTO sync_tasks (name, kind, enabled, interval_minutes, config_json)
					VALUES ('sync_users', 'sync_users', TRUE, 60, '{"mode":"incremental"}')`,
			},
			{
				desc: "seed sync_groups task",
				stmt: `INSERT INTO sync_tasks (name, kind, enabled, interval_minutes, config_json)
					VALUES ('sync_groups', 'sync_groups', TRUE, 60, '{"mode":"incremental"}')`,
			},
			{
				desc: "seed sync_courses task",
				stmt: `INSERT INTO sync_tasks (name, kind, enabled, interval_minutes, config_json)
					VALUES ('sync_courses', 'sync_courses', TRUE, 120, '{"mode":"incremental"}')`,
			},
			{
				desc: "seed sync_enrollments task",
				stmt: `INSERT INTO sync_tasks (name, kind, enabled, interval_minutes, config_json)
					VALUES ('sync_enrollments', 'sync_enrollments', TRUE, 120, '{"mode":"incremental"}')`,
			},
			{
				desc: "seed sync_accounts task",
				stmt: `INSERT INTO sync_tasks (name, kind, enabled, interval_minutes, config_json)
					VALUES ('sync_accounts', 'sync_accounts', TRUE, 180, '{"mode":"incremental"}')`,
			},
			{
				desc: "seed sync_contacts task",
				stmt: `INSERT INTO sync_tasks (name, kind, enabled, interval_minutes, config_json)
					VALUES ('sync_contacts', 'sync_contacts', TRUE, 180, '{"mode":"incremental"}')`,
			},
			{
				desc: "seed sync_leads task",
				stmt: `INSERT INTO sync_tasks (name, kind, enabled, interval_minutes, config_json)
					VALUES ('sync_leads', 'sync_leads', TRUE, 180, '{"mode":"incremental"}')`,
			},
			{
				desc: "seed nightly sync_chain task",
				stmt: `INSERT INTO sync_tasks (name, kind, enabled, day_of_week, time_of_day, config_json)
					VALUES ('sync_chain_nightly', 'sync_chain', TRUE, -1, '02:30', '{"mode":"full"}')`,
			},
		},
	},
	{
		version: 5,
		ops: []operation{
			{
				desc:     "add certificate_url to enrollments",
				critical: true,
				applied:  columnExists("enrollments", "certificate_url"),
				stmt:     `ALTER TABLE enrollments ADD COLUMN certificate_url TEXT NOT NULL DEFAULT ''`,
			},
			{
				desc:     "index sync_runs by task and start time",
				critical: true,
				applied:  indexExists("idx_sync_runs_task_started"),
				stmt:     `CREATE INDEX idx_sync_runs_task_started ON sync_runs (task_name, started_at DESC)`,
			},
			{
				desc:     "index sync_failures by resolution state",
				critical: true,
				applied:  indexExists("idx_sync_failures_unresolved"),
				stmt:     `CREATE INDEX idx_sync_failures_unresolved ON sync_failures (resolved, created_at DESC)`,
			},
		},
	},
	{
		version: 6,
		ops: []operation{
			{
				desc:     "add pages_failed to sync_runs",
				critical: true,
				applied:  columnExists("sync_runs", "pages_failed"),
				stmt:     `ALTER TABLE sync_runs ADD COLUMN pages_failed INTEGER NOT NULL DEFAULT 0`,
			},
		},
	},
}
