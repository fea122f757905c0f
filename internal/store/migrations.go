package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
// The SQL is kept to the subset shared by SQLite and PostgreSQL.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id                      TEXT PRIMARY KEY,
	task_code               TEXT NOT NULL UNIQUE,
	title                   TEXT NOT NULL,
	description             TEXT NOT NULL DEFAULT '',
	engineer_id             TEXT,
	location_id             TEXT NOT NULL,
	department_id           TEXT NOT NULL,
	system_id               TEXT NOT NULL,
	machine_id              TEXT NOT NULL,
	maintain_all_components INTEGER NOT NULL DEFAULT 0 CHECK(maintain_all_components IN (0, 1)),
	selected_components     TEXT NOT NULL DEFAULT '[]',
	scheduled_year          INTEGER NOT NULL,
	scheduled_month         INTEGER NOT NULL CHECK(scheduled_month BETWEEN 1 AND 12),
	scheduled_day           INTEGER CHECK(scheduled_day BETWEEN 1 AND 31),
	target_key              INTEGER NOT NULL,
	status                  TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'overdue', 'completed', 'cancelled')),
	completed_request_id    TEXT,
	completed_at            TIMESTAMP,
	repetition_interval     TEXT
		CHECK(repetition_interval IN ('weekly', 'monthly', 'quarterly', 'semi_annually')),
	last_generated_at       TIMESTAMP,
	parent_task_id          TEXT,
	created_by              TEXT NOT NULL,
	version                 INTEGER NOT NULL DEFAULT 1,
	created_at              TIMESTAMP NOT NULL,
	updated_at              TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_engineer ON scheduled_tasks(engineer_id);
CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_status ON scheduled_tasks(status);
CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_target ON scheduled_tasks(target_key, task_code);
CREATE UNIQUE INDEX IF NOT EXISTS idx_scheduled_tasks_parent ON scheduled_tasks(parent_task_id);

CREATE TABLE IF NOT EXISTS task_code_counters (
	prefix   TEXT NOT NULL,
	year     INTEGER NOT NULL,
	last_seq INTEGER NOT NULL,
	PRIMARY KEY (prefix, year)
);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS task_events (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	task_code  TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_events_task_id ON task_events(task_id);
CREATE INDEX IF NOT EXISTS idx_task_events_created ON task_events(created_at);
`,
	},
}
