package mirror

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// migrate brings the schema up to the current version. The version is read
// once, up front, and each step runs only when the database is behind it.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := s.migrateV2(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("unexpected schema version %q: %w", v, err)
	}
	return n, nil
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id             TEXT PRIMARY KEY,
		slug           TEXT NOT NULL UNIQUE,
		name           TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'active',
		owner_id       TEXT NOT NULL,
		allowed_emails TEXT,
		repo_owner     TEXT NOT NULL DEFAULT '',
		repo_name      TEXT NOT NULL DEFAULT '',
		doc_path       TEXT NOT NULL DEFAULT '',
		credentials    TEXT,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);

	CREATE TABLE IF NOT EXISTS members (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		user_id    TEXT NOT NULL,
		role       TEXT NOT NULL,
		joined_at  INTEGER NOT NULL,
		UNIQUE (project_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_members_user ON members(user_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id              TEXT PRIMARY KEY,
		project_id      TEXT NOT NULL REFERENCES projects(id),
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'todo',
		priority        TEXT NOT NULL DEFAULT 'medium',
		assignee_id     TEXT,
		creator_id      TEXT NOT NULL,
		start_date      INTEGER,
		due_date        INTEGER,
		progress        INTEGER NOT NULL DEFAULT 0,
		estimated_hours REAL NOT NULL DEFAULT 0,
		actual_hours    REAL NOT NULL DEFAULT 0,
		tags            TEXT,
		attachments     TEXT,
		sprint_id       TEXT,
		dependencies    TEXT,
		position        INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id);

	CREATE TABLE IF NOT EXISTS comments (
		id          TEXT PRIMARY KEY,
		task_id     TEXT NOT NULL,
		project_id  TEXT NOT NULL REFERENCES projects(id),
		author_id   TEXT NOT NULL,
		content     TEXT NOT NULL,
		mentions    TEXT,
		attachments TEXT,
		task_links  TEXT,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_comments_task ON comments(task_id);

	CREATE TABLE IF NOT EXISTS activities (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL REFERENCES projects(id),
		user_id     TEXT,
		type        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		entity_id   TEXT,
		metadata    TEXT,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activities_project ON activities(project_id, created_at);

	CREATE TABLE IF NOT EXISTS invitations (
		id           TEXT PRIMARY KEY,
		project_id   TEXT NOT NULL REFERENCES projects(id),
		email        TEXT NOT NULL,
		role         TEXT NOT NULL,
		inviter_name TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'pending',
		created_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invitations_email ON invitations(email, status);
	CREATE INDEX IF NOT EXISTS idx_invitations_project ON invitations(project_id);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}

func (s *Store) migrateV2() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage (
		user_id    TEXT PRIMARY KEY,
		calls      INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}
