package mirror

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/model"
)

var slugRe = regexp.MustCompile(`[^a-z0-9-]+`)

// GenerateSlug converts a project name into a URL-safe slug.
func GenerateSlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = slugRe.ReplaceAllString(s, "")
	// collapse multiple hyphens
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}

const projectColumns = `id, slug, name, description, status, owner_id, allowed_emails, repo_owner, repo_name, doc_path, credentials, created_at, updated_at`

// jsonOrNull marshals v to a nullable TEXT column, mapping empty values to NULL.
func jsonOrNull(v any) sql.NullString {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" || string(b) == "[]" || string(b) == "{}" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// PutProject inserts or replaces a project row (write-through from the
// remote store, or rebuild).
func (s *Store) PutProject(p *model.Project) error {
	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	var creds sql.NullString
	if p.Credentials != nil {
		b, err := json.Marshal(p.Credentials)
		if err != nil {
			return fmt.Errorf("failed to marshal credentials: %w", err)
		}
		creds = sql.NullString{String: string(b), Valid: true}
	}

	query := `
	INSERT OR REPLACE INTO projects (` + projectColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		p.ID, p.Slug, p.Name, p.Description, string(p.Status), p.OwnerID,
		jsonOrNull(p.AllowedEmails),
		p.Container.RepoOwner, p.Container.RepoName, p.Container.DocPath,
		creds, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("project with slug %q already exists", p.Slug)
		}
		return fmt.Errorf("failed to put project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by id. Returns nil, nil when absent.
func (s *Store) GetProject(id string) (*model.Project, error) {
	return s.scanProject(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
}

// GetProjectBySlug retrieves a project by slug. Returns nil, nil when absent.
func (s *Store) GetProjectBySlug(slug string) (*model.Project, error) {
	return s.scanProject(`SELECT `+projectColumns+` FROM projects WHERE slug = ?`, slug)
}

func scanProjectRow(scan func(dest ...any) error) (*model.Project, error) {
	p := &model.Project{}
	var status string
	var allowedEmails, creds sql.NullString
	err := scan(
		&p.ID, &p.Slug, &p.Name, &p.Description, &status, &p.OwnerID,
		&allowedEmails, &p.Container.RepoOwner, &p.Container.RepoName, &p.Container.DocPath,
		&creds, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.ProjectStatus(status)
	if allowedEmails.Valid {
		_ = json.Unmarshal([]byte(allowedEmails.String), &p.AllowedEmails)
	}
	if creds.Valid {
		cs := &model.CredentialSet{}
		if err := json.Unmarshal([]byte(creds.String), cs); err == nil {
			p.Credentials = cs
		}
	}
	return p, nil
}

func (s *Store) scanProject(query string, args ...any) (*model.Project, error) {
	row := s.db.QueryRow(query, args...)
	p, err := scanProjectRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects lists projects, optionally filtered by owner.
func (s *Store) ListProjects(ownerID string) ([]*model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1=1`
	var args []any
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProjectRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListProjectsForUser returns projects where the user holds a membership.
func (s *Store) ListProjectsForUser(userID string) ([]*model.Project, error) {
	query := `
	SELECT ` + prefixedProjectColumns("p") + `
	FROM projects p
	JOIN members m ON m.project_id = p.id
	WHERE m.user_id = ?
	ORDER BY p.updated_at DESC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects for user: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProjectRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func prefixedProjectColumns(alias string) string {
	cols := strings.Split(projectColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// GetProjectsForEmail unions projects where the email is already a
// (possibly provisional) member with projects holding a pending invitation
// for it. This is the login-time gate for email-only identities.
func (s *Store) GetProjectsForEmail(email string) ([]*model.Project, error) {
	query := `
	SELECT DISTINCT ` + prefixedProjectColumns("p") + `
	FROM projects p
	LEFT JOIN members m ON m.project_id = p.id
	LEFT JOIN invitations i ON i.project_id = p.id
	WHERE m.user_id = ? OR (i.email = ? AND i.status = 'pending')
	ORDER BY p.created_at ASC`

	rows, err := s.db.Query(query, email, email)
	if err != nil {
		return nil, fmt.Errorf("failed to search projects for email: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProjectRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateCredentials replaces the embedded credential set for a project.
func (s *Store) UpdateCredentials(projectID string, creds *model.CredentialSet) error {
	var v sql.NullString
	if creds != nil {
		b, err := json.Marshal(creds)
		if err != nil {
			return fmt.Errorf("failed to marshal credentials: %w", err)
		}
		v = sql.NullString{String: string(b), Valid: true}
	}
	res, err := s.db.Exec(`UPDATE projects SET credentials = ?, updated_at = ? WHERE id = ?`,
		v, time.Now().UnixMilli(), projectID)
	if err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.ErrNotFound
	}
	return nil
}

// TouchProject bumps the project's updated_at.
func (s *Store) TouchProject(projectID string) error {
	_, err := s.db.Exec(`UPDATE projects SET updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), projectID)
	if err != nil {
		return fmt.Errorf("failed to touch project: %w", err)
	}
	return nil
}

// DeleteProject removes a project and every row that references it. The
// full cascade (members, tasks, comments, activities, invitations) is the
// invariant; partial cleanup would strand rows the remote store no longer
// knows about.
func (s *Store) DeleteProject(projectID string) error {
	p, err := s.GetProject(projectID)
	if err != nil {
		return err
	}
	if p == nil {
		return perrors.ErrNotFound
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM comments WHERE project_id = ?`,
		`DELETE FROM tasks WHERE project_id = ?`,
		`DELETE FROM activities WHERE project_id = ?`,
		`DELETE FROM invitations WHERE project_id = ?`,
		`DELETE FROM members WHERE project_id = ?`,
		`DELETE FROM projects WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, projectID); err != nil {
			return fmt.Errorf("failed to cascade project delete: %w", err)
		}
	}

	return tx.Commit()
}
