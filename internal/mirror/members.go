package mirror

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/model"
)

// UpsertMember creates or updates the membership for (projectID, userID).
// The UNIQUE constraint makes repeated invite/accept sequences idempotent:
// at most one row ever exists per pair. An existing owner row is never
// downgraded by an upsert.
func (s *Store) UpsertMember(m *model.ProjectMember) error {
	existing, err := s.GetUserProjectRole(m.ProjectID, m.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Role == model.RoleOwner {
			// owner permanence: nothing to change
			m.ID = existing.ID
			m.Role = model.RoleOwner
			m.JoinedAt = existing.JoinedAt
			return nil
		}
		m.ID = existing.ID
		m.JoinedAt = existing.JoinedAt
		_, err = s.db.Exec(`UPDATE members SET role = ? WHERE id = ?`, string(m.Role), m.ID)
		if err != nil {
			return fmt.Errorf("failed to update member: %w", err)
		}
		return nil
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.JoinedAt == 0 {
		m.JoinedAt = time.Now().UnixMilli()
	}
	_, err = s.db.Exec(
		`INSERT INTO members (id, project_id, user_id, role, joined_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.UserID, string(m.Role), m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

// GetUserProjectRole is the single authorization primitive: every read or
// mutation of a project must consult it first. Absence means no access.
func (s *Store) GetUserProjectRole(projectID, userID string) (*model.ProjectMember, error) {
	m := &model.ProjectMember{}
	var role string
	err := s.db.QueryRow(
		`SELECT id, project_id, user_id, role, joined_at FROM members WHERE project_id = ? AND user_id = ?`,
		projectID, userID,
	).Scan(&m.ID, &m.ProjectID, &m.UserID, &role, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member role: %w", err)
	}
	m.Role = model.MemberRole(role)
	return m, nil
}

// ListMembers returns all memberships of a project.
func (s *Store) ListMembers(projectID string) ([]*model.ProjectMember, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, user_id, role, joined_at FROM members WHERE project_id = ? ORDER BY joined_at ASC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*model.ProjectMember
	for rows.Next() {
		m := &model.ProjectMember{}
		var role string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = model.MemberRole(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// RemoveMember deletes a membership. The owner membership is not removable
// while the project exists.
func (s *Store) RemoveMember(projectID, userID string) error {
	m, err := s.GetUserProjectRole(projectID, userID)
	if err != nil {
		return err
	}
	if m == nil {
		return perrors.ErrNotFound
	}
	if m.Role == model.RoleOwner {
		return perrors.WithRemediation(perrors.ErrDenied,
			"the project owner cannot be removed; delete the project instead")
	}
	_, err = s.db.Exec(`DELETE FROM members WHERE project_id = ? AND user_id = ?`, projectID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// RekeyMember moves a provisional email-keyed membership onto a real user
// id once that identity authenticates. No-op if no provisional row exists.
func (s *Store) RekeyMember(projectID, email, userID string) error {
	if email == userID {
		return nil
	}
	// If the target key already has a row, drop the provisional one instead
	// of violating the uniqueness constraint.
	existing, err := s.GetUserProjectRole(projectID, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		_, err = s.db.Exec(`DELETE FROM members WHERE project_id = ? AND user_id = ?`, projectID, email)
		return err
	}
	_, err = s.db.Exec(`UPDATE members SET user_id = ? WHERE project_id = ? AND user_id = ?`,
		userID, projectID, email)
	if err != nil {
		return fmt.Errorf("failed to rekey member: %w", err)
	}
	return nil
}
