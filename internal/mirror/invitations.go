package mirror

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
	"github.com/crewdeck/crewdeck/internal/model"
)

const invitationColumns = `id, project_id, email, role, inviter_name, status, created_at`

// CreateInvitation inserts a new pending invitation.
func (s *Store) CreateInvitation(inv *model.Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt == 0 {
		inv.CreatedAt = time.Now().UnixMilli()
	}
	if inv.Status == "" {
		inv.Status = model.InvitePending
	}

	query := `INSERT INTO invitations (` + invitationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query,
		inv.ID, inv.ProjectID, inv.Email, string(inv.Role), inv.InviterName,
		string(inv.Status), inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

func scanInvitation(scan func(dest ...any) error) (*model.Invitation, error) {
	inv := &model.Invitation{}
	var role, status string
	err := scan(&inv.ID, &inv.ProjectID, &inv.Email, &role, &inv.InviterName, &status, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	inv.Role = model.MemberRole(role)
	inv.Status = model.InvitationStatus(status)
	return inv, nil
}

// GetInvitation retrieves an invitation by id. Returns nil, nil when absent.
func (s *Store) GetInvitation(id string) (*model.Invitation, error) {
	row := s.db.QueryRow(`SELECT `+invitationColumns+` FROM invitations WHERE id = ?`, id)
	inv, err := scanInvitation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations lists invitations for a project.
func (s *Store) ListInvitations(projectID string) ([]*model.Invitation, error) {
	rows, err := s.db.Query(
		`SELECT `+invitationColumns+` FROM invitations WHERE project_id = ? ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()
	return collectInvitations(rows)
}

// PendingInvitationsForEmail returns every pending invitation addressed to
// the email, oldest first so credential inheritance picks the earliest
// inviting project.
func (s *Store) PendingInvitationsForEmail(email string) ([]*model.Invitation, error) {
	rows, err := s.db.Query(
		`SELECT `+invitationColumns+` FROM invitations WHERE email = ? AND status = 'pending' ORDER BY created_at ASC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending invitations: %w", err)
	}
	defer rows.Close()
	return collectInvitations(rows)
}

func collectInvitations(rows *sql.Rows) ([]*model.Invitation, error) {
	var invs []*model.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// TransitionInvitation moves a pending invitation into a terminal state.
// The WHERE guard enforces that terminal states never transition again.
func (s *Store) TransitionInvitation(id string, to model.InvitationStatus) error {
	if !to.Terminal() {
		return perrors.ErrInvalidInput
	}
	res, err := s.db.Exec(
		`UPDATE invitations SET status = ? WHERE id = ? AND status = 'pending'`,
		string(to), id,
	)
	if err != nil {
		return fmt.Errorf("failed to transition invitation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		inv, err := s.GetInvitation(id)
		if err != nil {
			return err
		}
		if inv == nil {
			return perrors.ErrNotFound
		}
		return perrors.ErrAlreadyProcessed
	}
	return nil
}

// DeleteInvitation removes an invitation row. Deleting an unknown id is a
// no-op.
func (s *Store) DeleteInvitation(id string) error {
	if _, err := s.db.Exec(`DELETE FROM invitations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete invitation: %w", err)
	}
	return nil
}
