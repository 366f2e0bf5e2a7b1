package mirror

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/crewdeck/crewdeck/internal/model"
)

const taskColumns = `id, project_id, title, description, status, priority, assignee_id, creator_id, start_date, due_date, progress, estimated_hours, actual_hours, tags, attachments, sprint_id, dependencies, position, created_at, updated_at`

// PutTask inserts or replaces a task row.
func (s *Store) PutTask(t *model.Task) error {
	query := `
	INSERT OR REPLACE INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		t.ID, t.ProjectID, t.Title, t.Description, string(t.Status), string(t.Priority),
		sql.NullString{String: t.AssigneeID, Valid: t.AssigneeID != ""},
		t.CreatorID,
		sql.NullInt64{Int64: t.StartDate, Valid: t.StartDate != 0},
		sql.NullInt64{Int64: t.DueDate, Valid: t.DueDate != 0},
		t.Progress, t.EstimatedHours, t.ActualHours,
		jsonOrNull(t.Tags), jsonOrNull(t.Attachments),
		sql.NullString{String: t.SprintID, Valid: t.SprintID != ""},
		jsonOrNull(t.Dependencies),
		t.Position, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put task: %w", err)
	}
	return nil
}

func scanTaskRow(scan func(dest ...any) error) (*model.Task, error) {
	t := &model.Task{}
	var status, priority string
	var assignee, sprintID, tags, attachments, deps sql.NullString
	var startDate, dueDate sql.NullInt64
	err := scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &status, &priority,
		&assignee, &t.CreatorID, &startDate, &dueDate,
		&t.Progress, &t.EstimatedHours, &t.ActualHours,
		&tags, &attachments, &sprintID, &deps,
		&t.Position, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	t.Priority = model.TaskPriority(priority)
	t.AssigneeID = assignee.String
	t.SprintID = sprintID.String
	t.StartDate = startDate.Int64
	t.DueDate = dueDate.Int64
	if tags.Valid {
		_ = json.Unmarshal([]byte(tags.String), &t.Tags)
	}
	if attachments.Valid {
		_ = json.Unmarshal([]byte(attachments.String), &t.Attachments)
	}
	if deps.Valid {
		_ = json.Unmarshal([]byte(deps.String), &t.Dependencies)
	}
	return t, nil
}

// GetTask retrieves a task by id. Returns nil, nil when absent.
func (s *Store) GetTask(id string) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTaskRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks for a project ordered by position.
func (s *Store) ListTasks(projectID string) ([]*model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY position ASC, created_at ASC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task and its comments, mirroring the snapshot-level
// cascade.
func (s *Store) DeleteTask(taskID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM comments WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete task comments: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return tx.Commit()
}
