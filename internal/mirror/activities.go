package mirror

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crewdeck/crewdeck/internal/model"
)

// AddActivity appends to the audit trail. Records are never mutated.
func (s *Store) AddActivity(a *model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixMilli()
	}

	query := `INSERT INTO activities (id, project_id, user_id, type, description, entity_id, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query,
		a.ID, a.ProjectID,
		sql.NullString{String: a.UserID, Valid: a.UserID != ""},
		string(a.Type), a.Description,
		sql.NullString{String: a.EntityID, Valid: a.EntityID != ""},
		jsonOrNull(a.Metadata),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add activity: %w", err)
	}
	return nil
}

// ListActivities lists the most recent activities for a project.
func (s *Store) ListActivities(projectID string, limit int) ([]*model.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, project_id, user_id, type, description, entity_id, metadata, created_at
		 FROM activities WHERE project_id = ? ORDER BY created_at DESC LIMIT ?`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var acts []*model.Activity
	for rows.Next() {
		a := &model.Activity{}
		var userID, entityID, metadata sql.NullString
		var typ string
		if err := rows.Scan(&a.ID, &a.ProjectID, &userID, &typ, &a.Description, &entityID, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Type = model.ActivityType(typ)
		a.UserID = userID.String
		a.EntityID = entityID.String
		if metadata.Valid {
			_ = json.Unmarshal([]byte(metadata.String), &a.Metadata)
		}
		acts = append(acts, a)
	}
	return acts, rows.Err()
}
