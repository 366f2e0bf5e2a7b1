package mirror

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/crewdeck/crewdeck/internal/model"
)

// PutComment inserts a comment row. Comments are append-only; there is no
// update path.
func (s *Store) PutComment(projectID string, c *model.Comment) error {
	query := `
	INSERT OR REPLACE INTO comments (id, task_id, project_id, author_id, content, mentions, attachments, task_links, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		c.ID, c.TaskID, projectID, c.AuthorID, c.Content,
		jsonOrNull(c.Mentions), jsonOrNull(c.Attachments), jsonOrNull(c.TaskLinks),
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put comment: %w", err)
	}
	return nil
}

// ListComments returns the comments of a task in creation order.
func (s *Store) ListComments(taskID string) ([]*model.Comment, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, author_id, content, mentions, attachments, task_links, created_at
		 FROM comments WHERE task_id = ? ORDER BY created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*model.Comment
	for rows.Next() {
		c := &model.Comment{}
		var mentions, attachments, links sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Content, &mentions, &attachments, &links, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		if mentions.Valid {
			_ = json.Unmarshal([]byte(mentions.String), &c.Mentions)
		}
		if attachments.Valid {
			_ = json.Unmarshal([]byte(attachments.String), &c.Attachments)
		}
		if links.Valid {
			_ = json.Unmarshal([]byte(links.String), &c.TaskLinks)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
