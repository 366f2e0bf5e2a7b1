package mirror

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/crewdeck/crewdeck/internal/model"
)

// RecordUsage increments the API call counter for a user.
func (s *Store) RecordUsage(userID string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
	INSERT INTO usage (user_id, calls, updated_at) VALUES (?, 1, ?)
	ON CONFLICT(user_id) DO UPDATE SET calls = calls + 1, updated_at = excluded.updated_at`,
		userID, now)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// GetUsage returns the usage record for a user. Returns nil, nil when the
// user has never made a call.
func (s *Store) GetUsage(userID string) (*model.UsageRecord, error) {
	u := &model.UsageRecord{}
	err := s.db.QueryRow(`SELECT user_id, calls, updated_at FROM usage WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.Calls, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return u, nil
}
