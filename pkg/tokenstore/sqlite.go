package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore persists tokens in the mirror database so logins and
// installation tokens survive a process restart. It manages its own
// table and can share a *sql.DB with other components.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore prepares the tokens table on the given database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tokens (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			metadata TEXT
		)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.SetToken(ctx, &Token{
		Key:       key,
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	})
}

func (s *SQLiteStore) SetToken(ctx context.Context, tok *Token) error {
	var meta sql.NullString
	if len(tok.Metadata) > 0 {
		data, err := json.Marshal(tok.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal token metadata: %w", err)
		}
		meta = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tokens (key, value, expires_at, metadata)
		VALUES (?, ?, ?, ?)`,
		tok.Key, tok.Value, tok.ExpiresAt.UnixMilli(), meta)
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Token, error) {
	var (
		tok       Token
		expiresAt int64
		meta      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, value, expires_at, metadata FROM tokens WHERE key = ?`, key).
		Scan(&tok.Key, &tok.Value, &expiresAt, &meta)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	tok.ExpiresAt = time.UnixMilli(expiresAt)
	if tok.IsExpired() {
		return nil, ErrTokenExpired
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &tok.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal token metadata: %w", err)
		}
	}
	return &tok, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < ?`,
		time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned tokens: %w", err)
	}
	return int(n), nil
}
