package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetState returns the value stored under key, or ErrNotFound.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", &StoreError{Op: "get state", Err: err}
	}
	return v, nil
}

func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return &StoreError{Op: "set state", Err: err}
	}
	return nil
}

// DeleteState removes key. Missing keys are not an error.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_state WHERE key = ?`, key); err != nil {
		return &StoreError{Op: "delete state", Err: err}
	}
	return nil
}

// ClearState removes every session state entry.
func (s *Store) ClearState(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_state`); err != nil {
		return &StoreError{Op: "clear state", Err: err}
	}
	return nil
}
