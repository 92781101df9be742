package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// PutSecret stores an already-encrypted secret under key
func (db *DB) PutSecret(ctx context.Context, key, secret string) error {
	query := `
		INSERT INTO credential_vault (key, secret, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET secret = excluded.secret, updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, key, secret, time.Now()); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// GetSecret returns the encrypted secret stored under key
func (db *DB) GetSecret(ctx context.Context, key string) (string, error) {
	var secret string
	query := `SELECT secret FROM credential_vault WHERE key = ?`
	err := db.GetContext(ctx, &secret, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get secret: %w", err)
	}
	return secret, nil
}

// DeleteSecret removes a secret
func (db *DB) DeleteSecret(ctx context.Context, key string) error {
	query := `DELETE FROM credential_vault WHERE key = ?`
	if _, err := db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
