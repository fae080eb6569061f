package preset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteKV implements KV on the kv_store table.
type SQLiteKV struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteKV creates a KV on an open, migrated database.
func NewSQLiteKV(db *sql.DB) *SQLiteKV {
	return &SQLiteKV{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the value stored under key.
func (k *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := k.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying kv_store: %w", err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (k *SQLiteKV) Set(ctx context.Context, key, value string) error {
	_, err := k.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, k.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing kv_store: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (k *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := k.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting from kv_store: %w", err)
	}
	return nil
}
