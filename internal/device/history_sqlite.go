package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// Fixed width so stored timestamps compare correctly as strings.
	historyTimeLayout = "2006-01-02T15:04:05.000000Z"
)

// SQLiteHistoryRepository implements HistoryRepository on the
// recording_history table.
type SQLiteHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteHistoryRepository creates a repository on an open database.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Record inserts one history row.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, e HistoryEntry) error {
	if e.HostID == "" {
		return ErrInvalidHostID
	}
	if e.Kind == "" {
		return fmt.Errorf("history kind is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recording_history
		   (host_id, recording_id, kind, action, event_name, timestamp_ns, duration_ns, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.HostID, e.RecordingID, e.Kind, e.Action, e.EventName,
		e.TimestampNs, e.DurationNs, e.Message,
		r.now().UTC().Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting recording history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a device, newest first
// (default 50, max 200).
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, hostID string, limit int) ([]HistoryEntry, error) {
	if hostID == "" {
		return nil, ErrInvalidHostID
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, host_id, recording_id, kind, action, event_name,
		        timestamp_ns, duration_ns, message, created_at
		 FROM recording_history
		 WHERE host_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		hostID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recording history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.HostID, &e.RecordingID, &e.Kind, &e.Action, &e.EventName,
			&e.TimestampNs, &e.DurationNs, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning recording history: %w", err)
		}
		e.CreatedAt, err = parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recording history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan.
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(historyTimeLayout)
	res, err := r.db.ExecContext(ctx, "DELETE FROM recording_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting recording history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	if t, err := time.Parse(historyTimeLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}
