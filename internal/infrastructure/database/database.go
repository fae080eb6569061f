package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/pimonitor/pimonitor-core/internal/infrastructure/config"
)

// MemoryPath opens a private in-memory database. Used by tests and by
// deployments that do not need presets or history to survive a restart.
const MemoryPath = ":memory:"

const (
	dirPermissions  = 0750
	filePermissions = 0600

	pingTimeout     = 5 * time.Second
	connMaxIdleTime = 30 * time.Minute
)

// DB wraps a sql.DB connection to the monitor's SQLite file.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the SQLite database described by cfg, creating the
// parent directory and the file when needed. The pool is limited to a
// single connection since SQLite allows one writer.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	dsn := MemoryPath
	if cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		// See: https://github.com/mattn/go-sqlite3#connection-string
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
			cfg.Path, cfg.BusyTimeout*int(time.Second/time.Millisecond))
		if cfg.WALMode {
			dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	if cfg.Path != MemoryPath {
		// An in-memory database disappears with its connection.
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if cfg.Path != MemoryPath {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // file may appear on first write
	}

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to prove the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
