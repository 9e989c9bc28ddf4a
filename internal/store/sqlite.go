package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mwakai/touch-grass/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen_at);

	CREATE TABLE IF NOT EXISTS credentials (
		device_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (device_id, key)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetCredential returns the value stored under key for a device.
func (s *SQLiteStore) GetCredential(ctx context.Context, deviceID, key string) (string, bool, error) {
	query := `SELECT value FROM credentials WHERE device_id = ? AND key = ?`

	var (
		value string
		found bool
	)
	err := withRetry(ctx, "GetCredential", deviceID, func() error {
		err := s.db.QueryRowContext(ctx, query, deviceID, key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("get credential: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// PutCredential creates or replaces a credential value. The owning device row
// is created on first write so the sweeper can find it.
func (s *SQLiteStore) PutCredential(ctx context.Context, deviceID, key, value string) error {
	return withRetry(ctx, "PutCredential", deviceID, func() error {
		now := time.Now().Unix()
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO devices (device_id, last_seen_at, created_at) VALUES (?, ?, ?)
			ON CONFLICT(device_id) DO NOTHING`, deviceID, now, now); err != nil {
			return fmt.Errorf("ensure device: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO credentials (device_id, key, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(device_id, key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`, deviceID, key, value, now); err != nil {
			return fmt.Errorf("upsert credential: %w", err)
		}
		return tx.Commit()
	})
}

// DeleteCredential removes a single credential key.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, deviceID, key string) error {
	return withRetry(ctx, "DeleteCredential", deviceID, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE device_id = ? AND key = ?`, deviceID, key)
		if err != nil {
			return fmt.Errorf("delete credential: %w", err)
		}
		return nil
	})
}

// TouchDevice updates the last_seen_at timestamp for a device, creating it if needed.
func (s *SQLiteStore) TouchDevice(ctx context.Context, deviceID string, seen time.Time) error {
	return withRetry(ctx, "TouchDevice", deviceID, func() error {
		query := `
		INSERT INTO devices (device_id, last_seen_at, created_at) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET last_seen_at = excluded.last_seen_at`
		if _, err := s.db.ExecContext(ctx, query, deviceID, seen.Unix(), seen.Unix()); err != nil {
			return fmt.Errorf("touch device: %w", err)
		}
		return nil
	})
}

// ListStaleDevices returns devices last seen before the cutoff.
func (s *SQLiteStore) ListStaleDevices(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id FROM devices WHERE last_seen_at < ? ORDER BY last_seen_at`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("query stale devices: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close stale devices rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale device row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale devices: %w", err)
	}
	return ids, nil
}

// DeleteDevice removes a device and its credentials.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, deviceID string) error {
	return withRetry(ctx, "DeleteDevice", deviceID, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE device_id = ?`, deviceID); err != nil {
			return fmt.Errorf("delete credentials: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE device_id = ?`, deviceID); err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
		return tx.Commit()
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs op, retrying SQLite busy/locked conflicts with exponential backoff.
func withRetry(ctx context.Context, name, deviceID string, op func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms
		slog.Debug("SQLite conflict, retrying",
			"op", name,
			"device_id", deviceID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s for %s: %w", name, deviceID, err)
}
