package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite implements Store backed by a local SQLite file. This is the
// default durable backend for single-host deployments: no external
// service, and snapshots survive process restarts.
type SQLite struct {
	config    Config
	db        *sql.DB
	connected bool
}

// NewSQLite creates a new SQLite store
func NewSQLite(config Config) *SQLite {
	if config.Path == "" {
		config.Path = "courier.db"
	}
	return &SQLite{config: config}
}

// Connect opens the database file and creates the schema if missing
func (s *SQLite) Connect() error {
	if s.connected {
		return nil
	}

	db, err := sql.Open("sqlite3", s.config.Path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Single writer; the queue snapshots from one goroutine
	db.SetMaxOpenConns(1)

	schema := `CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create kv_store table: %w", err)
	}

	s.db = db
	s.connected = true
	return nil
}

// Close closes the database
func (s *SQLite) Close() error {
	if !s.connected {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.connected = false
	return nil
}

// Type returns the backend type
func (s *SQLite) Type() string {
	return "sqlite"
}

// Get retrieves a value, treating expired rows as absent
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}

	var value []byte
	var expiresAt int64
	row := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM kv_store WHERE key = ?", key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if expiresAt > 0 && time.Now().Unix() > expiresAt {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key)
		return nil, ErrNotFound
	}
	return value, nil
}

// Put stores a value, replacing any existing row
func (s *SQLite) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.connected {
		return ErrNotConnected
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
		 expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		key, value, expiresAt, time.Now().Unix())
	return err
}

// Delete removes a value
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if !s.connected {
		return ErrNotConnected
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}
