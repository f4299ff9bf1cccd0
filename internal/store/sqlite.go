package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	setMaxRetries = 3
	setBaseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writers to avoid SQLITE_BUSY churn
}

// NewSQLite opens (and creates if needed) a SQLite-backed store at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the value stored at key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set overwrites the value at key.
// Retries with exponential backoff when SQLite reports the database as busy.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	var err error
	for i := 0; i < setMaxRetries; i++ {
		err = s.setOnce(ctx, key, value)
		if err == nil {
			return nil
		}
		if !isConflict(err) || i == setMaxRetries-1 {
			break
		}

		delay := setBaseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("Store set failed with SQLITE_BUSY, retrying",
			"key", key,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("set %s: %w", key, ctx.Err())
		}
	}
	return fmt.Errorf("set %s: %w", key, err)
}

func (s *SQLiteStore) setOnce(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, query, key, value, time.Now().Unix())
	return err
}

// isConflict reports a transient lock error (SQLITE_BUSY or SQLITE_LOCKED,
// including their extended codes).
func isConflict(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
