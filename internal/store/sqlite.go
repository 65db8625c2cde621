// Package store persists user settings in SQLite. Values written here
// override the configuration file and survive restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite settings database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database still answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns a setting.
func (s *Store) Get(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, true, nil
}

// Set writes a setting.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Delete removes a setting and reports whether it existed.
func (s *Store) Delete(key string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("delete setting %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete setting %s: %w", key, err)
	}
	return n > 0, nil
}

// All returns every setting.
func (s *Store) All() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// EngineOption returns an engine option override.
func (s *Store) EngineOption(engineID, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(
		"SELECT value FROM engine_options WHERE engine_id = ? AND key = ?",
		engineID, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get option %s.%s: %w", engineID, key, err)
	}
	return v, true, nil
}

// SetEngineOption writes an engine option override.
func (s *Store) SetEngineOption(engineID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO engine_options (engine_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(engine_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		engineID, key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("set option %s.%s: %w", engineID, key, err)
	}
	return nil
}

// DeleteEngineOption removes an engine option override.
func (s *Store) DeleteEngineOption(engineID, key string) error {
	if _, err := s.db.Exec("DELETE FROM engine_options WHERE engine_id = ? AND key = ?", engineID, key); err != nil {
		return fmt.Errorf("delete option %s.%s: %w", engineID, key, err)
	}
	return nil
}

// EngineOptions returns every override for one engine.
func (s *Store) EngineOptions(engineID string) (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM engine_options WHERE engine_id = ? ORDER BY key", engineID)
	if err != nil {
		return nil, fmt.Errorf("list options for %s: %w", engineID, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
