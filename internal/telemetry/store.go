// Package telemetry records device check-ins so the status surfaces can
// answer "when was the frame last seen, and how is its battery doing".
package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Checkin is one device wake recorded from the WebSocket handler.
type Checkin struct {
	ID           int64
	At           time.Time
	Battery      int
	Mode         string
	Updated      bool
	SleepMinutes int
}

// Store is the SQLite-backed check-in log.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open initializes the database at path, creating the directory and schema
// as needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logger.Debug("failed to set sqlite synchronous=NORMAL", zap.Error(err))
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("telemetry store ready", zap.String("path", path))
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		battery INTEGER NOT NULL,
		mode TEXT NOT NULL,
		updated INTEGER NOT NULL,
		sleep_minutes INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkins_ts ON checkins(ts);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordCheckin appends one check-in. A zero At means now.
func (s *Store) RecordCheckin(ctx context.Context, c Checkin) error {
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	updated := 0
	if c.Updated {
		updated = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkins (ts, battery, mode, updated, sleep_minutes) VALUES (?, ?, ?, ?, ?)`,
		at.Unix(), c.Battery, c.Mode, updated, c.SleepMinutes)
	if err != nil {
		return fmt.Errorf("failed to record checkin: %w", err)
	}
	return nil
}

// LastCheckin returns the most recent check-in, or nil when the device has
// never been seen.
func (s *Store) LastCheckin(ctx context.Context) (*Checkin, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ts, battery, mode, updated, sleep_minutes FROM checkins ORDER BY id DESC LIMIT 1`)
	c, err := scanCheckin(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last checkin: %w", err)
	}
	return &c, nil
}

// RecentCheckins returns up to limit check-ins, newest first.
func (s *Store) RecentCheckins(ctx context.Context, limit int) ([]Checkin, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, battery, mode, updated, sleep_minutes FROM checkins ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkins: %w", err)
	}
	defer rows.Close()

	var out []Checkin
	for rows.Next() {
		c, err := scanCheckin(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkin: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkins: %w", err)
	}
	return out, nil
}

func scanCheckin(scan func(dest ...any) error) (Checkin, error) {
	var c Checkin
	var ts int64
	var updated int
	if err := scan(&c.ID, &ts, &c.Battery, &c.Mode, &updated, &c.SleepMinutes); err != nil {
		return Checkin{}, err
	}
	c.At = time.Unix(ts, 0)
	c.Updated = updated != 0
	return c, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
