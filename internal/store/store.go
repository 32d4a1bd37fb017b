// Package store persists sources, application records, certificate assets,
// credentials, and settings in a single SQLite database. All writes go
// through one pinned connection, so concurrent writers queue rather than
// interleave.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/sideportal/portalkit"
)

// persistErr tags a database failure so callers can classify the whole
// family with errors.Is(err, portalkit.ErrPersistence).
func persistErr(err error, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), portalkit.ErrPersistence, err)
}

// Store is the persistent state of the application core.
type Store struct {
	db     *sqlx.DB
	sealer *sealer

	// migrateMu guards the one-time source order migration against
	// concurrent first-launch races. It excludes concurrent callers only;
	// there are no nested calls.
	migrateMu sync.Mutex
}

// Open opens (or creates) the database at path and initializes the schema.
// Pass ":memory:" for an ephemeral store. Credential sealing uses keyPath;
// when keyPath is empty an ephemeral key is generated, which is only
// appropriate for in-memory stores and tests.
func Open(path, keyPath string) (*Store, error) {
	dsn := path
	if path == "" || path == ":memory:" {
		// Each :memory: connection is a separate database, so pooling must
		// stay disabled either way.
		dsn = "file::memory:"
	}
	db, err := sqlx.Open("sqlite", dsn+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	s.sealer, err = newSealer(keyPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing credential sealer: %w", err)
	}

	slog.Debug("store opened", "path", path)
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			identifier  TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			url         TEXT NOT NULL,
			icon_url    TEXT NOT NULL DEFAULT '',
			added_at    TIMESTAMP NOT NULL,
			sort_order  INTEGER NOT NULL DEFAULT -1
		)`,
		`CREATE TABLE IF NOT EXISTS apps (
			id                 TEXT PRIMARY KEY,
			identifier         TEXT NOT NULL UNIQUE,
			bundle_identifier  TEXT NOT NULL,
			name               TEXT NOT NULL,
			version            TEXT NOT NULL,
			path               TEXT NOT NULL,
			added_at           TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS certificates (
			id                      TEXT PRIMARY KEY,
			nickname                TEXT NOT NULL DEFAULT '',
			p12                     BLOB NOT NULL,
			provision               BLOB NOT NULL,
			password                BLOB,
			requires_randomization  INTEGER NOT NULL DEFAULT 0,
			added_at                TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			name   TEXT PRIMARY KEY,
			value  BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key    TEXT PRIMARY KEY,
			value  TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// Setting returns the value for key and whether it was present.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, persistErr(err, "reading setting %s", key)
	}
	return value, true, nil
}

// SetSetting stores key=value, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return persistErr(err, "writing setting %s", key)
	}
	return nil
}

// Enable turns on a boolean settings flag. Pipelines use this through the
// settings interface to raise protection flags as side effects.
func (s *Store) Enable(ctx context.Context, flag string) error {
	if err := s.SetSetting(ctx, flag, "true"); err != nil {
		return err
	}
	slog.Info("settings flag enabled", "flag", flag)
	return nil
}

// FlagEnabled reports whether a boolean settings flag is on.
func (s *Store) FlagEnabled(ctx context.Context, flag string) (bool, error) {
	value, ok, err := s.Setting(ctx, flag)
	if err != nil {
		return false, err
	}
	return ok && value == "true", nil
}
