package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// AppRecord is a registered application package in the library.
type AppRecord struct {
	// ID is a generated UUID naming the record's library directory.
	ID string `db:"id"`

	// Identifier is the dedup key derived from the package contents
	// (bundle identifier plus version).
	Identifier string `db:"identifier"`

	BundleIdentifier string    `db:"bundle_identifier"`
	Name             string    `db:"name"`
	Version          string    `db:"version"`
	Path             string    `db:"path"`
	AddedAt          time.Time `db:"added_at"`
}

// AddRecord registers an application record. A record whose identifier is
// already present is left untouched and the call succeeds (no-op), matching
// the duplicate-tolerant import contract.
func (s *Store) AddRecord(ctx context.Context, rec AppRecord) error {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO apps (id, identifier, bundle_identifier, name, version, path, added_at)
		VALUES (:id, :identifier, :bundle_identifier, :name, :version, :path, :added_at)
	`, rec)
	if err != nil {
		return persistErr(err, "registering app record %s", rec.Identifier)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		slog.Debug("duplicate app record ignored", "identifier", rec.Identifier)
	}
	return nil
}

// Exists reports whether an app record with the given derived identifier is
// registered.
func (s *Store) Exists(ctx context.Context, identifier string) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM apps WHERE identifier = ?", identifier); err != nil {
		return false, persistErr(err, "checking app record %s", identifier)
	}
	return count > 0, nil
}

// ListRecords returns all app records, newest first.
func (s *Store) ListRecords(ctx context.Context) ([]AppRecord, error) {
	var records []AppRecord
	if err := s.db.SelectContext(ctx, &records, "SELECT * FROM apps ORDER BY added_at DESC, identifier"); err != nil {
		return nil, persistErr(err, "listing app records")
	}
	return records, nil
}

// GetRecord returns the app record with the given ID, or nil when absent.
func (s *Store) GetRecord(ctx context.Context, id string) (*AppRecord, error) {
	var rec AppRecord
	err := s.db.GetContext(ctx, &rec, "SELECT * FROM apps WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr(err, "getting app record %s", id)
	}
	return &rec, nil
}

// RemoveRecord deletes an app record by ID. The library directory is the
// caller's to remove.
func (s *Store) RemoveRecord(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM apps WHERE id = ?", id); err != nil {
		return persistErr(err, "removing app record %s", id)
	}
	return nil
}
