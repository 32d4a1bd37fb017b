package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// UnorderedSentinel marks a source record that has not been assigned a sort
// position yet. Records created before ordering existed carry it until the
// one-time migration runs.
const UnorderedSentinel = -1

// sourceOrdersMigratedKey is the persisted completion flag for the one-time
// source order migration.
const sourceOrdersMigratedKey = "sourceOrdersMigrated"

// FlagIdentifierRandomization is the global protection setting raised when
// imported certificate material is subject to platform anti-abuse checks.
const FlagIdentifierRandomization = "identifierRandomization"

// SourceRecord is a reference to a remote feed of installable packages.
type SourceRecord struct {
	Identifier string    `db:"identifier"`
	Name       string    `db:"name"`
	URL        string    `db:"url"`
	IconURL    string    `db:"icon_url"`
	AddedAt    time.Time `db:"added_at"`
	SortOrder  int       `db:"sort_order"`
}

// FeedInfo is the subset of remote feed metadata the store needs to create a
// source record.
type FeedInfo struct {
	Identifier string
	Name       string
	IconURL    string
}

// FeedFetcher fetches and parses feed metadata at a URL. Implementations
// live outside the store; failures are downgraded, never propagated.
type FeedFetcher func(ctx context.Context, url string) (*FeedInfo, error)

// AddSource registers a remote source. The identifier is derived from the
// feed contents when the feed is reachable, else from identifierHint, else
// from the URL string. If a record with the resolved identifier already
// exists the call is a success no-op. Feed fetch or parse failures are
// swallowed: a minimal placeholder record named "Unknown" is stored instead,
// so adding a source never fails on network or format errors.
func (s *Store) AddSource(ctx context.Context, fetch FeedFetcher, url, nameHint, identifierHint string) error {
	var info *FeedInfo
	if fetch != nil {
		fetched, err := fetch(ctx, url)
		if err != nil {
			slog.Warn("feed unreachable, storing placeholder source", "url", url, "error", err)
		} else {
			info = fetched
		}
	}

	identifier := url
	if identifierHint != "" {
		identifier = identifierHint
	}
	if info != nil && info.Identifier != "" {
		identifier = info.Identifier
	}

	exists, err := s.sourceExists(ctx, identifier)
	if err != nil {
		return err
	}
	if exists {
		slog.Debug("source already present, skipping", "identifier", identifier)
		return nil
	}

	name := "Unknown"
	if nameHint != "" {
		name = nameHint
	}
	iconURL := ""
	if info != nil {
		if info.Name != "" {
			name = info.Name
		}
		iconURL = info.IconURL
	}

	// New sources append to the end: max(existing orders)+1, or 0 when the
	// table is empty (COALESCE over -1 covers both).
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sources (identifier, name, url, icon_url, added_at, sort_order)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(sort_order), -1) + 1 FROM sources))
	`, identifier, name, url, iconURL, time.Now().UTC())
	if err != nil {
		return persistErr(err, "adding source %s", identifier)
	}

	slog.Info("source added", "identifier", identifier, "name", name)
	return nil
}

func (s *Store) sourceExists(ctx context.Context, identifier string) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM sources WHERE identifier = ?", identifier); err != nil {
		return false, persistErr(err, "checking source %s", identifier)
	}
	return count > 0, nil
}

// ListSources returns all source records ordered by sort position, with
// unordered records last by creation time.
func (s *Store) ListSources(ctx context.Context) ([]SourceRecord, error) {
	var records []SourceRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT * FROM sources
		ORDER BY CASE WHEN sort_order = ? THEN 1 ELSE 0 END, sort_order, added_at, identifier
	`, UnorderedSentinel)
	if err != nil {
		return nil, persistErr(err, "listing sources")
	}
	return records, nil
}

// RemoveSource deletes a source record by identifier.
func (s *Store) RemoveSource(ctx context.Context, identifier string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sources WHERE identifier = ?", identifier); err != nil {
		return persistErr(err, "removing source %s", identifier)
	}
	return nil
}

// Reorder assigns dense zero-based sort positions matching the given
// identifier sequence, in one transaction. An unknown identifier fails the
// whole transaction: no partial reorder is ever visible.
func (s *Store) Reorder(ctx context.Context, identifiers []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistErr(err, "starting reorder")
	}
	defer func() { _ = tx.Rollback() }()

	for position, identifier := range identifiers {
		res, err := tx.ExecContext(ctx, "UPDATE sources SET sort_order = ? WHERE identifier = ?", position, identifier)
		if err != nil {
			return persistErr(err, "reordering source %s", identifier)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return persistErr(err, "reordering source %s", identifier)
		}
		if affected == 0 {
			return fmt.Errorf("reordering: unknown source %s", identifier)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr(err, "committing reorder")
	}
	return nil
}

// InitializeOrders runs the one-time sort order migration: records created
// before ordering existed carry the unordered sentinel and are assigned
// dense positions by creation time. The persisted completion flag is set
// only after a successful persist, so a failed migration is retried on the
// next call (at-least-once). Returns whether this call performed the
// assignment pass.
func (s *Store) InitializeOrders(ctx context.Context) (bool, error) {
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	done, err := s.FlagEnabled(ctx, sourceOrdersMigratedKey)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	var records []SourceRecord
	err = s.db.SelectContext(ctx, &records, "SELECT * FROM sources ORDER BY added_at, identifier")
	if err != nil {
		return false, persistErr(err, "loading sources for migration")
	}

	needsMigration := false
	for _, rec := range records {
		if rec.SortOrder == UnorderedSentinel {
			needsMigration = true
			break
		}
	}

	migrated := false
	if needsMigration {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return false, persistErr(err, "starting order migration")
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()
		for position, rec := range records {
			if _, err := tx.ExecContext(ctx, "UPDATE sources SET sort_order = ? WHERE identifier = ?", position, rec.Identifier); err != nil {
				return false, persistErr(err, "migrating source order for %s", rec.Identifier)
			}
		}
		if err := tx.Commit(); err != nil {
			return false, persistErr(err, "committing order migration")
		}
		committed = true
		migrated = true
		slog.Info("source orders migrated", "count", len(records))
	}

	// Flag only after the persist above succeeded. A failure before this
	// point leaves the flag unset and the migration retried next launch.
	if err := s.SetSetting(ctx, sourceOrdersMigratedKey, "true"); err != nil {
		return migrated, err
	}
	return migrated, nil
}
