package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"howett.net/plist"

	"github.com/sideportal/portalkit"
	"github.com/sideportal/portalkit/internal/store"
)

// AppLibrary is the app-record persistence the import pipeline writes into.
type AppLibrary interface {
	AddRecord(ctx context.Context, rec store.AppRecord) error
	Exists(ctx context.Context, identifier string) (bool, error)
}

// PackageImporter ingests application packages into the canonical library
// location and registers them.
type PackageImporter struct {
	Apps       AppLibrary
	LibraryDir string

	// Limits bounds package extraction; zero value means defaults.
	Limits portalkit.ArchiveLimits

	// Status, when set, is driven through the install state machine:
	// reset at the start of a run, ready on success, failed on error.
	Status *InstallStatus
}

// appManifest is the subset of a package's Info.plist the importer reads.
type appManifest struct {
	CFBundleIdentifier         string `plist:"CFBundleIdentifier"`
	CFBundleName               string `plist:"CFBundleName"`
	CFBundleDisplayName        string `plist:"CFBundleDisplayName"`
	CFBundleShortVersionString string `plist:"CFBundleShortVersionString"`
	CFBundleVersion            string `plist:"CFBundleVersion"`
}

func (m *appManifest) displayName() string {
	if m.CFBundleDisplayName != "" {
		return m.CFBundleDisplayName
	}
	if m.CFBundleName != "" {
		return m.CFBundleName
	}
	return m.CFBundleIdentifier
}

func (m *appManifest) version() string {
	if m.CFBundleShortVersionString != "" {
		return m.CFBundleShortVersionString
	}
	return m.CFBundleVersion
}

// Import runs the package import pipeline: copy input, extract the archive,
// move the payload into the canonical library location, register a record.
// A package whose derived identifier is already registered is a success
// no-op and returns a nil record. The scratch directory is removed on every
// exit path and a failed run leaves no partial library entry behind.
func (p *PackageImporter) Import(ctx context.Context, inputPath string) (rec *store.AppRecord, err error) {
	if p.Status != nil {
		p.Status.Reset()
		defer func() {
			if err != nil {
				_ = p.Status.Fail(err.Error())
			}
		}()
	}

	run, err := Begin("import")
	if err != nil {
		return nil, err
	}

	limits := p.Limits
	if limits == (portalkit.ArchiveLimits{}) {
		limits = portalkit.DefaultArchiveLimits()
	}

	var (
		workCopy  = run.Path("package" + filepath.Ext(inputPath))
		extracted = run.Path("extracted")
		manifest  appManifest
		appDir    string
		duplicate bool
	)

	stages := []Stage{
		{Name: "copy", Run: func(ctx context.Context) error {
			if _, statErr := os.Stat(inputPath); statErr != nil {
				return fmt.Errorf("%w: %s", portalkit.ErrInputNotFound, inputPath)
			}
			return copyFile(inputPath, workCopy)
		}},
		{Name: "extract", Run: func(ctx context.Context) error {
			if err := portalkit.ExtractZip(workCopy, extracted, limits); err != nil {
				return fmt.Errorf("corrupt package archive: %w", err)
			}
			payload := filepath.Join(extracted, "Payload")
			dir, err := findAppDir(payload)
			if err != nil {
				return fmt.Errorf("corrupt package archive: %w", err)
			}
			appDir = dir
			return readManifest(filepath.Join(appDir, "Info.plist"), &manifest)
		}},
		{Name: "register", Run: func(ctx context.Context) error {
			identifier := manifest.CFBundleIdentifier + "@" + manifest.version()
			exists, err := p.Apps.Exists(ctx, identifier)
			if err != nil {
				return err
			}
			if exists {
				// Duplicate identifier is tolerated: success no-op, the
				// extracted copy is discarded with the scratch directory.
				slog.Info("package already registered, skipping", "identifier", identifier)
				duplicate = true
				return nil
			}

			id := uuid.NewString()
			destDir := filepath.Join(p.LibraryDir, id)
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return fmt.Errorf("creating library entry: %w", err)
			}
			run.UndoOnFailure(destDir)

			if err := moveDir(appDir, filepath.Join(destDir, filepath.Base(appDir))); err != nil {
				return fmt.Errorf("moving package into library: %w", err)
			}
			if err := copyFile(workCopy, filepath.Join(destDir, filepath.Base(inputPath))); err != nil {
				return fmt.Errorf("archiving original package: %w", err)
			}

			candidate := store.AppRecord{
				ID:               id,
				Identifier:       identifier,
				BundleIdentifier: manifest.CFBundleIdentifier,
				Name:             manifest.displayName(),
				Version:          manifest.version(),
				Path:             destDir,
				AddedAt:          time.Now().UTC(),
			}
			if err := p.Apps.AddRecord(ctx, candidate); err != nil {
				return err
			}
			rec = &candidate
			return nil
		}},
	}

	if err := run.Execute(ctx, stages); err != nil {
		return nil, err
	}

	if p.Status != nil && !duplicate {
		_ = p.Status.SetReady()
	}
	if rec != nil {
		slog.Info("package imported", "identifier", rec.Identifier, "name", rec.Name, "id", rec.ID)
	}
	return rec, nil
}

// readManifest decodes an Info.plist (binary or XML) into out.
func readManifest(path string, out *appManifest) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading package manifest: %w", err)
	}
	if _, err := plist.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing package manifest: %w", err)
	}
	if out.CFBundleIdentifier == "" {
		return fmt.Errorf("package manifest missing bundle identifier")
	}
	return nil
}
