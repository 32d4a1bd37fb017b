package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sideportal/portalkit"
	"github.com/sideportal/portalkit/internal/store"
)

// SignOptions carries per-run signing parameters.
type SignOptions struct {
	// Passphrase unlocks the asset's key material.
	Passphrase string

	// RandomizeIdentifier requests a randomized bundle identifier, required
	// for assets subject to platform anti-abuse checks.
	RandomizeIdentifier bool
}

// Signer is the opaque external signing capability. Implementations sign
// the application bundle at appDir in place, or fail.
type Signer interface {
	Sign(ctx context.Context, appDir string, asset *store.CertificateAsset, opts SignOptions) error
}

// LocalSignPipeline signs a registered package with local key material,
// mutating the record's files in place on success.
type LocalSignPipeline struct {
	Signer Signer

	// Status, when set, is reset at the start of a run and marked ready on
	// success, failed on error.
	Status *InstallStatus
}

// Run signs rec's application bundle with asset. The bundle is copied into
// the run's scratch directory, signed there, and swapped over the original
// only after the signing capability succeeds — a signer failure leaves the
// record's files untouched and surfaces as-is.
func (p *LocalSignPipeline) Run(ctx context.Context, rec *store.AppRecord, asset *store.CertificateAsset) (err error) {
	if p.Status != nil {
		p.Status.Reset()
		defer func() {
			if err != nil {
				_ = p.Status.Fail(err.Error())
			}
		}()
	}

	run, err := Begin("sign")
	if err != nil {
		return err
	}

	var appDir, stagingApp string

	stages := []Stage{
		{Name: "copy", Run: func(ctx context.Context) error {
			if _, statErr := os.Stat(rec.Path); statErr != nil {
				return fmt.Errorf("%w: %s", portalkit.ErrInputNotFound, rec.Path)
			}
			dir, err := findAppDir(rec.Path)
			if err != nil {
				return err
			}
			appDir = dir
			stagingApp = run.Path(filepath.Base(appDir))
			return copyDir(appDir, stagingApp)
		}},
		{Name: "sign", Run: func(ctx context.Context) error {
			opts := SignOptions{
				Passphrase:          asset.Passphrase(),
				RandomizeIdentifier: asset.RequiresIdentifierRandomization,
			}
			return p.Signer.Sign(ctx, stagingApp, asset, opts)
		}},
		{Name: "swap", Run: func(ctx context.Context) error {
			return swapDirs(stagingApp, appDir)
		}},
	}

	if err := run.Execute(ctx, stages); err != nil {
		return err
	}

	if p.Status != nil {
		_ = p.Status.SetReady()
	}
	slog.Info("package signed", "identifier", rec.Identifier, "certificate", asset.ID)
	return nil
}

// swapDirs replaces target with signed, keeping the previous contents next
// to the target until the replacement lands so a failed move can be rolled
// back.
func swapDirs(signed, target string) error {
	previous := target + ".previous"
	if err := os.RemoveAll(previous); err != nil {
		return fmt.Errorf("clearing previous bundle: %w", err)
	}
	if err := os.Rename(target, previous); err != nil {
		return fmt.Errorf("setting aside unsigned bundle: %w", err)
	}
	if err := moveDir(signed, target); err != nil {
		restorePrevious(previous, target)
		return fmt.Errorf("installing signed bundle: %w", err)
	}
	if err := os.RemoveAll(previous); err != nil {
		slog.Warn("removing previous bundle", "path", previous, "error", err)
	}
	return nil
}

// restorePrevious puts the set-aside bundle back at target. A failed move
// can leave a partially populated target behind (cross-device moves copy
// entry by entry), which would make the rename collide, so the remnant is
// discarded first.
func restorePrevious(previous, target string) {
	if err := os.RemoveAll(target); err != nil {
		slog.Warn("clearing partial bundle failed", "path", target, "error", err)
		return
	}
	if err := os.Rename(previous, target); err != nil {
		slog.Warn("restoring unsigned bundle failed", "path", target, "error", err)
	}
}
