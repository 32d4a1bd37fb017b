// Package signer adapts external signing tools to the pipeline's opaque
// signing capability.
package signer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sideportal/portalkit/internal/pipeline"
	"github.com/sideportal/portalkit/internal/store"
)

// Exec invokes a configured external signing command. The asset's key
// material and provisioning profile are written to a private scratch
// directory for the tool's use and removed when the invocation returns.
//
// The command is an argv list; the following flags are appended:
//
//	-k <p12 path> -m <profile path> [-p <passphrase>] [--random-bundle-id] <app dir>
type Exec struct {
	Command []string
}

// Sign runs the external tool against appDir, in place.
func (e *Exec) Sign(ctx context.Context, appDir string, asset *store.CertificateAsset, opts pipeline.SignOptions) error {
	if len(e.Command) == 0 {
		return fmt.Errorf("no signing command configured")
	}

	scratch, err := os.MkdirTemp("", "portalkit-signer-*")
	if err != nil {
		return fmt.Errorf("creating signer scratch directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			slog.Warn("removing signer scratch directory", "dir", scratch, "error", rmErr)
		}
	}()

	p12Path := filepath.Join(scratch, "certificate.p12")
	profilePath := filepath.Join(scratch, "profile.mobileprovision")
	if err := os.WriteFile(p12Path, asset.P12, 0o600); err != nil {
		return fmt.Errorf("staging key material: %w", err)
	}
	if err := os.WriteFile(profilePath, asset.Provision, 0o600); err != nil {
		return fmt.Errorf("staging provisioning profile: %w", err)
	}

	args := append([]string{}, e.Command[1:]...)
	args = append(args, "-k", p12Path, "-m", profilePath)
	if opts.Passphrase != "" {
		args = append(args, "-p", opts.Passphrase)
	}
	if opts.RandomizeIdentifier {
		args = append(args, "--random-bundle-id")
	}
	args = append(args, appDir)

	cmd := exec.CommandContext(ctx, e.Command[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return fmt.Errorf("signing tool: %s: %w", msg, err)
		}
		return fmt.Errorf("signing tool: %w", err)
	}
	return nil
}
