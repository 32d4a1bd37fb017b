package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sideportal/portalkit"
	"github.com/sideportal/portalkit/internal/store"
)

// CertRegistry is the persistence certificate import writes into.
type CertRegistry interface {
	AddCertificate(ctx context.Context, asset *store.CertificateAsset, passphrase string) error
}

// Settings is the injected settings service used for pipeline side effects.
type Settings interface {
	Enable(ctx context.Context, flag string) error
}

// CertificateImporter ingests signing material and registers it as a
// certificate asset.
type CertificateImporter struct {
	Certs    CertRegistry
	Settings Settings
}

// CertificateImportInput names the signing material to import. Key material
// and profile may be given as file paths or as raw contents; contents take
// precedence when both are set (URL-scheme imports carry bytes, not files).
type CertificateImportInput struct {
	KeyPath       string
	ProvisionPath string
	Key           []byte
	Provision     []byte
	Passphrase    string
	Nickname      string
}

// Import runs the certificate import pipeline: copy the source files into
// the run's scratch directory, parse and validate them, register the asset.
// When the imported material is subject to platform anti-abuse checks the
// global identifier randomization flag is enabled through the settings
// service as a side effect.
func (i *CertificateImporter) Import(ctx context.Context, in CertificateImportInput) (asset *store.CertificateAsset, err error) {
	run, err := Begin("importcert")
	if err != nil {
		return nil, err
	}

	var (
		key       []byte
		provision []byte
		info      *portalkit.KeyMaterialInfo
		profile   *portalkit.ProvisioningProfile
	)

	stages := []Stage{
		{Name: "copy", Run: func(ctx context.Context) error {
			var copyErr error
			key, copyErr = stageInput(run, "certificate.p12", in.Key, in.KeyPath, portalkit.ErrMissingKeyMaterial)
			if copyErr != nil {
				return copyErr
			}
			provision, copyErr = stageInput(run, "profile.mobileprovision", in.Provision, in.ProvisionPath, portalkit.ErrMissingProvisioningProfile)
			return copyErr
		}},
		{Name: "parse", Run: func(ctx context.Context) error {
			var parseErr error
			info, parseErr = portalkit.DecodeKeyMaterial(key, in.Passphrase)
			if parseErr != nil {
				return parseErr
			}
			profile, parseErr = portalkit.ParseProvisioningProfile(provision)
			return parseErr
		}},
		{Name: "register", Run: func(ctx context.Context) error {
			nickname := in.Nickname
			if nickname == "" {
				nickname = info.CommonName
			}
			candidate := &store.CertificateAsset{
				ID:                              uuid.NewString(),
				Nickname:                        nickname,
				P12:                             key,
				Provision:                       provision,
				RequiresIdentifierRandomization: profile.RequiresIdentifierRandomization(),
				AddedAt:                         time.Now().UTC(),
			}
			if err := i.Certs.AddCertificate(ctx, candidate, in.Passphrase); err != nil {
				return err
			}
			if candidate.RequiresIdentifierRandomization {
				if err := i.Settings.Enable(ctx, store.FlagIdentifierRandomization); err != nil {
					return err
				}
			}
			asset = candidate
			return nil
		}},
	}

	if err := run.Execute(ctx, stages); err != nil {
		return nil, err
	}

	slog.Info("certificate imported", "id", asset.ID, "nickname", asset.Nickname,
		"randomization", asset.RequiresIdentifierRandomization)
	return asset, nil
}

// stageInput materializes one input in the run's scratch directory and
// returns its contents. Raw contents win over a path; a missing path
// surfaces as the given sentinel error.
func stageInput(run *Run, name string, raw []byte, path string, missing error) ([]byte, error) {
	if len(raw) > 0 {
		if err := os.WriteFile(run.Path(name), raw, 0o600); err != nil {
			return nil, fmt.Errorf("staging %s: %w", name, err)
		}
		return raw, nil
	}
	if path == "" {
		return nil, missing
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", missing, path)
	}
	if err := copyFile(path, run.Path(name)); err != nil {
		return nil, fmt.Errorf("staging %s: %w", name, err)
	}
	data, err := os.ReadFile(run.Path(name))
	if err != nil {
		return nil, fmt.Errorf("reading staged %s: %w", name, err)
	}
	return data, nil
}
