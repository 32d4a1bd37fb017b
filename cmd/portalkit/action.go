package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sideportal/portalkit"
	"github.com/sideportal/portalkit/internal/actions"
	"github.com/sideportal/portalkit/internal/pipeline"
)

var actionExportAsset string

var actionCmd = &cobra.Command{
	Use:   "action <url>",
	Short: "Execute a custom scheme action URL",
	Long: `Execute a portalkit:// action URL.

Supported actions: import-certificate (base64 key material, provisioning
profile, and passphrase as query parameters), export-certificate (callback
URL template with $(BASE64_CERT) and $(PASSWORD) placeholders, printed
filled-in), and source (add a source by URL or domain).`,
	Example: `  portalkit action "portalkit://source?url=https://repo.example.com"
  portalkit action "portalkit://import-certificate?p12=...&provision=...&password=..."
  portalkit action "portalkit://export-certificate?callback_template=..." --asset 9f1d3c88-...`,
	Args: cobra.ExactArgs(1),
	RunE: runAction,
}

func init() {
	actionCmd.Flags().StringVar(&actionExportAsset, "asset", "", "Certificate asset ID for export-certificate actions")
}

func runAction(cmd *cobra.Command, args []string) error {
	action, err := actions.Parse(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx := cmd.Context()

	switch a := action.(type) {
	case *actions.ImportCertificate:
		importer := &pipeline.CertificateImporter{Certs: s, Settings: s}
		asset, err := importer.Import(ctx, pipeline.CertificateImportInput{
			Key:        a.Key,
			Provision:  a.Provision,
			Passphrase: a.Passphrase,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Imported certificate %q (%s)\n", asset.Nickname, asset.ID)
		return nil

	case *actions.ExportCertificate:
		if actionExportAsset == "" {
			return fmt.Errorf("export-certificate requires --asset")
		}
		asset, err := s.GetCertificate(ctx, actionExportAsset)
		if err != nil {
			return err
		}
		if asset == nil {
			return fmt.Errorf("no certificate asset %s", actionExportAsset)
		}

		staging, err := os.MkdirTemp("", "portalkit-action-*")
		if err != nil {
			return fmt.Errorf("creating staging directory: %w", err)
		}
		defer func() { _ = os.RemoveAll(staging) }()

		keyPath := filepath.Join(staging, "certificate.p12")
		provisionPath := filepath.Join(staging, "profile.mobileprovision")
		if err := os.WriteFile(keyPath, asset.P12, 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(provisionPath, asset.Provision, 0o600); err != nil {
			return err
		}
		bundlePath := filepath.Join(staging, "export"+portalkit.BundleExtension)
		if _, err := portalkit.EncodeBundle(portalkit.EncodeBundleInput{
			KeyPath:       keyPath,
			ProvisionPath: provisionPath,
			HasPassphrase: asset.Passphrase() != "",
			Nickname:      asset.Nickname,
			OutputPath:    bundlePath,
		}); err != nil {
			return err
		}
		bundle, err := os.ReadFile(bundlePath)
		if err != nil {
			return err
		}

		fmt.Println(actions.ExpandCallback(a.CallbackTemplate, bundle, asset.Passphrase()))
		return nil

	case *actions.AddSource:
		if _, err := s.InitializeOrders(ctx); err != nil {
			return err
		}
		if err := s.AddSource(ctx, sourceFetcher(s), a.URL, "", ""); err != nil {
			return err
		}
		fmt.Printf("Added %s\n", a.URL)
		return nil

	default:
		return fmt.Errorf("unhandled action type %T", action)
	}
}
