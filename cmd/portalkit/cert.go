package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sideportal/portalkit"
	"github.com/sideportal/portalkit/internal/pipeline"
)

var (
	certImportPassword string
	certImportNickname string
	certExportOut      string
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Manage signing certificate assets",
}

var certImportCmd = &cobra.Command{
	Use:   "import <p12> <mobileprovision>",
	Short: "Import signing material as a certificate asset",
	Long:  "Validate and register a PKCS#12 key material file together with its provisioning profile. Importing material subject to platform anti-abuse checks automatically enables the identifier randomization protection setting.",
	Example: `  portalkit cert import dev.p12 dev.mobileprovision
  portalkit cert import dev.p12 dev.mobileprovision -p secret -n "Ad hoc 2026"`,
	Args: cobra.ExactArgs(2),
	RunE: runCertImport,
}

var certExportCmd = &cobra.Command{
	Use:   "export <asset-id>",
	Short: "Export a certificate asset as a portable bundle",
	Long:  "Pack a stored certificate asset into a portable " + portalkit.BundleExtension + " bundle. The passphrase is never embedded in the bundle.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCertExport,
}

var certListCmd = &cobra.Command{
	Use:   "list",
	Short: "List certificate assets",
	Args:  cobra.NoArgs,
	RunE:  runCertList,
}

var certRemoveCmd = &cobra.Command{
	Use:   "remove <asset-id>",
	Short: "Delete a certificate asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runCertRemove,
}

func init() {
	certImportCmd.Flags().StringVarP(&certImportPassword, "password", "p", "", "Key material passphrase")
	certImportCmd.Flags().StringVarP(&certImportNickname, "nickname", "n", "", "Nickname for the asset (default: certificate common name)")
	certExportCmd.Flags().StringVarP(&certExportOut, "out", "o", "", "Output path (default: <nickname>"+portalkit.BundleExtension+")")

	certCmd.AddCommand(certImportCmd)
	certCmd.AddCommand(certExportCmd)
	certCmd.AddCommand(certListCmd)
	certCmd.AddCommand(certRemoveCmd)
}

func runCertImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	importer := &pipeline.CertificateImporter{Certs: s, Settings: s}
	asset, err := importer.Import(cmd.Context(), pipeline.CertificateImportInput{
		KeyPath:       args[0],
		ProvisionPath: args[1],
		Passphrase:    certImportPassword,
		Nickname:      certImportNickname,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Imported certificate %q (%s)\n", asset.Nickname, asset.ID)
	if asset.RequiresIdentifierRandomization {
		fmt.Println("Identifier randomization protection enabled")
	}
	return nil
}

func runCertExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	asset, err := s.GetCertificate(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("no certificate asset %s", args[0])
	}

	// Stage the stored blobs as files for the codec.
	staging, err := os.MkdirTemp("", "portalkit-export-*")
	if err != nil {
		return fmt.Errorf("creating export staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	keyPath := filepath.Join(staging, "certificate.p12")
	provisionPath := filepath.Join(staging, "profile.mobileprovision")
	if err := os.WriteFile(keyPath, asset.P12, 0o600); err != nil {
		return fmt.Errorf("staging key material: %w", err)
	}
	if err := os.WriteFile(provisionPath, asset.Provision, 0o600); err != nil {
		return fmt.Errorf("staging provisioning profile: %w", err)
	}

	out := certExportOut
	if out == "" {
		name := asset.Nickname
		if name == "" {
			name = asset.ID
		}
		out = sanitizeFileName(name) + portalkit.BundleExtension
	}

	path, err := portalkit.EncodeBundle(portalkit.EncodeBundleInput{
		KeyPath:       keyPath,
		ProvisionPath: provisionPath,
		HasPassphrase: asset.Passphrase() != "",
		Nickname:      asset.Nickname,
		OutputPath:    out,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runCertList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	assets, err := s.ListCertificates(cmd.Context())
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		fmt.Println("No certificate assets")
		return nil
	}

	decorate := isatty.IsTerminal(os.Stdout.Fd())
	for _, asset := range assets {
		marker := ""
		if asset.RequiresIdentifierRandomization {
			marker = " [randomized identifiers]"
			if decorate {
				marker = " \x1b[33m[randomized identifiers]\x1b[0m"
			}
		}
		fmt.Printf("%s  %s%s\n", asset.ID, asset.Nickname, marker)
	}
	return nil
}

func runCertRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := s.RemoveCertificate(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

// sanitizeFileName replaces path-hostile characters in a nickname used as a
// file name.
func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(name)
}
