package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sideportal/portalkit/internal/pipeline"
	"github.com/sideportal/portalkit/internal/signer"
)

// remoteSignTokenName is the credential holding the signing service API
// token, when one is configured.
const remoteSignTokenName = "signing.token"

var (
	signCertID string
	signRemote bool
)

var signCmd = &cobra.Command{
	Use:   "sign <record-id>",
	Short: "Sign a registered package",
	Long: `Sign an imported package with a stored certificate asset.

Local signing runs the configured external signing tool against a scratch
copy of the package and swaps it in place on success. Remote signing uploads
the package and signing assets to the configured signing service and prints
the returned direct install link.`,
	Example: `  portalkit sign 6c2e7a4b-... --cert 9f1d3c88-...
  portalkit sign 6c2e7a4b-... --cert 9f1d3c88-... --remote`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func init() {
	signCmd.Flags().StringVar(&signCertID, "cert", "", "Certificate asset ID (required)")
	signCmd.Flags().BoolVar(&signRemote, "remote", false, "Sign through the remote signing service")
	_ = signCmd.MarkFlagRequired("cert")
}

func runSign(cmd *cobra.Command, args []string) error {
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

	rec, err := s.GetRecord(ctx, args[0])
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no app record %s", args[0])
	}
	asset, err := s.GetCertificate(ctx, signCertID)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("no certificate asset %s", signCertID)
	}

	status := &pipeline.InstallStatus{}
	status.Subscribe(func(state pipeline.InstallState, reason string) {
		if reason != "" {
			fmt.Printf("status: %s (%s)\n", state, reason)
			return
		}
		fmt.Printf("status: %s\n", state)
	})

	if signRemote {
		token, _, err := s.Credential(ctx, remoteSignTokenName)
		if err != nil {
			return err
		}
		pkg, err := packagePath(rec.Path)
		if err != nil {
			return err
		}
		remote := &pipeline.RemoteSignPipeline{Status: status}
		link, err := remote.Run(ctx, pipeline.RemoteSignInput{
			PackagePath: pkg,
			KeyMaterial: asset.P12,
			Provision:   asset.Provision,
			Passphrase:  asset.Passphrase(),
			Endpoint:    cfg.Endpoint(),
			Token:       token,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Install link: %s\n", link)
		return nil
	}

	local := &pipeline.LocalSignPipeline{
		Signer: &signer.Exec{Command: cfg.SignerCommand},
		Status: status,
	}
	if err := local.Run(ctx, rec, asset); err != nil {
		return err
	}
	fmt.Printf("Signed %s %s with %s\n", rec.Name, rec.Version, asset.Nickname)
	return nil
}

// packagePath returns the archived original package inside a library entry.
// The import pipeline archives the input under its original file name, so
// the lookup takes the entry's single top-level file rather than assuming
// an extension.
func packagePath(recordDir string) (string, error) {
	entries, err := os.ReadDir(recordDir)
	if err != nil {
		return "", fmt.Errorf("reading library entry %s: %w", recordDir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, entry.Name())
		}
	}
	switch len(files) {
	case 0:
		return "", fmt.Errorf("no archived package in %s", recordDir)
	case 1:
		return filepath.Join(recordDir, files[0]), nil
	default:
		return "", fmt.Errorf("multiple archived packages in %s", recordDir)
	}
}
