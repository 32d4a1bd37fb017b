package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sideportal/portalkit/internal/pipeline"
)

var importCmd = &cobra.Command{
	Use:   "import <package>",
	Short: "Import an application package into the library",
	Long:  "Copy an application package, extract it, move it into the canonical library location, and register a record. Re-importing a package with the same bundle identifier and version is a no-op.",
	Example: `  portalkit import app.ipa
  portalkit import ~/Downloads/app.ipa --log-level debug`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := os.MkdirAll(cfg.LibraryDir, 0o755); err != nil {
		return fmt.Errorf("creating library directory: %w", err)
	}

	importer := &pipeline.PackageImporter{
		Apps:       s,
		LibraryDir: cfg.LibraryDir,
	}
	rec, err := importer.Import(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if rec == nil {
		fmt.Println("Already imported")
		return nil
	}
	fmt.Printf("Imported %s %s (%s)\n  record: %s\n  path:   %s\n",
		rec.Name, rec.Version, rec.BundleIdentifier, rec.ID, rec.Path)
	return nil
}
