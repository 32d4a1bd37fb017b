package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sideportal/portalkit/internal"
	"github.com/sideportal/portalkit/internal/store"
)

var (
	logLevel   string
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "portalkit",
	Short: "Application package and signing asset manager",
	Long:  "Import application packages, manage signing certificates and remote sources, and sign packages locally or through a remote signing service.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		internal.SetupLogger(logLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", internal.DefaultConfigPath(), "Config file path")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (overrides config)")

	registerCompletion(rootCmd, completionInput{
		flagName:     "log-level",
		completeFunc: fixedCompletion("debug", "info", "warn", "error"),
	})

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(sourceCmd)
	rootCmd.AddCommand(actionCmd)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*internal.Config, error) {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	return cfg, nil
}

// openStore opens the persistent store named by the config. The credential
// sealing key lives next to the database.
func openStore(cfg *internal.Config) (*store.Store, error) {
	keyPath := ""
	if cfg.DatabasePath != "" && cfg.DatabasePath != ":memory:" {
		keyPath = filepath.Join(filepath.Dir(cfg.DatabasePath), "credential.key")
	}
	s, err := store.Open(cfg.DatabasePath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}
