package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSigningEndpoint is the remote signing service used when no custom
// endpoint is configured.
const DefaultSigningEndpoint = "https://sign.sideportal.dev/v1/sign"

// Config holds the runtime application configuration, loaded from an
// optional YAML file. Zero values fall back to defaults.
type Config struct {
	// SigningEndpoint overrides the default remote signing service URL.
	SigningEndpoint string `yaml:"signingEndpoint,omitempty"`

	// LibraryDir is the canonical library location for imported packages.
	LibraryDir string `yaml:"libraryDir,omitempty"`

	// DatabasePath is the SQLite database file for sources, records,
	// certificates, and credentials.
	DatabasePath string `yaml:"databasePath,omitempty"`

	// SignerCommand is the external signing tool invoked for local signing,
	// as an argv list. The app bundle path is appended as the last argument.
	SignerCommand []string `yaml:"signerCommand,omitempty"`

	// LogLevel sets the default log level: debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`
}

// LoadConfig reads the YAML config at path. A missing file is not an error:
// defaults are returned so first runs need no setup.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		LibraryDir:   filepath.Join(dataDir(), "library"),
		DatabasePath: filepath.Join(dataDir(), "portalkit.db"),
		LogLevel:     "info",
	}
}

// Endpoint returns the signing endpoint to use: the configured custom
// endpoint when set, otherwise the fixed default.
func (c *Config) Endpoint() string {
	if c.SigningEndpoint != "" {
		return c.SigningEndpoint
	}
	return DefaultSigningEndpoint
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() string {
	return filepath.Join(dataDir(), "config.yaml")
}

// dataDir returns the per-user data directory, creating nothing. Falls back
// to the working directory when the user config dir cannot be determined.
func dataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "portalkit"
	}
	return filepath.Join(base, "portalkit")
}
