// Package portalkit provides the core primitives for the certificate and
// package processing pipelines: the portable certificate bundle codec,
// signing identity parsing, defensive archive handling, and the shared
// error taxonomy.
package portalkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// BundleExtension is the file extension for portable certificate bundles.
	BundleExtension = ".portalcert"

	// BundleFormatVersion is the current container format version written by
	// EncodeBundle.
	BundleFormatVersion = "1.0"

	// bundleMetadataName is the metadata file stored at the archive root.
	bundleMetadataName = "metadata.json"
)

// recognizedBundleVersions lists container format versions whose metadata is
// trusted for file lookup. Unrecognized versions fall back to extension scan.
var recognizedBundleVersions = map[string]bool{
	"1.0": true,
}

// keyMaterialExtensions and provisionExtensions drive the fallback scan when
// bundle metadata is missing or unusable. Matching is case-insensitive.
var (
	keyMaterialExtensions = map[string]bool{".p12": true, ".pfx": true}
	provisionExtensions   = map[string]bool{".mobileprovision": true, ".provisionprofile": true}
)

// BundleMetadata is the versioned descriptor stored inside a certificate
// bundle as metadata.json. The passphrase itself is never embedded; only the
// HasPassword flag records that one is required.
type BundleMetadata struct {
	Version           string  `json:"version"`
	CreatedAt         int64   `json:"createdAt"`
	P12Filename       string  `json:"p12Filename"`
	ProvisionFilename string  `json:"provisionFilename"`
	Nickname          *string `json:"nickname"`
	HasPassword       bool    `json:"hasPassword"`
}

// BundleContents holds the decoded contents of a certificate bundle. Key and
// Provision are full copies of the asset files; no scratch files remain on
// disk once DecodeBundle returns.
type BundleContents struct {
	Key       []byte
	Provision []byte
	Meta      BundleMetadata
}

// EncodeBundleInput holds the parameters for EncodeBundle.
type EncodeBundleInput struct {
	KeyPath       string
	ProvisionPath string
	HasPassphrase bool
	Nickname      string
	OutputPath    string
}

// EncodeBundle packs a key material file and a provisioning profile, plus a
// metadata descriptor, into a single archive at OutputPath, overwriting any
// existing file there. The staging directory is removed on every exit path.
// Returns the final archive path.
func EncodeBundle(in EncodeBundleInput) (string, error) {
	if _, err := os.Stat(in.KeyPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingKeyMaterial, in.KeyPath)
	}
	if _, err := os.Stat(in.ProvisionPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingProvisioningProfile, in.ProvisionPath)
	}

	staging, err := os.MkdirTemp("", "portalcert-encode-*")
	if err != nil {
		return "", fmt.Errorf("%w: creating staging directory: %v", ErrBundleEncode, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			slog.Warn("removing bundle staging directory", "dir", staging, "error", rmErr)
		}
	}()

	meta := BundleMetadata{
		Version:           BundleFormatVersion,
		CreatedAt:         time.Now().Unix(),
		P12Filename:       filepath.Base(in.KeyPath),
		ProvisionFilename: filepath.Base(in.ProvisionPath),
		HasPassword:       in.HasPassphrase,
	}
	if in.Nickname != "" {
		nick := in.Nickname
		meta.Nickname = &nick
	}

	if err := copyFile(in.KeyPath, filepath.Join(staging, meta.P12Filename)); err != nil {
		return "", fmt.Errorf("%w: staging key material: %v", ErrBundleEncode, err)
	}
	if err := copyFile(in.ProvisionPath, filepath.Join(staging, meta.ProvisionFilename)); err != nil {
		return "", fmt.Errorf("%w: staging provisioning profile: %v", ErrBundleEncode, err)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encoding metadata: %v", ErrBundleEncode, err)
	}
	if err := os.WriteFile(filepath.Join(staging, bundleMetadataName), metaJSON, 0o644); err != nil {
		return "", fmt.Errorf("%w: writing metadata: %v", ErrBundleEncode, err)
	}

	if err := WriteZip(staging, in.OutputPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBundleEncode, err)
	}

	slog.Info("encoded certificate bundle", "path", in.OutputPath)
	return in.OutputPath, nil
}

// DecodeBundle extracts a certificate bundle and returns its key material,
// provisioning profile, and metadata. The extraction scratch directory is
// removed before returning on every path.
//
// Lookup is metadata-driven first: if metadata.json parses and carries a
// recognized format version, the asset files are located by their recorded
// names. If metadata is absent, unparseable, of an unrecognized version, or
// names files that do not exist, the extracted tree is scanned depth-first
// and the first file with a key-material extension and the first with a
// provisioning-profile extension win. When the recorded metadata was
// unusable, a minimal metadata record is synthesized from the discovered
// names so callers always receive a metadata value.
func DecodeBundle(path string) (*BundleContents, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}

	scratch, err := os.MkdirTemp("", "portalcert-decode-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating scratch directory: %v", ErrBundleDecode, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			slog.Warn("removing bundle scratch directory", "dir", scratch, "error", rmErr)
		}
	}()

	if err := ExtractZip(path, scratch, BundleArchiveLimits()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleDecode, err)
	}

	meta, trusted := readBundleMetadata(scratch)

	var keyPath, provisionPath string
	if trusted {
		keyPath = existingFile(filepath.Join(scratch, meta.P12Filename))
		provisionPath = existingFile(filepath.Join(scratch, meta.ProvisionFilename))
	}

	if keyPath == "" {
		keyPath = scanForExtension(scratch, keyMaterialExtensions)
	}
	if provisionPath == "" {
		provisionPath = scanForExtension(scratch, provisionExtensions)
	}

	if keyPath == "" {
		return nil, fmt.Errorf("%w: no key material in bundle %s", ErrMissingKeyMaterial, path)
	}
	if provisionPath == "" {
		return nil, fmt.Errorf("%w: no provisioning profile in bundle %s", ErrMissingProvisioningProfile, path)
	}

	if !trusted {
		meta = BundleMetadata{
			Version:           BundleFormatVersion,
			CreatedAt:         time.Now().Unix(),
			P12Filename:       filepath.Base(keyPath),
			ProvisionFilename: filepath.Base(provisionPath),
		}
	} else {
		// One of the recorded names may have required the fallback scan;
		// record what was actually found.
		meta.P12Filename = filepath.Base(keyPath)
		meta.ProvisionFilename = filepath.Base(provisionPath)
	}

	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading key material: %v", ErrBundleDecode, err)
	}
	provision, err := os.ReadFile(provisionPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading provisioning profile: %v", ErrBundleDecode, err)
	}

	return &BundleContents{Key: key, Provision: provision, Meta: meta}, nil
}

// ValidateBundle reports whether path looks like a certificate bundle: the
// file extension must match and DecodeBundle must succeed. The probe leaves
// no scratch files behind.
func ValidateBundle(path string) bool {
	if !strings.EqualFold(filepath.Ext(path), BundleExtension) {
		return false
	}
	_, err := DecodeBundle(path)
	return err == nil
}

// readBundleMetadata parses metadata.json from the extracted tree. The second
// return value reports whether the metadata is usable for name lookup: it
// must parse and carry a recognized format version.
func readBundleMetadata(dir string) (BundleMetadata, bool) {
	var meta BundleMetadata
	data, err := os.ReadFile(filepath.Join(dir, bundleMetadataName))
	if err != nil {
		slog.Debug("bundle metadata missing, falling back to scan", "error", err)
		return meta, false
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		slog.Warn("bundle metadata unparseable, falling back to scan", "error", err)
		return meta, false
	}
	if !recognizedBundleVersions[meta.Version] {
		slog.Warn("unrecognized bundle format version, falling back to scan", "version", meta.Version)
		return meta, false
	}
	return meta, true
}

// scanForExtension walks dir depth-first and returns the first regular file
// whose extension (case-insensitive) is in exts, or "" if none match. Match
// order is directory-enumeration order.
func scanForExtension(dir string, exts map[string]bool) string {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if exts[strings.ToLower(filepath.Ext(path))] {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipAll) {
		slog.Debug("bundle fallback scan aborted", "dir", dir, "error", err)
	}
	return found
}

// existingFile returns path if it names an existing regular file, else "".
func existingFile(path string) string {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return path
}

// copyFile copies src to dst, creating or truncating dst with mode 0644.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
