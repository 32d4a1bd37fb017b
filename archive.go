package portalkit

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveLimits controls extraction thresholds for zip containers. Both the
// certificate bundle codec and the package import pipeline extract untrusted
// archives, so every entry is bounded regardless of what its header claims.
type ArchiveLimits struct {
	// MaxEntryCount is the maximum number of entries extracted from one
	// archive. Certificate bundles hold three files; application packages
	// rarely exceed a few thousand.
	MaxEntryCount int

	// MaxEntrySize is the maximum decompressed size of a single entry.
	MaxEntrySize int64

	// MaxTotalSize is the maximum total bytes extracted across all entries.
	MaxTotalSize int64
}

// DefaultArchiveLimits returns extraction defaults sized for application
// packages, the largest archives this tool handles.
func DefaultArchiveLimits() ArchiveLimits {
	return ArchiveLimits{
		MaxEntryCount: 50_000,
		MaxEntrySize:  2 * 1024 * 1024 * 1024, // 2 GB
		MaxTotalSize:  8 * 1024 * 1024 * 1024, // 8 GB
	}
}

// BundleArchiveLimits returns tight extraction limits for certificate bundle
// containers, which hold a metadata file and two small assets.
func BundleArchiveLimits() ArchiveLimits {
	return ArchiveLimits{
		MaxEntryCount: 256,
		MaxEntrySize:  32 * 1024 * 1024, // 32 MB
		MaxTotalSize:  64 * 1024 * 1024, // 64 MB
	}
}

// ExtractZip extracts a zip archive at archivePath into destDir, enforcing
// the given limits. Entry paths are sanitized: entries that would escape
// destDir are rejected, symlinks and other non-regular entries are skipped.
func ExtractZip(archivePath, destDir string, limits ArchiveLimits) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			slog.Warn("closing archive", "archive", archivePath, "error", closeErr)
		}
	}()

	var totalSize int64
	extracted := 0

	for _, f := range reader.File {
		if extracted >= limits.MaxEntryCount {
			return fmt.Errorf("archive %s exceeds entry count limit (%d)", archivePath, limits.MaxEntryCount)
		}

		target, err := sanitizeEntryPath(destDir, f.Name)
		if err != nil {
			return fmt.Errorf("archive %s: %w", archivePath, err)
		}

		mode := f.FileInfo().Mode()
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			continue
		}
		if !mode.IsRegular() {
			slog.Debug("skipping non-regular archive entry", "archive", archivePath, "entry", f.Name)
			continue
		}

		if int64(f.UncompressedSize64) > limits.MaxEntrySize {
			return fmt.Errorf("archive entry %s exceeds size limit (%d bytes)", f.Name, limits.MaxEntrySize)
		}
		if totalSize+int64(f.UncompressedSize64) > limits.MaxTotalSize {
			return fmt.Errorf("archive %s exceeds total size limit (%d bytes)", archivePath, limits.MaxTotalSize)
		}

		written, err := extractZipEntry(f, target, limits.MaxEntrySize)
		if err != nil {
			return fmt.Errorf("archive %s: %w", archivePath, err)
		}
		totalSize += written
		extracted++
	}

	slog.Debug("extracted archive", "archive", archivePath, "entries", extracted, "bytes", totalSize)
	return nil
}

// extractZipEntry writes one zip entry to target, bounded by maxSize via
// io.LimitReader regardless of the header's size claim. Returns bytes written.
func extractZipEntry(f *zip.File, target string, maxSize int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("opening entry %s: %w", f.Name, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			slog.Warn("closing archive entry", "entry", f.Name, "error", closeErr)
		}
	}()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("creating parent directory for %s: %w", f.Name, err)
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entryMode(f))
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", target, err)
	}

	// LimitReader to maxSize+1 so overflow past the limit is detectable.
	written, err := io.Copy(out, io.LimitReader(rc, safeLimitSize(maxSize)))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("writing entry %s: %w", f.Name, err)
	}
	if written > maxSize {
		return written, fmt.Errorf("entry %s exceeds size limit despite header claim", f.Name)
	}
	return written, nil
}

// entryMode returns the file mode for an extracted entry, preserving the
// executable bit (application binaries need it) and nothing else exotic.
func entryMode(f *zip.File) os.FileMode {
	if f.FileInfo().Mode()&0o111 != 0 {
		return 0o755
	}
	return 0o644
}

// sanitizeEntryPath joins an archive entry name onto destDir and rejects
// entries that resolve outside destDir (zip-slip).
func sanitizeEntryPath(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes extraction directory", name)
	}
	return filepath.Join(destDir, cleaned), nil
}

// WriteZip packs the contents of srcDir into a zip archive at outPath,
// overwriting any existing file at that exact path. Entry names are recorded
// relative to srcDir with forward slashes.
func WriteZip(srcDir, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating archive %s: %w", outPath, err)
	}

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("adding entry %s: %w", rel, err)
		}
		in, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		_, err = io.Copy(w, in)
		if closeErr := in.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("writing entry %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		_ = zw.Close()
		_ = out.Close()
		_ = os.Remove(outPath)
		return err
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(outPath)
		return fmt.Errorf("finalizing archive %s: %w", outPath, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("closing archive %s: %w", outPath, err)
	}
	return nil
}

// safeLimitSize returns maxSize+1 for overflow detection in io.LimitReader,
// clamped to math.MaxInt64 to prevent int64 wraparound.
func safeLimitSize(maxSize int64) int64 {
	if maxSize == math.MaxInt64 {
		return math.MaxInt64
	}
	return maxSize + 1
}
