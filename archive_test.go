package portalkit

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractZip_RoundTripThroughWriteZip(t *testing.T) {
	// WHY: WriteZip and ExtractZip are the two halves of the bundle codec's
	// container layer; packing a tree and extracting it must reproduce the
	// tree, nested directories included.
	t.Parallel()

	src := t.TempDir()
	files := map[string][]byte{
		"top.txt":                []byte("top"),
		"nested/inner.txt":       []byte("inner"),
		"nested/deeper/leaf.p12": []byte("leaf"),
	}
	for name, data := range files {
		path := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating fixture directory: %v", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
	}

	archivePath := filepath.Join(t.TempDir(), "tree.zip")
	if err := WriteZip(src, archivePath); err != nil {
		t.Fatalf("WriteZip() error = %v", err)
	}

	dest := t.TempDir()
	if err := ExtractZip(archivePath, dest, DefaultArchiveLimits()); err != nil {
		t.Fatalf("ExtractZip() error = %v", err)
	}

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("extracted file %s missing: %v", name, err)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("extracted file %s = %q, want %q", name, got, want)
		}
	}
}

func TestWriteZip_OverwritesExisting(t *testing.T) {
	// WHY: Re-exporting to the same path must replace the previous archive,
	// not append to or merge with it.
	t.Parallel()

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "only.txt"), []byte("v2"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "out.zip")
	if err := os.WriteFile(outPath, []byte("stale non-zip content"), 0o644); err != nil {
		t.Fatalf("writing stale file: %v", err)
	}

	if err := WriteZip(src, outPath); err != nil {
		t.Fatalf("WriteZip() error = %v", err)
	}

	r, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("reading rewritten archive: %v", err)
	}
	defer r.Close()
	if len(r.File) != 1 || r.File[0].Name != "only.txt" {
		t.Errorf("rewritten archive entries = %v, want [only.txt]", entryNames(r))
	}
}

func TestExtractZip_RejectsZipSlip(t *testing.T) {
	// WHY: Entry names that resolve outside the destination directory must
	// abort extraction before anything escapes.
	t.Parallel()

	tests := []struct {
		name  string
		entry string
	}{
		{"parent traversal", "../evil.txt"},
		{"nested traversal", "ok/../../evil.txt"},
		{"bare parent", ".."},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			outer := t.TempDir()
			dest := filepath.Join(outer, "dest")
			if err := os.MkdirAll(dest, 0o755); err != nil {
				t.Fatalf("creating dest: %v", err)
			}

			archivePath := filepath.Join(outer, "evil.zip")
			writeZipFixture(t, archivePath, map[string][]byte{tt.entry: []byte("payload")})

			if err := ExtractZip(archivePath, dest, DefaultArchiveLimits()); err == nil {
				t.Fatalf("ExtractZip() accepted traversal entry %q", tt.entry)
			}
			if _, err := os.Stat(filepath.Join(outer, "evil.txt")); err == nil {
				t.Errorf("traversal entry escaped to %s", filepath.Join(outer, "evil.txt"))
			}
		})
	}
}

func TestExtractZip_SkipsSymlinkEntries(t *testing.T) {
	// WHY: Symlink entries in untrusted archives can point anywhere; they
	// are skipped, not materialized.
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "links.zip")
	out, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("creating fixture archive: %v", err)
	}
	zw := zip.NewWriter(out)

	hdr := &zip.FileHeader{Name: "escape"}
	hdr.SetMode(os.ModeSymlink | 0o777)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		t.Fatalf("adding symlink entry: %v", err)
	}
	if _, err := w.Write([]byte("/etc/passwd")); err != nil {
		t.Fatalf("writing symlink target: %v", err)
	}
	if w, err = zw.Create("regular.txt"); err != nil {
		t.Fatalf("adding regular entry: %v", err)
	}
	if _, err := w.Write([]byte("ok")); err != nil {
		t.Fatalf("writing regular entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("finalizing fixture archive: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("closing fixture archive: %v", err)
	}

	dest := t.TempDir()
	if err := ExtractZip(archivePath, dest, DefaultArchiveLimits()); err != nil {
		t.Fatalf("ExtractZip() error = %v", err)
	}
	if _, err := os.Lstat(filepath.Join(dest, "escape")); err == nil {
		t.Errorf("symlink entry was materialized")
	}
	if _, err := os.Stat(filepath.Join(dest, "regular.txt")); err != nil {
		t.Errorf("regular entry missing: %v", err)
	}
}

func TestExtractZip_EnforcesLimits(t *testing.T) {
	// WHY: Entry count, per-entry size, and total size limits each abort
	// extraction independently.
	t.Parallel()

	tests := []struct {
		name    string
		files   map[string][]byte
		limits  ArchiveLimits
		wantErr string
	}{
		{
			"entry count",
			map[string][]byte{"a": []byte("x"), "b": []byte("x"), "c": []byte("x")},
			ArchiveLimits{MaxEntryCount: 2, MaxEntrySize: 1024, MaxTotalSize: 1024},
			"entry count limit",
		},
		{
			"entry size",
			map[string][]byte{"big": bytes.Repeat([]byte("x"), 64)},
			ArchiveLimits{MaxEntryCount: 10, MaxEntrySize: 16, MaxTotalSize: 1024},
			"size limit",
		},
		{
			"total size",
			map[string][]byte{
				"a": bytes.Repeat([]byte("x"), 40),
				"b": bytes.Repeat([]byte("x"), 40),
			},
			ArchiveLimits{MaxEntryCount: 10, MaxEntrySize: 64, MaxTotalSize: 64},
			"total size limit",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			archivePath := filepath.Join(t.TempDir(), "limited.zip")
			writeZipFixture(t, archivePath, tt.files)

			err := ExtractZip(archivePath, t.TempDir(), tt.limits)
			if err == nil {
				t.Fatalf("ExtractZip() succeeded, want %q error", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ExtractZip() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestExtractZip_PreservesExecutableBit(t *testing.T) {
	// WHY: Application packages carry executable binaries; the executable
	// bit must survive extraction while other exotic mode bits do not.
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "exec.zip")
	out, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("creating fixture archive: %v", err)
	}
	zw := zip.NewWriter(out)

	hdr := &zip.FileHeader{Name: "bin/app"}
	hdr.SetMode(0o755)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		t.Fatalf("adding executable entry: %v", err)
	}
	if _, err := w.Write([]byte("#!/bin/true")); err != nil {
		t.Fatalf("writing executable entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("finalizing fixture archive: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("closing fixture archive: %v", err)
	}

	dest := t.TempDir()
	if err := ExtractZip(archivePath, dest, DefaultArchiveLimits()); err != nil {
		t.Fatalf("ExtractZip() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dest, "bin", "app"))
	if err != nil {
		t.Fatalf("stat extracted binary: %v", err)
	}
	if info.Mode()&0o111 == 0 {
		t.Errorf("extracted binary mode = %v, want executable bit set", info.Mode())
	}
}

func TestExtractZip_MissingArchive(t *testing.T) {
	// WHY: A nonexistent archive path fails cleanly instead of panicking.
	t.Parallel()

	err := ExtractZip(filepath.Join(t.TempDir(), "absent.zip"), t.TempDir(), DefaultArchiveLimits())
	if err == nil {
		t.Fatalf("ExtractZip() succeeded on missing archive")
	}
}

// entryNames lists the entry names of an open zip reader, for error output.
func entryNames(r *zip.ReadCloser) []string {
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}
