package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLibraryEntry(t *testing.T, archiveName string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "Example.app"), 0o755); err != nil {
		t.Fatalf("creating app dir: %v", err)
	}
	if archiveName != "" {
		if err := os.WriteFile(filepath.Join(dir, archiveName), []byte("pkg"), 0o644); err != nil {
			t.Fatalf("writing archive: %v", err)
		}
	}
	return dir
}

func TestPackagePath(t *testing.T) {
	// WHY: The archived original keeps whatever file name it was imported
	// under, so the lookup must find it regardless of extension and fail
	// loudly when the entry holds no archive.
	t.Parallel()

	cases := []struct {
		name    string
		archive string
		wantErr bool
	}{
		{name: "ipa archive", archive: "MyApp.ipa"},
		{name: "zip archive", archive: "app.zip"},
		{name: "no archive", archive: "", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := writeLibraryEntry(t, tc.archive)
			got, err := packagePath(dir)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("packagePath should fail, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("packagePath: %v", err)
			}
			if want := filepath.Join(dir, tc.archive); got != want {
				t.Errorf("packagePath = %q, want %q", got, want)
			}
		})
	}
}
