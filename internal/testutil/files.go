package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// MoveInto writes content outside the watched tree and renames it to dest,
// so a watcher sees a single complete file appear instead of a create
// followed by partial writes. staging must be on the same filesystem as dest.
func MoveInto(t *testing.T, staging, dest string, content []byte) {
	t.Helper()
	tmp, err := os.CreateTemp(staging, "incoming-*")
	if err != nil {
		t.Fatalf("creating staging file: %v", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		t.Fatalf("writing staging file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("closing staging file: %v", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		t.Fatalf("moving %s into place: %v", dest, err)
	}
}
