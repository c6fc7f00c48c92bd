package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for an unknown object name.
var ErrNotFound = errors.New("archive object not found")

// Object describes one stored snapshot.
type Object struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Archive stores evidence snapshots under slash-separated names such as
// "<host>/<timestamp>.db". Objects are written once and never modified.
type Archive interface {
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	Get(ctx context.Context, name string, w io.Writer) error
	List(ctx context.Context) ([]Object, error)
	ValidateSetup(ctx context.Context) error
	Location() string
}

// SnapshotName returns the object name for a snapshot of hostID taken at t.
func SnapshotName(hostID string, t time.Time) string {
	return path.Join(hostID, t.UTC().Format("20060102T150405Z")+".db")
}

// validateName rejects names that could escape the archive root.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("object name is empty")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("invalid object name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid object name %q", name)
		}
	}
	return nil
}
