package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileSystemArchive stores snapshots as files below root:
//
//	<root>/
//	  <hostID>/
//	    <timestamp>.db
type FileSystemArchive struct {
	root string
}

// NewFileSystemArchive creates the archive root if needed.
func NewFileSystemArchive(root string) (*FileSystemArchive, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileSystemArchive{root: root}, nil
}

func (a *FileSystemArchive) Put(_ context.Context, name string, r io.Reader, size int64) error {
	if err := validateName(name); err != nil {
		return err
	}
	destPath := filepath.Join(a.root, filepath.FromSlash(name))
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("snapshot already exists: %s", name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return writeFile(destPath, r, size)
}

func (a *FileSystemArchive) Get(_ context.Context, name string, w io.Writer) error {
	if err := validateName(name); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(a.root, filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// List walks root, skipping in-progress temp files.
func (a *FileSystemArchive) List(_ context.Context) ([]Object, error) {
	objs := []Object{}
	err := filepath.WalkDir(a.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(p)[0] == '.' {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(a.root, p)
		if err != nil {
			return err
		}
		objs = append(objs, Object{Name: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing archive: %w", err)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })
	return objs, nil
}

// ValidateSetup verifies that the archive root is an accessible directory.
func (a *FileSystemArchive) ValidateSetup(context.Context) error {
	info, err := os.Stat(a.root)
	if err != nil {
		return fmt.Errorf("archive root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive root is not a directory: %s", a.root)
	}
	return nil
}

func (a *FileSystemArchive) Location() string { return a.root }

// writeFile writes r to destPath via a temp file and rename.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ Archive = (*FileSystemArchive)(nil)
