package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ResolveDirectory turns a raw path into a clean absolute path and checks
// that it names an accessible directory.
func ResolveDirectory(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", absPath)
	}
	return absPath, nil
}

// Directories returns dir and every directory beneath it, skipping ignored
// subtrees. Symlinked directories are not followed.
func Directories(dir string, m *IgnoreMatcher) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p != dir && os.IsNotExist(err) {
				return nil // removed while walking
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && m != nil && m.Skip(p) {
			return filepath.SkipDir
		}
		dirs = append(dirs, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return dirs, nil
}

// Files returns the regular files under dir that the matcher does not skip.
func Files(dir string, recursive bool, m *IgnoreMatcher) ([]string, error) {
	var files []string

	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading directory: %w", err)
		}
		for _, entry := range entries {
			p := filepath.Join(dir, entry.Name())
			if !entry.Type().IsRegular() || (m != nil && m.Skip(p)) {
				continue
			}
			files = append(files, p)
		}
		return files, nil
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p != dir && os.IsNotExist(err) {
				return nil
			}
			return err
		}
		skip := p != dir && m != nil && m.Skip(p)
		if d.IsDir() {
			if skip {
				return filepath.SkipDir
			}
			return nil
		}
		if skip || !d.Type().IsRegular() {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return files, nil
}
