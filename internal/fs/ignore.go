package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-root file listing extra ignore patterns.
const IgnoreFileName = ".lwignore"

// defaultIgnorePatterns are applied to every monitored root: the ignore file
// itself and editor swap/lock files, which churn on every keystroke.
var defaultIgnorePatterns = []string{IgnoreFileName, "*.swp", "*.swx", ".#*", "*~"}

type ignorePattern struct {
	pattern   string
	matchPath bool // match the root-relative path instead of the basename
}

// IgnoreMatcher decides which paths under a monitored root produce no events.
// Patterns without '/' match the basename; patterns with '/' match the
// slash-separated path relative to the root.
type IgnoreMatcher struct {
	root     string
	patterns []ignorePattern
}

// NewIgnoreMatcher builds a matcher for root from raw pattern lines.
// Blank lines and '#' comments are skipped.
func NewIgnoreMatcher(root string, rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{root: filepath.Clean(root)}
	for _, raw := range append(append([]string{}, defaultIgnorePatterns...), rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		m.patterns = append(m.patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return m
}

// LoadIgnoreMatcher combines the configured patterns with root/.lwignore.
func LoadIgnoreMatcher(root string, configured []string) (*IgnoreMatcher, error) {
	fromFile, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return NewIgnoreMatcher(root, append(append([]string{}, configured...), fromFile...)), nil
}

// Match reports whether a root-relative path is ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if relativePath == "" || relativePath == "." {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	for _, p := range m.patterns {
		subject := basename
		if p.matchPath {
			subject = normalized
		}
		matched, err := filepath.Match(p.pattern, subject)
		if err != nil {
			continue // malformed pattern
		}
		if matched {
			return true
		}
	}
	return false
}

// Skip reports whether an absolute path under the root is ignored.
// Paths outside the root are never skipped.
func (m *IgnoreMatcher) Skip(absPath string) bool {
	rel, err := filepath.Rel(m.root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return m.Match(rel)
}

// ParseIgnoreFile returns the raw lines of an ignore file, or nil if it does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
