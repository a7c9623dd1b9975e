// Package security validates user-supplied file paths and names before the
// CLI writes artifacts to disk.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// maxNameLen caps sanitised names embedded in file names.
const maxNameLen = 96

// canonical resolves path to an absolute path with symlinks evaluated. A
// path that does not exist yet is resolved through its nearest existing
// ancestor, so a symlinked parent cannot redirect a new file.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rel), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// WithinDirectory returns an error unless path resolves to a location
// inside dir.
func WithinDirectory(path, dir string) error {
	target, err := canonical(path)
	if err != nil {
		return err
	}
	root, err := canonical(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, dir)
	}
	return nil
}

// OutputRoots returns the directories artifacts may be written under: the
// working directory and the system temp directory.
func OutputRoots() ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return []string{cwd, os.TempDir()}, nil
}

// ValidateOutputPath checks an artifact path before anything is written. The
// extension must be one of exts (case-insensitive, with the dot), the parent
// directory must exist, and the path must sit under one of roots.
func ValidateOutputPath(path string, exts []string, roots ...string) error {
	if path == "" {
		return fmt.Errorf("output path is empty")
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(exts, ext) {
		return fmt.Errorf("unsupported output extension %q, want one of %v", ext, exts)
	}
	if info, err := os.Stat(filepath.Dir(filepath.Clean(path))); err != nil {
		return fmt.Errorf("output directory: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("output directory %s is not a directory", filepath.Dir(path))
	}
	if len(roots) == 0 {
		return fmt.Errorf("no output roots configured")
	}
	for _, root := range roots {
		if WithinDirectory(path, root) == nil {
			return nil
		}
	}
	return fmt.Errorf("output path %s must be under one of %v", path, roots)
}

// SanitizeName turns an arbitrary run label into a safe file name stem.
// Runs of anything other than ASCII letters, digits, dash and underscore
// become a single underscore. Empty results become "run".
func SanitizeName(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		if !ok {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte('_')
			pending = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "run"
	}
	return b.String()
}
