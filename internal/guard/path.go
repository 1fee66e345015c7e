// ABOUTME: Path sandbox that confines file access to canonical allowed roots.
// ABOUTME: Resolves symlinks and validates the nearest existing ancestor for new paths.

package guard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathDenied is returned when a path resolves outside every allowed root.
	ErrPathDenied = errors.New("access denied - path outside allowed directories")

	// ErrNoAllowedRoots is returned when a sandbox is built without roots.
	ErrNoAllowedRoots = errors.New("at least one allowed directory is required")
)

// PathSandbox validates caller-supplied paths against an ordered set of roots.
type PathSandbox struct {
	roots []string
}

// NewPathSandbox canonicalizes each root. Every root must exist and be a directory.
func NewPathSandbox(roots []string) (*PathSandbox, error) {
	if len(roots) == 0 {
		return nil, ErrNoAllowedRoots
	}

	canonical := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := absolute(root)
		if err != nil {
			return nil, err
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("allowed directory %s: %w", root, err)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return nil, fmt.Errorf("allowed directory %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("allowed directory %s is not a directory", root)
		}
		canonical = append(canonical, resolved)
	}

	return &PathSandbox{roots: canonical}, nil
}

// Roots returns a copy of the canonical allowed roots in configuration order.
func (s *PathSandbox) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

// Resolve validates path and returns the location the caller should operate on.
//
// Existing paths come back fully canonical. For a path that does not exist yet,
// the nearest existing ancestor is canonicalized and checked instead, and the
// requested absolute path is returned unchanged.
func (s *PathSandbox) Resolve(path string) (string, error) {
	abs, err := absolute(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		if !s.Contains(resolved) {
			return "", fmt.Errorf("%w: %s", ErrPathDenied, abs)
		}
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("resolve %s: %w", abs, err)
	}

	// A dangling symlink exists as an entry; writing through it would follow
	// the link target, which was never checked.
	if _, lerr := os.Lstat(abs); lerr == nil {
		return "", fmt.Errorf("%w: %s (dangling symlink)", ErrPathDenied, abs)
	}

	ancestor, err := nearestExistingAncestor(abs)
	if err != nil {
		return "", err
	}
	if !s.Contains(ancestor) {
		return "", fmt.Errorf("%w: %s", ErrPathDenied, abs)
	}
	return abs, nil
}

// Contains reports whether a canonical path equals or descends from a root.
func (s *PathSandbox) Contains(canonical string) bool {
	for _, root := range s.roots {
		if within(canonical, root) {
			return true
		}
	}
	return false
}

func within(path, root string) bool {
	if path == root {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(path, root)
}

func nearestExistingAncestor(abs string) (string, error) {
	current := filepath.Dir(abs)
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("resolve %s: %w", current, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%w: no existing ancestor for %s", ErrPathDenied, abs)
		}
		current = parent
	}
}

// absolute expands a leading ~ and makes path absolute against the working directory.
func absolute(path string) (string, error) {
	expanded := ExpandHome(path)
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("absolute path for %s: %w", path, err)
	}
	return abs, nil
}

// ExpandHome replaces a leading "~" or "~/" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
