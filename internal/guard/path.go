// Package guard screens filesystem paths and raw commands before any tool
// touches the host. Both checks are pure besides filesystem stat calls and
// report rejections through sentinel errors the tool layer can match on.
package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape marks a candidate path whose canonical form lies outside
// the workspace root.
var ErrPathEscape = errors.New("path escapes workspace root")

// ResolvePath resolves candidate against root and returns its canonical
// absolute form, or ErrPathEscape when that form is not contained in root.
// Symlinks are fully resolved before the containment test, so a link
// pointing outside the root is rejected even when its lexical path looks
// contained. Candidates that do not exist yet are resolved through their
// deepest existing ancestor so write targets stay checkable.
func ResolvePath(root, candidate string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, candidate)
	}
	rootReal, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		rootReal = absRoot // root may not exist yet
	}

	resolved := filepath.Clean(candidate)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Clean(filepath.Join(rootReal, candidate))
	}

	real, err := canonicalize(resolved)
	if err != nil {
		slog.Warn("security.path_resolve_failed", "path", candidate, "error", err)
		return "", fmt.Errorf("%w: %s", ErrPathEscape, candidate)
	}

	if !isPathInside(real, rootReal) {
		slog.Warn("security.path_escape", "path", candidate, "resolved", real, "root", rootReal)
		return "", fmt.Errorf("%w: %s", ErrPathEscape, candidate)
	}
	return real, nil
}

// canonicalize resolves every symlink in path. Dangling symlinks are
// followed through their target so a link to an outside location cannot
// masquerade as a fresh file; otherwise missing leaves are rebuilt on top
// of their deepest existing ancestor.
func canonicalize(path string) (string, error) {
	real, err := filepath.EvalSymlinks(path)
	if err == nil {
		return real, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	if info, lerr := os.Lstat(path); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
		target, rerr := os.Readlink(path)
		if rerr != nil {
			return "", rerr
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		return resolveMissing(filepath.Clean(target)), nil
	}

	return resolveMissing(path), nil
}

// resolveMissing walks up to the deepest existing ancestor, canonicalizes
// it, and appends the non-existent tail components lexically.
func resolveMissing(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	current := path
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(path)
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
		if real, err := filepath.EvalSymlinks(current); err == nil {
			for _, component := range tail {
				real = filepath.Join(real, component)
			}
			return real
		}
	}
}

// isPathInside checks whether child is inside or equal to parent directory.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
