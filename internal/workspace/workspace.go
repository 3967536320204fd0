package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrPermissionDenied marks a path that escapes the workspace sandbox.
var ErrPermissionDenied = errors.New("permission denied")

// Workspace confines all agent file operations to a single root directory.
// Resolution follows symlinks so a link pointing outside the root is
// rejected even when the link itself lives inside.
type Workspace struct {
	root string // canonical absolute root
}

// New creates a Workspace rooted at dir. The directory is created if it
// does not exist; the stored root is canonical (symlinks resolved).
func New(dir string) (*Workspace, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize workspace root: %w", err)
	}
	slog.Info("workspace initialized", "root", real)
	return &Workspace{root: real}, nil
}

// Root returns the canonical workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve maps path (relative to the root, or absolute) to a canonical
// absolute path guaranteed to lie inside the root. Empty and "." resolve
// to the root itself. Symlinks are followed; anything resolving outside
// the root fails with ErrPermissionDenied. Symlink cycles surface the
// underlying resolution error.
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" || path == "." {
		return w.root, nil
	}

	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Clean(filepath.Join(w.root, path))
	}

	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			real, err = w.resolveMissing(candidate)
			if err != nil {
				return "", err
			}
		} else {
			// Cycle, permission error or similar — reject with the cause.
			slog.Warn("security.path_resolve_failed", "path", path, "error", err)
			return "", fmt.Errorf("%w: cannot resolve %s: %v", ErrPermissionDenied, path, err)
		}
	}

	if !isPathInside(real, w.root) {
		slog.Warn("security.path_escape", "path", path, "resolved", real, "root", w.root)
		return "", fmt.Errorf("%w: %s escapes workspace sandbox", ErrPermissionDenied, path)
	}
	return real, nil
}

// resolveMissing handles paths that do not exist yet: a dangling symlink
// has its target validated; a plain missing file is resolved through its
// deepest existing ancestor so intermediate symlinks still count.
func (w *Workspace) resolveMissing(candidate string) (string, error) {
	if info, lerr := os.Lstat(candidate); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
		target, rerr := os.Readlink(candidate)
		if rerr != nil {
			return "", fmt.Errorf("%w: cannot resolve symlink %s", ErrPermissionDenied, candidate)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(candidate), target)
		}
		return resolveThroughAncestors(filepath.Clean(target))
	}
	return resolveThroughAncestors(candidate)
}

// resolveThroughAncestors canonicalizes the deepest existing ancestor and
// rejoins the missing tail, catching chained symlinks that escape.
func resolveThroughAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

// isPathInside checks whether child is inside or equal to parent.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
