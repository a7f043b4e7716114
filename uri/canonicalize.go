// Package uri canonicalizes resource references to a stable string key
// used for cross-conversation identity.
package uri

import (
	"path/filepath"
	"strings"
)

const fileScheme = "file://"

// Canonicalize normalizes uri to a stable key. Non-file:// URIs pass
// through verbatim. A path with no scheme is treated as a file path.
// A relative path resolves against root when root is non-empty, otherwise
// against the working directory. file:// URIs are resolved to an absolute, symlink-free path; if root is
// non-empty and the resolved path lies under root, the result is
// root-relative (still carrying the file:// scheme), otherwise absolute.
//
// Canonicalize is idempotent: Canonicalize(Canonicalize(u, r), r) == Canonicalize(u, r).
func Canonicalize(raw string, root string) (string, error) {
	if raw == "" {
		return "", nil
	}

	var path string
	switch {
	case strings.HasPrefix(raw, fileScheme):
		path = strings.TrimPrefix(raw, fileScheme)
	case looksLikeURIScheme(raw):
		return raw, nil
	default:
		path = raw
	}

	if root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return "", err
	}

	if root != "" {
		absRoot, err := resolvePath(root)
		if err == nil {
			if rel, ok := relativeTo(resolved, absRoot); ok {
				return fileScheme + rel, nil
			}
		}
	}

	return fileScheme + resolved, nil
}

// looksLikeURIScheme reports whether raw begins with a "scheme://" other
// than file://, e.g. "https://", "s3://".
func looksLikeURIScheme(raw string) bool {
	idx := strings.Index(raw, "://")
	if idx <= 0 {
		return false
	}
	scheme := raw[:idx]
	for _, r := range scheme {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return true
}

// resolvePath returns an absolute, symlink-free, slash-separated form of p.
// Missing paths are tolerated (EvalSymlinks falls back to the cleaned
// absolute path) since a resource may be referenced before it exists on
// disk from the caller's point of view.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.ToSlash(abs), nil
}

// relativeTo returns path relative to root, and whether path truly lies
// under root.
func relativeTo(path, root string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}
