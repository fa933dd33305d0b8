// Package pathkey resolves the canonical registry key for a lock path
// (absolute, symlink-resolved), shared by the synchronous tier (package
// filelock) and the async tier (package filelock/async) so the two agree
// on what counts as "the same path" for singleton lookup and deadlock
// detection.
package pathkey

import "path/filepath"

// Canonical resolves path to an absolute, symlink-resolved form.
//
// EvalSymlinks requires the path to exist; a lock file that has not been
// created yet resolves its parent directory instead and rejoins the leaf
// name, so two instances naming the same not-yet-created path still
// canonicalize identically.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	dir, base := filepath.Split(abs)
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		// Parent doesn't exist either; fall back to the absolute,
		// unresolved path rather than failing construction.
		return abs, nil
	}

	return filepath.Join(resolvedDir, base), nil
}
