package filelock

import "github.com/outerlane/filelock/internal/pathkey"

// canonicalPath resolves path to the absolute, symlink-resolved form
// the registries key on; see internal/pathkey for the resolution rules,
// shared with package async.
func canonicalPath(path string) (string, error) {
	return pathkey.Canonical(path)
}
