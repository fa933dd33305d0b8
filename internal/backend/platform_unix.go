//go:build unix

package backend

import "github.com/outerlane/filelock/internal/vfs"

// NewPlatform returns the native backend for the running OS.
func NewPlatform(fsys vfs.FS) Backend {
	return NewPosixAdvisory(fsys)
}
