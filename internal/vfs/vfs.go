// Package vfs provides the narrow filesystem abstraction the lock backends
// use: enough of [os] to open, stat, rename, remove and create directories,
// plus a fault-injecting test double. It only carries the operations the
// lock backends in internal/backend actually call.
package vfs

import (
	"io"
	"os"
)

// File is the subset of *os.File the lock backends need.
type File interface {
	io.ReadWriteCloser

	// Fd returns the OS file descriptor/handle, valid until Close.
	Fd() uintptr

	// Stat returns file metadata for inode/link-count verification.
	Stat() (os.FileInfo, error)

	// Chmod applies explicit permissions, used when Config.Mode is set.
	Chmod(mode os.FileMode) error
}

// FS is the filesystem dependency of the lock backends.
type FS interface {
	// OpenFile opens path with the given flags/permissions. See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Stat returns file info for path. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Rename renames oldpath to newpath. See [os.Rename].
	Rename(oldpath, newpath string) error

	// Remove deletes path. See [os.Remove].
	Remove(path string) error

	// MkdirAll creates path and any missing parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Hostname returns the local host name. See [os.Hostname].
	Hostname() (string, error)
}

// Real implements FS against the real operating system.
type Real struct{}

// NewReal returns the production FS implementation.
func NewReal() *Real { return &Real{} }

func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

func (r *Real) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (r *Real) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (r *Real) Remove(path string) error { return os.Remove(path) }

func (r *Real) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (r *Real) Hostname() (string, error) { return os.Hostname() }

var _ FS = (*Real)(nil)
