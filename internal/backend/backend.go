// Package backend implements the platform-specific single-instance lock
// primitives: PosixAdvisory, WindowsMandatory, and SoftExistence. Each
// exposes only TryAcquire/Release — callers never block in a backend
// call; retrying/timeout/polling is the caller's job
// (internal/acquireloop).
package backend

import (
	"os"
	"time"

	"github.com/outerlane/filelock/internal/vfs"
)

// LockMode selects exclusive-holder or shared-reader semantics. Only
// PosixAdvisory honors Shared natively (flock LOCK_SH); the other backends
// report ErrSharedUnsupported so callers (the R/W coordinator) can degrade
// to serializing readers through an exclusive acquire instead.
type LockMode int

const (
	Exclusive LockMode = iota
	Shared
)

func (m LockMode) String() string {
	if m == Shared {
		return "shared"
	}
	return "exclusive"
}

// Outcome is the three-way result of TryAcquire.
type Outcome int

const (
	// Acquired means Handle is populated and the caller now holds the lock.
	Acquired Outcome = iota
	// Contended means another holder exists right now; the caller should retry.
	Contended
	// Fatal means the lock can never be acquired under current conditions.
	Fatal
)

// FatalKind narrows an Outcome==Fatal result.
type FatalKind int

const (
	// FatalUnsupported means the kernel/filesystem lacks the locking
	// primitive (ENOSYS). Callers are expected to swap to SoftExistence.
	FatalUnsupported FatalKind = iota
	// FatalPermission means the lock path could not be created/opened.
	FatalPermission
	// FatalOS means some other unexpected OS failure occurred.
	FatalOS
)

// Handle is the opaque per-acquisition state a backend hands back on
// success and expects to see again on Release.
type Handle struct {
	File vfs.File
	Path string

	// SharedMode records that this handle was granted in Shared mode.
	// Release must not unlink the lock path for a shared handle: other
	// readers may still hold the same inode, and removing the path would
	// let a writer lock a fresh inode while they do.
	SharedMode bool
}

// AcquireOutcome is the result of a single TryAcquire call.
type AcquireOutcome struct {
	Outcome   Outcome
	Handle    *Handle // non-nil iff Outcome == Acquired
	FatalKind FatalKind
	Err       error // non-nil iff Outcome == Fatal
}

// Backend is the single-instance lock primitive.
//
// TryAcquire and Release must never suspend for longer than a single
// system call — no internal polling, no sleeping. The caller
// (internal/acquireloop) owns all retry/timeout/poll behavior.
type Backend interface {
	// Name identifies the backend for diagnostics ("posix-advisory",
	// "windows-mandatory", "soft-existence").
	Name() string

	// SupportsShared reports whether Shared mode is natively supported.
	SupportsShared() bool

	// TryAcquire attempts to acquire path in the given mode.
	//
	// perm/permSet mirror Config.Mode's "unset means respect umask"
	// sentinel: when permSet is false, file creation uses the process
	// umask and no explicit chmod is applied.
	//
	// lifetime is the soft-lock staleness TTL; it is ignored by
	// backends other than SoftExistence.
	TryAcquire(path string, mode LockMode, perm os.FileMode, permSet bool, lifetime time.Duration) AcquireOutcome

	// Release idempotently releases a handle returned by TryAcquire.
	// Must not return an error on a second call with an already-released
	// handle's zero value.
	Release(h *Handle) error
}

// ErrSharedUnsupported is returned (wrapped) by backends that cannot
// natively grant Shared mode.
var ErrSharedUnsupported = osErrorf("shared lock mode is not supported by this backend")

func osErrorf(msg string) error { return &unsupportedModeError{msg: msg} }

type unsupportedModeError struct{ msg string }

func (e *unsupportedModeError) Error() string { return e.msg }

const (
	// DefaultFilePerm is used when Config.Mode is unset but the backend
	// must still pass *some* permission to OpenFile (the umask then
	// narrows it).
	DefaultFilePerm os.FileMode = 0o666
	// DefaultDirPerm is used for MkdirAll calls building the lock's
	// parent directory.
	DefaultDirPerm os.FileMode = 0o777
)
