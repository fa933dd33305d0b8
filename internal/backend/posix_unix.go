//go:build unix

package backend

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/outerlane/filelock/internal/vfs"
)

// PosixAdvisory is the advisory whole-file lock backend for POSIX
// systems: flock with a post-lock inode verification to catch a
// concurrent releaser unlinking the path between our open and our lock.
type PosixAdvisory struct {
	FS vfs.FS

	// Flock is overridable for tests; defaults to unix.Flock.
	Flock func(fd int, how int) error
}

// NewPosixAdvisory returns a PosixAdvisory backend over fsys.
func NewPosixAdvisory(fsys vfs.FS) *PosixAdvisory {
	return &PosixAdvisory{FS: fsys, Flock: unix.Flock}
}

func (p *PosixAdvisory) Name() string { return "posix-advisory" }

func (p *PosixAdvisory) SupportsShared() bool { return true }

func (p *PosixAdvisory) flock() func(fd int, how int) error {
	if p.Flock != nil {
		return p.Flock
	}
	return unix.Flock
}

func (p *PosixAdvisory) TryAcquire(path string, mode LockMode, perm os.FileMode, permSet bool, lifetime time.Duration) AcquireOutcome {
	openPerm := perm
	if !permSet {
		openPerm = DefaultFilePerm
	}

	f, err := p.openLockFile(path, openPerm)
	if err != nil {
		return classifyOpenErr(err)
	}

	if permSet {
		if chmodErr := f.Chmod(perm); chmodErr != nil && !errors.Is(chmodErr, os.ErrPermission) {
			_ = f.Close()
			return AcquireOutcome{Outcome: Fatal, FatalKind: FatalOS, Err: chmodErr}
		}
	}

	flags := unix.LOCK_NB
	if mode == Shared {
		flags |= unix.LOCK_SH
	} else {
		flags |= unix.LOCK_EX
	}

	if err := flockRetryEINTR(p.flock(), int(f.Fd()), flags); err != nil {
		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return AcquireOutcome{Outcome: Contended}
		}

		if errors.Is(err, unix.ENOSYS) {
			return AcquireOutcome{Outcome: Fatal, FatalKind: FatalUnsupported, Err: err}
		}

		return AcquireOutcome{Outcome: Fatal, FatalKind: FatalOS, Err: err}
	}

	live, err := p.fileIsLive(f)
	if err != nil {
		_ = flockRetryEINTR(p.flock(), int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return AcquireOutcome{Outcome: Fatal, FatalKind: FatalOS, Err: err}
	}

	if !live {
		// A concurrent releaser unlinked path after we opened it; the
		// inode we locked is dead. Retry.
		_ = flockRetryEINTR(p.flock(), int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return AcquireOutcome{Outcome: Contended}
	}

	return AcquireOutcome{Outcome: Acquired, Handle: &Handle{File: f, Path: path, SharedMode: mode == Shared}}
}

func (p *PosixAdvisory) Release(h *Handle) error {
	if h == nil || h.File == nil {
		return nil
	}

	// A shared handle must leave the path in place: other readers may
	// still hold the same inode, and unlinking it would let a writer
	// lock a fresh inode while they do.
	var removeErr error
	if !h.SharedMode {
		removeErr = p.FS.Remove(h.Path)
	}

	unlockErr := flockRetryEINTR(p.flock(), int(h.File.Fd()), unix.LOCK_UN)
	closeErr := h.File.Close()

	if unlockErr != nil {
		return unlockErr
	}
	if closeErr != nil {
		return closeErr
	}
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return removeErr
	}

	return nil
}

// openLockFile opens path for locking, retrying without O_CREATE on a
// permission error against an existing file (sticky-bit directories
// such as /tmp refuse O_CREAT on another user's file).
func (p *PosixAdvisory) openLockFile(path string, perm os.FileMode) (vfs.File, error) {
	flag := os.O_RDWR | os.O_CREATE | os.O_TRUNC | nofollowFlag

	f, err := p.FS.OpenFile(path, flag, perm)
	if err == nil {
		return f, nil
	}

	if errors.Is(err, os.ErrPermission) {
		if _, statErr := p.FS.Stat(path); statErr == nil {
			return p.FS.OpenFile(path, flag&^os.O_CREATE, perm)
		}
	}

	return nil, err
}

// fileIsLive reports whether f's inode still has a nonzero link count.
// A zero link count means a releaser unlinked the path after we opened
// it: the lock we just took is on a dead inode.
func (p *PosixAdvisory) fileIsLive(f vfs.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}

	sys, ok := info.Sys().(*unix.Stat_t)
	if !ok || sys == nil {
		// Can't determine link count; assume live rather than spuriously
		// failing the acquire.
		return true, nil
	}

	return sys.Nlink > 0, nil
}

func classifyOpenErr(err error) AcquireOutcome {
	if errors.Is(err, os.ErrPermission) {
		return AcquireOutcome{Outcome: Fatal, FatalKind: FatalPermission, Err: err}
	}
	return AcquireOutcome{Outcome: Fatal, FatalKind: FatalOS, Err: err}
}

// flockRetryEINTR wraps flock, retrying on EINTR: a syscall interrupted
// by a signal, not a failure.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
