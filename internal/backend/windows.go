//go:build windows

package backend

import (
	"errors"
	"math"
	"os"
	"time"

	"golang.org/x/sys/windows"

	"github.com/outerlane/filelock/internal/vfs"
)

// WindowsMandatory is the mandatory byte-range lock backend for
// Windows, built on LockFileEx via golang.org/x/sys/windows.
type WindowsMandatory struct {
	FS vfs.FS
}

// NewWindowsMandatory returns a WindowsMandatory backend over fsys.
func NewWindowsMandatory(fsys vfs.FS) *WindowsMandatory {
	return &WindowsMandatory{FS: fsys}
}

func (w *WindowsMandatory) Name() string { return "windows-mandatory" }

func (w *WindowsMandatory) SupportsShared() bool { return false }

func (w *WindowsMandatory) TryAcquire(path string, mode LockMode, perm os.FileMode, permSet bool, lifetime time.Duration) AcquireOutcome {
	if mode == Shared {
		return AcquireOutcome{Outcome: Fatal, FatalKind: FatalOS, Err: ErrSharedUnsupported}
	}

	openPerm := perm
	if !permSet {
		openPerm = DefaultFilePerm
	}

	f, err := w.FS.OpenFile(path, os.O_RDWR|os.O_CREATE, openPerm)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			// Windows returns access-denied when another process holds
			// the file exclusively.
			return AcquireOutcome{Outcome: Contended}
		}
		return AcquireOutcome{Outcome: Fatal, FatalKind: FatalOS, Err: err}
	}

	handle := windows.Handle(f.Fd())

	ol, evErr := newOverlapped()
	if evErr != nil {
		_ = f.Close()
		return AcquireOutcome{Outcome: Fatal, FatalKind: FatalOS, Err: evErr}
	}
	defer windows.CloseHandle(ol.HEvent)

	const (
		lockfileFailImmediately = 0x00000001
		lockfileExclusiveLock   = 0x00000002
	)

	err = windows.LockFileEx(handle, lockfileExclusiveLock|lockfileFailImmediately, 0, 0, math.MaxUint32, ol)
	if err != nil {
		_ = f.Close()

		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
			return AcquireOutcome{Outcome: Contended}
		}

		return AcquireOutcome{Outcome: Fatal, FatalKind: FatalOS, Err: err}
	}

	return AcquireOutcome{Outcome: Acquired, Handle: &Handle{File: f, Path: path}}
}

func (w *WindowsMandatory) Release(h *Handle) error {
	if h == nil || h.File == nil {
		return nil
	}

	handle := windows.Handle(h.File.Fd())
	ol := &windows.Overlapped{}

	unlockErr := windows.UnlockFileEx(handle, 0, 0, math.MaxUint32, ol)
	closeErr := h.File.Close()
	removeErr := w.FS.Remove(h.Path)

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

func newOverlapped() (*windows.Overlapped, error) {
	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return nil, err
	}

	return &windows.Overlapped{HEvent: event}, nil
}

var _ Backend = (*WindowsMandatory)(nil)
