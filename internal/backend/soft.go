package backend

import (
	"errors"
	"os"
	"time"

	"github.com/outerlane/filelock/internal/vfs"
)

// SoftExistence is the fallback backend for filesystems lacking native
// locking: the *existence* of the file is the lock.
type SoftExistence struct {
	FS vfs.FS

	// Now is injected for deterministic staleness tests; defaults to
	// time.Now when nil.
	Now func() time.Time
}

// NewSoftExistence returns a SoftExistence backend over fsys.
func NewSoftExistence(fsys vfs.FS) *SoftExistence {
	return &SoftExistence{FS: fsys}
}

func (s *SoftExistence) Name() string { return "soft-existence" }

func (s *SoftExistence) SupportsShared() bool { return false }

func (s *SoftExistence) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SoftExistence) TryAcquire(path string, mode LockMode, perm os.FileMode, permSet bool, lifetime time.Duration) AcquireOutcome {
	if mode == Shared {
		return AcquireOutcome{Outcome: Fatal, FatalKind: FatalOS, Err: ErrSharedUnsupported}
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL | os.O_TRUNC | nofollowFlag

	openPerm := perm
	if !permSet {
		openPerm = DefaultFilePerm
	}

	f, err := s.FS.OpenFile(path, flag, openPerm)
	if err == nil {
		// Best-effort content write; the file's existence, not its
		// content, is what is load-bearing.
		_, _ = f.Write(softLockContent(os.Getpid(), localHostname(s.FS)))

		return AcquireOutcome{Outcome: Acquired, Handle: &Handle{File: f, Path: path}}
	}

	if errors.Is(err, os.ErrExist) {
		if isStale(s.FS, path, lifetime, s.now()) {
			if breakErr := breakStale(s.FS, path); breakErr == nil {
				// Report Contended so the acquire loop retries
				// immediately.
				return AcquireOutcome{Outcome: Contended}
			}
		}

		return AcquireOutcome{Outcome: Contended}
	}

	if errors.Is(err, os.ErrPermission) {
		return AcquireOutcome{Outcome: Fatal, FatalKind: FatalPermission, Err: err}
	}

	return AcquireOutcome{Outcome: Fatal, FatalKind: FatalOS, Err: err}
}

func (s *SoftExistence) Release(h *Handle) error {
	if h == nil || h.File == nil {
		return nil
	}

	closeErr := h.File.Close()
	removeErr := s.FS.Remove(h.Path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return removeErr
	}

	return closeErr
}

func localHostname(fsys vfs.FS) string {
	h, err := fsys.Hostname()
	if err != nil {
		return ""
	}
	return h
}

var _ Backend = (*SoftExistence)(nil)
