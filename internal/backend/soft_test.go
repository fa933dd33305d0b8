package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/outerlane/filelock/internal/vfs"
)

func softBackend(t *testing.T) (*SoftExistence, string) {
	t.Helper()

	return NewSoftExistence(vfs.NewReal()), filepath.Join(t.TempDir(), "test.lock")
}

func Test_SoftExistence_AcquireWritesPIDAndHostname(t *testing.T) {
	t.Parallel()

	s, path := softBackend(t)

	out := s.TryAcquire(path, Exclusive, 0, false, 0)
	if out.Outcome != Acquired {
		t.Fatalf("TryAcquire() outcome = %v, want Acquired (err = %v)", out.Outcome, out.Err)
	}

	hostname, _ := os.Hostname()
	want := fmt.Sprintf("%d\n%s\n", os.Getpid(), hostname)

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() err = %v", err)
	}
	if string(got) != want {
		t.Fatalf("lock file content = %q, want %q", got, want)
	}

	if err := s.Release(out.Handle); err != nil {
		t.Fatalf("Release() err = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Stat() after release err = %v, want not-exist", err)
	}
}

func Test_SoftExistence_ExistingFileIsContended(t *testing.T) {
	t.Parallel()

	s, path := softBackend(t)

	first := s.TryAcquire(path, Exclusive, 0, false, 0)
	if first.Outcome != Acquired {
		t.Fatalf("first TryAcquire() outcome = %v, want Acquired", first.Outcome)
	}
	defer s.Release(first.Handle)

	second := s.TryAcquire(path, Exclusive, 0, false, 0)
	if second.Outcome != Contended {
		t.Fatalf("second TryAcquire() outcome = %v, want Contended", second.Outcome)
	}
}

func Test_SoftExistence_SharedModeIsFatal(t *testing.T) {
	t.Parallel()

	s, path := softBackend(t)

	out := s.TryAcquire(path, Shared, 0, false, 0)
	if out.Outcome != Fatal {
		t.Fatalf("TryAcquire(Shared) outcome = %v, want Fatal", out.Outcome)
	}
}

func Test_SoftExistence_ReleaseNilHandleIsANoOp(t *testing.T) {
	t.Parallel()

	s, _ := softBackend(t)

	if err := s.Release(nil); err != nil {
		t.Fatalf("Release(nil) err = %v", err)
	}
	if err := s.Release(&Handle{}); err != nil {
		t.Fatalf("Release(zero handle) err = %v", err)
	}
}

func Test_SoftExistence_BreaksStaleLockThenAcquires(t *testing.T) {
	withLivenessProbe(t, func(int) bool { return false })

	s, path := softBackend(t)

	hostname, _ := os.Hostname()
	if err := os.WriteFile(path, []byte("4194305\n"+hostname+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() err = %v", err)
	}

	// Pretend the seeded file is well past the stale floor.
	s.Now = func() time.Time { return time.Now().Add(10 * time.Second) }

	// The stale holder is broken and reported as Contended so the acquire
	// loop retries; the retry then wins the freshly-freed path.
	first := s.TryAcquire(path, Exclusive, 0, false, 0)
	if first.Outcome != Contended {
		t.Fatalf("TryAcquire() over a stale lock outcome = %v, want Contended", first.Outcome)
	}

	second := s.TryAcquire(path, Exclusive, 0, false, 0)
	if second.Outcome != Acquired {
		t.Fatalf("retry TryAcquire() outcome = %v, want Acquired after the stale break", second.Outcome)
	}
	defer s.Release(second.Handle)
}

func Test_SoftExistence_DoesNotBreakAliveHoldersLock(t *testing.T) {
	withLivenessProbe(t, func(int) bool { return true })

	s, path := softBackend(t)

	hostname, _ := os.Hostname()
	if err := os.WriteFile(path, []byte("4194305\n"+hostname+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() err = %v", err)
	}
	s.Now = func() time.Time { return time.Now().Add(time.Hour) }

	for range 3 {
		out := s.TryAcquire(path, Exclusive, 0, false, 0)
		if out.Outcome != Contended {
			t.Fatalf("TryAcquire() outcome = %v, want Contended while the holder is alive", out.Outcome)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Stat() err = %v, the alive holder's lock file must survive", err)
	}
}

func Test_SoftExistence_PermissionErrorIsFatal(t *testing.T) {
	t.Parallel()

	fsys := vfs.NewChaos(vfs.NewReal())
	s := NewSoftExistence(fsys)
	path := filepath.Join(t.TempDir(), "test.lock")

	fsys.QueueError("open", path, vfs.PathError("open", path, os.ErrPermission))

	out := s.TryAcquire(path, Exclusive, 0, false, 0)
	if out.Outcome != Fatal || out.FatalKind != FatalPermission {
		t.Fatalf("TryAcquire() = (%v, %v), want (Fatal, FatalPermission)", out.Outcome, out.FatalKind)
	}
}
