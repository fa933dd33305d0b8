package backend

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/outerlane/filelock/internal/vfs"
)

// staleFloor is the minimum age a soft-lock file must have before it is
// even considered for staleness probing. This avoids breaking a lock
// that another process is in the middle of creating.
const staleFloor = 2 * time.Second

// maxSoftLockReadBytes bounds reads of the soft-lock file content;
// anything past it is ignored.
const maxSoftLockReadBytes = 256

// softLockContent renders the soft-lock file body:
// "<decimal pid>\n<hostname>\n".
func softLockContent(pid int, hostname string) []byte {
	return []byte(strconv.Itoa(pid) + "\n" + hostname + "\n")
}

// parsedSoftLock is a well-formed soft-lock file body: exactly two
// non-empty lines. Any other layout is an unknown holder.
type parsedSoftLock struct {
	pid      int
	hostname string
	ok       bool
}

func parseSoftLockContent(data []byte) parsedSoftLock {
	if len(data) > maxSoftLockReadBytes {
		data = data[:maxSoftLockReadBytes]
	}

	lines := strings.Split(string(data), "\n")
	// strings.Split on "pid\nhost\n" yields ["pid", "host", ""].
	nonEmpty := lines[:0:0]
	for _, l := range lines {
		if l != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}

	if len(nonEmpty) != 2 {
		return parsedSoftLock{}
	}

	pid, err := strconv.Atoi(nonEmpty[0])
	if err != nil || pid <= 0 {
		return parsedSoftLock{}
	}

	return parsedSoftLock{pid: pid, hostname: nonEmpty[1], ok: true}
}

// livenessProbe reports whether pid is alive on the local host, using
// kill(pid, 0) semantics: ESRCH means dead; EPERM means alive; any
// other outcome (including success) is treated as alive. Implemented
// per platform in stale_unix.go / stale_windows.go.
var livenessProbe func(pid int) bool

// isStale decides whether the soft-lock file at path should be
// considered abandoned: old enough (past the floor and, when set, past
// lifetime),
// recorded by this host, and held by a PID that no longer exists. now
// is injected for testability.
func isStale(fsys vfs.FS, path string, lifetime time.Duration, now time.Time) bool {
	info, err := fsys.Stat(path)
	if err != nil {
		return false
	}

	age := now.Sub(info.ModTime())
	if age < staleFloor {
		return false
	}

	// lifetime==0 means TTL expiry is disabled: only the staleFloor
	// check above applies.
	if lifetime > 0 && age < lifetime {
		return false
	}

	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, maxSoftLockReadBytes)
	n, _ := f.Read(buf)

	parsed := parseSoftLockContent(buf[:n])
	if !parsed.ok {
		// Unknown holder layout: not stale on that basis alone.
		return false
	}

	localHost, err := fsys.Hostname()
	if err != nil || parsed.hostname != localHost {
		return false
	}

	return !livenessProbe(parsed.pid)
}

// breakStale performs the rename-aside-then-unlink dance that makes
// breaking a stale lock atomic and race-safe against a legitimate
// holder that just arrived: the rename either wins the whole file or
// fails, never half-breaks it.
func breakStale(fsys vfs.FS, path string) error {
	breakPath := fmt.Sprintf("%s.break.%d", path, os.Getpid())

	if err := fsys.Rename(path, breakPath); err != nil {
		return err
	}

	_ = fsys.Remove(breakPath) // best-effort; ENOENT is fine

	return nil
}
