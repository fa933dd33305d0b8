//go:build unix

package backend

import (
	"errors"

	"golang.org/x/sys/unix"
)

func init() {
	livenessProbe = unixLivenessProbe
}

// unixLivenessProbe implements kill(pid, 0) semantics: ESRCH means
// dead; EPERM means alive; any other outcome (including success) is
// treated as alive.
func unixLivenessProbe(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}

	if errors.Is(err, unix.ESRCH) {
		return false
	}

	return true
}
