//go:build windows

package backend

import (
	"golang.org/x/sys/windows"
)

func init() {
	livenessProbe = windowsLivenessProbe
}

// windowsLivenessProbe approximates kill(pid, 0) semantics on Windows:
// OpenProcess failing with ERROR_INVALID_PARAMETER means no such process
// (dead); any other outcome (success, or a permission-flavored error) is
// treated as alive.
func windowsLivenessProbe(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err == nil {
		_ = windows.CloseHandle(h)
		return true
	}

	if err == windows.ERROR_INVALID_PARAMETER {
		return false
	}

	return true
}
