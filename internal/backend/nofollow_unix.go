//go:build unix

package backend

import "golang.org/x/sys/unix"

// nofollowFlag adds O_NOFOLLOW when available, refusing to open a lock
// path that is a symlink.
const nofollowFlag = unix.O_NOFOLLOW
