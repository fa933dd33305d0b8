package acquireloop

import "errors"

var (
	errTimeout   = errors.New("acquireloop: timed out waiting for the lock")
	errNotLocked = errors.New("acquireloop: release called on a lock this context does not hold")
)
