package async

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/outerlane/filelock"
	"github.com/outerlane/filelock/internal/acquireloop"
)

var errNotLocked = errors.New("async: release called on a lock this context does not hold")

// logger mirrors the root package's filelock.Logger convention (a
// plain *log.Logger, not a structured logging façade — see
// filelock.Logger's doc for why).
var logger = log.New(os.Stderr, "filelock/async: ", 0)

// translateErr maps an *acquireloop.Error onto the public
// *filelock.LockError taxonomy, same mapping as the synchronous tier's
// engine.translateErr, so callers can use errors.Is(err,
// filelock.ErrTimeout) etc. regardless of which tier produced it.
func translateErr(err error, path string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	le, ok := err.(*acquireloop.Error)
	if !ok {
		return &filelock.LockError{Kind: filelock.KindIO, Path: path, Err: err}
	}

	switch le.Kind {
	case acquireloop.KindTimeout:
		return &filelock.LockError{Kind: filelock.KindTimeout, Path: path, Err: filelock.ErrTimeout}
	case acquireloop.KindDeadlock:
		return &filelock.LockError{Kind: filelock.KindDeadlock, Path: path, Err: le.Err}
	case acquireloop.KindPermission:
		return &filelock.LockError{Kind: filelock.KindPermission, Path: path, Err: le.Err}
	case acquireloop.KindNotLocked:
		return &filelock.LockError{Kind: filelock.KindNotLocked, Path: path, Err: filelock.ErrReleasedTooManyTimes}
	default:
		return &filelock.LockError{Kind: filelock.KindIO, Path: path, Err: le.Err}
	}
}
