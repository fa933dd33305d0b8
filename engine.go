package filelock

import (
	"os"
	"time"

	"github.com/outerlane/filelock/internal/acquireloop"
	"github.com/outerlane/filelock/internal/backend"
	"github.com/outerlane/filelock/internal/lockctx"
	"github.com/outerlane/filelock/internal/ownerid"
	"github.com/outerlane/filelock/internal/vfs"
)

// engine bundles the backend/lock-context/acquire-loop plumbing shared
// by ExclusiveLock directly and by ReadWriteLock's inner/outer
// primitives. ReadWriteLock's inner primitive additionally needs Shared
// mode, which the public ExclusiveLock façade intentionally does not
// expose, so both build on this lower-level type instead of one
// wrapping the other.
type engine struct {
	path string // canonical
	fs   vfs.FS
	ctx  *lockctx.Context
	swap *acquireloop.BackendSwap[backend.Backend]
}

func newEngine(fs vfs.FS, canonicalPath string, threadLocal bool) *engine {
	native := backend.NewPlatform(fs)

	swap := acquireloop.NewBackendSwap[backend.Backend](native, func() backend.Backend {
		return backend.NewSoftExistence(fs)
	}, func(from, to string) {
		Logger.Printf("lock %q: backend %q does not support this filesystem, falling back to %q", canonicalPath, from, to)
	})

	return &engine{path: canonicalPath, fs: fs, ctx: lockctx.New(threadLocal), swap: swap}
}

type acquireArgs struct {
	owner      ownerid.Owner
	instance   any
	mode       backend.LockMode
	canReenter bool
	perm       os.FileMode
	permSet    bool
	lifetime   time.Duration

	timeout      time.Duration
	blocking     bool
	pollInterval time.Duration
}

func (e *engine) acquire(a acquireArgs) (int, error) {
	return acquireloop.Acquire(acquireloop.RealClock(), acquireloop.Params{
		LockCtx:       e.ctx,
		Deadlock:      deadlockRegistry,
		Swap:          e.swap,
		Path:          e.path,
		CanonicalPath: e.path,
		Instance:      a.instance,
		Owner:         a.owner,
		CanReenter:    a.canReenter,
		Mode:          a.mode,
		Perm:          a.perm,
		PermSet:       a.permSet,
		Lifetime:      a.lifetime,
		Timeout:       a.timeout,
		Blocking:      a.blocking,
		PollInterval:  a.pollInterval,
	})
}

func (e *engine) release(owner ownerid.Owner, instance any, force bool) error {
	return acquireloop.Release(acquireloop.ReleaseParams{
		LockCtx:       e.ctx,
		Deadlock:      deadlockRegistry,
		Backend:       e.swap.Current(),
		CanonicalPath: e.path,
		Instance:      instance,
		Owner:         owner,
		Force:         force,
	})
}

func (e *engine) isLocked(owner ownerid.Owner) bool { return e.ctx.IsLocked(owner) }

func (e *engine) counter(owner ownerid.Owner) int { return e.ctx.Counter(owner) }

// translateErr maps an *acquireloop.Error onto the public *LockError
// taxonomy, attaching the original, caller-supplied path.
func translateErr(err error, originalPath string) error {
	le, ok := err.(*acquireloop.Error)
	if !ok {
		return newLockError(KindIO, originalPath, err)
	}

	switch le.Kind {
	case acquireloop.KindTimeout:
		return newLockError(KindTimeout, originalPath, le.Err)
	case acquireloop.KindDeadlock:
		return newLockError(KindDeadlock, originalPath, le.Err)
	case acquireloop.KindPermission:
		return newLockError(KindPermission, originalPath, le.Err)
	case acquireloop.KindNotLocked:
		return newLockError(KindNotLocked, originalPath, ErrReleasedTooManyTimes)
	default:
		return newLockError(KindIO, originalPath, le.Err)
	}
}
