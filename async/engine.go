package async

import (
	"context"
	"os"
	"time"

	"github.com/outerlane/filelock/internal/acquireloop"
	"github.com/outerlane/filelock/internal/backend"
	"github.com/outerlane/filelock/internal/lockctx"
	"github.com/outerlane/filelock/internal/offload"
	"github.com/outerlane/filelock/internal/ownerid"
	"github.com/outerlane/filelock/internal/registry"
	"github.com/outerlane/filelock/internal/vfs"
)

// backendPool bounds how many in-flight backend calls the async tier
// may have offloaded at once. One pool is shared by every async lock in
// the process, same as registry.Process is shared for deadlock
// detection.
var backendPool = offload.NewPool(32)

// engine is the async tier's analogue of the root package's engine: the
// PlatformBackend+LockContext plumbing for one lock file, but with its
// own context-cancellable acquire loop instead of internal/acquireloop's
// blocking one (internal/acquireloop.Acquire sleeps on a plain
// Clock.Sleep with no cancellation path, which is wrong for this tier).
type engine struct {
	path string // canonical
	ctx  *lockctx.Context
	swap *acquireloop.BackendSwap[backend.Backend]
}

func newEngine(fs vfs.FS, canonicalPath string, threadLocal bool) *engine {
	native := backend.NewPlatform(fs)

	swap := acquireloop.NewBackendSwap[backend.Backend](native, func() backend.Backend {
		return backend.NewSoftExistence(fs)
	}, func(from, to string) {
		logger.Printf("lock %q: backend %q does not support this filesystem, falling back to %q", canonicalPath, from, to)
	})

	return &engine{path: canonicalPath, ctx: lockctx.New(threadLocal), swap: swap}
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

// acquire runs the cancellable counterpart of acquireloop.Acquire: the
// fast reentry check and deadlock check are identical to the
// synchronous tier, but contention is awaited via a context-cancellable
// timer instead of a blocking sleep, and each backend call is offloaded
// onto backendPool so ctx cancellation is observed promptly even if the
// underlying syscall is momentarily slow.
func (e *engine) acquire(ctx context.Context, a acquireArgs) (int, error) {
	if n, ok := e.ctx.TryReenter(a.owner, a.canReenter); ok {
		return n, nil
	}

	if err := registry.Process.Check(e.path, a.instance, a.owner); err != nil {
		return 0, &acquireloop.Error{Kind: acquireloop.KindDeadlock, Err: err}
	}

	start := time.Now()
	swappedThisCall := false

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		// be is pinned per iteration so that a TryAcquire outcome that
		// arrives after cancellation is released through the same backend
		// that produced it. Dropping a late Acquired handle would leak the
		// descriptor and hold the OS-level lock for the rest of the
		// process's life, blocking every future acquirer of this path.
		be := e.swap.Current()
		outcome, err := offload.Run(ctx, backendPool, func() backend.AcquireOutcome {
			return be.TryAcquire(e.path, a.mode, a.perm, a.permSet, a.lifetime)
		}, func(late backend.AcquireOutcome) {
			if late.Outcome == backend.Acquired {
				_ = be.Release(late.Handle)
			}
		})
		if err != nil {
			return 0, err
		}

		switch outcome.Outcome {
		case backend.Acquired:
			e.ctx.Commit(a.owner, outcome.Handle)
			registry.Process.Register(e.path, a.instance, a.owner)
			return 1, nil

		case backend.Fatal:
			if outcome.FatalKind == backend.FatalUnsupported && !swappedThisCall && !e.swap.Swapped() {
				e.swap.SwapToFallback()
				swappedThisCall = true
				continue
			}
			return 0, translateFatal(outcome)

		case backend.Contended:
			if err := e.waitOrTimeout(ctx, a, start); err != nil {
				return 0, err
			}
		}
	}
}

// waitOrTimeout sleeps until the next retry, the configured budget
// elapses, or ctx is cancelled, whichever comes first.
func (e *engine) waitOrTimeout(ctx context.Context, a acquireArgs, start time.Time) error {
	if !a.blocking || a.timeout == 0 {
		return &acquireloop.Error{Kind: acquireloop.KindTimeout}
	}

	elapsed := time.Since(start)
	sleepFor := a.pollInterval

	if a.timeout > 0 {
		remaining := a.timeout - elapsed
		if remaining <= 0 {
			return &acquireloop.Error{Kind: acquireloop.KindTimeout}
		}
		if remaining < sleepFor {
			sleepFor = remaining
		}
	}

	timer := time.NewTimer(sleepFor)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func translateFatal(outcome backend.AcquireOutcome) *acquireloop.Error {
	switch outcome.FatalKind {
	case backend.FatalPermission:
		return &acquireloop.Error{Kind: acquireloop.KindPermission, Err: outcome.Err}
	default:
		return &acquireloop.Error{Kind: acquireloop.KindIO, Err: outcome.Err}
	}
}

func (e *engine) release(owner ownerid.Owner, instance any, force bool) error {
	var h *backend.Handle

	if force {
		h = e.ctx.ForceRelease(owner)
	} else {
		_, handle, ok := e.ctx.Release(owner)
		if !ok {
			return &acquireloop.Error{Kind: acquireloop.KindNotLocked, Err: errNotLocked}
		}
		h = handle
	}

	if h == nil {
		// Counter decremented but still > 0, or force-released an
		// already-idle context: nothing to hand to the backend.
		return nil
	}

	registry.Process.Unregister(e.path, instance)

	return e.swap.Current().Release(h)
}

func (e *engine) isLocked(owner ownerid.Owner) bool { return e.ctx.IsLocked(owner) }

func (e *engine) counter(owner ownerid.Owner) int { return e.ctx.Counter(owner) }
