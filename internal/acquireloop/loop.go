// Package acquireloop implements the timeout/blocking/poll-interval
// retry algorithm shared by every lock flavor: reentry fast path,
// deadlock check, repeated backend.TryAcquire calls, and the sticky
// Fatal(Unsupported)→Soft backend fallback.
package acquireloop

import (
	"os"
	"time"

	"github.com/outerlane/filelock/internal/backend"
	"github.com/outerlane/filelock/internal/lockctx"
	"github.com/outerlane/filelock/internal/ownerid"
	"github.com/outerlane/filelock/internal/registry"
)

// Clock abstracts wall-clock reads and sleeping so tests can run the
// timeout/poll logic without real delays.
type Clock struct {
	Now   func() time.Time
	Sleep func(time.Duration)
}

// RealClock returns the production Clock backed by the time package.
func RealClock() Clock {
	return Clock{Now: time.Now, Sleep: time.Sleep}
}

// Unbounded is the "-1" timeout sentinel: timeout<0 means wait
// indefinitely.
const Unbounded time.Duration = -1

// Params bundles everything one Acquire call needs. CanReenter encodes
// the mode-compatibility half of the reentry check; ExclusiveLock
// always passes true, ReadWriteLock always passes false because it
// tracks mode-aware reentry itself and only calls Acquire on a fresh
// zero→one transition.
type Params struct {
	LockCtx  *lockctx.Context
	Deadlock *registry.Deadlock
	Swap     *BackendSwap[backend.Backend]

	Path          string // as given by the caller, for messages
	CanonicalPath string // resolved, for registry keys

	Instance   any // identity used by the deadlock/singleton registries
	Owner      ownerid.Owner
	CanReenter bool

	Mode     backend.LockMode
	Perm     os.FileMode
	PermSet  bool
	Lifetime time.Duration

	Timeout      time.Duration // Unbounded, 0 (single attempt), or >0
	Blocking     bool
	PollInterval time.Duration
}

// Acquire runs the retry loop and returns the owner's counter after a
// successful acquisition. On any failure the counter is unchanged.
func Acquire(clk Clock, p Params) (int, error) {
	if counter, reentered := p.LockCtx.TryReenter(p.Owner, p.CanReenter); reentered {
		return counter, nil
	}

	if err := p.Deadlock.Check(p.CanonicalPath, p.Instance, p.Owner); err != nil {
		return 0, &Error{Kind: KindDeadlock, Err: err}
	}

	start := clk.Now()
	swappedThisCall := false

	for {
		be := p.Swap.Current()
		outcome := be.TryAcquire(p.CanonicalPath, p.Mode, p.Perm, p.PermSet, p.Lifetime)

		switch outcome.Outcome {
		case backend.Acquired:
			p.LockCtx.Commit(p.Owner, outcome.Handle)
			p.Deadlock.Register(p.CanonicalPath, p.Instance, p.Owner)
			return 1, nil

		case backend.Fatal:
			if outcome.FatalKind == backend.FatalUnsupported && !swappedThisCall && !p.Swap.Swapped() {
				p.Swap.SwapToFallback()
				swappedThisCall = true
				continue
			}
			return 0, translateFatal(outcome)

		case backend.Contended:
			if err := waitOrTimeout(clk, p, start); err != nil {
				return 0, err
			}
		}
	}
}

// waitOrTimeout fails fast on blocking=false/timeout=0, otherwise
// sleeps at most PollInterval, clamped to the remaining budget. The
// poll grain also bounds an unbounded wait's CPU use.
func waitOrTimeout(clk Clock, p Params, start time.Time) error {
	if !p.Blocking || p.Timeout == 0 {
		return &Error{Kind: KindTimeout, Err: errTimeout}
	}

	sleep := p.PollInterval

	if p.Timeout > 0 {
		elapsed := clk.Now().Sub(start)
		if elapsed >= p.Timeout {
			return &Error{Kind: KindTimeout, Err: errTimeout}
		}

		if remaining := p.Timeout - elapsed; remaining < sleep {
			sleep = remaining
		}
	}

	if sleep > 0 {
		clk.Sleep(sleep)
	}

	return nil
}

func translateFatal(outcome backend.AcquireOutcome) *Error {
	switch outcome.FatalKind {
	case backend.FatalPermission:
		return &Error{Kind: KindPermission, Err: outcome.Err}
	case backend.FatalUnsupported:
		return &Error{Kind: KindUnsupported, Err: outcome.Err}
	default:
		return &Error{Kind: KindIO, Err: outcome.Err}
	}
}

// ReleaseParams bundles the inputs to Release.
type ReleaseParams struct {
	LockCtx  *lockctx.Context
	Deadlock *registry.Deadlock
	Backend  backend.Backend

	CanonicalPath string
	Instance      any
	Owner         ownerid.Owner
	Force         bool
}

// Release runs the reverse of Acquire: decrement the counter and, on the
// one→zero transition (or a forced release), invoke the backend's
// Release and drop the deadlock-registry entry.
func Release(p ReleaseParams) error {
	var handle *backend.Handle

	if p.Force {
		handle = p.LockCtx.ForceRelease(p.Owner)
	} else {
		_, h, ok := p.LockCtx.Release(p.Owner)
		if !ok {
			return &Error{Kind: KindNotLocked, Err: errNotLocked}
		}
		handle = h
	}

	if handle == nil {
		// Counter decremented but still > 0, or force-released an
		// already-idle context: nothing to hand to the backend.
		return nil
	}

	p.Deadlock.Unregister(p.CanonicalPath, p.Instance)

	return p.Backend.Release(handle)
}
