package filelock

import (
	"context"
	"sync"
	"time"

	"github.com/outerlane/filelock/internal/backend"
	"github.com/outerlane/filelock/internal/ownerid"
	"github.com/outerlane/filelock/internal/vfs"
)

// rwMode is the mode a ReadWriteLock instance currently holds, or
// rwNone when idle.
type rwMode int

const (
	rwNone rwMode = iota
	rwRead
	rwWrite
)

type rwState struct {
	mode    rwMode
	counter int
	// owner is the Owner that performed the zero->one acquisition. With a
	// shared (non-thread-local) context, a held write lock is pinned to
	// it: no other owner may reenter writer mode.
	owner ownerid.Owner
}

// ReadWriteLock is a writer-preferring read/write lock built atop two
// exclusive primitives: "inner" (the mutual-exclusion primitive,
// shared-mode for readers when the backend supports it) and "outer"
// (the writer-intent indicator). Once a writer holds outer, no new
// reader can reach inner without first queuing on outer.
type ReadWriteLock struct {
	cfg  Config
	path string

	inner *engine
	outer *engine

	mu       sync.Mutex
	perOwner map[ownerid.Owner]*rwState
	shared   rwState
}

// NewReadWrite constructs a ReadWriteLock over path (producing
// "path.inner" and "path.outer" lock files). WithSingleton behaves as in
// New: reuses the process's existing instance for the canonical path if
// its configuration matches.
func NewReadWrite(path string, opts ...Option) (*ReadWriteLock, error) {
	return newReadWriteLockOn(vfs.NewReal(), path, opts)
}

func newReadWriteLockOn(fs vfs.FS, path string, opts []Option) (*ReadWriteLock, error) {
	cfg := newConfig(path, opts)

	canonBase, err := canonicalPath(path)
	if err != nil {
		return nil, newLockError(KindIO, path, err)
	}

	innerCanon, err := canonicalPath(path + ".inner")
	if err != nil {
		return nil, newLockError(KindIO, path, err)
	}

	outerCanon, err := canonicalPath(path + ".outer")
	if err != nil {
		return nil, newLockError(KindIO, path, err)
	}

	factory := func() *ReadWriteLock {
		rw := &ReadWriteLock{
			cfg:   cfg,
			path:  path,
			inner: newEngine(fs, innerCanon, cfg.threadLocal),
			outer: newEngine(fs, outerCanon, cfg.threadLocal),
		}
		if cfg.threadLocal {
			rw.perOwner = make(map[ownerid.Owner]*rwState)
		}
		return rw
	}

	if !cfg.singleton {
		return factory(), nil
	}

	inst, err := rwSingletons.GetOrCreate(canonBase, cfg, configsEqualAny, factory)
	if err != nil {
		return nil, newLockError(KindConfigurationMismatch, path, err)
	}
	return inst, nil
}

func (rw *ReadWriteLock) slot(owner ownerid.Owner) *rwState {
	if !rw.cfg.threadLocal {
		return &rw.shared
	}

	s, ok := rw.perOwner[owner]
	if !ok {
		s = &rwState{}
		rw.perOwner[owner] = s
	}
	return s
}

// remainingTimeout reduces a budget by elapsed, preserving the Unbounded
// and single-attempt (0) sentinels untouched, so the outer->inner
// handoff spends one deadline rather than granting each stage a fresh
// full timeout.
func remainingTimeout(timeout, elapsed time.Duration) time.Duration {
	if timeout <= 0 {
		return timeout
	}
	if r := timeout - elapsed; r > 0 {
		return r
	}
	return 0
}

// Read acquires the lock in reader mode; concurrent readers may proceed
// together when the backend grants shared locks natively.
func (rw *ReadWriteLock) Read(ctx context.Context, opts ...AcquireOption) (*Proxy, error) {
	return rw.acquire(ctx, rwRead, opts)
}

// Write acquires the lock in writer mode, excluding every reader and
// every other writer for its duration.
func (rw *ReadWriteLock) Write(ctx context.Context, opts ...AcquireOption) (*Proxy, error) {
	return rw.acquire(ctx, rwWrite, opts)
}

func (rw *ReadWriteLock) acquire(ctx context.Context, mode rwMode, opts []AcquireOption) (*Proxy, error) {
	owner := ownerid.From(ctx)
	timeout, blocking, poll := resolveOverrides(rw.cfg.timeout, rw.cfg.blocking, rw.cfg.pollInterval, opts)

	rw.mu.Lock()
	s := rw.slot(owner)
	if s.counter > 0 {
		if s.mode != mode {
			rw.mu.Unlock()
			return nil, newLockError(KindModeSwitch, rw.path, ErrModeSwitch)
		}
		if mode == rwWrite && s.owner != owner {
			// Shared context only: with thread-local state each owner has
			// its own slot, so s.owner always matches here.
			rw.mu.Unlock()
			return nil, newLockError(KindWriterPinned, rw.path, ErrWriterPinned)
		}
		s.counter++
		rw.mu.Unlock()
		return &Proxy{release: func() error { return rw.Release(ctx, false) }}, nil
	}
	rw.mu.Unlock()

	if err := rw.acquireFresh(owner, mode, timeout, blocking, poll); err != nil {
		return nil, err
	}

	rw.mu.Lock()
	s.mode = mode
	s.counter = 1
	s.owner = owner
	rw.mu.Unlock()

	return &Proxy{release: func() error { return rw.Release(ctx, false) }}, nil
}

// acquireFresh runs the outer->inner protocol for a zero->one
// transition on this owner/mode: take outer, take inner (shared for
// readers where available), then release outer immediately for readers
// or keep it held for the duration of a write.
func (rw *ReadWriteLock) acquireFresh(owner ownerid.Owner, mode rwMode, timeout time.Duration, blocking bool, poll time.Duration) error {
	start := time.Now()

	if _, err := rw.outer.acquire(acquireArgs{
		owner: owner, instance: rw, mode: backend.Exclusive, canReenter: false,
		perm: rw.cfg.mode, permSet: rw.cfg.modeSet, lifetime: rw.cfg.lifetime,
		timeout: timeout, blocking: blocking, pollInterval: poll,
	}); err != nil {
		return translateErr(err, rw.path)
	}

	innerTimeout := remainingTimeout(timeout, time.Since(start))
	innerMode := backend.Exclusive
	if mode == rwRead && rw.inner.swap.Current().SupportsShared() {
		innerMode = backend.Shared
	}

	_, innerErr := rw.inner.acquire(acquireArgs{
		owner: owner, instance: rw, mode: innerMode, canReenter: false,
		perm: rw.cfg.mode, permSet: rw.cfg.modeSet, lifetime: rw.cfg.lifetime,
		timeout: innerTimeout, blocking: blocking, pollInterval: poll,
	})

	if mode == rwRead {
		// Release outer immediately once inner is settled, regardless of
		// outcome: new readers may proceed concurrently, and a failed
		// reader must not hold outer.
		releaseErr := rw.outer.release(owner, rw, true)
		if innerErr != nil {
			return translateErr(innerErr, rw.path)
		}
		if releaseErr != nil {
			return translateErr(releaseErr, rw.path)
		}
		return nil
	}

	if innerErr != nil {
		_ = rw.outer.release(owner, rw, true)
		return translateErr(innerErr, rw.path)
	}

	// Writer keeps outer held for the duration of the write.
	return nil
}

// Release releases one level of this owner's acquisition. force
// releases unconditionally, matching ExclusiveLock.Release.
func (rw *ReadWriteLock) Release(ctx context.Context, force bool) error {
	owner := ownerid.From(ctx)

	rw.mu.Lock()
	s := rw.slot(owner)
	if s.counter == 0 {
		rw.mu.Unlock()
		if force {
			return nil
		}
		return newLockError(KindNotLocked, rw.path, ErrReleasedTooManyTimes)
	}

	mode := s.mode
	if force {
		s.counter = 0
	} else {
		s.counter--
	}
	reachedZero := s.counter == 0
	if reachedZero {
		s.mode = rwNone
		s.owner = ownerid.Owner{}
	}
	rw.mu.Unlock()

	if !reachedZero {
		return nil
	}

	if err := rw.inner.release(owner, rw, true); err != nil {
		return translateErr(err, rw.path)
	}

	if mode == rwWrite {
		if err := rw.outer.release(owner, rw, true); err != nil {
			return translateErr(err, rw.path)
		}
	}

	return nil
}

// aroundMode runs fn with the lock held in mode, acquiring beforehand and
// releasing afterward regardless of fn's outcome.
func (rw *ReadWriteLock) aroundMode(ctx context.Context, mode rwMode, fn func() error, opts []AcquireOption) error {
	var (
		proxy *Proxy
		err   error
	)
	if mode == rwRead {
		proxy, err = rw.Read(ctx, opts...)
	} else {
		proxy, err = rw.Write(ctx, opts...)
	}
	if err != nil {
		return err
	}
	defer proxy.Release()

	return fn()
}

// AroundRead runs fn with the lock held in reader mode.
func (rw *ReadWriteLock) AroundRead(ctx context.Context, fn func() error, opts ...AcquireOption) error {
	return rw.aroundMode(ctx, rwRead, fn, opts)
}

// AroundWrite runs fn with the lock held in writer mode.
func (rw *ReadWriteLock) AroundWrite(ctx context.Context, fn func() error, opts ...AcquireOption) error {
	return rw.aroundMode(ctx, rwWrite, fn, opts)
}

// IsLocked reports whether ctx's owner currently holds this lock, in
// either mode.
func (rw *ReadWriteLock) IsLocked(ctx context.Context) bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	return rw.slot(ownerid.From(ctx)).counter > 0
}

// LockCounter returns ctx's owner's current reentrancy count.
func (rw *ReadWriteLock) LockCounter(ctx context.Context) int {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	return rw.slot(ownerid.From(ctx)).counter
}

// LockFileInner returns the inner lock file's path.
func (rw *ReadWriteLock) LockFileInner() string { return rw.path + ".inner" }

// LockFileOuter returns the outer lock file's path.
func (rw *ReadWriteLock) LockFileOuter() string { return rw.path + ".outer" }

// IsThreadLocal reports whether each Owner sees an independent counter.
func (rw *ReadWriteLock) IsThreadLocal() bool { return rw.cfg.threadLocal }

// IsSingleton reports whether this instance was constructed with
// WithSingleton(true).
func (rw *ReadWriteLock) IsSingleton() bool { return rw.cfg.singleton }
