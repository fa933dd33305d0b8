package async

import (
	"context"
	"sync"
	"time"

	"github.com/outerlane/filelock"
	"github.com/outerlane/filelock/internal/backend"
	"github.com/outerlane/filelock/internal/ownerid"
	"github.com/outerlane/filelock/internal/pathkey"
	"github.com/outerlane/filelock/internal/vfs"
)

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
	// shared context (this tier's default), a held write lock is pinned
	// to it: no other owner may reenter writer mode.
	owner ownerid.Owner
}

// ReadWriteLock is the async tier's counterpart to
// filelock.ReadWriteLock: the same writer-preferring inner/outer
// protocol, suspending cooperatively via ctx.
type ReadWriteLock struct {
	cfg  Config
	path string

	inner *engine
	outer *engine

	mu       sync.Mutex
	perOwner map[ownerid.Owner]*rwState
	shared   rwState
}

// NewReadWrite constructs an async ReadWriteLock over path (producing
// "path.inner" and "path.outer" lock files).
func NewReadWrite(path string, opts ...Option) (*ReadWriteLock, error) {
	return newReadWriteLockOn(vfs.NewReal(), path, opts)
}

func newReadWriteLockOn(fs vfs.FS, path string, opts []Option) (*ReadWriteLock, error) {
	cfg := newConfig(path, opts)

	canonBase, err := pathkey.Canonical(path)
	if err != nil {
		return nil, &filelock.LockError{Kind: filelock.KindIO, Path: path, Err: err}
	}
	innerCanon, err := pathkey.Canonical(path + ".inner")
	if err != nil {
		return nil, &filelock.LockError{Kind: filelock.KindIO, Path: path, Err: err}
	}
	outerCanon, err := pathkey.Canonical(path + ".outer")
	if err != nil {
		return nil, &filelock.LockError{Kind: filelock.KindIO, Path: path, Err: err}
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
		return nil, &filelock.LockError{Kind: filelock.KindConfigurationMismatch, Path: path, Err: err}
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

func remainingTimeout(timeout, elapsed time.Duration) time.Duration {
	if timeout <= 0 {
		return timeout
	}
	if r := timeout - elapsed; r > 0 {
		return r
	}
	return 0
}

// Read acquires the lock in reader mode.
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
			return nil, &filelock.LockError{Kind: filelock.KindModeSwitch, Path: rw.path, Err: filelock.ErrModeSwitch}
		}
		if mode == rwWrite && s.owner != owner {
			rw.mu.Unlock()
			return nil, &filelock.LockError{Kind: filelock.KindWriterPinned, Path: rw.path, Err: filelock.ErrWriterPinned}
		}
		s.counter++
		rw.mu.Unlock()
		return &Proxy{release: func() error { return rw.Release(ctx, false) }}, nil
	}
	rw.mu.Unlock()

	if err := rw.acquireFresh(ctx, owner, mode, timeout, blocking, poll); err != nil {
		return nil, err
	}

	rw.mu.Lock()
	s.mode = mode
	s.counter = 1
	s.owner = owner
	rw.mu.Unlock()

	return &Proxy{release: func() error { return rw.Release(ctx, false) }}, nil
}

func (rw *ReadWriteLock) acquireFresh(ctx context.Context, owner ownerid.Owner, mode rwMode, timeout time.Duration, blocking bool, poll time.Duration) error {
	start := time.Now()

	if _, err := rw.outer.acquire(ctx, acquireArgs{
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

	_, innerErr := rw.inner.acquire(ctx, acquireArgs{
		owner: owner, instance: rw, mode: innerMode, canReenter: false,
		perm: rw.cfg.mode, permSet: rw.cfg.modeSet, lifetime: rw.cfg.lifetime,
		timeout: innerTimeout, blocking: blocking, pollInterval: poll,
	})

	if mode == rwRead {
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

	return nil
}

// Release releases one level of this owner's acquisition. force releases
// unconditionally.
func (rw *ReadWriteLock) Release(ctx context.Context, force bool) error {
	owner := ownerid.From(ctx)

	rw.mu.Lock()
	s := rw.slot(owner)
	if s.counter == 0 {
		rw.mu.Unlock()
		if force {
			return nil
		}
		return &filelock.LockError{Kind: filelock.KindNotLocked, Path: rw.path, Err: filelock.ErrReleasedTooManyTimes}
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

// AroundRead is the reader decorator form.
func (rw *ReadWriteLock) AroundRead(ctx context.Context, fn func() error, opts ...AcquireOption) error {
	return rw.aroundMode(ctx, rwRead, fn, opts)
}

// AroundWrite is the writer decorator form.
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
