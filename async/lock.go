package async

import (
	"context"
	"os"
	"time"

	"github.com/outerlane/filelock"
	"github.com/outerlane/filelock/internal/backend"
	"github.com/outerlane/filelock/internal/ownerid"
	"github.com/outerlane/filelock/internal/pathkey"
	"github.com/outerlane/filelock/internal/vfs"
)

// ExclusiveLock is the async tier's counterpart to
// filelock.ExclusiveLock: same mutual-exclusion semantics, but Acquire
// suspends cooperatively via ctx instead of blocking the calling
// goroutine's OS thread for the whole wait.
type ExclusiveLock struct {
	cfg Config
	eng *engine
}

// New constructs an async ExclusiveLock over path. WithSingleton(true)
// returns the process's existing async instance for path's canonical
// form when one exists with matching configuration.
func New(path string, opts ...Option) (*ExclusiveLock, error) {
	return newExclusiveLockOn(vfs.NewReal(), path, opts)
}

func newExclusiveLockOn(fs vfs.FS, path string, opts []Option) (*ExclusiveLock, error) {
	cfg := newConfig(path, opts)

	canon, err := pathkey.Canonical(path)
	if err != nil {
		return nil, &filelock.LockError{Kind: filelock.KindIO, Path: path, Err: err}
	}

	factory := func() *ExclusiveLock {
		return &ExclusiveLock{cfg: cfg, eng: newEngine(fs, canon, cfg.threadLocal)}
	}

	if !cfg.singleton {
		return factory(), nil
	}

	inst, err := exclusiveSingletons.GetOrCreate(canon, cfg, configsEqualAny, factory)
	if err != nil {
		return nil, &filelock.LockError{Kind: filelock.KindConfigurationMismatch, Path: path, Err: err}
	}
	return inst, nil
}

// acquireOverrides mirrors the synchronous tier's per-call overrides.
type acquireOverrides struct {
	timeout      *time.Duration
	blocking     *bool
	pollInterval *time.Duration
}

// AcquireOption overrides one of the instance's defaults for a single
// Acquire call.
type AcquireOption func(*acquireOverrides)

// WithAcquireTimeout overrides Config's timeout for one acquire call.
func WithAcquireTimeout(d time.Duration) AcquireOption {
	return func(o *acquireOverrides) { o.timeout = &d }
}

// WithAcquireBlocking overrides Config's blocking flag for one acquire
// call. blocking=false takes precedence over any positive timeout also
// supplied, same as the synchronous tier.
func WithAcquireBlocking(b bool) AcquireOption {
	return func(o *acquireOverrides) { o.blocking = &b }
}

// WithAcquirePollInterval overrides Config's poll interval for one
// acquire call.
func WithAcquirePollInterval(d time.Duration) AcquireOption {
	return func(o *acquireOverrides) { o.pollInterval = &d }
}

func resolveOverrides(timeout time.Duration, blocking bool, poll time.Duration, opts []AcquireOption) (time.Duration, bool, time.Duration) {
	o := acquireOverrides{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.timeout != nil {
		timeout = *o.timeout
	}
	if o.blocking != nil {
		blocking = *o.blocking
	}
	if o.pollInterval != nil {
		poll = *o.pollInterval
	}
	return timeout, blocking, poll
}

// Proxy is the scoped-acquisition handle for an async lock. Release is
// synchronous: releasing never needs to suspend (Backend.Release is a
// single, non-blocking syscall per internal/backend's contract), so it
// takes no context.
type Proxy struct {
	release func() error
	done    bool
}

// Release releases the acquisition this Proxy represents. Safe to call
// more than once; only the first call has effect.
func (p *Proxy) Release() error {
	if p.done {
		return nil
	}
	p.done = true
	return p.release()
}

// Acquire waits (subject to timeout/blocking/poll_interval, and to ctx
// cancellation at any point) until the lock is held. Unlike the
// synchronous tier, a cancelled or expired ctx unwinds Acquire
// immediately: ctx.Err() is returned as-is rather than wrapped in a
// *filelock.LockError, since it's a cancellation, not a lock outcome.
func (l *ExclusiveLock) Acquire(ctx context.Context, opts ...AcquireOption) (*Proxy, error) {
	owner := ownerid.From(ctx)
	timeout, blocking, poll := resolveOverrides(l.cfg.timeout, l.cfg.blocking, l.cfg.pollInterval, opts)

	_, err := l.eng.acquire(ctx, acquireArgs{
		owner:        owner,
		instance:     l,
		mode:         backend.Exclusive,
		canReenter:   true,
		perm:         l.cfg.mode,
		permSet:      l.cfg.modeSet,
		lifetime:     l.cfg.lifetime,
		timeout:      timeout,
		blocking:     blocking,
		pollInterval: poll,
	})
	if err != nil {
		return nil, translateErr(err, l.cfg.path)
	}

	return &Proxy{release: func() error { return l.Release(ctx, false) }}, nil
}

// Around runs fn with the lock held, acquiring beforehand and releasing
// afterward regardless of fn's outcome.
func (l *ExclusiveLock) Around(ctx context.Context, fn func() error, opts ...AcquireOption) error {
	proxy, err := l.Acquire(ctx, opts...)
	if err != nil {
		return err
	}
	defer proxy.Release()

	return fn()
}

// Release releases one level of this owner's acquisition. force releases
// unconditionally.
func (l *ExclusiveLock) Release(ctx context.Context, force bool) error {
	if err := l.eng.release(ownerid.From(ctx), l, force); err != nil {
		return translateErr(err, l.cfg.path)
	}
	return nil
}

// IsLocked reports whether ctx's owner currently holds this lock.
func (l *ExclusiveLock) IsLocked(ctx context.Context) bool {
	return l.eng.isLocked(ownerid.From(ctx))
}

// LockCounter returns ctx's owner's current reentrancy count.
func (l *ExclusiveLock) LockCounter(ctx context.Context) int {
	return l.eng.counter(ownerid.From(ctx))
}

// LockFile returns the path this instance locks, as given at construction.
func (l *ExclusiveLock) LockFile() string { return l.cfg.path }

// Timeout returns the instance's default acquire budget.
func (l *ExclusiveLock) Timeout() time.Duration { return l.cfg.timeout }

// Blocking returns the instance's default blocking flag.
func (l *ExclusiveLock) Blocking() bool { return l.cfg.blocking }

// Mode returns the explicit permission bits and whether they were set.
func (l *ExclusiveLock) Mode() (os.FileMode, bool) { return l.cfg.mode, l.cfg.modeSet }

// IsSingleton reports whether this instance was constructed with
// WithSingleton(true).
func (l *ExclusiveLock) IsSingleton() bool { return l.cfg.singleton }

// IsThreadLocal reports whether each Owner sees an independent counter.
func (l *ExclusiveLock) IsThreadLocal() bool { return l.cfg.threadLocal }
