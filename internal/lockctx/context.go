// Package lockctx implements a lock instance's mutable state: the
// native handle, the reentrancy counter, and the owner identity, either
// shared across all callers of the instance or tracked independently
// per Owner.
package lockctx

import (
	"sync"

	"github.com/outerlane/filelock/internal/backend"
	"github.com/outerlane/filelock/internal/ownerid"
)

// State is a snapshot of one owner's view of the lock context.
// Invariant: Counter > 0 iff Handle != nil.
type State struct {
	Handle  *backend.Handle
	Counter int
	Owner   ownerid.Owner
}

func (s State) IsLocked() bool { return s.Handle != nil }

// Context holds the mutable state of one lock instance.
type Context struct {
	mu          sync.Mutex
	threadLocal bool

	shared   State
	perOwner map[ownerid.Owner]*State
}

// New returns an empty lock context. When threadLocal is true, each Owner
// sees an independent counter/handle; when false, all owners share one
// record.
func New(threadLocal bool) *Context {
	c := &Context{threadLocal: threadLocal}
	if threadLocal {
		c.perOwner = make(map[ownerid.Owner]*State)
	}
	return c
}

// ThreadLocal reports the configured reentrancy scope.
func (c *Context) ThreadLocal() bool { return c.threadLocal }

func (c *Context) slot(owner ownerid.Owner) *State {
	if !c.threadLocal {
		return &c.shared
	}

	s, ok := c.perOwner[owner]
	if !ok {
		s = &State{}
		c.perOwner[owner] = s
	}
	return s
}

// Snapshot returns owner's current state without mutating anything.
func (c *Context) Snapshot(owner ownerid.Owner) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return *c.slot(owner)
}

// IsLocked reports whether owner currently holds this context (for
// shared contexts, whether *any* owner holds it, since they share state).
func (c *Context) IsLocked(owner ownerid.Owner) bool {
	return c.Snapshot(owner).IsLocked()
}

// Counter returns owner's current reentrancy count.
func (c *Context) Counter(owner ownerid.Owner) int {
	return c.Snapshot(owner).Counter
}

// TryReenter attempts the "counter > 0" fast path of the acquire loop
// atomically: if owner's counter is already nonzero
// and canReenter is true (same instance, compatible mode), it increments
// the counter and returns (newCounter, true). Otherwise it leaves the
// state untouched and returns (currentCounter, false), letting the caller
// fall through to the deadlock check and a fresh backend acquisition.
func (c *Context) TryReenter(owner ownerid.Owner, canReenter bool) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slot(owner)
	if s.Counter > 0 && canReenter {
		s.Counter++
		return s.Counter, true
	}

	return s.Counter, false
}

// Commit records a fresh zero→one acquisition: handle is stored and the
// counter is set to 1.
func (c *Context) Commit(owner ownerid.Owner, h *backend.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slot(owner)
	s.Handle = h
	s.Counter = 1
	s.Owner = owner
}

// Release decrements owner's counter. When it reaches zero, the stored
// handle is returned (the caller must invoke the backend's Release on it)
// and the slot is cleared back to empty. Returns (newCounter,
// handleToRelease-or-nil, ok).
// ok is false if the context was not held at all (counter already 0).
func (c *Context) Release(owner ownerid.Owner) (newCounter int, handle *backend.Handle, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slot(owner)
	if s.Counter == 0 {
		return 0, nil, false
	}

	s.Counter--
	if s.Counter == 0 {
		h := s.Handle
		s.Handle = nil
		return 0, h, true
	}

	return s.Counter, nil, true
}

// ForceRelease unconditionally zeroes owner's counter and returns the
// handle to release, if any.
func (c *Context) ForceRelease(owner ownerid.Owner) *backend.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slot(owner)
	h := s.Handle
	s.Handle = nil
	s.Counter = 0
	return h
}
