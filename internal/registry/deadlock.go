// Package registry implements the two process-wide lookup tables the
// lock façades share: the self-deadlock table and the generic singleton
// cache.
package registry

import (
	"errors"
	"sync"

	"github.com/outerlane/filelock/internal/ownerid"
)

// ErrWouldDeadlock is returned by Deadlock.Check when the current owner
// already holds path through a different instance.
var ErrWouldDeadlock = errors.New("registry: would deadlock")

type deadlockEntry struct {
	instance any // identity of the owning lock instance (exclusive or read/write, either tier), compared by ==
	owner    ownerid.Owner
}

// Deadlock is the process-wide canonical-path → (instance, owner) map
// used to turn a same-owner re-acquisition through a different instance
// into an immediate error instead of an unbounded wait.
type Deadlock struct {
	mu      sync.Mutex
	entries map[string]deadlockEntry
}

// NewDeadlock returns an empty registry.
func NewDeadlock() *Deadlock {
	return &Deadlock{entries: make(map[string]deadlockEntry)}
}

// Process is the single process-wide deadlock registry. Both the
// synchronous tier (package filelock) and the async tier (package
// filelock/async) register against this same instance, so a sync lock
// and an async lock over the same path on the same owner are still
// caught as a self-deadlock.
var Process = NewDeadlock()

// Check reports whether owner acquiring canonicalPath via instance would
// self-deadlock: an entry already exists for this path, registered to a
// *different* instance, held by this same owner.
func (d *Deadlock) Check(canonicalPath string, instance any, owner ownerid.Owner) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[canonicalPath]
	if ok && e.instance != instance && e.owner == owner {
		return ErrWouldDeadlock
	}

	return nil
}

// Register records that instance now holds canonicalPath on behalf of
// owner. Called on the zero→one counter transition.
func (d *Deadlock) Register(canonicalPath string, instance any, owner ownerid.Owner) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[canonicalPath] = deadlockEntry{instance: instance, owner: owner}
}

// Unregister removes the entry for canonicalPath if it is still owned by
// instance. Called on the one→zero transition or a forced release.
func (d *Deadlock) Unregister(canonicalPath string, instance any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[canonicalPath]; ok && e.instance == instance {
		delete(d.entries, canonicalPath)
	}
}
