package vfs

import (
	"os"
	"sync"
)

// Chaos wraps an FS and lets tests queue deterministic faults for specific
// paths and operations. Unlike a probabilistic fault injector, every queued
// error is consumed exactly once (FIFO per path+op), which keeps
// acquire-loop fault tests reproducible.
//
// The zero value is not usable; construct with NewChaos.
type Chaos struct {
	fs FS

	mu     sync.Mutex
	queued map[string][]error
}

// NewChaos wraps fs with fault-injection hooks.
func NewChaos(fs FS) *Chaos {
	return &Chaos{fs: fs, queued: make(map[string][]error)}
}

// QueueError arranges for the next matching call (OpenFile/Stat/Rename/
// Remove/MkdirAll) on path to return err instead of reaching the underlying
// FS. Queued errors for a given op+path are consumed in FIFO order.
func (c *Chaos) QueueError(op, path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := op + ":" + path
	c.queued[key] = append(c.queued[key], err)
}

func (c *Chaos) take(op, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := op + ":" + path
	q := c.queued[key]
	if len(q) == 0 {
		return nil
	}

	err := q[0]
	c.queued[key] = q[1:]

	return err
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := c.take("open", path); err != nil {
		return nil, err
	}

	return c.fs.OpenFile(path, flag, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if err := c.take("stat", path); err != nil {
		return nil, err
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Rename(oldpath, newpath string) error {
	if err := c.take("rename", oldpath); err != nil {
		return err
	}

	return c.fs.Rename(oldpath, newpath)
}

func (c *Chaos) Remove(path string) error {
	if err := c.take("remove", path); err != nil {
		return err
	}

	return c.fs.Remove(path)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if err := c.take("mkdirall", path); err != nil {
		return err
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Hostname() (string, error) { return c.fs.Hostname() }

var _ FS = (*Chaos)(nil)

// PathError is a small helper for tests composing *os.PathError-shaped
// injected errors (so errors.Is(err, os.ErrExist) etc. still works).
func PathError(op, path string, err error) error {
	return &os.PathError{Op: op, Path: path, Err: err}
}
