// Package async provides the cooperative lock tier: ExclusiveLock and
// ReadWriteLock variants whose Acquire suspends via context
// cancellation rather than blocking an OS thread, for callers driving
// everything through a single event loop (e.g. goroutines fanned out
// from an errgroup, or any context-cancellable caller).
//
// The two permitted suspension points are the poll-sleep between retries
// (a context-cancellable time.Timer) and, if the platform backend call
// itself is not instant, that call offloaded onto a bounded worker pool
// (internal/offload) so a slow syscall cannot stall the caller past its
// context's cancellation.
package async

import (
	"os"
	"time"
)

// Unbounded is the timeout sentinel meaning "wait indefinitely", mirrored
// from the synchronous tier's filelock.Unbounded.
const Unbounded time.Duration = -1

const defaultPollInterval = 50 * time.Millisecond

// Config holds the immutable-after-construction configuration for an
// async lock. It intentionally mirrors filelock.Config's fields rather
// than embedding it: the async tier cannot reach the synchronous tier's
// unexported construction helpers, and keeping the two constructors
// separate keeps each tier's defaults independently adjustable.
type Config struct {
	path string

	timeout      time.Duration
	blocking     bool
	mode         os.FileMode
	modeSet      bool
	pollInterval time.Duration
	threadLocal  bool
	singleton    bool
	lifetime     time.Duration
}

// defaultConfig differs from the synchronous tier in one default:
// threadLocal is false, because cooperative tasks have no stable thread
// identity to scope a counter to. With this shared context every Owner
// reenters the same counter; the Owner attached to ctx still keys the
// self-deadlock check and read/write writer pinning.
func defaultConfig(path string) Config {
	return Config{
		path:         path,
		timeout:      Unbounded,
		blocking:     true,
		pollInterval: defaultPollInterval,
		threadLocal:  false,
	}
}

// Option configures a Config at construction time.
type Option func(*Config)

// WithTimeout sets the default acquire budget. Unbounded (-1) waits
// indefinitely; 0 makes a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.timeout = d }
}

// WithBlocking sets whether Acquire waits at all; false short-circuits to
// a single attempt regardless of Timeout.
func WithBlocking(blocking bool) Option {
	return func(c *Config) { c.blocking = blocking }
}

// WithMode sets the explicit permission bits applied to the lock file on
// creation.
func WithMode(mode os.FileMode) Option {
	return func(c *Config) { c.mode = mode; c.modeSet = true }
}

// WithPollInterval sets the minimum delay between retries while blocked
// on contention.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.pollInterval = d }
}

// WithThreadLocal sets whether each Owner sees an independent reentrancy
// counter (true) or all owners share one (false, the default for this
// tier).
func WithThreadLocal(threadLocal bool) Option {
	return func(c *Config) { c.threadLocal = threadLocal }
}

// WithSingleton makes construction for a given canonical path return the
// process's existing async instance for that path, provided its
// configuration matches.
func WithSingleton(singleton bool) Option {
	return func(c *Config) { c.singleton = singleton }
}

// WithLifetime sets the soft-lock staleness TTL. Zero (the default)
// disables TTL-based expiry; only the staleness floor check applies.
func WithLifetime(d time.Duration) Option {
	return func(c *Config) { c.lifetime = d }
}

func newConfig(path string, opts []Option) Config {
	c := defaultConfig(path)
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func configsEqual(a, b Config) bool {
	return a.timeout == b.timeout &&
		a.blocking == b.blocking &&
		a.mode == b.mode &&
		a.modeSet == b.modeSet &&
		a.pollInterval == b.pollInterval &&
		a.threadLocal == b.threadLocal &&
		a.singleton == b.singleton &&
		a.lifetime == b.lifetime
}

func configsEqualAny(a, b any) bool {
	ac, aok := a.(Config)
	bc, bok := b.(Config)
	if !aok || !bok {
		return false
	}
	return configsEqual(ac, bc)
}
