package filelock

import (
	"os"
	"time"
)

// Unbounded is the timeout sentinel meaning "wait indefinitely".
const Unbounded time.Duration = -1

const defaultPollInterval = 50 * time.Millisecond

// Config holds the immutable-after-construction lock configuration.
// Instances are built with New/NewReadWrite plus Option values; zero
// Config is never used directly.
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

func defaultConfig(path string) Config {
	return Config{
		path:         path,
		timeout:      Unbounded,
		blocking:     true,
		pollInterval: defaultPollInterval,
		threadLocal:  true,
	}
}

// Option configures a Config at construction time.
type Option func(*Config)

// WithTimeout sets the default acquire budget. Unbounded (-1) waits
// indefinitely; 0 makes a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.timeout = d }
}

// WithBlocking sets whether Acquire waits at all; false short-circuits
// to a single attempt regardless of Timeout.
func WithBlocking(blocking bool) Option {
	return func(c *Config) { c.blocking = blocking }
}

// WithMode sets the explicit permission bits applied to the lock file on
// creation. Without WithMode, creation respects the process umask and no
// chmod is applied.
func WithMode(mode os.FileMode) Option {
	return func(c *Config) { c.mode = mode; c.modeSet = true }
}

// WithPollInterval sets the minimum delay between retries while blocked
// on contention.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.pollInterval = d }
}

// WithThreadLocal sets whether each Owner sees an independent reentrancy
// counter (true, the default) or all owners share one (false).
func WithThreadLocal(threadLocal bool) Option {
	return func(c *Config) { c.threadLocal = threadLocal }
}

// WithSingleton makes construction for a given canonical path return the
// process's existing instance for that path, provided its configuration
// matches.
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

// configsEqual compares every configurable field independently; any
// difference makes a singleton lookup fail rather than silently reuse
// an instance with other settings.
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
