package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outerlane/filelock"

	flag "github.com/spf13/pflag"
)

// HoldCmd returns the `hold` command: acquire a lock on path and block
// until signaled, for shell-script exercise of cross-process exclusion.
func HoldCmd(cfg Config) *Command {
	flags := flag.NewFlagSet("hold", flag.ContinueOnError)
	mode := flags.String("mode", "", `Lock mode: "excl" or "rw" (default from config)`)
	timeoutRaw := flags.String("timeout", "", `Acquire timeout, e.g. "5s"; "-1" waits indefinitely (default from config)`)
	readMode := flags.Bool("read", false, `With --mode=rw, acquire a reader lock instead of a writer lock`)
	blocking := flags.Bool("blocking", true, "Wait for the lock if contended; false fails fast")

	return &Command{
		Flags: flags,
		Usage: "hold <path> [flags]",
		Short: "Acquire a lock and hold it until interrupted",
		Long: `Acquire a lock on <path> and block until SIGINT/SIGTERM, printing
"locked" once the lock is held and "released" before exiting. Intended
for shell scripts that need to hold a real cross-process lock while
they test contention from another process.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errors.New("path required")
			}
			return execHold(ctx, o, cfg, args[0], *mode, *timeoutRaw, *readMode, *blocking)
		},
	}
}

func execHold(ctx context.Context, o *IO, cfg Config, path, mode, timeoutRaw string, readMode, blocking bool) error {
	if mode == "" {
		mode = cfg.DefaultMode
	}
	if mode != "excl" && mode != "rw" {
		return fmt.Errorf("invalid --mode %q: want %q or %q", mode, "excl", "rw")
	}

	timeout, err := cfg.timeout()
	if err != nil {
		return err
	}
	if timeoutRaw != "" {
		if timeoutRaw == "-1" {
			timeout = filelock.Unbounded
		} else {
			timeout, err = time.ParseDuration(timeoutRaw)
			if err != nil {
				return fmt.Errorf("invalid --timeout %q: %w", timeoutRaw, err)
			}
		}
	}

	hostname, _ := os.Hostname()
	state := heldLockState{Path: path, Mode: mode, PID: os.Getpid(), Hostname: hostname}
	if readMode {
		state.Mode = "rw-read"
	}

	release, err := acquireForHold(ctx, path, mode, readMode, blocking, timeout)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer release()

	o.Println("locked")

	if cfg.StateDir != "" {
		if err := writeHeldLockState(cfg.StateDir, state, time.Now()); err != nil {
			o.ErrPrintln("warning: could not persist state:", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	o.Println("released")
	return nil
}

// acquireForHold acquires the requested lock flavor and returns a release
// func, dispatching on mode the way ReadWriteLock.Read/Write split on a
// single `mode` string at the CLI boundary while the library itself keeps
// ExclusiveLock and ReadWriteLock as distinct types.
func acquireForHold(ctx context.Context, path, mode string, readMode, blocking bool, timeout time.Duration) (func(), error) {
	if mode == "excl" {
		lock, err := filelock.New(path, filelock.WithBlocking(blocking), filelock.WithTimeout(timeout))
		if err != nil {
			return nil, err
		}
		proxy, err := lock.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return func() { _ = proxy.Release() }, nil
	}

	lock, err := filelock.NewReadWrite(path, filelock.WithBlocking(blocking), filelock.WithTimeout(timeout))
	if err != nil {
		return nil, err
	}

	var proxy *filelock.Proxy
	if readMode {
		proxy, err = lock.Read(ctx)
	} else {
		proxy, err = lock.Write(ctx)
	}
	if err != nil {
		return nil, err
	}
	return func() { _ = proxy.Release() }, nil
}
