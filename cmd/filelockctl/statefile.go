package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

// heldLockState is the scratch record `hold` persists and `status` reads
// back. Unlike the soft-lock file's best-effort content write (its
// existence, not its content, is what's load-bearing — see the lock
// package's soft backend), this file's content is the only thing that
// matters, so its write goes through natefinch/atomic.
type heldLockState struct {
	Path          string `json:"path"`
	Mode          string `json:"mode"`
	PID           int    `json:"pid"`
	Hostname      string `json:"hostname"`
	AcquiredAtRaw string `json:"acquired_at"`
}

func stateFilePath(stateDir string) (string, error) {
	if stateDir == "" {
		return "", fmt.Errorf("no state directory configured (set state_dir or $HOME/$XDG_STATE_HOME)")
	}
	return filepath.Join(stateDir, "last-held.json"), nil
}

func writeHeldLockState(stateDir string, s heldLockState, now time.Time) error {
	path, err := stateFilePath(stateDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	s.AcquiredAtRaw = now.Format(time.RFC3339)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	return atomic.WriteFile(path, bytes.NewReader(data))
}

func readHeldLockState(stateDir string) (heldLockState, error) {
	path, err := stateFilePath(stateDir)
	if err != nil {
		return heldLockState{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return heldLockState{}, err
	}

	var s heldLockState
	if err := json.Unmarshal(data, &s); err != nil {
		return heldLockState{}, fmt.Errorf("decoding state %s: %w", path, err)
	}
	return s, nil
}
