package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// Config holds filelockctl's configuration, layered from JSONC sources:
// defaults, then global user config, then project config, then CLI
// overrides (highest wins).
type Config struct {
	// DefaultMode is "excl" or "rw", used by `hold` when --mode is unset.
	DefaultMode string `json:"default_mode"`

	// DefaultTimeoutRaw is a time.ParseDuration string, e.g. "5s"; "-1"
	// means unbounded (filelock.Unbounded).
	DefaultTimeoutRaw string `json:"default_timeout"`

	// StateDir holds filelockctl's own scratch state (the last lock held
	// by `hold`, read back by `status`). Defaults to
	// $XDG_STATE_HOME/filelockctl or ~/.local/state/filelockctl.
	StateDir string `json:"state_dir"`

	EffectiveCwd string `json:"-"`
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".filelockctl.json"

func defaultConfig() Config {
	return Config{
		DefaultMode:       "excl",
		DefaultTimeoutRaw: "-1",
	}
}

func defaultStateDir(env map[string]string) string {
	if xdg := env["XDG_STATE_HOME"]; xdg != "" {
		return filepath.Join(xdg, "filelockctl")
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".local", "state", "filelockctl")
	}
	return ""
}

func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "filelockctl", "config.json")
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "filelockctl", "config.json")
	}
	return ""
}

// LoadConfigInput holds LoadConfig's inputs.
type LoadConfigInput struct {
	WorkDirOverride string
	ConfigPath      string
	Env             map[string]string
}

// LoadConfig loads configuration with precedence (highest wins):
// 1. Defaults
// 2. Global user config
// 3. Project config (.filelockctl.json) or an explicit --config file
//
// CLI flag overrides are applied by the caller after LoadConfig
// returns.
func LoadConfig(input LoadConfigInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := defaultConfig()
	cfg.StateDir = defaultStateDir(input.Env)

	if path := globalConfigPath(input.Env); path != "" {
		overlay, loaded, err := loadConfigFile(path, false)
		if err != nil {
			return Config{}, err
		}
		if loaded {
			cfg = mergeConfig(cfg, overlay)
		}
	}

	projectPath := filepath.Join(workDir, ConfigFileName)
	mustExist := false
	if input.ConfigPath != "" {
		projectPath = input.ConfigPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
		mustExist = true
	}

	overlay, loaded, err := loadConfigFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}
	if loaded {
		cfg = mergeConfig(cfg, overlay)
	}

	if _, err := time.ParseDuration(cfg.DefaultTimeoutRaw); err != nil && cfg.DefaultTimeoutRaw != "-1" {
		return Config{}, fmt.Errorf("invalid default_timeout %q: %w", cfg.DefaultTimeoutRaw, err)
	}
	if cfg.DefaultMode != "excl" && cfg.DefaultMode != "rw" {
		return Config{}, fmt.Errorf("invalid default_mode %q: want %q or %q", cfg.DefaultMode, "excl", "rw")
	}

	cfg.EffectiveCwd = workDir

	return cfg, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}

	return cfg, true, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.DefaultMode != "" {
		base.DefaultMode = overlay.DefaultMode
	}
	if overlay.DefaultTimeoutRaw != "" {
		base.DefaultTimeoutRaw = overlay.DefaultTimeoutRaw
	}
	if overlay.StateDir != "" {
		base.StateDir = overlay.StateDir
	}
	return base
}

// timeout parses DefaultTimeoutRaw into a time.Duration, mapping "-1" to
// filelock.Unbounded's value.
func (c Config) timeout() (time.Duration, error) {
	if c.DefaultTimeoutRaw == "-1" {
		return -1, nil
	}
	return time.ParseDuration(c.DefaultTimeoutRaw)
}
