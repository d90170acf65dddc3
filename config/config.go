// Package config loads host configuration for the plugin runtime from TOML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

// Host configures a kernel-hosting process.
type Host struct {
	// Name is the kernel name.
	Name string `toml:"name"`

	// Version is the host version as "major.minor".
	Version string `toml:"version"`

	// Paths are module search paths. A single colon-delimited string is
	// also accepted per entry.
	Paths []string `toml:"paths"`

	// MaxIdle is the idle eviction threshold in minutes; 0 disables.
	MaxIdle int `toml:"max_idle"`

	// Loader selects the module loader: "memory", "native" or "wasm".
	Loader string `toml:"loader"`

	// Preload lists modules loaded at startup.
	Preload []string `toml:"preload"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// LogFormat is "console", "json" or "auto" (console on a TTY).
	LogFormat string `toml:"log_format"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Host {
	return Host{
		Name:      "micro runtime service",
		Version:   "1.0",
		MaxIdle:   10,
		Loader:    "memory",
		LogLevel:  "info",
		LogFormat: "auto",
	}
}

// Load reads and validates a TOML host configuration. Missing fields take
// their defaults.
func Load(path string) (Host, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Host{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Host{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg.Paths = splitPaths(cfg.Paths)
	if err := Validate(cfg); err != nil {
		return Host{}, err
	}
	return cfg, nil
}

// Validate checks field values.
func Validate(cfg Host) error {
	if cfg.MaxIdle < 0 {
		return fmt.Errorf("max_idle must not be negative, got %d", cfg.MaxIdle)
	}
	switch cfg.Loader {
	case "", "memory", "native", "wasm":
	default:
		return fmt.Errorf("unknown loader %q (want memory, native or wasm)", cfg.Loader)
	}
	switch cfg.LogFormat {
	case "", "console", "json", "auto":
	default:
		return fmt.Errorf("unknown log_format %q (want console, json or auto)", cfg.LogFormat)
	}
	if cfg.LogLevel != "" {
		if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
			return fmt.Errorf("unknown log_level %q: %w", cfg.LogLevel, err)
		}
	}
	if _, _, err := ParseVersion(cfg.Version); err != nil {
		return err
	}
	return nil
}

// ParseVersion splits a "major.minor" string.
func ParseVersion(s string) (major, minor int, err error) {
	if s == "" {
		return 1, 0, nil
	}
	parts := strings.SplitN(s, ".", 2)
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad version %q: %w", s, err)
	}
	if len(parts) == 2 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("bad version %q: %w", s, err)
		}
	}
	return major, minor, nil
}

// splitPaths expands colon-delimited entries so both TOML arrays and
// $PATH-style strings work.
func splitPaths(paths []string) []string {
	var out []string
	for _, p := range paths {
		for _, part := range strings.Split(p, ":") {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
