// Package goloader opens native plugin binaries through Go's plugin package,
// the platform dlopen surface. Module names are resolved against the
// caller-supplied search paths, a set of conventional relative directories,
// and the MICRO_PLUGIN_PATH environment variable.
package goloader

import (
	"os"
	"path/filepath"
	"plugin"
	"sync/atomic"

	"github.com/wippyai/plugin-runtime/errors"
	"github.com/wippyai/plugin-runtime/micro"
)

// PathEnv is the colon-delimited fallback search path consulted after the
// explicit paths, mirroring how $PATH works for executables.
const PathEnv = "MICRO_PLUGIN_PATH"

// defaultDirs are conventional locations tried relative to the working
// directory when no explicit path matches.
var defaultDirs = []string{".", "lib", "plugins", "../lib", "../plugins", "../lib/plugins"}

// Loader opens native Go plugin binaries.
type Loader struct{}

// New creates a native loader.
func New() *Loader { return &Loader{} }

// Open resolves name to a plugin binary and opens it. A name containing a
// path separator or a .so suffix is tried verbatim first; otherwise
// "name.so" and "libname.so" are searched across the path list.
func (l *Loader) Open(name string, paths []string) (micro.ModuleHandle, error) {
	var lastErr error
	for _, candidate := range candidates(name, paths) {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		p, err := plugin.Open(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		h := &handle{p: p, path: candidate}
		h.open.Store(true)
		return h, nil
	}
	if lastErr != nil {
		return nil, errors.OpenFailed(name, lastErr)
	}
	return nil, errors.NotFound(errors.PhaseLoad, "module", name)
}

// candidates expands name into the file paths to try, in search order.
func candidates(name string, paths []string) []string {
	if filepath.IsAbs(name) {
		return []string{name}
	}

	files := []string{name + ".so", "lib" + name + ".so"}
	if filepath.Ext(name) == ".so" {
		files = []string{name}
	}

	dirs := append(append([]string(nil), paths...), defaultDirs...)
	if env := os.Getenv(PathEnv); env != "" {
		dirs = append(dirs, filepath.SplitList(env)...)
	}

	out := make([]string, 0, len(dirs)*len(files))
	for _, dir := range dirs {
		for _, file := range files {
			out = append(out, filepath.Join(dir, file))
		}
	}
	return out
}

type handle struct {
	p    *plugin.Plugin
	path string
	open atomic.Bool
}

func (h *handle) Lookup(symbol string) (micro.Factory, error) {
	if !h.open.Load() {
		return nil, errors.Closed("module " + h.path)
	}
	sym, err := h.p.Lookup(symbol)
	if err != nil {
		return nil, errors.SymbolMissing(symbol, h.path)
	}
	switch f := sym.(type) {
	case func() *micro.Plugin:
		return f, nil
	case micro.Factory:
		return f, nil
	case *micro.Factory:
		return *f, nil
	default:
		return nil, errors.New(errors.PhaseLookup, errors.KindTypeMismatch).
			Detail("symbol %q in %q is %T, want func() *micro.Plugin", symbol, h.path, sym).
			Build()
	}
}

// Close marks the handle closed. The platform offers no dlclose for Go
// plugins; the mapping stays resident for the process lifetime.
func (h *handle) Close() error {
	h.open.Store(false)
	return nil
}

func (h *handle) IsOpen() bool { return h.open.Load() }

func (h *handle) Path() string { return h.path }
