// Package memloader is the in-process module loader: modules are registered
// as factories at program start and "opened" by name, with no artifact on
// disk. It serves statically linked plugins and tests.
package memloader

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/plugin-runtime/errors"
	"github.com/wippyai/plugin-runtime/micro"
)

// Loader holds a registry of module factories keyed by name.
type Loader struct {
	mu        sync.RWMutex
	factories map[string]micro.Factory
}

// New creates an empty loader.
func New() *Loader {
	return &Loader{factories: make(map[string]micro.Factory)}
}

// Register adds a module factory under the given name. First registration
// wins; a duplicate name is reported and the original factory kept.
func (l *Loader) Register(name string, f micro.Factory) error {
	if name == "" || f == nil {
		return errors.InvalidInput(errors.PhaseConfig, "module name and factory are required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.factories[name]; ok {
		return errors.Duplicate(errors.PhaseConfig, "module", name)
	}
	l.factories[name] = f
	return nil
}

// Names returns the registered module names.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.factories))
	for name := range l.factories {
		names = append(names, name)
	}
	return names
}

// Open resolves a registered module. Search paths are ignored: the registry
// is the only source.
func (l *Loader) Open(name string, _ []string) (micro.ModuleHandle, error) {
	l.mu.RLock()
	f, ok := l.factories[name]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "module", name)
	}
	h := &handle{name: name, factory: f}
	h.open.Store(true)
	return h, nil
}

type handle struct {
	name    string
	factory micro.Factory
	open    atomic.Bool
}

func (h *handle) Lookup(symbol string) (micro.Factory, error) {
	if !h.open.Load() {
		return nil, errors.Closed("module " + h.name)
	}
	if symbol != micro.FactorySymbol {
		return nil, errors.SymbolMissing(symbol, h.name)
	}
	return h.factory, nil
}

func (h *handle) Close() error {
	h.open.Store(false)
	return nil
}

func (h *handle) IsOpen() bool { return h.open.Load() }

func (h *handle) Path() string { return "mem://" + h.name }
