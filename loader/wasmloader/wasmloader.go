// Package wasmloader opens WebAssembly modules as plugins. A core wasm
// binary is compiled and instantiated with wazero, and every exported
// function whose signature is all-integer becomes a task of the matching
// arity, with arguments and results carried as value.Int. This is the
// portable "shared library" story: wasm artifacts load on any platform with
// no cgo.
package wasmloader

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wippyai/plugin-runtime/errors"
	"github.com/wippyai/plugin-runtime/micro"
	"github.com/wippyai/plugin-runtime/value"
)

// VersionGlobal is the optional exported i32 global carrying the module's
// packed version. Modules without it report version 1.0.
const VersionGlobal = "plugin_version"

// Config holds loader parameters.
type Config struct {
	// MaxArgs is the task arity bound synthesized plugins report. Must
	// match the hosting kernel's bound. Defaults to micro.DefaultMaxArgs.
	MaxArgs int
}

// Loader opens .wasm modules from the search paths.
type Loader struct {
	maxArgs int
}

// New creates a wasm loader. Pass nil for defaults.
func New(cfg *Config) *Loader {
	maxArgs := micro.DefaultMaxArgs
	if cfg != nil && cfg.MaxArgs > 0 {
		maxArgs = cfg.MaxArgs
	}
	return &Loader{maxArgs: maxArgs}
}

// Open resolves name to a wasm binary, instantiates it, and returns a
// handle whose factory synthesizes the plugin from the module's exports.
func (l *Loader) Open(name string, paths []string) (micro.ModuleHandle, error) {
	path, err := resolve(name, paths)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.OpenFailed(name, err)
	}

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	mod, err := rt.Instantiate(ctx, data)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.OpenFailed(name, err)
	}

	return &handle{
		name:    name,
		path:    path,
		maxArgs: l.maxArgs,
		rt:      rt,
		mod:     mod,
	}, nil
}

// resolve locates the wasm artifact: name verbatim, then name.wasm, across
// the search paths.
func resolve(name string, paths []string) (string, error) {
	files := []string{name}
	if filepath.Ext(name) != ".wasm" {
		files = append(files, name+".wasm")
	}
	dirs := append([]string{"."}, paths...)
	for _, dir := range dirs {
		for _, file := range files {
			candidate := filepath.Join(dir, file)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", errors.NotFound(errors.PhaseLoad, "module", name)
}

type handle struct {
	name    string
	path    string
	maxArgs int

	rt  wazero.Runtime
	mod api.Module

	// callMu serializes calls into the instance; a wazero module is not
	// safe for concurrent invocation.
	callMu sync.Mutex

	mu     sync.Mutex
	plugin *micro.Plugin
	closed bool
}

// Lookup returns the synthesizing factory. Repeated factory calls return
// the same plugin instance.
func (h *handle) Lookup(symbol string) (micro.Factory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.Closed("module " + h.name)
	}
	if symbol != micro.FactorySymbol {
		return nil, errors.SymbolMissing(symbol, h.name)
	}
	return func() *micro.Plugin {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.plugin == nil {
			h.plugin = h.synthesize()
		}
		return h.plugin
	}, nil
}

// synthesize builds the plugin handle from the module's integer exports.
// Callers hold h.mu.
func (h *handle) synthesize() *micro.Plugin {
	version := micro.MakeVersion(1, 0)
	if g := h.mod.ExportedGlobal(VersionGlobal); g != nil {
		version = int(int32(g.Get()))
	}

	p := micro.NewPluginWithConfig(version, h.name, &micro.PluginConfig{MaxArgs: h.maxArgs})
	for name, def := range h.mod.ExportedFunctionDefinitions() {
		if !integerSignature(def) {
			continue
		}
		arity := len(def.ParamTypes())
		if arity > h.maxArgs {
			continue
		}
		p.Subscribe(arity, name, h.wrap(name, def), "wasm export "+name)
	}
	return p
}

// integerSignature reports whether every param and result is i32 or i64.
// Exports with float, vector or reference types have no value.Int mapping
// and are skipped, as are wasm-internal exports like _start.
func integerSignature(def api.FunctionDefinition) bool {
	if len(def.ResultTypes()) > 1 {
		return false
	}
	for _, t := range def.ParamTypes() {
		if t != api.ValueTypeI32 && t != api.ValueTypeI64 {
			return false
		}
	}
	for _, t := range def.ResultTypes() {
		if t != api.ValueTypeI32 && t != api.ValueTypeI64 {
			return false
		}
	}
	return true
}

// wrap adapts one wasm export into a task callable. A mismatched argument
// or a trapped call resolves to the nil sentinel rather than an error.
func (h *handle) wrap(name string, def api.FunctionDefinition) micro.Func {
	params := def.ParamTypes()
	results := def.ResultTypes()
	return func(ctx context.Context, args []value.Value) value.Value {
		fn := h.mod.ExportedFunction(name)
		if fn == nil {
			return value.Nil()
		}
		raw := make([]uint64, len(args))
		for i, a := range args {
			n, err := a.AsInt()
			if err != nil {
				return value.Nil()
			}
			if params[i] == api.ValueTypeI32 {
				raw[i] = api.EncodeI32(int32(n))
			} else {
				raw[i] = uint64(n)
			}
		}
		h.callMu.Lock()
		out, err := fn.Call(ctx, raw...)
		h.callMu.Unlock()
		if err != nil || len(out) == 0 {
			return value.Nil()
		}
		if results[0] == api.ValueTypeI32 {
			return value.Int(int64(api.DecodeI32(out[0])))
		}
		return value.Int(int64(out[0]))
	}
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	ctx := context.Background()
	if err := h.mod.Close(ctx); err != nil {
		_ = h.rt.Close(ctx)
		return err
	}
	return h.rt.Close(ctx)
}

func (h *handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

func (h *handle) Path() string { return h.path }
