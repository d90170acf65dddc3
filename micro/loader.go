package micro

// FactorySymbol is the well-known export every loadable module must provide:
// a zero-argument factory returning the module's plugin handle. Repeated
// calls may return the same shared instance.
const FactorySymbol = "ImportPlugin"

// Factory is the entry point resolved from a module's factory symbol.
type Factory func() *Plugin

// ModuleHandle is an opened module plus symbol-lookup capability. The kernel
// holds it alongside the plugin it produced so their lifetimes match.
type ModuleHandle interface {
	// Lookup resolves the factory exported under the given symbol name.
	Lookup(symbol string) (Factory, error)

	// Close releases the underlying module. The kernel calls it only after
	// the plugin has been drained.
	Close() error

	// IsOpen reports whether the handle is still usable.
	IsOpen() bool

	// Path identifies where the module was resolved from, for logs.
	Path() string
}

// Loader resolves and opens modules by name. Implementations search the
// given paths in order; how a name maps to an artifact (shared object, wasm
// binary, in-process factory) is loader-specific.
type Loader interface {
	Open(name string, paths []string) (ModuleHandle, error)
}
