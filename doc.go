// Package pluginruntime hosts in-process plugin modules: external modules
// are loaded at run time, every module gets a uniform type-erased
// task-dispatch surface grouped by argument count, and a kernel manages
// module lifecycle, including idle eviction and long-running service tasks.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	plugin-runtime/       Root package (overview only)
//	├── micro/            The core: tasks, registries, plugins, the kernel
//	├── value/            Dynamic value carrier exchanged by tasks
//	├── errors/           Structured error types for the loader boundary
//	├── loader/memloader/ In-process loader for statically linked modules
//	├── loader/goloader/  Native loader over Go's plugin package
//	├── loader/wasmloader/ WebAssembly loader over wazero
//	├── config/           TOML host configuration
//	└── cmd/microhost/    Host binary with an interactive inspector
//
// # Quick Start
//
// Register a module with the in-process loader and dispatch a task through
// the kernel:
//
//	loader := memloader.New()
//	loader.Register("math", func() *micro.Plugin {
//	    p := micro.NewPlugin(micro.MakeVersion(1, 0), "math")
//	    p.Subscribe(2, "sum", sum, "adds two integers")
//	    return p
//	})
//
//	kernel := micro.NewKernel(&micro.KernelConfig{Loader: loader})
//	kernel.Run()
//	defer kernel.Stop()
//
//	p := kernel.GetPlugin("math")
//	defer p.Release()
//
//	r := p.Run(ctx, 2, "sum", value.Int(2), value.Int(3))
//	v, _ := r.Get(ctx) // value.Int(5)
//
// # Service modules
//
// A module exposing an arity-1 task named "service" is a service module: the
// kernel runs that task exactly once in a dedicated worker, passing the
// module's own handle, and never evicts the module for being idle. Service
// loops must observe their context (or poll IsRun) and exit cooperatively.
//
// # Thread Safety
//
// Kernel, Plugin and Storage are safe for concurrent use. Plugins handed out
// by GetPlugin and PluginAt are counted borrows; call Release when done, or
// unloading and draining will wait indefinitely.
package pluginruntime
