// Package micro is the core of the plugin hosting runtime: a kernel that
// loads external modules at run time, gives every module a uniform
// type-erased task surface grouped by argument count, and manages module
// lifecycle including idle eviction and long-running service tasks.
//
// # Tasks and storage
//
// Every callable is a Task: a named slot of fixed arity whose arguments and
// result are dynamic value.Values. Tasks of one arity live in a Tasks
// registry; a Storage bundles one registry per arity 0..MaxArgs and routes
// dispatch by (arity, name). Dispatch is concurrent: Run and RunOnce launch
// the callable in its own goroutine and return a Result future immediately.
//
//	s.Subscribe(2, "sum2", sum2, "adds two integers")
//	r := s.Run(ctx, 2, "sum2", value.Int(2), value.Int(3))
//	v, _ := r.Get(ctx) // value.Int(5)
//
// # Plugins and the kernel
//
// A Plugin is a loaded module: a Storage plus a running flag and a
// back-reference to its Kernel. Modules expose a factory under
// FactorySymbol; a Loader resolves module names to factories. The kernel
// keeps resident plugins in a name-keyed map, spawns a dedicated worker for
// each plugin that declares a "service" task, and evicts plugins whose tasks
// have been idle past the configured threshold (service plugins are exempt).
//
// Plugins returned by GetPlugin and PluginAt are counted borrows; callers
// must Release them. Unloading waits for borrows to drain before destroying
// anything, and cancellation is strictly cooperative: clearing a running
// flag (which cancels the plugin's context) is a request, not a kill.
package micro
