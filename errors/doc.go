// Package errors provides structured error types for the plugin runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Failures that cross the task-execution boundary never surface as
// errors at all: dispatch resolves to an empty result and loading resolves to
// an absent plugin, which callers check explicitly. This package serves the
// surfaces where Go callers do expect an error return, namely the Loader
// boundary and the dynamic value layer.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindOpenFailed).
//		Detail("open module %q", name).
//		Cause(cause).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OpenFailed(name, cause)
//	err := errors.TypeMismatch("int", "string")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
