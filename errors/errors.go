package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // module resolution and opening
	PhaseLookup   Phase = "lookup"   // factory symbol resolution
	PhaseDispatch Phase = "dispatch" // task dispatch
	PhaseConfig   Phase = "config"   // host/plugin configuration
	PhaseConvert  Phase = "convert"  // dynamic value conversion
	PhaseRun      Phase = "run"      // kernel lifecycle
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindArityMismatch Kind = "arity_mismatch"
	KindOpenFailed    Kind = "open_failed"
	KindSymbolMissing Kind = "symbol_missing"
	KindTypeMismatch  Kind = "type_mismatch"
	KindDuplicate     Kind = "duplicate"
	KindProtected     Kind = "protected"
	KindClosed        Kind = "closed"
	KindInvalidInput  Kind = "invalid_input"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates a not found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// OpenFailed creates a module open failure error
func OpenFailed(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindOpenFailed,
		Detail: fmt.Sprintf("open module %q", name),
		Cause:  cause,
	}
}

// SymbolMissing creates a missing factory symbol error
func SymbolMissing(symbol, module string) *Error {
	return &Error{
		Phase:  PhaseLookup,
		Kind:   KindSymbolMissing,
		Detail: fmt.Sprintf("symbol %q not exported by %q", symbol, module),
	}
}

// TypeMismatch creates a dynamic value conversion error
func TypeMismatch(want, got string) *Error {
	return &Error{
		Phase:  PhaseConvert,
		Kind:   KindTypeMismatch,
		Detail: fmt.Sprintf("want %s, got %s", want, got),
	}
}

// ArityMismatch creates a configuration error for mismatched task arities
func ArityMismatch(module string, got, want int) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindArityMismatch,
		Detail: fmt.Sprintf("module %q supports %d task arguments, host expects %d", module, got, want),
	}
}

// Duplicate creates a duplicate registration error
func Duplicate(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDuplicate,
		Detail: fmt.Sprintf("%s %q already registered", what, name),
	}
}

// Closed creates an error for operations on a closed handle
func Closed(what string) *Error {
	return &Error{
		Phase:  PhaseLookup,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Cause:  cause,
		Detail: detail,
	}
}
