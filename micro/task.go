package micro

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wippyai/plugin-runtime/value"
)

// ServiceTask is the distinguished task name that marks a module (or the
// kernel itself) as a service. A service task has arity 1 and is invoked
// exactly once in a dedicated worker; its owner is exempt from idle eviction.
const ServiceTask = "service"

// Func is the type-erased callable bound to a task slot. args always has
// exactly the slot's arity. ctx is the cooperative cancellation signal:
// long-running bodies, service loops in particular, must observe it and
// return. Nothing forcibly terminates a Func that ignores ctx.
type Func func(ctx context.Context, args []value.Value) value.Value

// Task is one named, fixed-arity, type-erased callable with dispatch, once
// and idle bookkeeping. Arity is fixed at construction. A Task with no
// callable is inert: every dispatch resolves to an empty Result.
type Task struct {
	clock func() time.Time
	name  string
	help  string
	arity int

	mu sync.RWMutex // guards fn
	fn Func

	once atomic.Bool
	last atomic.Int64 // unix nanos of last dispatch start, 0 = never ran
}

func newTask(name, help string, arity int, fn Func, clock func() time.Time) *Task {
	if clock == nil {
		clock = time.Now
	}
	return &Task{clock: clock, name: name, help: help, arity: arity, fn: fn}
}

// NewTask creates a standalone task slot. Inside the runtime, slots are
// created through registry subscription; this constructor exists for direct
// use and tests.
func NewTask(name, help string, arity int, fn Func) *Task {
	return newTask(name, help, arity, fn, nil)
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Help returns the help text supplied at subscription.
func (t *Task) Help() string { return t.help }

// Arity returns the fixed argument count.
func (t *Task) Arity() int { return t.arity }

// IsService reports whether this is the distinguished service slot.
func (t *Task) IsService() bool { return t.arity == 1 && t.name == ServiceTask }

// IsOnce reports whether the slot has irrevocably fired via RunOnce.
func (t *Task) IsOnce() bool { return t.once.Load() }

// ClearOnce re-arms a slot consumed by RunOnce.
func (t *Task) ClearOnce() { t.once.Store(false) }

// Empty reports whether the slot has no callable.
func (t *Task) Empty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fn == nil
}

// Reset permanently clears the callable. Name and help are retained; the
// slot is inert afterwards.
func (t *Task) Reset() {
	t.mu.Lock()
	t.fn = nil
	t.mu.Unlock()
}

// Run dispatches the callable as new concurrent work and returns a handle to
// its eventual result. The Result is empty if the callable is absent, the
// slot has fired via RunOnce, or len(args) differs from the slot arity.
func (t *Task) Run(ctx context.Context, args ...value.Value) *Result {
	if t.once.Load() {
		return emptyResult
	}
	t.mu.RLock()
	fn := t.fn
	t.mu.RUnlock()
	if fn == nil || len(args) != t.arity {
		return emptyResult
	}
	return t.dispatch(ctx, fn, args)
}

// RunOnce is Run with at-most-once semantics: the once flag is test-and-set
// before dispatch, so across any number of racing callers exactly one
// execution occurs. Losers receive an empty Result.
func (t *Task) RunOnce(ctx context.Context, args ...value.Value) *Result {
	t.mu.RLock()
	fn := t.fn
	t.mu.RUnlock()
	if fn == nil || len(args) != t.arity {
		return emptyResult
	}
	if !t.once.CompareAndSwap(false, true) {
		return emptyResult
	}
	return t.dispatch(ctx, fn, args)
}

func (t *Task) dispatch(ctx context.Context, fn Func, args []value.Value) *Result {
	t.last.Store(t.clock().UnixNano())
	r := newResult()
	go func() {
		defer func() {
			// A panicking task body must not take the process down or
			// leave waiters blocked.
			if recover() != nil {
				r.resolve(value.Nil())
			}
		}()
		r.resolve(fn(ctx, args))
	}()
	return r
}

// Idle returns whole minutes elapsed since the last dispatch start. A slot
// that never ran reports math.MaxInt.
func (t *Task) Idle() int {
	last := t.last.Load()
	if last == 0 {
		return math.MaxInt
	}
	return int(t.clock().Sub(time.Unix(0, last)).Minutes())
}
