package micro

import (
	"context"

	"github.com/wippyai/plugin-runtime/value"
)

// Result is the future-like handle returned by every task dispatch. It
// resolves exactly once with the task's dynamic result. An empty Result
// stands for a dispatch that never happened: the slot had no callable, had
// already fired via RunOnce, or the argument count was wrong. Empty Results
// are pre-resolved to value.Nil.
type Result struct {
	done  chan struct{}
	val   value.Value
	empty bool
}

var emptyResult = func() *Result {
	r := &Result{done: make(chan struct{}), empty: true}
	close(r.done)
	return r
}()

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

// resolve publishes the result. Called exactly once by the dispatch
// goroutine.
func (r *Result) resolve(v value.Value) {
	r.val = v
	close(r.done)
}

// Empty reports whether this Result stands for a dispatch that never ran.
func (r *Result) Empty() bool { return r.empty }

// Done returns a channel closed when the result is available.
func (r *Result) Done() <-chan struct{} { return r.done }

// Get blocks until the result is available or ctx is cancelled.
func (r *Result) Get(ctx context.Context) (value.Value, error) {
	select {
	case <-r.done:
		return r.val, nil
	case <-ctx.Done():
		return value.Nil(), ctx.Err()
	}
}

// Value returns the resolved result without blocking, or value.Nil if the
// result is not available yet.
func (r *Result) Value() value.Value {
	select {
	case <-r.done:
		return r.val
	default:
		return value.Nil()
	}
}
