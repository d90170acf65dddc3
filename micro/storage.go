package micro

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/wippyai/plugin-runtime/value"
)

// DefaultMaxArgs is the default maximum task arity. A Storage holds one
// registry per arity 0..MaxArgs; host and plugins must agree on the bound or
// the kernel refuses registration.
const DefaultMaxArgs = 6

// Storage is the arity-indexed set of task registries shared by plugins and
// the kernel, plus version and name metadata. A readers-writer lock protects
// every registry: shared for dispatch and queries, exclusive for
// subscription changes.
//
// An arity outside 0..MaxArgs is a configuration error on the caller's side;
// operations behave as if the registry were absent (empty Result, false, 0)
// rather than failing at run time.
type Storage struct {
	mu      sync.RWMutex
	regs    []*Tasks // index = arity
	clock   func() time.Time
	version int
	name    string
}

func newStorage(version int, name string, maxArgs int, clock func() time.Time) *Storage {
	if maxArgs < 1 {
		maxArgs = DefaultMaxArgs
	}
	if clock == nil {
		clock = time.Now
	}
	regs := make([]*Tasks, maxArgs+1)
	for arity := range regs {
		regs[arity] = newTasks(arity, clock)
	}
	return &Storage{regs: regs, clock: clock, version: version, name: name}
}

// Version returns the packed version.
func (s *Storage) Version() int { return s.version }

// Major returns the major version.
func (s *Storage) Major() int { return VersionMajor(s.version) }

// Minor returns the minor version.
func (s *Storage) Minor() int { return VersionMinor(s.version) }

// Name returns the storage name.
func (s *Storage) Name() string { return s.name }

// MaxArgs returns the maximum task arity this storage supports.
func (s *Storage) MaxArgs() int { return len(s.regs) - 1 }

func (s *Storage) inRange(arity int) bool {
	return arity >= 0 && arity < len(s.regs)
}

// Subscribe adds a task of the given arity. First registration wins; empty
// names, nil callables, duplicates and out-of-range arities are no-ops.
func (s *Storage) Subscribe(arity int, name string, fn Func, help string) {
	if !s.inRange(arity) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[arity].Subscribe(name, fn, help)
}

// Unsubscribe removes a task by name, unless it is a service slot that has
// already fired.
func (s *Storage) Unsubscribe(arity int, name string) {
	if !s.inRange(arity) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[arity].Unsubscribe(name)
}

// UnsubscribeAt removes a task by ordinal index within its arity registry.
func (s *Storage) UnsubscribeAt(arity, i int) {
	if !s.inRange(arity) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[arity].UnsubscribeAt(i)
}

// Run dispatches the named task of the given arity. The Result is empty for
// unknown names, inert slots, once-consumed slots and out-of-range arities.
func (s *Storage) Run(ctx context.Context, arity int, name string, args ...value.Value) *Result {
	if !s.inRange(arity) {
		return emptyResult
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[arity].Lookup(name).Run(ctx, args...)
}

// RunOnce dispatches the named task with at-most-once semantics.
func (s *Storage) RunOnce(ctx context.Context, arity int, name string, args ...value.Value) *Result {
	if !s.inRange(arity) {
		return emptyResult
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[arity].Lookup(name).RunOnce(ctx, args...)
}

// Has reports whether a task with the given arity and name is registered.
func (s *Storage) Has(arity int, name string) bool {
	if !s.inRange(arity) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[arity].Has(name)
}

// HasAt reports whether ordinal index i exists in the arity registry.
func (s *Storage) HasAt(arity, i int) bool {
	if !s.inRange(arity) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[arity].HasAt(i)
}

// Count returns the number of tasks registered for the given arity.
func (s *Storage) Count(arity int) int {
	if !s.inRange(arity) {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[arity].Count()
}

// IsOnce reports whether the named task has fired via RunOnce.
func (s *Storage) IsOnce(arity int, name string) bool {
	if !s.inRange(arity) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[arity].Lookup(name).IsOnce()
}

// TaskHelp returns the help text of the named task, or "" when absent.
func (s *Storage) TaskHelp(arity int, name string) string {
	if !s.inRange(arity) {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[arity].Lookup(name).Help()
}

// TaskName returns the name of the task at ordinal index i, or "" when out
// of range. Snapshot convenience only; no stable ordering across mutation.
func (s *Storage) TaskName(arity, i int) string {
	if !s.inRange(arity) {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[arity].At(i).Name()
}

// TaskNames returns a sorted snapshot of the task names for an arity.
func (s *Storage) TaskNames(arity int) []string {
	if !s.inRange(arity) {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[arity].Names()
}

// IdleArity returns the minimum idle in minutes across tasks of one arity.
func (s *Storage) IdleArity(arity int) int {
	if !s.inRange(arity) {
		return math.MaxInt
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[arity].Idle()
}

// Idle returns the minimum idle in minutes across every arity registry, or
// math.MaxInt when no task ever ran.
func (s *Storage) Idle() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := math.MaxInt
	for _, reg := range s.regs {
		if idle := reg.Idle(); idle < ret {
			ret = idle
			if ret == 0 {
				return 0
			}
		}
	}
	return ret
}

// ClearOnce re-arms every once-consumed task in every arity registry.
func (s *Storage) ClearOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.regs {
		reg.ClearOnce()
	}
}
