package micro

import (
	"math"
	"sort"
	"time"
)

// Tasks is a name-keyed registry of task slots, all of the same arity.
// Lookups never fail: misses return a shared inert sentinel slot, so
// chained dispatch on an unknown name safely yields an empty Result.
//
// Tasks itself is not synchronized; the owning Storage serializes access.
type Tasks struct {
	arity int
	clock func() time.Time
	slots map[string]*Task
	empty *Task
}

func newTasks(arity int, clock func() time.Time) *Tasks {
	return &Tasks{
		arity: arity,
		clock: clock,
		slots: make(map[string]*Task),
		empty: newTask("", "", arity, nil, clock),
	}
}

// NewTasks creates a standalone registry for the given arity.
func NewTasks(arity int) *Tasks {
	return newTasks(arity, time.Now)
}

// Arity returns the fixed argument count shared by every slot.
func (ts *Tasks) Arity() int { return ts.arity }

// Subscribe adds a slot. It is a no-op if the name is empty, fn is nil, or
// the name already exists: first registration wins.
func (ts *Tasks) Subscribe(name string, fn Func, help string) {
	if name == "" || fn == nil {
		return
	}
	if _, ok := ts.slots[name]; ok {
		return
	}
	ts.slots[name] = newTask(name, help, ts.arity, fn, ts.clock)
}

// Unsubscribe removes a slot by name. A service slot that has already fired
// cannot be removed mid-run; the call is silently refused.
func (ts *Tasks) Unsubscribe(name string) {
	t, ok := ts.slots[name]
	if !ok {
		return
	}
	if t.IsService() && t.IsOnce() {
		return
	}
	delete(ts.slots, name)
}

// UnsubscribeAt removes a slot by ordinal index. Index positions are a
// same-instant snapshot only; no ordering is stable across mutation.
func (ts *Tasks) UnsubscribeAt(i int) {
	names := ts.Names()
	if i < 0 || i >= len(names) {
		return
	}
	ts.Unsubscribe(names[i])
}

// Lookup returns the slot for name, or the shared sentinel on a miss.
func (ts *Tasks) Lookup(name string) *Task {
	if t, ok := ts.slots[name]; ok {
		return t
	}
	return ts.empty
}

// At returns the slot at ordinal index i, or the shared sentinel when i is
// out of range. Snapshot convenience only.
func (ts *Tasks) At(i int) *Task {
	names := ts.Names()
	if i < 0 || i >= len(names) {
		return ts.empty
	}
	return ts.slots[names[i]]
}

// Count returns the number of slots.
func (ts *Tasks) Count() int { return len(ts.slots) }

// Has reports whether a slot with the given name exists.
func (ts *Tasks) Has(name string) bool {
	_, ok := ts.slots[name]
	return ok
}

// HasAt reports whether ordinal index i is within the current slot count.
func (ts *Tasks) HasAt(i int) bool { return i >= 0 && i < len(ts.slots) }

// Names returns the slot names, sorted for a stable snapshot.
func (ts *Tasks) Names() []string {
	names := make([]string, 0, len(ts.slots))
	for name := range ts.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClearOnce re-arms every slot consumed by RunOnce.
func (ts *Tasks) ClearOnce() {
	for _, t := range ts.slots {
		t.ClearOnce()
	}
}

// Reset clears the callable of every slot.
func (ts *Tasks) Reset() {
	for _, t := range ts.slots {
		t.Reset()
	}
}

// Idle returns the minimum idle in minutes across all slots, or math.MaxInt
// for an empty registry.
func (ts *Tasks) Idle() int {
	ret := math.MaxInt
	for _, t := range ts.slots {
		if idle := t.Idle(); idle < ret {
			ret = idle
			if ret == 0 {
				return 0
			}
		}
	}
	return ret
}
