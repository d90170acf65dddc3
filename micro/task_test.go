package micro

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/plugin-runtime/value"
)

// fakeClock is a settable clock for idle tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTask_Run(t *testing.T) {
	ctx := context.Background()

	task := NewTask("sum", "adds two ints", 2, func(_ context.Context, args []value.Value) value.Value {
		a, _ := args[0].AsInt()
		b, _ := args[1].AsInt()
		return value.Int(a + b)
	})

	r := task.Run(ctx, value.Int(2), value.Int(3))
	if r.Empty() {
		t.Fatal("dispatch should not be empty")
	}
	v, err := r.Get(ctx)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	n, err := v.AsInt()
	if err != nil {
		t.Fatalf("AsInt error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5, got %d", n)
	}
}

func TestTask_Run_ArityMismatch(t *testing.T) {
	task := NewTask("one", "", 1, func(_ context.Context, _ []value.Value) value.Value {
		return value.Nil()
	})

	if r := task.Run(context.Background()); !r.Empty() {
		t.Error("zero args against arity 1 should yield an empty result")
	}
	if r := task.Run(context.Background(), value.Int(1), value.Int(2)); !r.Empty() {
		t.Error("two args against arity 1 should yield an empty result")
	}
}

func TestTask_Run_Inert(t *testing.T) {
	task := NewTask("inert", "", 0, nil)
	if r := task.Run(context.Background()); !r.Empty() {
		t.Error("task without a callable should yield an empty result")
	}
	if !task.Empty() {
		t.Error("task without a callable should report Empty")
	}
}

func TestTask_RunOnce_ExactlyOne(t *testing.T) {
	var calls atomic.Int64
	task := NewTask("once", "", 0, func(_ context.Context, _ []value.Value) value.Value {
		calls.Add(1)
		return value.Int(1)
	})

	const racers = 32
	var wg sync.WaitGroup
	results := make([]*Result, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = task.RunOnce(context.Background())
		}(i)
	}
	wg.Wait()

	ran := 0
	for _, r := range results {
		<-r.Done()
		if !r.Empty() {
			ran++
		}
	}
	if ran != 1 {
		t.Errorf("expected exactly one winning dispatch, got %d", ran)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly one execution, got %d", n)
	}
	if !task.IsOnce() {
		t.Error("once flag should be set after RunOnce")
	}
}

func TestTask_RunOnce_BlocksRun(t *testing.T) {
	task := NewTask("once", "", 0, func(_ context.Context, _ []value.Value) value.Value {
		return value.Int(1)
	})

	r := task.RunOnce(context.Background())
	if r.Empty() {
		t.Fatal("first RunOnce should dispatch")
	}
	if _, err := r.Get(context.Background()); err != nil {
		t.Fatalf("Get error: %v", err)
	}

	if r := task.Run(context.Background()); !r.Empty() {
		t.Error("Run on a fired slot should yield an empty result")
	}

	task.ClearOnce()
	if r := task.Run(context.Background()); r.Empty() {
		t.Error("Run after ClearOnce should dispatch again")
	}
}

func TestTask_Panic(t *testing.T) {
	task := NewTask("boom", "", 0, func(_ context.Context, _ []value.Value) value.Value {
		panic("task body fault")
	})

	r := task.Run(context.Background())
	v, err := r.Get(context.Background())
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if v.Kind() != value.KindNil {
		t.Errorf("panicking task should resolve to nil, got %v", v.Kind())
	}
}

func TestTask_Idle(t *testing.T) {
	clock := newFakeClock()
	task := newTask("idle", "", 0, func(_ context.Context, _ []value.Value) value.Value {
		return value.Nil()
	}, clock.Now)

	if task.Idle() != math.MaxInt {
		t.Errorf("never-ran task should report unbounded idle, got %d", task.Idle())
	}

	r := task.Run(context.Background())
	<-r.Done()
	if task.Idle() != 0 {
		t.Errorf("expected 0 idle minutes right after dispatch, got %d", task.Idle())
	}

	clock.Advance(3*time.Minute + 10*time.Second)
	if task.Idle() != 3 {
		t.Errorf("expected 3 idle minutes, got %d", task.Idle())
	}
}

func TestTask_Reset(t *testing.T) {
	task := NewTask("reset", "kept", 1, func(_ context.Context, _ []value.Value) value.Value {
		return value.Nil()
	})

	task.Reset()
	if !task.Empty() {
		t.Error("task should be inert after Reset")
	}
	if task.Name() != "reset" || task.Help() != "kept" {
		t.Error("name and help should survive Reset")
	}
	if r := task.Run(context.Background(), value.Nil()); !r.Empty() {
		t.Error("dispatch after Reset should yield an empty result")
	}
}

func TestTask_IsService(t *testing.T) {
	svc := NewTask(ServiceTask, "", 1, func(_ context.Context, _ []value.Value) value.Value {
		return value.Nil()
	})
	if !svc.IsService() {
		t.Error("arity-1 task named service should be a service slot")
	}

	wrongArity := NewTask(ServiceTask, "", 2, nil)
	if wrongArity.IsService() {
		t.Error("arity-2 task named service is not a service slot")
	}

	wrongName := NewTask("worker", "", 1, nil)
	if wrongName.IsService() {
		t.Error("arity-1 task with another name is not a service slot")
	}
}

func TestResult_GetCancel(t *testing.T) {
	release := make(chan struct{})
	task := NewTask("slow", "", 0, func(_ context.Context, _ []value.Value) value.Value {
		<-release
		return value.Int(7)
	})

	r := task.Run(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Get(ctx); err == nil {
		t.Error("Get with a cancelled context should fail")
	}
	if v := r.Value(); v.Kind() != value.KindNil {
		t.Error("Value before resolution should be nil")
	}

	close(release)
	v, err := r.Get(context.Background())
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if n, _ := v.AsInt(); n != 7 {
		t.Errorf("expected 7, got %d", n)
	}
}
