package micro

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/plugin-runtime/value"
)

// testLoader serves factories from a map and records handle closes.
type testLoader struct {
	factories map[string]Factory
	opens     atomic.Int64
	closes    atomic.Int64
}

func newTestLoader() *testLoader {
	return &testLoader{factories: make(map[string]Factory)}
}

func (l *testLoader) add(name string, factory Factory) {
	l.factories[name] = factory
}

func (l *testLoader) Open(name string, _ []string) (ModuleHandle, error) {
	factory, ok := l.factories[name]
	if !ok {
		return nil, fmt.Errorf("module %q not found", name)
	}
	l.opens.Add(1)
	return &testHandle{loader: l, name: name, factory: factory}, nil
}

type testHandle struct {
	loader  *testLoader
	name    string
	factory Factory
	closed  atomic.Bool
}

func (h *testHandle) Lookup(symbol string) (Factory, error) {
	if symbol != FactorySymbol || h.factory == nil {
		return nil, fmt.Errorf("symbol %q not found in %q", symbol, h.name)
	}
	return h.factory, nil
}

func (h *testHandle) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.loader.closes.Add(1)
	}
	return nil
}

func (h *testHandle) IsOpen() bool { return !h.closed.Load() }
func (h *testHandle) Path() string { return "test://" + h.name }

func mathFactory() *Plugin {
	p := NewPlugin(MakeVersion(1, 2), "math")
	p.Subscribe(2, "sum", func(_ context.Context, args []value.Value) value.Value {
		a, _ := args[0].AsInt()
		b, _ := args[1].AsInt()
		return value.Int(a + b)
	}, "adds two ints")
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testKernel(loader Loader) *Kernel {
	return NewKernel(&KernelConfig{
		Loader:        loader,
		MaxIdle:       -1, // eviction off unless a test opts in
		CheckPeriod:   10 * time.Millisecond,
		DrainInterval: 5 * time.Millisecond,
	})
}

func TestKernel_LoadAndRun(t *testing.T) {
	loader := newTestLoader()
	loader.add("math", mathFactory)

	k := testKernel(loader)
	k.Run()
	defer k.Stop()

	p := k.GetPlugin("math")
	if p == nil {
		t.Fatal("GetPlugin should load the module")
	}
	defer p.Release()

	if p.Name() != "math" || p.Major() != 1 || p.Minor() != 2 {
		t.Errorf("unexpected plugin metadata: %s %d.%d", p.Name(), p.Major(), p.Minor())
	}
	if p.Kernel() != k {
		t.Error("plugin should be wired back to its kernel")
	}
	if k.CountPlugins() != 1 {
		t.Errorf("expected 1 resident plugin, got %d", k.CountPlugins())
	}

	v, err := p.Run(context.Background(), 2, "sum", value.Int(2), value.Int(3)).Get(context.Background())
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if n, _ := v.AsInt(); n != 5 {
		t.Errorf("expected 5, got %d", n)
	}

	// A second lookup reuses the resident plugin without reopening.
	p2 := k.GetPlugin("math")
	if p2 != p {
		t.Error("second GetPlugin should return the resident plugin")
	}
	p2.Release()
	if n := loader.opens.Load(); n != 1 {
		t.Errorf("expected 1 open, got %d", n)
	}
}

func TestKernel_Stopped(t *testing.T) {
	loader := newTestLoader()
	loader.add("math", mathFactory)
	k := testKernel(loader)

	if k.IsRun() {
		t.Error("fresh kernel should be stopped")
	}
	if k.GetPlugin("math") != nil {
		t.Error("GetPlugin on a stopped kernel should return nil")
	}
	if k.CountPlugins() != 0 {
		t.Error("CountPlugins on a stopped kernel should be 0")
	}
	if k.PluginNames() != nil {
		t.Error("PluginNames on a stopped kernel should be nil")
	}

	k.Stop() // no-op while stopped
}

func TestKernel_LoadFailures(t *testing.T) {
	loader := newTestLoader()
	loader.add("nofactory", nil)
	loader.add("nilplugin", func() *Plugin { return nil })
	loader.add("wrongbound", func() *Plugin {
		return NewPluginWithConfig(0, "wrongbound", &PluginConfig{MaxArgs: 3})
	})

	k := testKernel(loader)
	k.Run()
	defer k.Stop()

	if k.GetPlugin("missing") != nil {
		t.Error("unknown module should not load")
	}
	if k.GetPlugin("nofactory") != nil {
		t.Error("module without the factory symbol should not load")
	}
	if k.GetPlugin("nilplugin") != nil {
		t.Error("factory returning nil should not register")
	}
	if k.GetPlugin("wrongbound") != nil {
		t.Error("module with a different arity bound should be rejected")
	}
	if k.CountPlugins() != 0 {
		t.Errorf("no plugin should be resident, got %d", k.CountPlugins())
	}
	// Every handle that was opened but not registered must be closed again.
	waitFor(t, "rejected handles to close", func() bool {
		return loader.closes.Load() == loader.opens.Load()
	})
}

func TestKernel_UnloadWaitsForBorrow(t *testing.T) {
	loader := newTestLoader()
	loader.add("math", mathFactory)

	k := testKernel(loader)
	k.Run()
	defer k.Stop()

	p := k.GetPlugin("math")
	if p == nil {
		t.Fatal("GetPlugin failed")
	}

	done := make(chan struct{})
	go func() {
		k.UnloadPlugin("math")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("unload should block while a borrow is outstanding")
	case <-time.After(50 * time.Millisecond):
	}
	if p.IsRun() {
		t.Error("unload should clear the running flag immediately")
	}

	p.Release()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("unload did not finish after the borrow was released")
	}
	if k.CountPlugins() != 0 {
		t.Error("plugin should be gone after unload")
	}
	if loader.closes.Load() != 1 {
		t.Error("module handle should be closed on unload")
	}
}

func TestKernel_ServiceWorker(t *testing.T) {
	var gotSelf atomic.Bool
	var stopped atomic.Bool

	loader := newTestLoader()
	loader.add("svc", func() *Plugin {
		p := NewPlugin(MakeVersion(1, 0), "svc")
		p.Subscribe(1, ServiceTask, func(ctx context.Context, args []value.Value) value.Value {
			h, err := args[0].AsHandle()
			if err == nil {
				if self, ok := h.(*Plugin); ok && self == p {
					gotSelf.Store(true)
				}
			}
			<-ctx.Done()
			stopped.Store(true)
			return value.Int(0)
		}, "")
		return p
	})

	k := testKernel(loader)
	k.Run()

	p := k.GetPlugin("svc")
	if p == nil {
		t.Fatal("GetPlugin failed")
	}
	waitFor(t, "service to start", p.IsRun)
	p.Release()

	k.Stop()
	if !gotSelf.Load() {
		t.Error("service task should receive its own plugin as the handle argument")
	}
	if !stopped.Load() {
		t.Error("service loop should observe cancellation before the kernel stops")
	}
	if p.IsRun() {
		t.Error("plugin should be deactivated after Stop")
	}
}

func TestKernel_SharedInstanceReload(t *testing.T) {
	// Factories may return one shared instance for the process lifetime, so
	// a reload after unload must re-arm slots the previous residency
	// consumed via RunOnce, the service slot above all.
	var serviceRuns atomic.Int64
	shared := NewPlugin(MakeVersion(1, 0), "ticker")
	shared.Subscribe(1, ServiceTask, func(ctx context.Context, _ []value.Value) value.Value {
		serviceRuns.Add(1)
		<-ctx.Done()
		return value.Int(0)
	}, "")

	loader := newTestLoader()
	loader.add("ticker", func() *Plugin { return shared })

	k := testKernel(loader)
	k.Run()
	defer k.Stop()

	p := k.GetPlugin("ticker")
	if p == nil {
		t.Fatal("GetPlugin failed")
	}
	waitFor(t, "first service pass", func() bool { return serviceRuns.Load() == 1 })
	p.Release()
	k.UnloadPlugin("ticker")

	if p.IsRun() {
		t.Fatal("unloaded plugin should not claim to be running")
	}

	p = k.GetPlugin("ticker")
	if p == nil {
		t.Fatal("GetPlugin after unload failed")
	}
	waitFor(t, "second service pass", func() bool { return serviceRuns.Load() == 2 })
	if !p.IsRun() {
		t.Error("reloaded plugin should be running its service")
	}
	p.Release()
}

func TestKernel_ServiceBorrowBeforeReturn(t *testing.T) {
	// The service worker's borrow and the activation must already be in
	// place when GetPlugin returns; otherwise an immediate Release+Stop can
	// drain the plugin under a worker that has not been scheduled yet.
	loader := newTestLoader()
	loader.add("svc", func() *Plugin {
		p := NewPlugin(0, "svc")
		p.Subscribe(1, ServiceTask, func(ctx context.Context, _ []value.Value) value.Value {
			<-ctx.Done()
			return value.Int(0)
		}, "")
		return p
	})

	k := testKernel(loader)
	k.Run()

	p := k.GetPlugin("svc")
	if p == nil {
		t.Fatal("GetPlugin failed")
	}
	if n := p.borrowCount(); n < 2 {
		t.Errorf("worker borrow should be held at registration, count = %d", n)
	}
	if !p.IsRun() {
		t.Error("service plugin should be active as soon as GetPlugin returns")
	}

	p.Release()
	k.Stop()
	if p.IsRun() {
		t.Error("plugin should be deactivated after Stop")
	}
	if n := p.borrowCount(); n != 0 {
		t.Errorf("all borrows should be released after Stop, count = %d", n)
	}
}

func TestKernel_SelfService(t *testing.T) {
	var runs atomic.Int64
	k := testKernel(nil)
	k.Subscribe(1, ServiceTask, func(_ context.Context, args []value.Value) value.Value {
		if h, err := args[0].AsHandle(); err != nil || h != k {
			return value.Int(100)
		}
		return value.Int(runs.Add(1))
	}, "")

	k.Run()
	waitFor(t, "first self-service pass", func() bool { return k.Error() == 1 })
	k.Stop()

	// Stop re-arms the once flag, so the next Run fires the service again.
	k.Run()
	waitFor(t, "second self-service pass", func() bool { return k.Error() == 2 })
	k.Stop()
}

func TestKernel_SelfService_WrongShape(t *testing.T) {
	k := testKernel(nil)
	k.Subscribe(1, ServiceTask, func(_ context.Context, _ []value.Value) value.Value {
		return value.String("not a code")
	}, "")

	k.Run()
	waitFor(t, "error code fallback", func() bool { return k.Error() == -1 })
	k.Stop()
}

func TestKernel_EvictIdle(t *testing.T) {
	loader := newTestLoader()
	loader.add("plain", func() *Plugin { return NewPlugin(0, "plain") })
	loader.add("svc", func() *Plugin {
		p := NewPlugin(0, "svc")
		p.Subscribe(1, ServiceTask, func(ctx context.Context, _ []value.Value) value.Value {
			<-ctx.Done()
			return value.Int(0)
		}, "")
		return p
	})

	k := NewKernel(&KernelConfig{
		Loader:        loader,
		MaxIdle:       1,
		CheckPeriod:   10 * time.Millisecond,
		DrainInterval: 5 * time.Millisecond,
	})
	k.Run()
	defer k.Stop()

	plain := k.GetPlugin("plain")
	svc := k.GetPlugin("svc")
	if plain == nil || svc == nil {
		t.Fatal("GetPlugin failed")
	}
	svc.Release()

	resident := func(want string) bool {
		for _, name := range k.PluginNames() {
			if name == want {
				return true
			}
		}
		return false
	}

	// A borrowed plugin is never evicted, no matter how idle.
	time.Sleep(50 * time.Millisecond)
	if !resident("plain") {
		t.Error("borrowed plugin must survive eviction sweeps")
	}

	plain.Release()
	waitFor(t, "idle plugin eviction", func() bool { return !resident("plain") })

	// The service plugin never ran a regular task either, but stays resident.
	time.Sleep(50 * time.Millisecond)
	if k.CountPlugins() != 1 {
		t.Errorf("service plugin should be exempt from eviction, count = %d", k.CountPlugins())
	}
}

func TestKernel_RunStopIdempotent(t *testing.T) {
	loader := newTestLoader()
	loader.add("math", mathFactory)
	k := testKernel(loader)

	k.Run()
	k.Run() // no-op
	if p := k.GetPlugin("math"); p != nil {
		p.Release()
	} else {
		t.Fatal("GetPlugin failed")
	}

	k.Stop()
	k.Stop() // no-op
	if k.CountPlugins() != 0 {
		t.Error("plugins should be drained after Stop")
	}
	if loader.closes.Load() != 1 {
		t.Error("handles should be closed on drain")
	}

	// The kernel is reusable after Stop.
	k.Run()
	p := k.GetPlugin("math")
	if p == nil {
		t.Fatal("GetPlugin after restart failed")
	}
	p.Release()
	k.Stop()
}

func TestKernel_SetMaxIdle(t *testing.T) {
	k := NewKernel(nil)
	if k.MaxIdle() != 10 {
		t.Errorf("default max idle should be 10 minutes, got %d", k.MaxIdle())
	}

	k.SetMaxIdle(0)
	if k.MaxIdle() != 0 {
		t.Error("0 should disable eviction")
	}
	k.SetMaxIdle(-5)
	if k.MaxIdle() != 0 {
		t.Error("negative values should be rejected")
	}
	k.SetMaxIdle(30)
	if k.MaxIdle() != 30 {
		t.Errorf("expected 30, got %d", k.MaxIdle())
	}
}

func TestKernel_PluginOrdinals(t *testing.T) {
	loader := newTestLoader()
	loader.add("alpha", func() *Plugin { return NewPlugin(0, "alpha") })
	loader.add("beta", func() *Plugin { return NewPlugin(0, "beta") })

	k := testKernel(loader)
	k.Run()
	defer k.Stop()

	for _, name := range []string{"beta", "alpha"} {
		p := k.GetPlugin(name)
		if p == nil {
			t.Fatalf("GetPlugin(%q) failed", name)
		}
		p.Release()
	}

	names := k.PluginNames()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("expected sorted names [alpha beta], got %v", names)
	}

	p := k.PluginAt(1)
	if p == nil || p.Name() != "beta" {
		t.Fatalf("PluginAt(1) should be beta")
	}
	p.Release()

	if k.PluginAt(5) != nil {
		t.Error("PluginAt out of range should be nil")
	}

	k.UnloadPluginAt(0)
	if len(k.PluginNames()) != 1 {
		t.Error("UnloadPluginAt should remove one plugin")
	}
}

func TestDefaultKernel(t *testing.T) {
	ResetDefault()
	defer ResetDefault()

	SetDefaultConfig(&KernelConfig{Name: "default under test"})
	k := Default()
	if k == nil {
		t.Fatal("Default should construct a kernel")
	}
	if k.Name() != "default under test" {
		t.Errorf("config should apply, name = %q", k.Name())
	}
	if Default() != k {
		t.Error("Default should return the same kernel")
	}

	ResetDefault()
	if Default() == k {
		t.Error("ResetDefault should discard the kernel")
	}
}
