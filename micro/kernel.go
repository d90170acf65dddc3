package micro

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/plugin-runtime/errors"
	"github.com/wippyai/plugin-runtime/value"
)

// KernelConfig holds construction parameters for a kernel. The zero value
// (or nil) yields a kernel with defaults: version 1.0, no loader, eviction
// after 10 idle minutes, 500ms maintenance cadence, no-op logger.
type KernelConfig struct {
	// Version is the packed host version compared against nothing today but
	// carried as metadata, like every Storage.
	Version int

	// Name is the kernel's storage name.
	Name string

	// Paths are the module search paths handed to the loader.
	Paths []string

	// Loader opens modules. A kernel without a loader only serves plugins
	// already resident.
	Loader Loader

	// Logger receives lifecycle events. Defaults to zap.NewNop().
	Logger *zap.Logger

	// MaxIdle is the eviction threshold in minutes. 0 selects the default
	// of 10; a negative value disables eviction (same as SetMaxIdle(0)).
	MaxIdle int

	// CheckPeriod is the maintenance loop cadence. Defaults to 500ms.
	CheckPeriod time.Duration

	// DrainInterval is the delay between drain/unload sweeps. Defaults to
	// 100ms.
	DrainInterval time.Duration

	// MaxArgs overrides the maximum task arity.
	MaxArgs int

	// Clock overrides the idle clock. Tests inject a fake clock here.
	Clock func() time.Time
}

type resident struct {
	handle ModuleHandle
	plugin *Plugin
}

// Kernel manages resident plugins: loading, service workers, idle eviction
// and graceful unloading. It is itself a Storage, so a host program may
// subscribe its own tasks, including a "service" task run once per
// activation.
//
// Lifecycle: Stopped -> Running -> Draining -> Stopped. Run and Stop are
// idempotent and may alternate any number of times.
type Kernel struct {
	*Storage

	log           *zap.Logger
	loader        Loader
	paths         []string
	checkPeriod   time.Duration
	drainInterval time.Duration

	running atomic.Bool
	settled atomic.Bool
	errCode atomic.Int64
	maxIdle atomic.Int64

	cmu    sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	pmu     sync.RWMutex
	plugins map[string]*resident
}

// NewKernel creates an independent kernel. Pass nil for defaults.
func NewKernel(cfg *KernelConfig) *Kernel {
	if cfg == nil {
		cfg = &KernelConfig{}
	}
	version := cfg.Version
	if version == 0 {
		version = MakeVersion(1, 0)
	}
	name := cfg.Name
	if name == "" {
		name = "micro runtime service"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	checkPeriod := cfg.CheckPeriod
	if checkPeriod <= 0 {
		checkPeriod = 500 * time.Millisecond
	}
	drainInterval := cfg.DrainInterval
	if drainInterval <= 0 {
		drainInterval = 100 * time.Millisecond
	}
	maxIdle := cfg.MaxIdle
	switch {
	case maxIdle < 0:
		maxIdle = 0
	case maxIdle == 0:
		maxIdle = 10
	}

	k := &Kernel{
		Storage:       newStorage(version, name, cfg.MaxArgs, cfg.Clock),
		log:           logger,
		loader:        cfg.Loader,
		paths:         append([]string(nil), cfg.Paths...),
		checkPeriod:   checkPeriod,
		drainInterval: drainInterval,
		plugins:       make(map[string]*resident),
	}
	k.settled.Store(true)
	k.maxIdle.Store(int64(maxIdle))
	return k
}

// IsRun reports whether the kernel is between Run and Stop.
func (k *Kernel) IsRun() bool { return k.running.Load() }

// Error returns the kernel's stored error code. A host process conventionally
// exits with this value.
func (k *Kernel) Error() int { return int(k.errCode.Load()) }

// MaxIdle returns the eviction threshold in minutes; 0 means eviction is
// disabled.
func (k *Kernel) MaxIdle() int { return int(k.maxIdle.Load()) }

// SetMaxIdle sets the eviction threshold in minutes. Negative values are
// rejected; 0 disables eviction.
func (k *Kernel) SetMaxIdle(minutes int) {
	if minutes >= 0 {
		k.maxIdle.Store(int64(minutes))
	}
}

// SearchPaths returns a copy of the configured module search paths.
func (k *Kernel) SearchPaths() []string {
	return append([]string(nil), k.paths...)
}

// Run starts the kernel: resets the error code and spawns the maintenance
// worker, plus a one-shot self-service worker when the kernel has its own
// "service" task. No-op when already running.
func (k *Kernel) Run() {
	if !k.running.CompareAndSwap(false, true) {
		return
	}
	k.errCode.Store(0)
	k.settled.Store(false)

	k.cmu.Lock()
	k.ctx, k.cancel = context.WithCancel(context.Background())
	ctx := k.ctx
	k.cmu.Unlock()

	k.log.Info("kernel started", zap.String("kernel", k.Name()))
	go k.maintain(ctx)
	go k.selfService(ctx)
}

// Stop stops the kernel: waits for the maintenance loop to settle, drains
// every resident plugin, and re-arms once-consumed tasks so a later Run
// starts clean. No-op when not running. Blocks until fully drained; a
// service that ignores cancellation stalls Stop indefinitely.
func (k *Kernel) Stop() {
	if !k.running.CompareAndSwap(true, false) {
		return
	}

	k.cmu.Lock()
	if k.cancel != nil {
		k.cancel()
	}
	k.cmu.Unlock()

	for !k.settled.Load() {
		time.Sleep(k.drainInterval)
	}
	k.drain()
	k.ClearOnce()
	k.log.Info("kernel stopped", zap.String("kernel", k.Name()))
}

// CountPlugins returns the number of resident plugins while running, else 0.
func (k *Kernel) CountPlugins() int {
	if !k.running.Load() {
		return 0
	}
	k.pmu.RLock()
	defer k.pmu.RUnlock()
	return len(k.plugins)
}

// GetPlugin returns the resident plugin with the given name, loading it
// through the configured loader when absent. The returned plugin is a
// counted borrow: the caller must Release it when done. Returns nil while
// stopped and on any load, lookup or registration failure.
func (k *Kernel) GetPlugin(name string) *Plugin {
	if !k.running.Load() {
		return nil
	}

	k.pmu.Lock()
	defer k.pmu.Unlock()

	if r, ok := k.plugins[name]; ok {
		r.plugin.retain()
		return r.plugin
	}
	if k.loader == nil {
		return nil
	}

	handle, err := k.loader.Open(name, k.paths)
	if err != nil {
		k.log.Warn("plugin load failed", zap.String("plugin", name), zap.Error(err))
		return nil
	}
	factory, err := handle.Lookup(FactorySymbol)
	if err != nil {
		k.log.Warn("plugin factory missing", zap.String("plugin", name), zap.Error(err))
		closeHandle(k.log, name, handle)
		return nil
	}
	p := factory()
	if p == nil {
		k.log.Warn("plugin factory returned nothing", zap.String("plugin", name))
		closeHandle(k.log, name, handle)
		return nil
	}
	if p.MaxArgs() != k.MaxArgs() {
		k.log.Warn("plugin rejected",
			zap.String("plugin", name),
			zap.Error(errors.ArityMismatch(name, p.MaxArgs(), k.MaxArgs())))
		closeHandle(k.log, name, handle)
		return nil
	}

	p.setKernel(k)
	// A factory may hand back a shared instance that was resident before;
	// re-arm any slots its previous residency consumed via RunOnce.
	p.ClearOnce()
	k.plugins[name] = &resident{handle: handle, plugin: p}
	k.log.Info("plugin loaded",
		zap.String("plugin", name),
		zap.String("path", handle.Path()))

	if p.Has(1, ServiceTask) {
		// The worker's borrow and activation must be visible before the
		// plugin is reachable by Stop's drain, or a prompt shutdown could
		// erase the plugin under a not-yet-scheduled worker.
		p.retain()
		p.activate()
		go k.servicePlugin(p)
	}

	p.retain()
	return p
}

// PluginAt returns the resident plugin at ordinal index i, or nil when out
// of range or stopped. The index is a same-instant snapshot with no ordering
// guarantee across registrations. The returned plugin is a counted borrow.
func (k *Kernel) PluginAt(i int) *Plugin {
	if !k.running.Load() {
		return nil
	}
	k.pmu.RLock()
	defer k.pmu.RUnlock()
	names := k.residentNames()
	if i < 0 || i >= len(names) {
		return nil
	}
	p := k.plugins[names[i]].plugin
	p.retain()
	return p
}

// PluginNames returns a sorted snapshot of resident plugin names.
func (k *Kernel) PluginNames() []string {
	if !k.running.Load() {
		return nil
	}
	k.pmu.RLock()
	defer k.pmu.RUnlock()
	return k.residentNames()
}

// residentNames returns sorted map keys. Callers hold pmu.
func (k *Kernel) residentNames() []string {
	names := make([]string, 0, len(k.plugins))
	for name := range k.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnloadPlugin clears the plugin's running flag, waits for every outstanding
// borrow to be released, then erases it. It never destroys a plugin with
// live references; an unreleased borrow blocks this call indefinitely.
func (k *Kernel) UnloadPlugin(name string) {
	if !k.running.Load() {
		return
	}
	for {
		k.pmu.Lock()
		r, ok := k.plugins[name]
		if !ok {
			k.pmu.Unlock()
			return
		}
		r.plugin.deactivate()
		if r.plugin.borrowCount() == 0 {
			delete(k.plugins, name)
			k.pmu.Unlock()
			closeHandle(k.log, name, r.handle)
			k.log.Info("plugin unloaded", zap.String("plugin", name))
			return
		}
		k.pmu.Unlock()
		k.log.Info("waiting for plugin to terminate", zap.String("plugin", name))
		time.Sleep(k.drainInterval)
	}
}

// UnloadPluginAt unloads the plugin at ordinal index i.
func (k *Kernel) UnloadPluginAt(i int) {
	if !k.running.Load() {
		return
	}
	k.pmu.RLock()
	names := k.residentNames()
	k.pmu.RUnlock()
	if i < 0 || i >= len(names) {
		return
	}
	k.UnloadPlugin(names[i])
}

// servicePlugin runs a freshly registered plugin's service task once in a
// dedicated worker. The caller retained and activated the plugin before
// spawning, so unload and drain wait for the service to finish.
func (k *Kernel) servicePlugin(p *Plugin) {
	defer p.Release()

	k.log.Info("plugin service started", zap.String("plugin", p.Name()))
	r := p.RunOnce(p.Context(), 1, ServiceTask, value.Handle(p))
	_, _ = r.Get(context.Background())
	k.log.Info("plugin service finished", zap.String("plugin", p.Name()))
}

// selfService runs the kernel's own service task once, storing its integer
// result as the kernel error code, or -1 when the result is missing or has
// the wrong shape.
func (k *Kernel) selfService(ctx context.Context) {
	if !k.Has(1, ServiceTask) {
		return
	}
	r := k.RunOnce(ctx, 1, ServiceTask, value.Handle(k))
	v, _ := r.Get(context.Background())
	if code, err := v.AsInt(); err == nil {
		k.errCode.Store(code)
	} else {
		k.errCode.Store(-1)
	}
}

// maintain is the background maintenance loop: every check period it evicts
// idle plugins, and on cancellation it reports the kernel settled.
func (k *Kernel) maintain(ctx context.Context) {
	ticker := time.NewTicker(k.checkPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			k.settled.Store(true)
			return
		case <-ticker.C:
			k.evictIdle()
		}
	}
}

// evictIdle erases every resident plugin whose aggregate idle has reached
// the threshold. Plugins exposing a service task are permanently exempt, and
// a plugin with outstanding borrows is skipped until they are released.
func (k *Kernel) evictIdle() {
	threshold := k.maxIdle.Load()
	if threshold == 0 {
		return
	}
	k.pmu.Lock()
	defer k.pmu.Unlock()
	for name, r := range k.plugins {
		if int64(r.plugin.Idle()) < threshold {
			continue
		}
		if r.plugin.Has(1, ServiceTask) {
			continue
		}
		if r.plugin.borrowCount() > 0 {
			continue
		}
		delete(k.plugins, name)
		closeHandle(k.log, name, r.handle)
		k.log.Info("plugin evicted",
			zap.String("plugin", name),
			zap.Int64("max_idle_minutes", threshold))
	}
}

// drain sweeps the resident map until empty: every plugin's running flag is
// cleared, borrow-free plugins are erased, the rest are retried after a
// short delay.
func (k *Kernel) drain() {
	for {
		k.pmu.Lock()
		for name, r := range k.plugins {
			r.plugin.deactivate()
			if r.plugin.borrowCount() > 0 {
				k.log.Info("waiting for plugin to terminate", zap.String("plugin", name))
				continue
			}
			delete(k.plugins, name)
			closeHandle(k.log, name, r.handle)
		}
		remaining := len(k.plugins)
		k.pmu.Unlock()
		if remaining == 0 {
			return
		}
		time.Sleep(k.drainInterval)
	}
}

func closeHandle(log *zap.Logger, name string, h ModuleHandle) {
	if err := h.Close(); err != nil {
		log.Warn("module close failed", zap.String("plugin", name), zap.Error(err))
	}
}
