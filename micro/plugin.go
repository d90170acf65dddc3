package micro

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PluginConfig holds optional construction parameters for a plugin.
type PluginConfig struct {
	// MaxArgs overrides the maximum task arity. Must match the hosting
	// kernel's bound or registration is refused.
	MaxArgs int

	// Clock overrides the idle clock. Tests inject a fake clock here.
	Clock func() time.Time
}

// Plugin is one loaded module: a Storage of its tasks plus a running flag
// and a back-reference to the owning kernel.
//
// Concrete plugins subscribe their tasks right after construction. At that
// point the kernel back-reference is not yet set; it is wired exactly once
// when the kernel registers the plugin, so construction-time code must not
// call Kernel().
type Plugin struct {
	*Storage

	running atomic.Bool
	borrows atomic.Int64

	mu     sync.Mutex
	kernel *Kernel
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPlugin creates a plugin with the default configuration. Module
// factories call this and then subscribe the module's tasks.
func NewPlugin(version int, name string) *Plugin {
	return NewPluginWithConfig(version, name, nil)
}

// NewPluginWithConfig creates a plugin with custom configuration.
func NewPluginWithConfig(version int, name string, cfg *PluginConfig) *Plugin {
	maxArgs := DefaultMaxArgs
	var clock func() time.Time
	if cfg != nil {
		if cfg.MaxArgs > 0 {
			maxArgs = cfg.MaxArgs
		}
		clock = cfg.Clock
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // not running until the kernel activates the service worker
	return &Plugin{
		Storage: newStorage(version, name, maxArgs, clock),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// IsRun reports whether the plugin's service may keep working. Service loops
// poll this (or watch Context) and exit cooperatively when it turns false.
func (p *Plugin) IsRun() bool { return p.running.Load() }

// Kernel returns the owning kernel, or nil before registration.
func (p *Plugin) Kernel() *Kernel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kernel
}

// Context returns the plugin's activation context. It is cancelled when the
// running flag is cleared; before the first activation it is already
// cancelled.
func (p *Plugin) Context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

// Release ends a borrow obtained from Kernel.GetPlugin or Kernel.PluginAt.
// The kernel will not destroy a plugin while borrows are outstanding.
func (p *Plugin) Release() {
	p.borrows.Add(-1)
}

func (p *Plugin) retain() { p.borrows.Add(1) }

func (p *Plugin) borrowCount() int64 { return p.borrows.Load() }

// setKernel wires the back-reference. First write wins.
func (p *Plugin) setKernel(k *Kernel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kernel == nil {
		p.kernel = k
	}
}

// activate sets the running flag and opens a fresh activation context.
func (p *Plugin) activate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.CompareAndSwap(false, true) {
		p.ctx, p.cancel = context.WithCancel(context.Background())
	}
}

// deactivate clears the running flag and cancels the activation context.
// This is a request: in-flight work must observe it and return.
func (p *Plugin) deactivate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.CompareAndSwap(true, false) {
		p.cancel()
	}
}
