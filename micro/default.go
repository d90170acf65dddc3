package micro

import "sync"

var (
	defaultMu     sync.Mutex
	defaultKernel *Kernel
	defaultCfg    *KernelConfig
)

// SetDefaultConfig sets the configuration used when the process-wide kernel
// is first built. It has no effect once Default has been called; call
// ResetDefault first to rebuild.
func SetDefaultConfig(cfg *KernelConfig) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultCfg = cfg
}

// Default returns the process-wide kernel, building it thread-safely on
// first access. Programs that want several independent kernels use NewKernel
// directly.
func Default() *Kernel {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultKernel == nil {
		defaultKernel = NewKernel(defaultCfg)
	}
	return defaultKernel
}

// ResetDefault stops and discards the process-wide kernel so a later
// Default builds a fresh one. Intended for tests, which otherwise would
// share one irreversible global instance.
func ResetDefault() {
	defaultMu.Lock()
	k := defaultKernel
	defaultKernel = nil
	defaultMu.Unlock()
	if k != nil {
		k.Stop()
	}
}
