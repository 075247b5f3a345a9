package backend

import "sync"

// Invocation identifies one kernel invocation.
type Invocation struct {
	GlobalID    [3]uint32
	LocalID     [3]uint32
	WorkgroupID [3]uint32
}

// Bindings maps storage binding slots to the device memory a kernel
// invocation reads and writes.
type Bindings map[uint32][]byte

// Kernel is a Go twin of a WGSL compute entry point, run by the software
// device once per invocation.
type Kernel func(inv Invocation, mem Bindings)

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[string]Kernel)
)

// RegisterKernel registers the Go twin of the WGSL entry point with the
// given name. Programs whose entry point has no twin fail to link on the
// software device. Registering a name again replaces the twin.
func RegisterKernel(entryPoint string, k Kernel) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[entryPoint] = k
}

// UnregisterKernel removes a twin. This is useful for testing.
func UnregisterKernel(entryPoint string) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	delete(kernels, entryPoint)
}

func lookupKernel(entryPoint string) (Kernel, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	k, ok := kernels[entryPoint]
	return k, ok
}
