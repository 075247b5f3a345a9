// Package backend provides pluggable compute devices.
//
// Devices are registered by name via init() functions and selected at
// runtime. The software device is always registered; the native device is
// registered by importing its package:
//
//	import _ "github.com/gogpu/compute/backend/native"
//
// # Device Selection
//
// Use OpenDefault to get the best available device, or Open to request a
// specific device by name:
//
//	// Best available device (native GPU first, software fallback)
//	dev, err := backend.OpenDefault()
//
//	// Or a specific device
//	dev, err := backend.Open(backend.BackendSoftware)
//
// # Software Device
//
// The software device is a CPU reference implementation of the device
// boundary. It validates WGSL with naga exactly like the native device and
// executes kernels through registered Go twins keyed by entry point name.
// Dispatch results are staged and only become visible to host reads after a
// barrier that covers host reads, so ordering mistakes show up as stale data
// rather than passing by accident.
package backend
