package backend

import (
	"errors"

	"github.com/gogpu/compute/gpucore"
)

// Backend name constants.
const (
	// BackendSoftware is the name of the CPU reference device.
	BackendSoftware = "software"
	// BackendNative is the name of the Pure Go GPU device (gogpu/wgpu).
	BackendNative = "native"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when no backend could be opened.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownBackend is returned when a requested backend is not registered.
	ErrUnknownBackend = errors.New("backend: unknown backend")
)

// Device is a compute device that owns backend resources.
// Close releases them; the device must not be used after Close.
type Device interface {
	gpucore.Device

	// Close releases all device resources.
	Close()
}
