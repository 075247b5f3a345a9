package native

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // register the Vulkan HAL backend

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/shader"
)

// fencePollInterval bounds a single fence wait. Barriers keep polling
// until the work completes, so it only controls how often progress is
// logged.
const fencePollInterval = 250 * time.Millisecond

func init() {
	backend.Register(backend.BackendNative, func() (backend.Device, error) {
		d, err := Open()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// Device implements gpucore.Device on a wgpu HAL device and queue.
//
// Thread Safety: Device is safe for concurrent use; all state is guarded
// by a mutex. Barriers hold the mutex while waiting for the GPU.
type Device struct {
	mu  sync.Mutex
	log *slog.Logger

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	owned    bool
	adapter  string
	caps     gpucore.Capabilities

	nextID   uint64
	shaders  map[gpucore.ShaderID]*shaderObject
	programs map[gpucore.ProgramID]*programObject
	buffers  map[gpucore.BufferID]*bufferObject
	slots    map[uint32]gpucore.BufferID
	current  gpucore.ProgramID
	inflight []*submission
}

type shaderObject struct {
	stage    gpucore.StageKind
	module   *shader.Module
	compiled bool
	log      string
}

type programObject struct {
	attached []*shaderObject
	linked   bool
	log      string
	refl     *shader.Reflection

	module   hal.ShaderModule
	layout   hal.BindGroupLayout
	pipeLay  hal.PipelineLayout
	pipeline hal.ComputePipeline
}

type bufferObject struct {
	raw   hal.Buffer
	size  uint64 // requested size
	alloc uint64 // size rounded up to the copy alignment
}

// submission is a dispatch submitted to the queue and not yet waited on.
type submission struct {
	cmd   hal.CommandBuffer
	fence hal.Fence
	group hal.BindGroup
}

var _ backend.Device = (*Device)(nil)

// Open creates a device on the first discrete or integrated Vulkan
// adapter, falling back to the first adapter found.
func Open() (*Device, error) {
	b, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("native: %w: vulkan backend not available", backend.ErrBackendNotAvailable)
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: %w: create instance: %w", backend.ErrBackendNotAvailable, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("native: %w: no GPU adapters found", backend.ErrBackendNotAvailable)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}
	d := newDevice(openDev.Device, openDev.Queue, limits)
	d.instance = instance
	d.owned = true
	d.adapter = selected.Info.Name
	d.log.Info("native: device opened", "adapter", d.adapter)
	return d, nil
}

// NewDevice wraps an existing HAL device and queue. The caller keeps
// ownership: Close releases only the objects created through the Device.
func NewDevice(device hal.Device, queue hal.Queue) *Device {
	return newDevice(device, queue, gputypes.DefaultLimits())
}

// FromProvider shares the device of a host application. The provider
// must also expose HalDevice() any and HalQueue() any returning the
// hal.Device and hal.Queue behind it.
func FromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("native: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("native: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("native: provider HalQueue is not hal.Queue")
	}
	return NewDevice(device, queue), nil
}

func newDevice(device hal.Device, queue hal.Queue, limits gputypes.Limits) *Device {
	return &Device{
		log:      slogger(),
		device:   device,
		queue:    queue,
		caps:     gpucore.CapabilitiesFromLimits(limits),
		nextID:   1, // 0 is invalid
		shaders:  make(map[gpucore.ShaderID]*shaderObject),
		programs: make(map[gpucore.ProgramID]*programObject),
		buffers:  make(map[gpucore.BufferID]*bufferObject),
		slots:    make(map[uint32]gpucore.BufferID),
	}
}

// Name returns the backend identifier.
func (d *Device) Name() string { return backend.BackendNative }

// AdapterName returns the name of the opened adapter, or "" for a shared
// device.
func (d *Device) AdapterName() string { return d.adapter }

// Capabilities returns the compute limits the device was opened with.
func (d *Device) Capabilities() gpucore.Capabilities { return d.caps }

// SetLogger sets the device logger. Pass nil to disable logging.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	d.mu.Lock()
	d.log = l
	d.mu.Unlock()
}

// Close waits for submitted work and destroys every object created
// through the device. An opened device and instance are destroyed too.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return
	}
	if err := d.drain(); err != nil {
		d.log.Warn("native: close: wait for GPU", "err", err)
	}
	for id, p := range d.programs {
		d.destroyPipeline(p)
		delete(d.programs, id)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.raw)
		delete(d.buffers, id)
	}
	clear(d.shaders)
	clear(d.slots)
	d.current = gpucore.InvalidID
	if d.owned {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device, d.queue, d.instance = nil, nil, nil
}

func (d *Device) newID() uint64 {
	id := d.nextID
	d.nextID++
	return id
}

func (d *Device) checkOpen() error {
	if d.device == nil {
		return fmt.Errorf("native: device is closed")
	}
	return nil
}
