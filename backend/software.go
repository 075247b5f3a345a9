package backend

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/shader"
)

// init registers the software device on package import.
func init() {
	Register(BackendSoftware, func() (Device, error) {
		return NewSoftwareDevice(), nil
	})
}

// SoftwareDevice is a CPU reference implementation of gpucore.Device.
//
// Shaders are compiled and reflected with naga. Linking binds the compute
// entry point to the Go kernel registered under the same name. Dispatches
// run synchronously, but their writes are staged per buffer and only
// published to host reads by a barrier covering host reads.
//
// Thread Safety: SoftwareDevice is safe for concurrent use; all state is
// guarded by a mutex.
type SoftwareDevice struct {
	mu  sync.Mutex
	log *slog.Logger

	caps   gpucore.Capabilities
	nextID uint64

	shaders  map[gpucore.ShaderID]*swShader
	programs map[gpucore.ProgramID]*swProgram
	buffers  map[gpucore.BufferID]*swBuffer
	slots    map[uint32]gpucore.BufferID
	current  gpucore.ProgramID
	closed   bool
}

type swShader struct {
	stage    gpucore.StageKind
	module   *shader.Module
	compiled bool
	log      string
}

type swProgram struct {
	attached []*swShader
	linked   bool
	log      string
	refl     *shader.Reflection
	kernel   Kernel
}

type swBuffer struct {
	// visible is what host reads observe.
	visible []byte
	// staged holds device writes not yet published; nil when none.
	staged  []byte
}

var _ Device = (*SoftwareDevice)(nil)

// NewSoftwareDevice creates a software device with the default WebGPU
// limits.
func NewSoftwareDevice() *SoftwareDevice {
	return &SoftwareDevice{
		log:      slogger(),
		caps:     gpucore.CapabilitiesFromLimits(gputypes.DefaultLimits()),
		nextID:   1, // 0 is invalid
		shaders:  make(map[gpucore.ShaderID]*swShader),
		programs: make(map[gpucore.ProgramID]*swProgram),
		buffers:  make(map[gpucore.BufferID]*swBuffer),
		slots:    make(map[uint32]gpucore.BufferID),
	}
}

// Name returns the backend identifier.
func (d *SoftwareDevice) Name() string { return BackendSoftware }

// Capabilities returns the compute limits of the device.
func (d *SoftwareDevice) Capabilities() gpucore.Capabilities { return d.caps }

// SetLogger sets the device logger. Pass nil to disable logging.
func (d *SoftwareDevice) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	d.mu.Lock()
	d.log = l
	d.mu.Unlock()
}

// Close releases every object. The device must not be used afterwards.
func (d *SoftwareDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.shaders)
	clear(d.programs)
	clear(d.buffers)
	clear(d.slots)
	d.current = gpucore.InvalidID
	d.closed = true
}

// LiveObjects returns the number of shader, program and buffer objects
// that have been created and not destroyed.
func (d *SoftwareDevice) LiveObjects() (shaders, programs, buffers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shaders), len(d.programs), len(d.buffers)
}

func (d *SoftwareDevice) newID() uint64 {
	id := d.nextID
	d.nextID++
	return id
}

func (d *SoftwareDevice) checkOpen() error {
	if d.closed {
		return fmt.Errorf("software: device is closed")
	}
	return nil
}

// === Shader Objects ===

// CreateShader creates an empty shader object.
func (d *SoftwareDevice) CreateShader(stage gpucore.StageKind) (gpucore.ShaderID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	if stage != gpucore.StageCompute {
		return gpucore.InvalidID, fmt.Errorf("software: unsupported stage %s", stage)
	}
	id := gpucore.ShaderID(d.newID())
	d.shaders[id] = &swShader{stage: stage}
	return id, nil
}

// CompileShader compiles WGSL source into the shader object.
func (d *SoftwareDevice) CompileShader(id gpucore.ShaderID, source string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.shaders[id]
	if !ok {
		return
	}
	module, err := shader.Compile(source)
	if err != nil {
		s.module, s.compiled, s.log = nil, false, err.Error()
		d.log.Debug("software: compile failed", "shader", id)
		return
	}
	s.module, s.compiled, s.log = module, true, ""
}

// ShaderCompiled reports whether the last compile succeeded.
func (d *SoftwareDevice) ShaderCompiled(id gpucore.ShaderID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.shaders[id]
	return ok && s.compiled
}

// ShaderInfoLogLength returns the compile log length.
func (d *SoftwareDevice) ShaderInfoLogLength(id gpucore.ShaderID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.shaders[id]; ok {
		return len(s.log)
	}
	return 0
}

// ShaderInfoLog copies the compile log into buf.
func (d *SoftwareDevice) ShaderInfoLog(id gpucore.ShaderID, buf []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.shaders[id]; ok {
		return copy(buf, s.log)
	}
	return 0
}

// DestroyShader releases a shader object.
func (d *SoftwareDevice) DestroyShader(id gpucore.ShaderID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.shaders, id)
}

// === Program Objects ===

// CreateProgram creates an empty program object.
func (d *SoftwareDevice) CreateProgram() (gpucore.ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.ProgramID(d.newID())
	d.programs[id] = &swProgram{}
	return id, nil
}

// AttachShader attaches a shader object to a program. The program keeps
// the compiled module even if the shader object is destroyed later.
func (d *SoftwareDevice) AttachShader(program gpucore.ProgramID, id gpucore.ShaderID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[program]
	s, sok := d.shaders[id]
	if !ok || !sok {
		return
	}
	p.attached = append(p.attached, s)
}

// LinkProgram links the attached stages and binds the registered kernel.
func (d *SoftwareDevice) LinkProgram(program gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[program]
	if !ok {
		return
	}
	p.linked, p.refl, p.kernel = false, nil, nil
	if len(p.attached) != 1 {
		p.log = fmt.Sprintf("error: program has %d attached stages, want one compute stage", len(p.attached))
		return
	}
	s := p.attached[0]
	if !s.compiled {
		p.log = "error: attached compute stage is not compiled"
		return
	}
	refl, err := shader.Reflect(s.module)
	if err != nil {
		p.log = err.Error()
		return
	}
	k, ok := lookupKernel(refl.EntryPoint)
	if !ok {
		p.log = fmt.Sprintf("error: software device has no kernel registered for entry point %q", refl.EntryPoint)
		return
	}
	p.linked, p.refl, p.kernel, p.log = true, refl, k, ""
	d.log.Debug("software: program linked", "program", program, "entry", refl.EntryPoint, "workgroup", refl.Workgroup)
}

// ProgramLinked reports whether the last link succeeded.
func (d *SoftwareDevice) ProgramLinked(program gpucore.ProgramID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[program]
	return ok && p.linked
}

// ProgramInfoLogLength returns the link log length.
func (d *SoftwareDevice) ProgramInfoLogLength(program gpucore.ProgramID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.programs[program]; ok {
		return len(p.log)
	}
	return 0
}

// ProgramInfoLog copies the link log into buf.
func (d *SoftwareDevice) ProgramInfoLog(program gpucore.ProgramID, buf []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.programs[program]; ok {
		return copy(buf, p.log)
	}
	return 0
}

// ProgramWorkgroupSize returns the declared workgroup size.
func (d *SoftwareDevice) ProgramWorkgroupSize(program gpucore.ProgramID) [3]uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.programs[program]; ok && p.linked {
		return p.refl.Workgroup
	}
	return [3]uint32{}
}

// ProgramBindings returns the declared storage slots.
func (d *SoftwareDevice) ProgramBindings(program gpucore.ProgramID) []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.programs[program]; ok && p.linked {
		return p.refl.Slots()
	}
	return nil
}

// DestroyProgram releases a program object.
func (d *SoftwareDevice) DestroyProgram(program gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.programs, program)
	if d.current == program {
		d.current = gpucore.InvalidID
	}
}

// === Buffers ===

// CreateBuffer allocates a buffer. Contents start zeroed.
func (d *SoftwareDevice) CreateBuffer(size uint64) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	if size == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: zero-sized buffer")
	}
	if size > d.caps.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("software: buffer size %d exceeds limit %d", size, d.caps.MaxBufferSize)
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &swBuffer{visible: make([]byte, size)}
	return id, nil
}

// WriteBuffer writes host data. The write lands in device memory too, so
// later dispatches observe it.
func (d *SoftwareDevice) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(id, offset, len(data))
	if err != nil {
		return err
	}
	copy(b.visible[offset:], data)
	if b.staged != nil {
		copy(b.staged[offset:], data)
	}
	return nil
}

// ReadBuffer reads host-visible contents. Unpublished dispatch writes are
// not included.
func (d *SoftwareDevice) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(id, offset, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b.visible[offset:])
	return nil
}

func (d *SoftwareDevice) buffer(id gpucore.BufferID, offset uint64, n int) (*swBuffer, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("software: unknown buffer %d", id)
	}
	if offset+uint64(n) > uint64(len(b.visible)) {
		return nil, fmt.Errorf("software: range [%d, %d) outside buffer %d of %d bytes",
			offset, offset+uint64(n), id, len(b.visible))
	}
	return b, nil
}

// BindBufferBase binds a buffer to a slot.
func (d *SoftwareDevice) BindBufferBase(slot uint32, id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[id]; ok {
		d.slots[slot] = id
	}
}

// DestroyBuffer releases a buffer and clears any slot holding it.
func (d *SoftwareDevice) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
	for slot, bound := range d.slots {
		if bound == id {
			delete(d.slots, slot)
		}
	}
}

// === Execution ===

// UseProgram makes a program current.
func (d *SoftwareDevice) UseProgram(program gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = program
}

// DispatchCompute runs the current program's kernel for every invocation
// of x*y*z workgroups. Writes are staged until a host-visibility barrier.
func (d *SoftwareDevice) DispatchCompute(x, y, z uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[d.current]
	if !ok || !p.linked {
		return fmt.Errorf("software: no linked program is current")
	}

	bindings := make(Bindings, len(p.refl.Bindings))
	staged := make([]*swBuffer, 0, len(p.refl.Bindings))
	for _, b := range p.refl.Bindings {
		id, ok := d.slots[b.Slot]
		if !ok {
			return fmt.Errorf("software: slot %d (%s) has no buffer bound", b.Slot, b.Name)
		}
		buf := d.buffers[id]
		if buf.staged == nil {
			buf.staged = append([]byte(nil), buf.visible...)
		}
		bindings[b.Slot] = buf.staged
		staged = append(staged, buf)
	}

	wg := p.refl.Workgroup
	keys := bindings.Slots()
	for gz := uint32(0); gz < z; gz++ {
		for gy := uint32(0); gy < y; gy++ {
			for gx := uint32(0); gx < x; gx++ {
				group := [3]uint32{gx, gy, gz}
				for lz := uint32(0); lz < wg[2]; lz++ {
					for ly := uint32(0); ly < wg[1]; ly++ {
						for lx := uint32(0); lx < wg[0]; lx++ {
							local := [3]uint32{lx, ly, lz}
							p.kernel(Invocation{
								GlobalID:    [3]uint32{gx*wg[0] + lx, gy*wg[1] + ly, gz*wg[2] + lz},
								LocalID:     local,
								WorkgroupID: group,
							}, bindings)
						}
					}
				}
			}
		}
	}
	d.log.Debug("software: dispatched", "groups", [3]uint32{x, y, z}, "workgroup", wg, "slots", keys, "buffers", len(staged))
	return nil
}

// MemoryBarrier publishes staged dispatch writes when bits cover host
// reads. Storage-only barriers are no-ops since dispatches run in order.
func (d *SoftwareDevice) MemoryBarrier(bits gpucore.BarrierBits) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !bits.CoversHostRead() {
		return nil
	}
	published := 0
	for _, b := range d.buffers {
		if b.staged != nil {
			b.visible, b.staged = b.staged, nil
			published++
		}
	}
	d.log.Debug("software: barrier", "bits", bits, "published", published)
	return nil
}

// Slots returns the bound slots in ascending order.
func (b Bindings) Slots() []uint32 {
	slots := make([]uint32, 0, len(b))
	for s := range b {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}
