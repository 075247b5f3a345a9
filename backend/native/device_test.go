package native

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/gpucore"
)

const testKernel = `@group(0) @binding(3) var<storage, read_write> data: array<f32, 16>;

@compute @workgroup_size(8)
fn fill(@builtin(global_invocation_id) gid: vec3<u32>) {
    data[gid.x] = f32(gid.x);
}
`

// createNoopDevice creates a noop device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	device, queue := createNoopDevice(t)
	d := NewDevice(device, queue)
	t.Cleanup(d.Close)
	return d
}

func linkProgram(t *testing.T, d *Device, source string) gpucore.ProgramID {
	t.Helper()
	sh, err := d.CreateShader(gpucore.StageCompute)
	if err != nil {
		t.Fatalf("CreateShader: %v", err)
	}
	d.CompileShader(sh, source)
	if !d.ShaderCompiled(sh) {
		buf := make([]byte, d.ShaderInfoLogLength(sh))
		d.ShaderInfoLog(sh, buf)
		t.Fatalf("compile failed: %s", buf)
	}
	p, err := d.CreateProgram()
	if err != nil {
		t.Fatalf("CreateProgram: %v", err)
	}
	d.AttachShader(p, sh)
	d.LinkProgram(p)
	d.DestroyShader(sh)
	return p
}

func TestNativeRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendNative) {
		t.Error("native backend is not registered")
	}
}

func TestNewDevice(t *testing.T) {
	d := newTestDevice(t)
	if d.Name() != backend.BackendNative {
		t.Errorf("Name() = %q", d.Name())
	}
	if d.AdapterName() != "" {
		t.Errorf("AdapterName() = %q for a shared device", d.AdapterName())
	}
	caps := d.Capabilities()
	if caps.MaxBufferSize == 0 || caps.MaxWorkgroupSize[0] == 0 {
		t.Errorf("Capabilities() = %+v", caps)
	}
}

func TestLinkCreatesPipeline(t *testing.T) {
	d := newTestDevice(t)
	p := linkProgram(t, d, testKernel)
	if !d.ProgramLinked(p) {
		buf := make([]byte, d.ProgramInfoLogLength(p))
		d.ProgramInfoLog(p, buf)
		t.Fatalf("link failed: %s", buf)
	}
	if got := d.ProgramWorkgroupSize(p); got != [3]uint32{8, 1, 1} {
		t.Errorf("ProgramWorkgroupSize() = %v, want [8 1 1]", got)
	}
	if got := d.ProgramBindings(p); len(got) != 1 || got[0] != 3 {
		t.Errorf("ProgramBindings() = %v, want [3]", got)
	}

	d.mu.Lock()
	obj := d.programs[p]
	d.mu.Unlock()
	if obj.pipeline == nil || obj.layout == nil || obj.pipeLay == nil || obj.module == nil {
		t.Error("link did not create every pipeline object")
	}

	d.DestroyProgram(p)
	if d.ProgramLinked(p) {
		t.Error("destroyed program still reports linked")
	}
}

func TestCompileFailureLog(t *testing.T) {
	d := newTestDevice(t)
	sh, err := d.CreateShader(gpucore.StageCompute)
	if err != nil {
		t.Fatalf("CreateShader: %v", err)
	}
	d.CompileShader(sh, "@compute fn broken( {")
	if d.ShaderCompiled(sh) {
		t.Fatal("invalid source compiled")
	}
	if d.ShaderInfoLogLength(sh) == 0 {
		t.Error("empty compile log")
	}
}

func TestLinkFailureLog(t *testing.T) {
	d := newTestDevice(t)
	p := linkProgram(t, d, "fn helper() -> f32 {\n    return 1.0;\n}\n")
	if d.ProgramLinked(p) {
		t.Fatal("program without an entry point linked")
	}
	buf := make([]byte, d.ProgramInfoLogLength(p))
	d.ProgramInfoLog(p, buf)
	if !strings.Contains(string(buf), "entry point") {
		t.Errorf("link log = %q", buf)
	}
}

func TestBufferAlignment(t *testing.T) {
	d := newTestDevice(t)
	b, err := d.CreateBuffer(10)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	d.mu.Lock()
	alloc := d.buffers[b].alloc
	d.mu.Unlock()
	if alloc != 12 {
		t.Errorf("allocation = %d bytes, want 12", alloc)
	}
	if err := d.WriteBuffer(b, 0, make([]byte, 8)); err != nil {
		t.Errorf("aligned write: %v", err)
	}
	if err := d.WriteBuffer(b, 2, make([]byte, 4)); err == nil {
		t.Error("unaligned write succeeded")
	}
	if err := d.WriteBuffer(b, 8, make([]byte, 4)); err == nil {
		t.Error("write past the requested size succeeded")
	}
	if _, err := d.CreateBuffer(0); err == nil {
		t.Error("zero-sized buffer created")
	}
}

func TestDispatchRequiresProgramAndBinding(t *testing.T) {
	d := newTestDevice(t)
	if err := d.DispatchCompute(1, 1, 1); err == nil {
		t.Error("dispatch without a program succeeded")
	}
	p := linkProgram(t, d, testKernel)
	d.UseProgram(p)
	if err := d.DispatchCompute(2, 1, 1); err == nil || !strings.Contains(err.Error(), "slot 3") {
		t.Errorf("dispatch with an unbound slot = %v", err)
	}
}

func TestBarrierWithoutWork(t *testing.T) {
	d := newTestDevice(t)
	if err := d.MemoryBarrier(gpucore.BarrierAll); err != nil {
		t.Errorf("MemoryBarrier: %v", err)
	}
}

func TestCloseSharedDevice(t *testing.T) {
	device, queue := createNoopDevice(t)
	d := NewDevice(device, queue)
	if _, err := d.CreateBuffer(16); err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	d.Close()
	d.Close() // idempotent
	if _, err := d.CreateBuffer(16); err == nil {
		t.Error("CreateBuffer succeeded after Close")
	}
}

// testProvider is a host device provider backed by a noop HAL device.
type testProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p *testProvider) Device() gpucontext.Device             { return nil }
func (p *testProvider) Queue() gpucontext.Queue               { return nil }
func (p *testProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *testProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }

type halTestProvider struct {
	testProvider
}

func (p *halTestProvider) HalDevice() any { return p.device }
func (p *halTestProvider) HalQueue() any  { return p.queue }

func TestFromProvider(t *testing.T) {
	device, queue := createNoopDevice(t)

	if _, err := FromProvider(&testProvider{device: device, queue: queue}); err == nil {
		t.Error("FromProvider accepted a provider without HAL access")
	}

	d, err := FromProvider(&halTestProvider{testProvider{device: device, queue: queue}})
	if err != nil {
		t.Fatalf("FromProvider: %v", err)
	}
	defer d.Close()
	if d.owned {
		t.Error("shared device marked as owned")
	}

	if _, err := FromProvider(&halTestProvider{}); err == nil {
		t.Error("FromProvider accepted nil HAL objects")
	}
}

// failingEncoder fails EndEncoding and records DiscardEncoding calls.
type failingEncoder struct {
	hal.CommandEncoder
	discarded int
}

func (e *failingEncoder) EndEncoding() (hal.CommandBuffer, error) {
	return nil, errors.New("device lost")
}

func (e *failingEncoder) DiscardEncoding() { e.discarded++ }

// failingEncoderDevice hands out failingEncoders.
type failingEncoderDevice struct {
	hal.Device
	encoders []*failingEncoder
}

func (d *failingEncoderDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := d.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	fe := &failingEncoder{CommandEncoder: enc}
	d.encoders = append(d.encoders, fe)
	return fe, nil
}

func TestEncodingFailureDiscardsEncoder(t *testing.T) {
	device, queue := createNoopDevice(t)
	fd := &failingEncoderDevice{Device: device}
	d := NewDevice(fd, queue)
	t.Cleanup(d.Close)

	b, err := d.CreateBuffer(64)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := d.ReadBuffer(b, 0, make([]byte, 16)); err == nil || !strings.Contains(err.Error(), "end encoding") {
		t.Fatalf("ReadBuffer = %v, want end encoding error", err)
	}

	p := linkProgram(t, d, testKernel)
	d.UseProgram(p)
	d.BindBufferBase(3, b)
	if err := d.DispatchCompute(2, 1, 1); err == nil || !strings.Contains(err.Error(), "end encoding") {
		t.Fatalf("DispatchCompute = %v, want end encoding error", err)
	}

	if len(fd.encoders) != 2 {
		t.Fatalf("created %d encoders, want 2", len(fd.encoders))
	}
	for i, e := range fd.encoders {
		if e.discarded != 1 {
			t.Errorf("encoder %d discarded %d times, want 1", i, e.discarded)
		}
	}
}
