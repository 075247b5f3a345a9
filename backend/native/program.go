package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/shader"
)

// CreateShader creates an empty shader object.
func (d *Device) CreateShader(stage gpucore.StageKind) (gpucore.ShaderID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	if stage != gpucore.StageCompute {
		return gpucore.InvalidID, fmt.Errorf("native: unsupported stage %s", stage)
	}
	id := gpucore.ShaderID(d.newID())
	d.shaders[id] = &shaderObject{stage: stage}
	return id, nil
}

// CompileShader validates WGSL source with naga. GPU objects are created
// at link time, once the entry point and bindings are known.
func (d *Device) CompileShader(id gpucore.ShaderID, source string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.shaders[id]
	if !ok {
		return
	}
	module, err := shader.Compile(source)
	if err != nil {
		s.module, s.compiled, s.log = nil, false, err.Error()
		return
	}
	s.module, s.compiled, s.log = module, true, ""
}

// ShaderCompiled reports whether the last compile succeeded.
func (d *Device) ShaderCompiled(id gpucore.ShaderID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.shaders[id]
	return ok && s.compiled
}

// ShaderInfoLogLength returns the compile log length.
func (d *Device) ShaderInfoLogLength(id gpucore.ShaderID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.shaders[id]; ok {
		return len(s.log)
	}
	return 0
}

// ShaderInfoLog copies the compile log into buf.
func (d *Device) ShaderInfoLog(id gpucore.ShaderID, buf []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.shaders[id]; ok {
		return copy(buf, s.log)
	}
	return 0
}

// DestroyShader releases a shader object.
func (d *Device) DestroyShader(id gpucore.ShaderID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.shaders, id)
}

// CreateProgram creates an empty program object.
func (d *Device) CreateProgram() (gpucore.ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.ProgramID(d.newID())
	d.programs[id] = &programObject{}
	return id, nil
}

// AttachShader attaches a shader object to a program.
func (d *Device) AttachShader(program gpucore.ProgramID, id gpucore.ShaderID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[program]
	s, sok := d.shaders[id]
	if !ok || !sok {
		return
	}
	p.attached = append(p.attached, s)
}

// LinkProgram creates the shader module, bind group layout, pipeline
// layout and compute pipeline for the attached compute stage. Failures
// are reported through the program info log.
func (d *Device) LinkProgram(program gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[program]
	if !ok {
		return
	}
	d.destroyPipeline(p)
	p.linked, p.refl = false, nil
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
	if err := d.createPipeline(p, s.module, refl); err != nil {
		d.destroyPipeline(p)
		p.log = "error: " + err.Error()
		return
	}
	p.linked, p.refl, p.log = true, refl, ""
	d.log.Debug("native: program linked", "program", program, "entry", refl.EntryPoint, "slots", refl.Slots())
}

func (d *Device) createPipeline(p *programObject, m *shader.Module, refl *shader.Reflection) error {
	words, err := shader.SPIRV(m)
	if err != nil {
		return err
	}
	p.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  refl.EntryPoint,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}

	entries := make([]gputypes.BindGroupLayoutEntry, len(refl.Bindings))
	for i, b := range refl.Bindings {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    b.Slot,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}
	p.layout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   refl.EntryPoint + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}

	p.pipeLay, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            refl.EntryPoint + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.layout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}

	p.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   refl.EntryPoint,
		Layout:  p.pipeLay,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: refl.EntryPoint},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	return nil
}

func (d *Device) destroyPipeline(p *programObject) {
	if p.pipeline != nil {
		d.device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLay != nil {
		d.device.DestroyPipelineLayout(p.pipeLay)
		p.pipeLay = nil
	}
	if p.layout != nil {
		d.device.DestroyBindGroupLayout(p.layout)
		p.layout = nil
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
		p.module = nil
	}
}

// ProgramLinked reports whether the last link succeeded.
func (d *Device) ProgramLinked(program gpucore.ProgramID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[program]
	return ok && p.linked
}

// ProgramInfoLogLength returns the link log length.
func (d *Device) ProgramInfoLogLength(program gpucore.ProgramID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.programs[program]; ok {
		return len(p.log)
	}
	return 0
}

// ProgramInfoLog copies the link log into buf.
func (d *Device) ProgramInfoLog(program gpucore.ProgramID, buf []byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.programs[program]; ok {
		return copy(buf, p.log)
	}
	return 0
}

// ProgramWorkgroupSize returns the declared workgroup size.
func (d *Device) ProgramWorkgroupSize(program gpucore.ProgramID) [3]uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.programs[program]; ok && p.linked {
		return p.refl.Workgroup
	}
	return [3]uint32{}
}

// ProgramBindings returns the declared storage slots.
func (d *Device) ProgramBindings(program gpucore.ProgramID) []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.programs[program]; ok && p.linked {
		return p.refl.Slots()
	}
	return nil
}

// DestroyProgram releases a program object and its pipeline.
func (d *Device) DestroyProgram(program gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[program]
	if !ok {
		return
	}
	if err := d.drain(); err != nil {
		d.log.Warn("native: destroy program: wait for GPU", "err", err)
	}
	d.destroyPipeline(p)
	delete(d.programs, program)
	if d.current == program {
		d.current = gpucore.InvalidID
	}
}
