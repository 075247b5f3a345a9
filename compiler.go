package compute

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/gogpu/compute/gpucore"
)

// Stage is a successfully compiled shader stage awaiting link.
// Link consumes it.
type Stage struct {
	dev      gpucore.Device
	id       gpucore.ShaderID
	kind     gpucore.StageKind
	consumed bool
}

// Kind returns the pipeline stage the shader was compiled for.
func (s *Stage) Kind() gpucore.StageKind { return s.kind }

// Program is a linked compute program. A Program exists only if compile
// and link both succeeded; it is released exactly once.
type Program struct {
	dev       gpucore.Device
	id        gpucore.ProgramID
	workgroup [3]uint32
	bindings  []uint32
	released  bool
}

// ID returns the device program object.
func (p *Program) ID() gpucore.ProgramID { return p.id }

// WorkgroupSize returns the invocations per workgroup declared by the kernel.
func (p *Program) WorkgroupSize() [3]uint32 { return p.workgroup }

// Bindings returns the storage binding slots the kernel declares.
func (p *Program) Bindings() []uint32 { return slices.Clone(p.bindings) }

// HasBinding reports whether the kernel declares a storage binding at slot.
func (p *Program) HasBinding(slot uint32) bool {
	return slices.Contains(p.bindings, slot)
}

// Released reports whether Release has been called.
func (p *Program) Released() bool { return p.released }

// Release destroys the device program. Releasing twice panics.
func (p *Program) Release() {
	if p.released {
		protocolf("Program.Release", "program %d released twice", p.id)
	}
	p.released = true
	p.dev.DestroyProgram(p.id)
}

func (p *Program) mustLive(op string) {
	if p == nil {
		protocolf(op, "nil program")
	}
	if p.released {
		protocolf(op, "program %d used after release", p.id)
	}
}

// Compiler compiles shader stages and links them into programs.
type Compiler struct {
	dev gpucore.Device
	log *slog.Logger
}

// NewCompiler returns a compiler for the device.
func NewCompiler(dev gpucore.Device) *Compiler {
	return &Compiler{dev: dev, log: Logger()}
}

// Compile compiles one shader stage. On failure the stage object is
// destroyed and the device compile log is returned as a *CompileError.
func (c *Compiler) Compile(src ShaderSource) (*Stage, error) {
	id, err := c.dev.CreateShader(src.Stage)
	if err != nil {
		return nil, &ResourceError{Op: "create shader", Err: err}
	}
	c.dev.CompileShader(id, src.Text)
	if !c.dev.ShaderCompiled(id) {
		log := shaderInfoLog(c.dev, id)
		c.dev.DestroyShader(id)
		c.log.Debug("compute: compile failed", "stage", src.Stage, "log_len", len(log))
		return nil, &CompileError{Stage: src.Stage, Log: log}
	}
	c.log.Debug("compute: stage compiled", "stage", src.Stage, "shader", id)
	return &Stage{dev: c.dev, id: id, kind: src.Stage}, nil
}

// Link attaches the stages to a new program and links it. The stages are
// consumed and their objects released whatever the outcome. On failure the
// program object is destroyed and the device link log is returned as a
// *LinkError.
func (c *Compiler) Link(stages ...*Stage) (*Program, error) {
	if len(stages) == 0 {
		protocolf("Compiler.Link", "no stages to link")
	}
	for _, s := range stages {
		if s == nil {
			protocolf("Compiler.Link", "nil stage (a failed compile cannot be linked)")
		}
		if s.consumed {
			protocolf("Compiler.Link", "stage %d already linked", s.id)
		}
	}
	defer releaseStages(stages)

	id, err := c.dev.CreateProgram()
	if err != nil {
		return nil, &ResourceError{Op: "create program", Err: err}
	}
	for _, s := range stages {
		c.dev.AttachShader(id, s.id)
	}
	c.dev.LinkProgram(id)
	if !c.dev.ProgramLinked(id) {
		log := programInfoLog(c.dev, id)
		c.dev.DestroyProgram(id)
		return nil, &LinkError{Log: log}
	}

	p := &Program{
		dev:       c.dev,
		id:        id,
		workgroup: c.dev.ProgramWorkgroupSize(id),
		bindings:  c.dev.ProgramBindings(id),
	}
	c.log.Debug("compute: program linked",
		"program", id, "workgroup", p.workgroup, "bindings", p.bindings)
	return p, nil
}

// Build compiles and links a single-stage program and verifies that it
// declares a storage binding at slot.
func (c *Compiler) Build(src ShaderSource, slot uint32) (*Program, error) {
	stage, err := c.Compile(src)
	if err != nil {
		return nil, err
	}
	p, err := c.Link(stage)
	if err != nil {
		return nil, err
	}
	if !p.HasBinding(slot) {
		declared := p.Bindings()
		p.Release()
		return nil, &LinkError{Log: fmt.Sprintf(
			"error: program declares no storage binding at slot %d (declared: %v)", slot, declared)}
	}
	return p, nil
}

func releaseStages(stages []*Stage) {
	for _, s := range stages {
		s.consumed = true
		s.dev.DestroyShader(s.id)
	}
}

// shaderInfoLog reads the compile log into a buffer sized to exactly the
// length the device reports.
func shaderInfoLog(dev gpucore.Device, id gpucore.ShaderID) string {
	n := dev.ShaderInfoLogLength(id)
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	return string(buf[:clampLog(dev.ShaderInfoLog(id, buf), n)])
}

// programInfoLog reads the link log into a buffer sized to exactly the
// length the device reports.
func programInfoLog(dev gpucore.Device, id gpucore.ProgramID) string {
	n := dev.ProgramInfoLogLength(id)
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	return string(buf[:clampLog(dev.ProgramInfoLog(id, buf), n)])
}

func clampLog(written, size int) int {
	return max(0, min(written, size))
}
