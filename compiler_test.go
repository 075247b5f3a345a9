package compute

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/compute/gpucore"
)

const noEntryPointSource = `fn helper(x: f32) -> f32 {
    return x * 2.0;
}
`

const unregisteredKernelSource = `@group(0) @binding(0) var<storage, read_write> data: array<f32, 4>;

@compute @workgroup_size(4)
fn not_registered(@builtin(global_invocation_id) gid: vec3<u32>) {
    data[gid.x] = 1.0;
}
`

func TestCompileAndLinkIndexKernel(t *testing.T) {
	dev := newTestDevice(t)
	c := NewCompiler(dev)

	stage, err := c.Compile(IndexKernel(0, 10, 10))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if stage.Kind() != gpucore.StageCompute {
		t.Errorf("Kind() = %v, want compute", stage.Kind())
	}
	expectLive(t, dev, 1, 0, 0)

	p, err := c.Link(stage)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	// The stage object is released by Link.
	expectLive(t, dev, 0, 1, 0)

	if got := p.WorkgroupSize(); got != [3]uint32{10, 1, 1} {
		t.Errorf("WorkgroupSize() = %v, want [10 1 1]", got)
	}
	if got := p.Bindings(); len(got) != 1 || got[0] != 0 {
		t.Errorf("Bindings() = %v, want [0]", got)
	}
	if !p.HasBinding(0) || p.HasBinding(4) {
		t.Error("HasBinding mismatch")
	}

	p.Release()
	if !p.Released() {
		t.Error("Released() = false after Release")
	}
	expectLive(t, dev, 0, 0, 0)
}

func TestCompileFailureReturnsLog(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"syntax error", "@compute @workgroup_size(1) fn main( {", ""},
		{"undefined identifier", "@compute @workgroup_size(1)\nfn main() {\n    let a = missing_value;\n}\n", ""},
		{"empty source", "   ", "empty shader source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newTestDevice(t)
			_, err := NewCompiler(dev).Compile(ComputeSource(tt.source))
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("Compile error = %v, want *CompileError", err)
			}
			if ce.Log == "" {
				t.Error("CompileError.Log is empty")
			}
			if tt.want != "" && !strings.Contains(ce.Log, tt.want) {
				t.Errorf("CompileError.Log = %q, want it to contain %q", ce.Log, tt.want)
			}
			if !strings.HasPrefix(err.Error(), "compile failed (compute stage): ") {
				t.Errorf("Error() = %q", err.Error())
			}
			expectLive(t, dev, 0, 0, 0)
		})
	}
}

func TestLinkFailureReturnsLog(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"no entry point", noEntryPointSource, "no @compute entry point"},
		{"no kernel twin", unregisteredKernelSource, "not_registered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newTestDevice(t)
			c := NewCompiler(dev)
			stage, err := c.Compile(ComputeSource(tt.source))
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			_, err = c.Link(stage)
			var le *LinkError
			if !errors.As(err, &le) {
				t.Fatalf("Link error = %v, want *LinkError", err)
			}
			if !strings.Contains(le.Log, tt.want) {
				t.Errorf("LinkError.Log = %q, want it to contain %q", le.Log, tt.want)
			}
			expectLive(t, dev, 0, 0, 0)
		})
	}
}

func TestBuildSlotMismatch(t *testing.T) {
	dev := newTestDevice(t)
	_, err := NewCompiler(dev).Build(IndexKernel(0, 10, 10), 4)
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("Build error = %v, want *LinkError", err)
	}
	if !strings.Contains(le.Log, "slot 4") {
		t.Errorf("LinkError.Log = %q, want mention of slot 4", le.Log)
	}
	expectLive(t, dev, 0, 0, 0)
}

func TestBuildStorageSlotVariant(t *testing.T) {
	dev := newTestDevice(t)
	p := buildIndexProgram(t, dev, 4, 10, 1)
	defer p.Release()
	if got := p.WorkgroupSize(); got != [3]uint32{1, 1, 1} {
		t.Errorf("WorkgroupSize() = %v, want [1 1 1]", got)
	}
	if !p.HasBinding(4) {
		t.Errorf("Bindings() = %v, want slot 4", p.Bindings())
	}
}

func TestLinkMisusePanics(t *testing.T) {
	dev := newTestDevice(t)
	c := NewCompiler(dev)

	expectProtocolPanic(t, "Compiler.Link", func() { _, _ = c.Link() })
	expectProtocolPanic(t, "Compiler.Link", func() { _, _ = c.Link(nil) })

	stage, err := c.Compile(IndexKernel(0, 10, 10))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p, err := c.Link(stage)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	defer p.Release()
	expectProtocolPanic(t, "Compiler.Link", func() { _, _ = c.Link(stage) })
}

func TestProgramReleaseTwicePanics(t *testing.T) {
	dev := newTestDevice(t)
	p := buildIndexProgram(t, dev, 0, 10, 10)
	p.Release()
	expectProtocolPanic(t, "Program.Release", p.Release)
}

// logDevice reports a fixed info log and may write fewer bytes than it
// reports.
type logDevice struct {
	gpucore.Device
	log     string
	written int
}

func (d *logDevice) ShaderInfoLogLength(gpucore.ShaderID) int { return len(d.log) }
func (d *logDevice) ShaderInfoLog(_ gpucore.ShaderID, buf []byte) int {
	copy(buf, d.log)
	return d.written
}

func TestShaderInfoLogSizedToReportedLength(t *testing.T) {
	tests := []struct {
		name    string
		log     string
		written int
		want    string
	}{
		{"exact", "error: bad token", 16, "error: bad token"},
		{"short write", "error: bad token", 5, "error"},
		{"over-reported write", "abc", 10, "abc"},
		{"negative write", "abc", -1, ""},
		{"empty", "", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &logDevice{log: tt.log, written: tt.written}
			if got := shaderInfoLog(dev, 1); got != tt.want {
				t.Errorf("shaderInfoLog() = %q, want %q", got, tt.want)
			}
		})
	}
}
