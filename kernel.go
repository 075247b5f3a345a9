package compute

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/gpucore"
)

func init() {
	backend.RegisterKernel(IndexKernelEntryPoint, indexKernelTwin)
}

// ShaderSource is immutable kernel text together with its stage kind.
type ShaderSource struct {
	Stage gpucore.StageKind
	Text  string
}

// ComputeSource wraps WGSL text as a compute stage source.
func ComputeSource(text string) ShaderSource {
	return ShaderSource{Stage: gpucore.StageCompute, Text: text}
}

// IndexKernelEntryPoint is the entry point of the index-identity kernel.
const IndexKernelEntryPoint = "write_index"

// indexKernelTemplate writes the global invocation index into all three
// fields of the element it owns. Parameters: binding slot, element count,
// workgroup size, element count.
const indexKernelTemplate = `struct Position {
    x: f32,
    y: f32,
    z: f32,
}

@group(0) @binding(%d) var<storage, read_write> positions: array<Position, %d>;

@compute @workgroup_size(%d)
fn write_index(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= %du) {
        return;
    }
    let v = f32(i);
    positions[i].x = v;
    positions[i].y = v;
    positions[i].z = v;
}
`

// IndexKernel returns the index-identity kernel declaring its storage
// buffer at slot with count elements, executed by workgroups of
// workgroupSize invocations along x.
func IndexKernel(slot, count, workgroupSize uint32) ShaderSource {
	return ComputeSource(fmt.Sprintf(indexKernelTemplate, slot, count, workgroupSize, count))
}

// indexKernelTwin is the software device counterpart of write_index.
// Invocations past the end of the buffer write nothing.
func indexKernelTwin(inv backend.Invocation, mem backend.Bindings) {
	i := inv.GlobalID[0]
	bits := math.Float32bits(float32(i))
	for _, m := range mem {
		off := int(i) * Vec3Size
		if off+Vec3Size > len(m) {
			continue
		}
		binary.LittleEndian.PutUint32(m[off:], bits)
		binary.LittleEndian.PutUint32(m[off+4:], bits)
		binary.LittleEndian.PutUint32(m[off+8:], bits)
	}
}
