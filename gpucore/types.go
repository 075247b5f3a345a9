package gpucore

import (
	"strings"

	"github.com/gogpu/gputypes"
)

// Resource IDs
//
// These opaque IDs represent device objects. Each device implementation
// maintains a mapping between IDs and actual backend resources.

// ShaderID is an opaque handle to a shader stage object.
type ShaderID uint64

// ProgramID is an opaque handle to a program object.
type ProgramID uint64

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// StageKind identifies the pipeline stage a shader object compiles for.
type StageKind uint8

const (
	// StageCompute is a compute kernel stage.
	StageCompute StageKind = iota + 1
)

// String returns the stage name.
func (k StageKind) String() string {
	switch k {
	case StageCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// BarrierBits selects which kinds of device writes a memory barrier
// makes visible to subsequent operations.
type BarrierBits uint32

// Barrier bits.
const (
	// BarrierShaderStorage orders storage buffer writes before storage
	// buffer accesses of later dispatches. It does not make writes visible
	// to the host.
	BarrierShaderStorage BarrierBits = 1 << iota

	// BarrierBufferUpdate makes shader writes visible to buffer reads and
	// writes issued from the host, including mapped reads.
	BarrierBufferUpdate

	// BarrierClientMappedBuffer makes shader writes visible to host
	// mappings of the buffer.
	BarrierClientMappedBuffer

	// BarrierAll covers every kind of access.
	BarrierAll BarrierBits = 0xFFFFFFFF
)

// hostReadBits are the bits that publish device writes to host reads.
const hostReadBits = BarrierBufferUpdate | BarrierClientMappedBuffer

// CoversHostRead reports whether a barrier with these bits guarantees that
// buffer writes made by shader invocations are visible to host mapped reads.
func (b BarrierBits) CoversHostRead() bool {
	return b&hostReadBits != 0
}

// String returns a readable list of the set bits.
func (b BarrierBits) String() string {
	if b == BarrierAll {
		return "all"
	}
	if b == 0 {
		return "none"
	}
	var parts []string
	if b&BarrierShaderStorage != 0 {
		parts = append(parts, "shader-storage")
	}
	if b&BarrierBufferUpdate != 0 {
		parts = append(parts, "buffer-update")
	}
	if b&BarrierClientMappedBuffer != 0 {
		parts = append(parts, "client-mapped-buffer")
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// ParseBarrier parses a barrier name as printed by BarrierBits.String.
// Single names only; "all" selects BarrierAll.
func ParseBarrier(name string) (BarrierBits, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "shader-storage":
		return BarrierShaderStorage, true
	case "buffer-update":
		return BarrierBufferUpdate, true
	case "client-mapped-buffer":
		return BarrierClientMappedBuffer, true
	case "all":
		return BarrierAll, true
	default:
		return 0, false
	}
}

// Capabilities describes the compute limits of a device.
type Capabilities struct {
	// MaxWorkgroupSize is the maximum workgroup size in each dimension.
	MaxWorkgroupSize [3]uint32

	// MaxInvocationsPerWorkgroup is the maximum product of the workgroup
	// dimensions.
	MaxInvocationsPerWorkgroup uint32

	// MaxWorkgroupsPerDimension is the maximum group count of a dispatch
	// along any axis.
	MaxWorkgroupsPerDimension uint32

	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64
}

// CapabilitiesFromLimits extracts the compute limits from WebGPU limits.
func CapabilitiesFromLimits(l gputypes.Limits) Capabilities {
	return Capabilities{
		MaxWorkgroupSize: [3]uint32{
			l.MaxComputeWorkgroupSizeX,
			l.MaxComputeWorkgroupSizeY,
			l.MaxComputeWorkgroupSizeZ,
		},
		MaxInvocationsPerWorkgroup: l.MaxComputeInvocationsPerWorkgroup,
		MaxWorkgroupsPerDimension:  l.MaxComputeWorkgroupsPerDimension,
		MaxBufferSize:              l.MaxBufferSize,
	}
}
