package compute

import (
	"encoding/binary"
	"log/slog"
	"math"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/compute/gpucore"
)

// Vec3Size is the size in bytes of one tightly packed f32.Vec3 element.
const Vec3Size = 12

// StructuredBuffer owns one device buffer of fixed element count and
// element size. Element i occupies bytes [i*elementSize, (i+1)*elementSize).
//
// At most one mapped region is live at a time. A buffer written by a
// dispatch cannot be mapped for reading until a barrier covering host
// reads has been issued.
type StructuredBuffer struct {
	dev         gpucore.Device
	id          gpucore.BufferID
	count       int
	elementSize int

	mapped   bool
	pending  bool // device writes not yet visible to the host
	released bool
}

// Allocate reserves count*elementSize bytes of uninitialized device memory.
// A zero count or element size panics.
func Allocate(dev gpucore.Device, count, elementSize int) (*StructuredBuffer, error) {
	return allocate(dev, count, elementSize, Logger())
}

func allocate(dev gpucore.Device, count, elementSize int, log *slog.Logger) (*StructuredBuffer, error) {
	if count <= 0 || elementSize <= 0 {
		protocolf("Allocate", "invalid layout: %d elements of %d bytes", count, elementSize)
	}
	size := uint64(count) * uint64(elementSize)
	id, err := dev.CreateBuffer(size)
	if err != nil {
		return nil, &ResourceError{Op: "create buffer", Err: err}
	}
	log.Debug("compute: buffer allocated", "buffer", id, "count", count, "element_size", elementSize, "size", size)
	return &StructuredBuffer{dev: dev, id: id, count: count, elementSize: elementSize}, nil
}

// ID returns the device buffer object.
func (b *StructuredBuffer) ID() gpucore.BufferID { return b.id }

// Count returns the number of elements.
func (b *StructuredBuffer) Count() int { return b.count }

// ElementSize returns the element stride in bytes.
func (b *StructuredBuffer) ElementSize() int { return b.elementSize }

// Size returns the buffer size in bytes.
func (b *StructuredBuffer) Size() int { return b.count * b.elementSize }

// Mapped reports whether a region is currently live.
func (b *StructuredBuffer) Mapped() bool { return b.mapped }

// Pending reports whether device writes await a host-visibility barrier.
func (b *StructuredBuffer) Pending() bool { return b.pending }

// Released reports whether Release has been called.
func (b *StructuredBuffer) Released() bool { return b.released }

// MapWrite maps length bytes at offset for host writing. The previous
// contents are discarded: the region starts zeroed and is uploaded on
// Unmap, replacing the whole range.
func (b *StructuredBuffer) MapWrite(offset, length int) *WriteRegion {
	b.beginMap("StructuredBuffer.MapWrite", offset, length)
	return &WriteRegion{region: region{buf: b, offset: offset, data: make([]byte, length), live: true}}
}

// MapRead maps length bytes at offset for host reading. Mapping a buffer
// with device writes that no host-visibility barrier has published panics.
func (b *StructuredBuffer) MapRead(offset, length int) (*ReadRegion, error) {
	const op = "StructuredBuffer.MapRead"
	b.mustLive(op)
	if b.pending {
		protocolf(op, "buffer %d has dispatch writes not yet published by a host-visibility barrier", b.id)
	}
	b.beginMap(op, offset, length)
	data := make([]byte, length)
	if err := b.dev.ReadBuffer(b.id, uint64(offset), data); err != nil {
		b.mapped = false
		return nil, &ResourceError{Op: "read buffer", Err: err}
	}
	return &ReadRegion{region: region{buf: b, offset: offset, data: data, live: true}}, nil
}

// MapWriteAll maps the whole buffer for writing.
func (b *StructuredBuffer) MapWriteAll() *WriteRegion { return b.MapWrite(0, b.Size()) }

// MapReadAll maps the whole buffer for reading.
func (b *StructuredBuffer) MapReadAll() (*ReadRegion, error) { return b.MapRead(0, b.Size()) }

// Release destroys the device buffer. Releasing twice, or releasing while
// a region is mapped, panics.
func (b *StructuredBuffer) Release() {
	const op = "StructuredBuffer.Release"
	if b.released {
		protocolf(op, "buffer %d released twice", b.id)
	}
	if b.mapped {
		protocolf(op, "buffer %d released while mapped", b.id)
	}
	b.released = true
	b.dev.DestroyBuffer(b.id)
}

func (b *StructuredBuffer) beginMap(op string, offset, length int) {
	b.mustLive(op)
	if b.mapped {
		protocolf(op, "buffer %d is already mapped", b.id)
	}
	if offset < 0 || length <= 0 || offset+length > b.Size() {
		protocolf(op, "range [%d, %d) outside buffer of %d bytes", offset, offset+length, b.Size())
	}
	if offset%b.elementSize != 0 || length%b.elementSize != 0 {
		protocolf(op, "range [%d, %d) not aligned to %d-byte elements", offset, offset+length, b.elementSize)
	}
	b.mapped = true
}

func (b *StructuredBuffer) mustLive(op string) {
	if b == nil {
		protocolf(op, "nil buffer")
	}
	if b.released {
		protocolf(op, "buffer %d used after release", b.id)
	}
}

// region is the state shared by both mapping modes.
type region struct {
	buf    *StructuredBuffer
	offset int
	data   []byte
	live   bool
}

// Len returns the number of elements in the region.
func (r *region) Len() int {
	r.mustLive("Len")
	return len(r.data) / r.buf.elementSize
}

// Offset returns the byte offset of the region in the buffer.
func (r *region) Offset() int { return r.offset }

func (r *region) mustLive(op string) {
	if !r.live {
		protocolf("MappedRegion."+op, "region of buffer %d used after unmap", r.buf.id)
	}
}

// element returns the bytes of element i, relative to the region start.
func (r *region) element(op string, i int) []byte {
	r.mustLive(op)
	es := r.buf.elementSize
	if i < 0 || i >= len(r.data)/es {
		protocolf("MappedRegion."+op, "element %d outside region of %d elements", i, len(r.data)/es)
	}
	return r.data[i*es : (i+1)*es]
}

func (r *region) vec3Element(op string, i int) []byte {
	if r.buf.elementSize != Vec3Size {
		protocolf("MappedRegion."+op, "element size %d is not a packed f32.Vec3", r.buf.elementSize)
	}
	return r.element(op, i)
}

func (r *region) close() {
	r.mustLive("Unmap")
	r.live = false
	r.buf.mapped = false
	r.data = nil
}

// WriteRegion is a host-writable mapping of a buffer range.
type WriteRegion struct {
	region
}

// Set writes v into element i of the region.
func (r *WriteRegion) Set(i int, v f32.Vec3) {
	putVec3(r.vec3Element("Set", i), v)
}

// Fill writes v into every element of the region.
func (r *WriteRegion) Fill(v f32.Vec3) {
	for i := 0; i < r.Len(); i++ {
		r.Set(i, v)
	}
}

// Element returns the raw bytes of element i for layouts other than
// f32.Vec3. Unmap uploads the bytes as they are at that moment; writes
// through the slice after Unmap never reach the device.
func (r *WriteRegion) Element(i int) []byte {
	return r.element("Element", i)
}

// Unmap uploads the region to the device and invalidates it.
func (r *WriteRegion) Unmap() error {
	r.mustLive("Unmap")
	buf, offset, data := r.buf, r.offset, r.data
	r.close()
	if err := buf.dev.WriteBuffer(buf.id, uint64(offset), data); err != nil {
		return &ResourceError{Op: "write buffer", Err: err}
	}
	return nil
}

// ReadRegion is a host-readable mapping of a buffer range.
type ReadRegion struct {
	region
}

// At returns element i of the region.
func (r *ReadRegion) At(i int) f32.Vec3 {
	return getVec3(r.vec3Element("At", i))
}

// Records returns a copy of every element of the region.
func (r *ReadRegion) Records() []f32.Vec3 {
	out := make([]f32.Vec3, r.Len())
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}

// Element returns a copy of the raw bytes of element i.
func (r *ReadRegion) Element(i int) []byte {
	return append([]byte(nil), r.element("Element", i)...)
}

// Unmap invalidates the region.
func (r *ReadRegion) Unmap() {
	r.close()
}

func putVec3(dst []byte, v f32.Vec3) {
	binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(dst[8:], math.Float32bits(v[2]))
}

func getVec3(src []byte) f32.Vec3 {
	return f32.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
	}
}
