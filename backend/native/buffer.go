package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
)

// copyAlignment is the offset and size alignment of buffer copies and
// queue writes.
const copyAlignment = 4

func alignUp(n uint64) uint64 {
	return (n + copyAlignment - 1) &^ (copyAlignment - 1)
}

// CreateBuffer allocates a storage buffer usable as a copy source and
// destination.
func (d *Device) CreateBuffer(size uint64) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	if size == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: zero-sized buffer")
	}
	if size > d.caps.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("native: buffer size %d exceeds limit %d", size, d.caps.MaxBufferSize)
	}
	alloc := alignUp(size)
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "compute_storage",
		Size:  alloc,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer: %w", err)
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &bufferObject{raw: raw, size: size, alloc: alloc}
	return id, nil
}

func (d *Device) buffer(id gpucore.BufferID, offset uint64, n int) (*bufferObject, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("native: unknown buffer %d", id)
	}
	if offset+uint64(n) > b.size {
		return nil, fmt.Errorf("native: range [%d, %d) outside buffer %d of %d bytes",
			offset, offset+uint64(n), id, b.size)
	}
	return b, nil
}

// WriteBuffer writes host data through the queue. The offset and length
// must be multiples of 4.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(id, offset, len(data))
	if err != nil {
		return err
	}
	if offset%copyAlignment != 0 || uint64(len(data))%copyAlignment != 0 {
		return fmt.Errorf("native: write [%d, %d) not aligned to %d bytes", offset, offset+uint64(len(data)), copyAlignment)
	}
	d.queue.WriteBuffer(b.raw, offset, data)
	return nil
}

// ReadBuffer copies the range into a map-readable staging buffer, waits
// for the copy and reads it back.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(id, offset, len(dst))
	if err != nil {
		return err
	}
	start := offset &^ (copyAlignment - 1)
	end := alignUp(offset + uint64(len(dst)))
	if end > b.alloc {
		end = b.alloc
	}
	size := end - start

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "compute_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("native: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "compute_readback"})
	if err != nil {
		return fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("compute_readback"); err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("native: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(b.raw, staging, []hal.BufferCopy{
		{SrcOffset: start, DstOffset: 0, Size: size},
	})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("native: end encoding: %w", err)
	}
	sub, err := d.submit(cmd, nil)
	if err != nil {
		return err
	}
	if err := d.wait(sub); err != nil {
		return err
	}

	readback := make([]byte, size)
	if err := d.queue.ReadBuffer(staging, 0, readback); err != nil {
		return fmt.Errorf("native: readback: %w", err)
	}
	copy(dst, readback[offset-start:])
	return nil
}

// BindBufferBase binds a buffer to a slot.
func (d *Device) BindBufferBase(slot uint32, id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[id]; ok {
		d.slots[slot] = id
	}
}

// DestroyBuffer waits for submitted work, releases the buffer and clears
// any slot holding it.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return
	}
	if err := d.drain(); err != nil {
		d.log.Warn("native: destroy buffer: wait for GPU", "err", err)
	}
	d.device.DestroyBuffer(b.raw)
	delete(d.buffers, id)
	for slot, bound := range d.slots {
		if bound == id {
			delete(d.slots, slot)
		}
	}
}
