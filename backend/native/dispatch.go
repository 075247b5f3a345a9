package native

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
)

// UseProgram makes a program current.
func (d *Device) UseProgram(program gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = program
}

// DispatchCompute records one compute pass over x*y*z workgroups with
// the current program and submits it. It does not wait for completion.
func (d *Device) DispatchCompute(x, y, z uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	p, ok := d.programs[d.current]
	if !ok || !p.linked {
		return fmt.Errorf("native: no linked program is current")
	}

	entries := make([]gputypes.BindGroupEntry, len(p.refl.Bindings))
	for i, b := range p.refl.Bindings {
		id, ok := d.slots[b.Slot]
		if !ok {
			return fmt.Errorf("native: slot %d (%s) has no buffer bound", b.Slot, b.Name)
		}
		buf := d.buffers[id]
		entries[i] = gputypes.BindGroupEntry{
			Binding:  b.Slot,
			Resource: gputypes.BufferBinding{Buffer: buf.raw.NativeHandle(), Offset: 0, Size: buf.alloc},
		}
	}
	group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   p.refl.EntryPoint + "_bind_group",
		Layout:  p.layout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("native: create bind group: %w", err)
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "compute_dispatch"})
	if err != nil {
		d.device.DestroyBindGroup(group)
		return fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("compute_dispatch"); err != nil {
		encoder.DiscardEncoding()
		d.device.DestroyBindGroup(group)
		return fmt.Errorf("native: begin encoding: %w", err)
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: p.refl.EntryPoint})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, group, nil)
	pass.Dispatch(x, y, z)
	pass.End()
	cmd, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		d.device.DestroyBindGroup(group)
		return fmt.Errorf("native: end encoding: %w", err)
	}

	sub, err := d.submit(cmd, group)
	if err != nil {
		return err
	}
	d.inflight = append(d.inflight, sub)
	d.log.Debug("native: dispatched", "entry", p.refl.EntryPoint, "groups", [3]uint32{x, y, z}, "inflight", len(d.inflight))
	return nil
}

// MemoryBarrier waits for every submitted dispatch. The wait has no
// deadline: it returns when the GPU finishes or reports an error.
func (d *Device) MemoryBarrier(bits gpucore.BarrierBits) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	n := len(d.inflight)
	if err := d.drain(); err != nil {
		return err
	}
	d.log.Debug("native: barrier", "bits", bits, "completed", n)
	return nil
}

// submit submits cmd with a fresh fence. On failure the command buffer
// and bind group are released.
func (d *Device) submit(cmd hal.CommandBuffer, group hal.BindGroup) (*submission, error) {
	sub := &submission{cmd: cmd, group: group}
	fence, err := d.device.CreateFence()
	if err != nil {
		d.release(sub)
		return nil, fmt.Errorf("native: create fence: %w", err)
	}
	sub.fence = fence
	if err := d.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1); err != nil {
		d.release(sub)
		return nil, fmt.Errorf("native: submit: %w", err)
	}
	return sub, nil
}

// wait blocks until the submission's fence signals, then releases it.
func (d *Device) wait(sub *submission) error {
	defer d.release(sub)
	for polls := 1; ; polls++ {
		ok, err := d.device.Wait(sub.fence, 1, fencePollInterval)
		if err != nil {
			return fmt.Errorf("native: wait for GPU: %w", err)
		}
		if ok {
			return nil
		}
		d.log.Debug("native: still waiting for GPU", "elapsed", fencePollInterval*time.Duration(polls))
	}
}

// drain waits for all in-flight dispatches. Every submission is released
// even if an earlier wait fails; the first error is returned.
func (d *Device) drain() error {
	var first error
	for _, sub := range d.inflight {
		if err := d.wait(sub); err != nil && first == nil {
			first = err
		}
	}
	d.inflight = d.inflight[:0]
	return first
}

func (d *Device) release(sub *submission) {
	if sub.fence != nil {
		d.device.DestroyFence(sub.fence)
	}
	if sub.cmd != nil {
		d.device.FreeCommandBuffer(sub.cmd)
	}
	if sub.group != nil {
		d.device.DestroyBindGroup(sub.group)
	}
}
