package compute

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/gogpu/compute/gpucore"
)

// Dispatcher binds a program and buffers, dispatches workgroups and issues
// the barriers that order device writes against later host access.
//
// Several dispatchers may share one device. The device holds a single
// current program and slot table, so Dispatch re-applies this dispatcher's
// program and bindings before launching.
type Dispatcher struct {
	dev     gpucore.Device
	log     *slog.Logger
	program *Program
	slots   map[uint32]*StructuredBuffer

	// written holds buffers with dispatch writes not yet published to
	// the host.
	written []*StructuredBuffer
}

// NewDispatcher returns a dispatcher for the device.
func NewDispatcher(dev gpucore.Device) *Dispatcher {
	return &Dispatcher{dev: dev, log: Logger(), slots: make(map[uint32]*StructuredBuffer)}
}

// Program returns the current program, or nil.
func (d *Dispatcher) Program() *Program { return d.program }

// Bound returns the buffer bound at slot, or nil.
func (d *Dispatcher) Bound(slot uint32) *StructuredBuffer { return d.slots[slot] }

// Use makes a linked program current.
func (d *Dispatcher) Use(p *Program) {
	p.mustLive("Dispatcher.Use")
	d.program = p
	d.dev.UseProgram(p.id)
}

// Bind associates a buffer with a binding slot, replacing any previous
// buffer in the slot.
func (d *Dispatcher) Bind(slot uint32, b *StructuredBuffer) {
	const op = "Dispatcher.Bind"
	b.mustLive(op)
	if b.mapped {
		protocolf(op, "buffer %d is mapped", b.id)
	}
	if prev := d.slots[slot]; prev != nil && prev != b {
		d.log.Debug("compute: slot rebound", "slot", slot, "old", prev.id, "new", b.id)
	}
	d.slots[slot] = b
	d.dev.BindBufferBase(slot, b.id)
}

// Dispatch launches x*y*z workgroups of the current program. Every buffer
// bound to a slot the program declares is marked as written by the device
// until a host-visibility barrier is issued.
func (d *Dispatcher) Dispatch(x, y, z uint32) error {
	const op = "Dispatcher.Dispatch"
	if d.program == nil {
		protocolf(op, "no current program")
	}
	d.program.mustLive(op)
	if x == 0 || y == 0 || z == 0 {
		protocolf(op, "empty dispatch %dx%dx%d", x, y, z)
	}

	targets := make([]*StructuredBuffer, 0, len(d.program.bindings))
	for _, slot := range d.program.bindings {
		b := d.slots[slot]
		if b == nil {
			protocolf(op, "program %d declares slot %d but no buffer is bound", d.program.id, slot)
		}
		b.mustLive(op)
		if b.mapped {
			protocolf(op, "buffer %d at slot %d is mapped", b.id, slot)
		}
		targets = append(targets, b)
	}

	if m := d.dev.Capabilities().MaxWorkgroupsPerDimension; m != 0 && (x > m || y > m || z > m) {
		return &ResourceError{Op: "dispatch", Err: fmt.Errorf("groups %dx%dx%d exceed %d per dimension", x, y, z, m)}
	}
	d.dev.UseProgram(d.program.id)
	for i, slot := range d.program.bindings {
		d.dev.BindBufferBase(slot, targets[i].id)
	}
	if err := d.dev.DispatchCompute(x, y, z); err != nil {
		return &ResourceError{Op: "dispatch", Err: err}
	}
	for _, b := range targets {
		b.pending = true
		if !slices.Contains(d.written, b) {
			d.written = append(d.written, b)
		}
	}
	wg := d.program.workgroup
	d.log.Debug("compute: dispatched",
		"program", d.program.id, "groups", [3]uint32{x, y, z}, "workgroup", wg,
		"invocations", uint64(x)*uint64(y)*uint64(z)*uint64(wg[0])*uint64(wg[1])*uint64(wg[2]))
	return nil
}

// Barrier issues a memory barrier. When kind covers host reads the device
// writes of every previous dispatch become visible and the written buffers
// may be mapped for reading again.
func (d *Dispatcher) Barrier(kind gpucore.BarrierBits) error {
	if kind == 0 {
		protocolf("Dispatcher.Barrier", "empty barrier")
	}
	if err := d.dev.MemoryBarrier(kind); err != nil {
		return &ResourceError{Op: "memory barrier", Err: err}
	}
	if !kind.CoversHostRead() {
		d.log.Debug("compute: barrier does not publish to host", "kind", kind)
		return nil
	}
	for _, b := range d.written {
		b.pending = false
	}
	d.written = d.written[:0]
	d.log.Debug("compute: barrier", "kind", kind)
	return nil
}
