package compute

import (
	"testing"

	"github.com/gogpu/compute/backend"
)

// newTestDevice returns a software device closed at test cleanup.
func newTestDevice(t *testing.T) *backend.SoftwareDevice {
	t.Helper()
	dev := backend.NewSoftwareDevice()
	t.Cleanup(dev.Close)
	return dev
}

// expectLive fails the test unless the device holds exactly the given
// number of objects.
func expectLive(t *testing.T, dev *backend.SoftwareDevice, shaders, programs, buffers int) {
	t.Helper()
	s, p, b := dev.LiveObjects()
	if s != shaders || p != programs || b != buffers {
		t.Errorf("live objects = (shaders %d, programs %d, buffers %d), want (%d, %d, %d)",
			s, p, b, shaders, programs, buffers)
	}
}

// expectProtocolPanic runs f and fails unless it panics with a
// *ProtocolError for op.
func expectProtocolPanic(t *testing.T, op string, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("%s: expected panic, got none", op)
		}
		pe, ok := r.(*ProtocolError)
		if !ok {
			t.Fatalf("%s: panic value %T (%v), want *ProtocolError", op, r, r)
		}
		if pe.Op != op {
			t.Errorf("ProtocolError.Op = %q, want %q", pe.Op, op)
		}
	}()
	f()
}

// buildIndexProgram compiles and links the index kernel for slot.
func buildIndexProgram(t *testing.T, dev *backend.SoftwareDevice, slot, count, wg uint32) *Program {
	t.Helper()
	p, err := NewCompiler(dev).Build(IndexKernel(slot, count, wg), slot)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return p
}
