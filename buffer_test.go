package compute

import (
	"testing"

	"golang.org/x/image/math/f32"
)

func TestAllocateLayout(t *testing.T) {
	dev := newTestDevice(t)
	b, err := Allocate(dev, 10, Vec3Size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b.Count() != 10 || b.ElementSize() != Vec3Size || b.Size() != 120 {
		t.Errorf("layout = %d x %d (%d bytes), want 10 x 12 (120 bytes)", b.Count(), b.ElementSize(), b.Size())
	}
	expectLive(t, dev, 0, 0, 1)
	b.Release()
	expectLive(t, dev, 0, 0, 0)
}

func TestAllocateInvalidLayoutPanics(t *testing.T) {
	dev := newTestDevice(t)
	expectProtocolPanic(t, "Allocate", func() { _, _ = Allocate(dev, 0, Vec3Size) })
	expectProtocolPanic(t, "Allocate", func() { _, _ = Allocate(dev, 10, 0) })
	expectLive(t, dev, 0, 0, 0)
}

func TestMapWriteThenRead(t *testing.T) {
	dev := newTestDevice(t)
	b, err := Allocate(dev, 4, Vec3Size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()

	w := b.MapWriteAll()
	if !b.Mapped() {
		t.Error("Mapped() = false during write mapping")
	}
	for i := 0; i < w.Len(); i++ {
		w.Set(i, f32.Vec3{float32(i), float32(i * 10), float32(i * 100)})
	}
	if err := w.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if b.Mapped() {
		t.Error("Mapped() = true after Unmap")
	}

	r, err := b.MapRead(Vec3Size, 2*Vec3Size)
	if err != nil {
		t.Fatalf("MapRead: %v", err)
	}
	defer r.Unmap()
	if r.Len() != 2 || r.Offset() != Vec3Size {
		t.Fatalf("region = %d elements at %d, want 2 at %d", r.Len(), r.Offset(), Vec3Size)
	}
	want := []f32.Vec3{{1, 10, 100}, {2, 20, 200}}
	for i, v := range r.Records() {
		if v != want[i] {
			t.Errorf("record %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestMapWritePartialRangeKeepsRest(t *testing.T) {
	dev := newTestDevice(t)
	b, err := Allocate(dev, 3, Vec3Size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()

	w := b.MapWriteAll()
	w.Fill(f32.Vec3{7, 7, 7})
	if err := w.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	w = b.MapWrite(Vec3Size, Vec3Size)
	w.Set(0, f32.Vec3{1, 2, 3})
	if err := w.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}

	r, err := b.MapReadAll()
	if err != nil {
		t.Fatalf("MapReadAll: %v", err)
	}
	defer r.Unmap()
	want := []f32.Vec3{{7, 7, 7}, {1, 2, 3}, {7, 7, 7}}
	for i := range want {
		if got := r.At(i); got != want[i] {
			t.Errorf("At(%d) = %v, want %v", i, got, want[i])
		}
	}
}

func TestMapMisusePanics(t *testing.T) {
	dev := newTestDevice(t)
	b, err := Allocate(dev, 4, Vec3Size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()

	tests := []struct {
		name string
		op   string
		f    func()
	}{
		{"out of range", "StructuredBuffer.MapWrite", func() { b.MapWrite(0, 5*Vec3Size) }},
		{"negative offset", "StructuredBuffer.MapWrite", func() { b.MapWrite(-Vec3Size, Vec3Size) }},
		{"empty range", "StructuredBuffer.MapRead", func() { _, _ = b.MapRead(0, 0) }},
		{"unaligned", "StructuredBuffer.MapRead", func() { _, _ = b.MapRead(4, Vec3Size) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectProtocolPanic(t, tt.op, tt.f)
			if b.Mapped() {
				t.Error("failed map left the buffer mapped")
			}
		})
	}
}

func TestDoubleMapPanics(t *testing.T) {
	dev := newTestDevice(t)
	b, err := Allocate(dev, 2, Vec3Size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	w := b.MapWriteAll()
	expectProtocolPanic(t, "StructuredBuffer.MapRead", func() { _, _ = b.MapReadAll() })
	expectProtocolPanic(t, "StructuredBuffer.Release", b.Release)
	if err := w.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	b.Release()
}

func TestRegionUseAfterUnmapPanics(t *testing.T) {
	dev := newTestDevice(t)
	b, err := Allocate(dev, 2, Vec3Size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()

	w := b.MapWriteAll()
	if err := w.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	expectProtocolPanic(t, "MappedRegion.Set", func() { w.Set(0, f32.Vec3{}) })
	expectProtocolPanic(t, "MappedRegion.Unmap", func() { _ = w.Unmap() })

	r, err := b.MapReadAll()
	if err != nil {
		t.Fatalf("MapReadAll: %v", err)
	}
	r.Unmap()
	expectProtocolPanic(t, "MappedRegion.At", func() { r.At(0) })
	expectProtocolPanic(t, "MappedRegion.Unmap", r.Unmap)
}

func TestRegionElementBounds(t *testing.T) {
	dev := newTestDevice(t)
	b, err := Allocate(dev, 2, Vec3Size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()

	r, err := b.MapReadAll()
	if err != nil {
		t.Fatalf("MapReadAll: %v", err)
	}
	defer r.Unmap()
	expectProtocolPanic(t, "MappedRegion.At", func() { r.At(2) })
	expectProtocolPanic(t, "MappedRegion.At", func() { r.At(-1) })
}

func TestRawElementLayout(t *testing.T) {
	dev := newTestDevice(t)
	b, err := Allocate(dev, 3, 4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()

	w := b.MapWriteAll()
	copy(w.Element(1), []byte{1, 2, 3, 4})
	expectProtocolPanic(t, "MappedRegion.Set", func() { w.Set(0, f32.Vec3{}) })
	if err := w.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}

	r, err := b.MapReadAll()
	if err != nil {
		t.Fatalf("MapReadAll: %v", err)
	}
	defer r.Unmap()
	if got := r.Element(1); string(got) != "\x01\x02\x03\x04" {
		t.Errorf("Element(1) = %v, want [1 2 3 4]", got)
	}
}

func TestElementWritesAfterUnmapAreDropped(t *testing.T) {
	dev := newTestDevice(t)
	b, err := Allocate(dev, 2, 4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()

	w := b.MapWriteAll()
	e := w.Element(0)
	copy(e, []byte{1, 1, 1, 1})
	if err := w.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	copy(e, []byte{9, 9, 9, 9})

	r, err := b.MapReadAll()
	if err != nil {
		t.Fatalf("MapReadAll: %v", err)
	}
	defer r.Unmap()
	if got := r.Element(0); string(got) != "\x01\x01\x01\x01" {
		t.Errorf("Element(0) = %v, want [1 1 1 1]", got)
	}
}

func TestBufferReleaseTwicePanics(t *testing.T) {
	dev := newTestDevice(t)
	b, err := Allocate(dev, 1, Vec3Size)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b.Release()
	if !b.Released() {
		t.Error("Released() = false after Release")
	}
	expectProtocolPanic(t, "StructuredBuffer.Release", b.Release)
	expectProtocolPanic(t, "StructuredBuffer.MapWrite", func() { b.MapWriteAll() })
}
