// Package compute runs a minimal GPU compute pipeline: it compiles one
// compute program, allocates one structured storage buffer, seeds it from
// the host, dispatches a kernel that overwrites it, issues the barrier that
// makes the device writes visible to the host, and reads the records back.
//
// The pipeline is built from four parts:
//   - [Compiler] compiles a [ShaderSource] into a stage and links stages
//     into a [Program], surfacing compiler and linker logs as
//     [*CompileError] and [*LinkError].
//   - [StructuredBuffer] owns one device buffer of fixed element count and
//     element layout and hands out exclusive [WriteRegion] and [ReadRegion]
//     mappings.
//   - [Dispatcher] binds a program and buffers to slots, dispatches work
//     groups and issues memory barriers.
//   - [Runner] drives the parts in order and owns resource lifetime.
//
// The device itself is supplied by a backend implementing [gpucore.Device]:
//
//	import (
//	    "github.com/gogpu/compute/backend"
//	    _ "github.com/gogpu/compute/backend/native"
//	)
//
//	dev, err := backend.OpenDefault() // native if a GPU opens, else software
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//	r, err := compute.NewRunner(dev)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	records, err := r.Run()
//
// # Ordering
//
// Host writes, binding, dispatch, barrier and host reads form a total order.
// The API enforces it: a buffer written by a dispatch cannot be mapped for
// reading until a barrier covering host reads has been issued, and a
// [Runner] refuses out-of-order steps. Ordering violations are programming
// errors and panic with a [*ProtocolError].
package compute
