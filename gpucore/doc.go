// Package gpucore defines the device boundary used by the compute pipeline.
//
// The [Device] interface abstracts over GPU backend implementations so that
// the same pipeline code runs against:
//   - gogpu/wgpu HAL (backend/native, Pure Go WebGPU)
//   - a CPU reference device (the software device in package backend)
//
// # Architecture
//
//	               +-----------------+
//	               |     compute     |
//	               | (Runner, Buffer)|
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	| native device   |          | software device |
//	|  (hal.Device)   |          |  (Go kernels)   |
//	+--------+--------+          +--------+--------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|   gogpu/wgpu    |          |   gogpu/naga    |
//	|   (Pure Go)     |          | (validation)    |
//	+-----------------+          +-----------------+
//
// # Resource Management
//
// Device objects are referenced by opaque IDs ([ShaderID], [ProgramID],
// [BufferID]). Devices map IDs to backend resources and release them on the
// matching Destroy call. The zero ID is never handed out.
//
// # Diagnostics
//
// Compile and link status are queried after the fact, and the diagnostic log
// is fetched in two steps: the device reports the log length, then fills a
// caller-sized buffer. The log is clean text without a terminator, so a
// buffer sized to exactly the reported length holds the whole log.
package gpucore
