// Package native provides the GPU device for compute pipelines, built on
// the gogpu/wgpu hardware abstraction layer.
//
// Importing the package registers the "native" backend:
//
//	import _ "github.com/gogpu/compute/backend/native"
//
// The device opens the first discrete or integrated Vulkan adapter, or
// shares the device of a host application through FromProvider.
//
// Shader stages are validated with naga and linked into a wgpu compute
// pipeline whose bind group layout follows the declared storage bindings.
// A dispatch records one compute pass and submits it with a fence. A
// memory barrier waits for every submitted dispatch before returning.
// Host reads copy through a map-readable staging buffer.
package native
