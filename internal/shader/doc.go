// Package shader is the WGSL front end shared by the device backends.
//
// It runs naga's parse, lower and validate stages, turns failures into a
// single diagnostic log with source context, reflects the compute entry
// point and storage bindings of a module, and emits SPIR-V for backends that
// consume binary modules.
package shader
