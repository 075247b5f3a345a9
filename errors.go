package compute

import (
	"fmt"

	"github.com/gogpu/compute/gpucore"
)

// CompileError reports a shader stage that failed to compile.
// Log is the device compiler log, verbatim.
type CompileError struct {
	Stage gpucore.StageKind
	Log   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile failed (%s stage): %s", e.Stage, e.Log)
}

// LinkError reports a program that failed to link.
// Log is the device linker log, verbatim.
type LinkError struct {
	Log string
}

func (e *LinkError) Error() string {
	return "link failed: " + e.Log
}

// ResourceError reports a device allocation, upload, readback or
// submission failure.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource error: %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// ProtocolError reports a mis-ordered call or use of a released or
// unmapped handle. It indicates a bug in the caller and is raised with
// panic, never returned.
type ProtocolError struct {
	Op  string
	Msg string
}

func (e *ProtocolError) Error() string {
	return "compute: " + e.Op + ": " + e.Msg
}

// protocolf panics with a ProtocolError.
func protocolf(op, format string, args ...any) {
	panic(&ProtocolError{Op: op, Msg: fmt.Sprintf(format, args...)})
}
