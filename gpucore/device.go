package gpucore

// Device abstracts over GPU backend implementations.
//
// The interface follows the object model of a classic compute API: shader
// objects are compiled, attached to a program object and linked; buffers
// are bound to numbered slots; a program is made current and dispatched;
// a memory barrier publishes device writes.
//
// Status queries never fail. A failed compile or link is reported by
// ShaderCompiled/ProgramLinked returning false, and the reason is read from
// the info log.
//
// Resource lifecycle:
//   - Objects are created via Create* methods
//   - Objects must be explicitly destroyed via Destroy* methods
//   - IDs become invalid after destruction and are never reused
//
// Implementations must be safe for concurrent use, but a single pipeline
// drives a device from one goroutine.
type Device interface {
	// Name returns the backend identifier (e.g. "native", "software").
	Name() string

	// Capabilities returns the compute limits of the device.
	Capabilities() Capabilities

	// === Shader Objects ===

	// CreateShader creates an empty shader object for the given stage.
	CreateShader(stage StageKind) (ShaderID, error)

	// CompileShader compiles source text into the shader object.
	// The outcome is queried with ShaderCompiled.
	CompileShader(id ShaderID, source string)

	// ShaderCompiled reports whether the last compile succeeded.
	ShaderCompiled(id ShaderID) bool

	// ShaderInfoLogLength returns the length in bytes of the compile log.
	ShaderInfoLogLength(id ShaderID) int

	// ShaderInfoLog copies the compile log into buf and returns the
	// number of bytes written.
	ShaderInfoLog(id ShaderID, buf []byte) int

	// DestroyShader releases a shader object.
	DestroyShader(id ShaderID)

	// === Program Objects ===

	// CreateProgram creates an empty program object.
	CreateProgram() (ProgramID, error)

	// AttachShader attaches a compiled shader object to a program.
	AttachShader(program ProgramID, shader ShaderID)

	// LinkProgram links the attached stages into an executable program.
	// The outcome is queried with ProgramLinked.
	LinkProgram(program ProgramID)

	// ProgramLinked reports whether the last link succeeded.
	ProgramLinked(program ProgramID) bool

	// ProgramInfoLogLength returns the length in bytes of the link log.
	ProgramInfoLogLength(program ProgramID) int

	// ProgramInfoLog copies the link log into buf and returns the number
	// of bytes written.
	ProgramInfoLog(program ProgramID, buf []byte) int

	// ProgramWorkgroupSize returns the workgroup size declared by the
	// linked program's compute entry point.
	ProgramWorkgroupSize(program ProgramID) [3]uint32

	// ProgramBindings returns the storage binding slots declared by the
	// linked program, in ascending order.
	ProgramBindings(program ProgramID) []uint32

	// DestroyProgram releases a program object.
	DestroyProgram(program ProgramID)

	// === Buffers ===

	// CreateBuffer allocates an uninitialized storage buffer of size bytes.
	CreateBuffer(size uint64) (BufferID, error)

	// WriteBuffer uploads data into the buffer at offset.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer copies len(dst) bytes starting at offset into dst.
	// Device writes are only guaranteed to be included after a barrier
	// whose bits cover host reads.
	ReadBuffer(id BufferID, offset uint64, dst []byte) error

	// BindBufferBase binds the whole buffer to a storage binding slot,
	// replacing any previous buffer in that slot.
	BindBufferBase(slot uint32, id BufferID)

	// DestroyBuffer releases a buffer. Any slot holding it is cleared.
	DestroyBuffer(id BufferID)

	// === Execution ===

	// UseProgram makes a linked program current for dispatch.
	UseProgram(program ProgramID)

	// DispatchCompute launches x*y*z workgroups of the current program.
	// The call may return before the work completes.
	DispatchCompute(x, y, z uint32) error

	// MemoryBarrier orders the completion of previous dispatches against
	// later operations of the kinds selected by bits. When bits cover host
	// reads the call blocks until the device writes are visible.
	MemoryBarrier(bits BarrierBits) error
}
