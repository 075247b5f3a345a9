package compute

import (
	"log/slog"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/compute/gpucore"
)

// State is the lifecycle state of a Runner.
type State uint8

// Runner states, in the only order they can be visited.
const (
	StateUninitialized State = iota
	StateCompiled
	StateBufferAllocated
	StateBound
	StateDispatched
	StateReadable
	StateReleased
)

var stateNames = [...]string{
	StateUninitialized:   "uninitialized",
	StateCompiled:        "compiled",
	StateBufferAllocated: "buffer-allocated",
	StateBound:           "bound",
	StateDispatched:      "dispatched",
	StateReadable:        "readable",
	StateReleased:        "released",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Runner drives one pipeline run: compile, allocate and seed, bind,
// dispatch, barrier, read, release. Steps must be taken in order; taking
// one out of order panics with a *ProtocolError.
//
// A Runner is single-use and not safe for concurrent use.
type Runner struct {
	dev gpucore.Device
	cfg Config
	log *slog.Logger
	src ShaderSource

	state      State
	program    *Program
	buffer     *StructuredBuffer
	dispatcher *Dispatcher
}

// NewRunner validates the configuration against the device and returns a
// runner in the uninitialized state. Options apply on top of DefaultConfig.
func NewRunner(dev gpucore.Device, opts ...Option) (*Runner, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.checkCapabilities(dev.Capabilities()); err != nil {
		return nil, err
	}
	l := cfg.Logger
	if l == nil {
		l = Logger()
	}
	propagateLogger(dev, l)
	d := NewDispatcher(dev)
	d.log = l
	return &Runner{
		dev:        dev,
		cfg:        cfg,
		log:        l,
		src:        cfg.Kernel(),
		dispatcher: d,
	}, nil
}

// Config returns the runner configuration.
func (r *Runner) Config() Config { return r.cfg }

// State returns the current lifecycle state.
func (r *Runner) State() State { return r.state }

// Program returns the linked program, or nil before Compile.
func (r *Runner) Program() *Program { return r.program }

// Buffer returns the structured buffer, or nil before Allocate.
func (r *Runner) Buffer() *StructuredBuffer { return r.buffer }

// Run executes the whole pipeline and returns the records read back.
// Resources are released on every path, including errors.
func (r *Runner) Run() (records []f32.Vec3, err error) {
	defer r.Release()

	if err := r.Compile(); err != nil {
		return nil, err
	}
	if err := r.Allocate(); err != nil {
		return nil, err
	}
	r.Bind()
	if err := r.Dispatch(); err != nil {
		return nil, err
	}
	if err := r.Barrier(); err != nil {
		return nil, err
	}
	records, err = r.Read()
	if err != nil {
		return nil, err
	}
	r.log.Info("compute: run finished", "device", r.dev.Name(), "records", len(records))
	return records, nil
}

// Compile builds the kernel program. A compile or link failure leaves the
// runner uninitialized with nothing allocated.
func (r *Runner) Compile() error {
	r.expect("Runner.Compile", StateUninitialized)
	c := NewCompiler(r.dev)
	c.log = r.log
	p, err := c.Build(r.src, r.cfg.BindingSlot)
	if err != nil {
		return err
	}
	r.program = p
	r.advance(StateCompiled)
	return nil
}

// Allocate reserves the structured buffer and seeds every element.
func (r *Runner) Allocate() error {
	r.expect("Runner.Allocate", StateCompiled)
	b, err := allocate(r.dev, int(r.cfg.Count), Vec3Size, r.log)
	if err != nil {
		return err
	}
	r.buffer = b

	w := b.MapWriteAll()
	w.Fill(r.cfg.Seed)
	if err := w.Unmap(); err != nil {
		return err
	}
	r.advance(StateBufferAllocated)
	return nil
}

// Bind makes the program current and binds the buffer at the configured
// slot.
func (r *Runner) Bind() {
	r.expect("Runner.Bind", StateBufferAllocated)
	r.dispatcher.Use(r.program)
	r.dispatcher.Bind(r.cfg.BindingSlot, r.buffer)
	r.advance(StateBound)
}

// Dispatch launches the configured workgroups.
func (r *Runner) Dispatch() error {
	r.expect("Runner.Dispatch", StateBound)
	g := r.cfg.Groups
	if err := r.dispatcher.Dispatch(g[0], g[1], g[2]); err != nil {
		return err
	}
	r.advance(StateDispatched)
	return nil
}

// Barrier issues the configured host-visibility barrier.
func (r *Runner) Barrier() error {
	r.expect("Runner.Barrier", StateDispatched)
	if err := r.dispatcher.Barrier(r.cfg.Barrier); err != nil {
		return err
	}
	r.advance(StateReadable)
	return nil
}

// Read maps the buffer for reading and returns a copy of every record.
func (r *Runner) Read() ([]f32.Vec3, error) {
	r.expect("Runner.Read", StateReadable)
	region, err := r.buffer.MapReadAll()
	if err != nil {
		return nil, err
	}
	defer region.Unmap()
	return region.Records(), nil
}

// Release destroys the buffer and then the program. It is legal from any
// state except StateReleased; releasing twice panics.
func (r *Runner) Release() {
	if r.state == StateReleased {
		protocolf("Runner.Release", "runner released twice")
	}
	if r.buffer != nil {
		r.buffer.Release()
	}
	if r.program != nil {
		r.program.Release()
	}
	r.advance(StateReleased)
}

func (r *Runner) expect(op string, want State) {
	if r.state != want {
		protocolf(op, "runner is %s, want %s", r.state, want)
	}
}

func (r *Runner) advance(to State) {
	r.log.Debug("compute: state", "from", r.state, "to", to)
	r.state = to
}
