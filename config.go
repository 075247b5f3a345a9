package compute

import (
	"fmt"
	"log/slog"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/compute/gpucore"
)

// DefaultCount is the element count of the default pipeline.
const DefaultCount = 10

// Config configures a Runner.
type Config struct {
	// Count is the number of elements in the structured buffer.
	Count uint32

	// BindingSlot is the storage slot the buffer occupies.
	BindingSlot uint32

	// Barrier is the barrier issued after the dispatch. It must cover host
	// reads.
	Barrier gpucore.BarrierBits

	// Groups is the number of workgroups dispatched along x, y and z.
	Groups [3]uint32

	// WorkgroupSize is the number of invocations per workgroup declared by
	// the kernel.
	WorkgroupSize uint32

	// Seed is the value every element holds before the dispatch.
	Seed f32.Vec3

	// Logger overrides the package logger for this runner.
	Logger *slog.Logger
}

// DefaultConfig returns the pipeline of ten elements at slot 0, filled by
// one workgroup of ten invocations, published with a buffer-update barrier.
func DefaultConfig() Config {
	return Config{
		Count:         DefaultCount,
		BindingSlot:   0,
		Barrier:       gpucore.BarrierBufferUpdate,
		Groups:        [3]uint32{1, 1, 1},
		WorkgroupSize: DefaultCount,
	}
}

// StorageSlotVariant returns the alternate pipeline: the buffer at slot 4,
// ten workgroups of one invocation, published with a client-mapped-buffer
// barrier.
func StorageSlotVariant() Config {
	return Config{
		Count:         DefaultCount,
		BindingSlot:   4,
		Barrier:       gpucore.BarrierClientMappedBuffer,
		Groups:        [3]uint32{DefaultCount, 1, 1},
		WorkgroupSize: 1,
	}
}

// Invocations returns the total number of kernel invocations dispatched.
func (c *Config) Invocations() uint64 {
	return uint64(c.Groups[0]) * uint64(c.Groups[1]) * uint64(c.Groups[2]) * uint64(c.WorkgroupSize)
}

// BufferSize returns the structured buffer size in bytes.
func (c *Config) BufferSize() uint64 {
	return uint64(c.Count) * Vec3Size
}

// Kernel returns the kernel source matching the configuration.
func (c *Config) Kernel() ShaderSource {
	return IndexKernel(c.BindingSlot, c.Count, c.WorkgroupSize)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Count == 0 {
		return fmt.Errorf("compute: element count must be positive")
	}
	if c.WorkgroupSize == 0 {
		return fmt.Errorf("compute: workgroup size must be positive")
	}
	if c.Groups[0] == 0 || c.Groups[1] == 0 || c.Groups[2] == 0 {
		return fmt.Errorf("compute: invalid dispatch groups: %dx%dx%d", c.Groups[0], c.Groups[1], c.Groups[2])
	}
	if c.Groups[1] != 1 || c.Groups[2] != 1 {
		return fmt.Errorf("compute: kernel indexes along x only, got dispatch groups %dx%dx%d",
			c.Groups[0], c.Groups[1], c.Groups[2])
	}
	if n := c.Invocations(); n != uint64(c.Count) {
		return fmt.Errorf("compute: %d groups x %d invocations = %d, want one invocation per element (%d)",
			c.Groups[0], c.WorkgroupSize, n, c.Count)
	}
	if !c.Barrier.CoversHostRead() {
		return fmt.Errorf("compute: barrier %s does not make device writes visible to host reads", c.Barrier)
	}
	return nil
}

// checkCapabilities checks the configuration against device limits.
// Zero limits are treated as unknown.
func (c *Config) checkCapabilities(caps gpucore.Capabilities) error {
	if m := caps.MaxInvocationsPerWorkgroup; m != 0 && c.WorkgroupSize > m {
		return fmt.Errorf("compute: workgroup size %d exceeds device limit %d", c.WorkgroupSize, m)
	}
	if m := caps.MaxWorkgroupSize[0]; m != 0 && c.WorkgroupSize > m {
		return fmt.Errorf("compute: workgroup size %d exceeds device x limit %d", c.WorkgroupSize, m)
	}
	if m := caps.MaxWorkgroupsPerDimension; m != 0 && c.Groups[0] > m {
		return fmt.Errorf("compute: %d groups exceed device limit %d per dimension", c.Groups[0], m)
	}
	if m := caps.MaxBufferSize; m != 0 && c.BufferSize() > m {
		return fmt.Errorf("compute: buffer size %d exceeds device limit %d", c.BufferSize(), m)
	}
	return nil
}

// Option configures a Runner.
//
// Example:
//
//	r, err := compute.NewRunner(dev,
//	    compute.WithBindingSlot(4),
//	    compute.WithGroups(10, 1, 1),
//	    compute.WithWorkgroupSize(1),
//	)
type Option func(*Config)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithCount sets the element count.
func WithCount(n uint32) Option {
	return func(c *Config) {
		c.Count = n
	}
}

// WithBindingSlot sets the storage slot of the buffer.
func WithBindingSlot(slot uint32) Option {
	return func(c *Config) {
		c.BindingSlot = slot
	}
}

// WithBarrier sets the barrier issued after the dispatch.
func WithBarrier(bits gpucore.BarrierBits) Option {
	return func(c *Config) {
		c.Barrier = bits
	}
}

// WithGroups sets the dispatch group counts.
func WithGroups(x, y, z uint32) Option {
	return func(c *Config) {
		c.Groups = [3]uint32{x, y, z}
	}
}

// WithWorkgroupSize sets the kernel's invocations per workgroup.
func WithWorkgroupSize(n uint32) Option {
	return func(c *Config) {
		c.WorkgroupSize = n
	}
}

// WithSeed sets the value written to every element before the dispatch.
func WithSeed(v f32.Vec3) Option {
	return func(c *Config) {
		c.Seed = v
	}
}

// WithLogger sets a logger for this runner only.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
