package shader

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
)

// Module is a WGSL compute stage that passed parsing, lowering and
// validation.
type Module struct {
	Source string
	IR     *ir.Module
}

// Binding is a storage resource declared by a module.
type Binding struct {
	Name  string
	Group uint32
	Slot  uint32
}

// Reflection describes the executable interface of a linked compute module.
type Reflection struct {
	EntryPoint string
	Workgroup  [3]uint32
	Bindings   []Binding
}

// Slots returns the declared binding slots in ascending order.
func (r *Reflection) Slots() []uint32 {
	slots := make([]uint32, len(r.Bindings))
	for i, b := range r.Bindings {
		slots[i] = b.Slot
	}
	return slots
}

// HasSlot reports whether the module declares a storage binding at slot.
func (r *Reflection) HasSlot(slot uint32) bool {
	for _, b := range r.Bindings {
		if b.Slot == slot {
			return true
		}
	}
	return false
}

// Compile parses, lowers and validates WGSL source.
// On failure the returned error text is the full diagnostic log.
func Compile(source string) (*Module, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("error: empty shader source")
	}
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, errors.New(Diagnostic(err))
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, errors.New(Diagnostic(err))
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if len(verrs) > 0 {
		var sb strings.Builder
		for i := range verrs {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString("validation error: ")
			sb.WriteString(verrs[i].Error())
		}
		return nil, errors.New(sb.String())
	}
	return &Module{Source: source, IR: module}, nil
}

// Diagnostic formats a naga front-end error, including source context when
// the error carries a location.
func Diagnostic(err error) string {
	// naga's SourceErrors and SourceError live in an internal package, so
	// match them by method set.
	var list interface {
		error
		HasErrors() bool
		FormatAll() string
	}
	if errors.As(err, &list) && list.HasErrors() {
		return list.FormatAll()
	}
	var single interface {
		error
		FormatWithContext() string
	}
	if errors.As(err, &single) {
		return single.FormatWithContext()
	}
	return err.Error()
}

// Reflect checks that the module is a linkable compute program and returns
// its entry point and storage bindings. The error text is a link log.
func Reflect(m *Module) (*Reflection, error) {
	if m == nil || m.IR == nil {
		return nil, errors.New("error: no compiled compute stage attached")
	}
	var compute []ir.EntryPoint
	for _, ep := range m.IR.EntryPoints {
		if ep.Stage == ir.StageCompute {
			compute = append(compute, ep)
		}
	}
	switch len(compute) {
	case 0:
		return nil, errors.New("error: program has no @compute entry point")
	case 1:
	default:
		names := make([]string, len(compute))
		for i, ep := range compute {
			names[i] = ep.Name
		}
		return nil, fmt.Errorf("error: program has %d @compute entry points (%s), want exactly one",
			len(compute), strings.Join(names, ", "))
	}

	ep := compute[0]
	r := &Reflection{EntryPoint: ep.Name, Workgroup: ep.Workgroup}
	for i := range r.Workgroup {
		if r.Workgroup[i] == 0 {
			r.Workgroup[i] = 1
		}
	}

	seen := make(map[uint32]string)
	for _, gv := range m.IR.GlobalVariables {
		if gv.Space != ir.SpaceStorage || gv.Binding == nil {
			continue
		}
		if gv.Binding.Group != 0 {
			return nil, fmt.Errorf("error: storage variable %q uses @group(%d), only group 0 is supported",
				gv.Name, gv.Binding.Group)
		}
		if prev, dup := seen[gv.Binding.Binding]; dup {
			return nil, fmt.Errorf("error: storage variables %q and %q share @binding(%d)",
				prev, gv.Name, gv.Binding.Binding)
		}
		seen[gv.Binding.Binding] = gv.Name
		r.Bindings = append(r.Bindings, Binding{Name: gv.Name, Group: gv.Binding.Group, Slot: gv.Binding.Binding})
	}
	sort.Slice(r.Bindings, func(i, j int) bool { return r.Bindings[i].Slot < r.Bindings[j].Slot })
	return r, nil
}

// SPIRV generates SPIR-V words for the module.
// SPIR-V is little-endian 32-bit words.
func SPIRV(m *Module) ([]uint32, error) {
	spirvBytes, err := naga.GenerateSPIRV(m.IR, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return nil, fmt.Errorf("failed to generate SPIR-V: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V length %d is not a multiple of 4", len(spirvBytes))
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}
