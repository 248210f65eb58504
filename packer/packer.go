// Package packer lays a graph of object instances out in one
// contiguous byte buffer, assigning every reachable instance an
// address relative to a caller-supplied base and patching every
// pointer field with the resolved absolute address of its target.
//
// Packing works in two phases, and the ordering is the correctness
// property: relocation values cannot be computed before every object
// has an address, and cyclic or forward references make a single-pass
// serialize-then-patch approach produce wrong results. Phase one
// discovers every instance reachable from the roots and assigns it an
// aligned address. Phase two serializes each instance at its assigned
// offset, writing pointer fields from the completed address table.
package packer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"gitlab.com/sigtrap/structkit/object"
	"gitlab.com/sigtrap/structkit/typegraph"
)

var (
	// ErrDanglingReference is returned when a symbolic reference's
	// target never received an address. Discovery visits every
	// reachable instance, so this is guarded against rather than
	// expected.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrUnalignedBase is returned when the base address is not
	// aligned to the largest alignment requirement among the root
	// instances' types.
	ErrUnalignedBase = errors.New("unaligned base address")
)

// Result is the outcome of a successful pack.
type Result struct {
	// Bytes is the packed buffer. Its first byte lives at Base once
	// injected into the target.
	Bytes []byte

	// Base is the address the buffer was packed against.
	Base uint64

	// Addresses maps every packed instance to its absolute address,
	// including embedded members, which resolve to their container's
	// address plus their declared offset. The table is for caller
	// inspection and debugging; it is not part of the buffer.
	Addresses map[*object.Instance]uint64
}

// AddressOf returns the assigned address of a packed instance.
func (o *Result) AddressOf(inst *object.Instance) (uint64, bool) {
	addr, hasIt := o.Addresses[inst]
	return addr, hasIt
}

// End returns the first address past the packed buffer.
func (o *Result) End() uint64 {
	return o.Base + uint64(len(o.Bytes))
}

// Packer packs object graphs. The zero value is ready to use.
type Packer struct {
	// OptLogger logs the assigned layout and a hex dump of the
	// packed buffer if specified.
	OptLogger *log.Logger
}

// Pack calls Packer.Pack on a zero Packer.
func Pack(baseAddress uint64, alignment int, roots ...*object.Instance) (*Result, error) {
	return Packer{}.Pack(baseAddress, alignment, roots...)
}

// PackOrExit calls Pack and calls DefaultExitFn if an error occurs.
func PackOrExit(baseAddress uint64, alignment int, roots ...*object.Instance) *Result {
	result, err := Pack(baseAddress, alignment, roots...)
	if err != nil {
		DefaultExitFn(fmt.Errorf("packer: failed to pack %d roots at 0x%x - %w",
			len(roots), baseAddress, err))
	}

	return result
}

// Pack assigns addresses to the roots and everything transitively
// reachable from them through symbolic references, then serializes the
// whole set into one buffer whose pointer fields hold final addresses.
//
// Roots are placed in caller order. Discovery is breadth-first: each
// object's directly referenced, not-yet-seen targets are assigned
// addresses in field-declaration order. A shared or cyclic target is
// assigned exactly one address no matter how many fields reference it.
// A reference to an embedded member places the member's outermost
// container and resolves to the interior address (container address
// plus declared offset), never to a detached copy of the member.
//
// Each object's address is the layout cursor rounded up to its type's
// required alignment, or to the specified minimum alignment if that is
// larger. Packing is all-or-nothing: on any failure no buffer is
// returned.
func (o Packer) Pack(baseAddress uint64, alignment int, roots ...*object.Instance) (*Result, error) {
	if len(roots) == 0 {
		return nil, errors.New("at least one root instance is required")
	}

	graph := roots[0].Graph()
	for _, root := range roots {
		if root.Graph() != graph {
			return nil, errors.New("roots belong to different type graphs")
		}
	}

	maxRootAlignment := 1
	for _, root := range roots {
		if a := alignmentOf(root); a > maxRootAlignment {
			maxRootAlignment = a
		}
	}
	if baseAddress%uint64(maxRootAlignment) != 0 {
		return nil, fmt.Errorf("%w: 0x%x is not aligned to %d",
			ErrUnalignedBase, baseAddress, maxRootAlignment)
	}

	// Phase 1: discovery and address assignment.
	layout := newLayout(baseAddress, alignment)

	var queue []*object.Instance
	for _, root := range roots {
		if layout.place(root) {
			queue = append(queue, root)
		}
	}

	for len(queue) > 0 {
		inst := queue[0]
		queue = queue[1:]

		for _, target := range appendReferences(nil, inst) {
			if root := outermost(target); layout.place(root) {
				queue = append(queue, root)
			}
		}
	}

	// Phase 2: serialization and relocation.
	buf := make([]byte, layout.cursor-baseAddress)

	w := writer{
		arch:      graph.Arch(),
		addresses: layout.addresses,
	}

	for _, inst := range layout.order {
		offset := layout.addresses[inst] - baseAddress

		err := w.write(buf[offset:offset+uint64(sizeOf(inst))], inst)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{
		Bytes:     buf,
		Base:      baseAddress,
		Addresses: layout.addresses,
	}

	if o.OptLogger != nil {
		for _, inst := range layout.order {
			o.OptLogger.Printf("packer: 0x%x  %s (%d bytes)",
				layout.addresses[inst], inst.TypeNode().Name, sizeOf(inst))
		}
		o.OptLogger.Printf("packer: packed %d objects into %d bytes at 0x%x:\n%s",
			len(layout.order), len(buf), baseAddress, hex.Dump(buf))
	}

	return result, nil
}

type layout struct {
	cursor    uint64
	alignment int
	order     []*object.Instance
	addresses map[*object.Instance]uint64
}

func newLayout(baseAddress uint64, alignment int) *layout {
	return &layout{
		cursor:    baseAddress,
		alignment: alignment,
		addresses: make(map[*object.Instance]uint64),
	}
}

// place assigns the next address to a newly discovered instance,
// returning false if the instance already has one.
func (o *layout) place(inst *object.Instance) bool {
	if _, hasIt := o.addresses[inst]; hasIt {
		return false
	}

	align := alignmentOf(inst)
	if o.alignment > align {
		align = o.alignment
	}

	addr := roundUp(o.cursor, uint64(align))

	o.addresses[inst] = addr
	o.recordEmbedded(inst, addr)
	o.order = append(o.order, inst)
	o.cursor = addr + uint64(sizeOf(inst))

	return true
}

// recordEmbedded assigns every embedded member of a placed object its
// interior address, so a reference into the object resolves to a spot
// inside the object's span instead of duplicating the member.
func (o *layout) recordEmbedded(inst *object.Instance, addr uint64) {
	node := inst.TypeNode()

	switch node.Kind {
	case typegraph.KindArray:
		if node.IsTail() {
			return
		}
		elemSize := uint64(inst.Graph().Node(node.Elem).Size)
		for i := 0; i < inst.Len(); i++ {
			child := inst.Elem(i)
			childAddr := addr + uint64(i)*elemSize
			o.addresses[child] = childAddr
			o.recordEmbedded(child, childAddr)
		}
	case typegraph.KindComposite:
		for i, field := range node.Fields {
			child := inst.Field(i)
			childAddr := addr + uint64(field.Offset)
			o.addresses[child] = childAddr
			o.recordEmbedded(child, childAddr)
		}
	}
}

// outermost walks an instance's container chain to the object that
// actually owns memory.
func outermost(inst *object.Instance) *object.Instance {
	for inst.Container() != nil {
		inst = inst.Container()
	}
	return inst
}

// appendReferences collects the instances directly referenced by
// inst's pointer fields, in field-declaration order, recursing through
// embedded composites and fixed arrays.
func appendReferences(refs []*object.Instance, inst *object.Instance) []*object.Instance {
	switch inst.Kind() {
	case typegraph.KindPointer:
		if target, _ := inst.PointerValue(); target != nil {
			refs = append(refs, target)
		}
	case typegraph.KindArray:
		for i := 0; i < inst.Len(); i++ {
			refs = appendReferences(refs, inst.Elem(i))
		}
	case typegraph.KindComposite:
		for i := 0; i < inst.NumFields(); i++ {
			refs = appendReferences(refs, inst.Field(i))
		}
	}

	return refs
}

func alignmentOf(inst *object.Instance) int {
	node := inst.TypeNode()

	if node.IsTail() {
		return 1
	}

	if node.Alignment < 1 {
		return 1
	}

	return node.Alignment
}

// sizeOf returns an instance's serialized size: the declared type size
// for everything except variable-length tails, which occupy their
// actual content length plus a terminator byte for string tails.
func sizeOf(inst *object.Instance) int {
	node := inst.TypeNode()

	if content, isString, ok := inst.Tail(); ok {
		return len(content) + terminatorLen(isString)
	}

	size := node.Size

	// A composite whose final field is a variable-length tail extends
	// past its declared size by the tail's content.
	if node.Kind == typegraph.KindComposite && len(node.Fields) > 0 {
		lastIdx := len(node.Fields) - 1
		if content, isString, ok := inst.Field(lastIdx).Tail(); ok {
			end := node.Fields[lastIdx].Offset + len(content) + terminatorLen(isString)
			if end > size {
				size = end
			}
		}
	}

	return size
}

func terminatorLen(isString bool) int {
	if isString {
		return 1
	}
	return 0
}

func roundUp(n uint64, alignment uint64) uint64 {
	if alignment <= 1 {
		return n
	}
	rem := n % alignment
	if rem == 0 {
		return n
	}
	return n + alignment - rem
}
