// Package typegraph normalizes raw type descriptors into a closed,
// cycle-safe graph of type nodes. Nodes reference each other through
// integer handles into a single owned arena, which is what lets a
// composite type contain a pointer to its own type (or to a type that
// points back at it) without unbounded structural recursion. Each named
// type appears in the graph exactly once, no matter how many times it
// is referenced.
package typegraph

import (
	"fmt"
	"strconv"

	"github.com/elliotchance/orderedmap/v2"
)

// Handle identifies a type node within a Graph.
type Handle int

// NoHandle is the zero value for optional handle references.
const NoHandle Handle = -1

const (
	// KindPrimitive is a leaf scalar type (integer or float).
	KindPrimitive Kind = iota

	// KindPointer is a pointer to another node. The pointee may be the
	// node's own composite ancestor (a cycle).
	KindPointer

	// KindArray is a fixed array of another node. A negative count
	// marks a variable-length tail whose size is only known once an
	// instance carries content.
	KindArray

	// KindComposite is a struct-like type with named,
	// offset-positioned fields.
	KindComposite
)

// Kind discriminates the variants of a type Node.
type Kind int

func (o Kind) String() string {
	switch o {
	case KindPrimitive:
		return "primitive"
	case KindPointer:
		return "pointer"
	case KindArray:
		return "array"
	case KindComposite:
		return "composite"
	default:
		return "unknown(" + strconv.Itoa(int(o)) + ")"
	}
}

// Field is one named, offset-positioned member of a composite node.
type Field struct {
	Name   string
	Type   Handle
	Offset int
}

// Node is one type in the graph. Which of the variant fields are
// meaningful depends on Kind; unused handle fields are NoHandle.
type Node struct {
	Kind      Kind
	Name      string
	Size      int
	Alignment int

	// Primitive variant.
	Signed bool
	Float  bool

	// Pointer variant.
	Pointee Handle

	// Array variant. Count < 0 marks a variable-length tail.
	Elem  Handle
	Count int

	// Composite variant. Fields are in declaration order.
	Fields []Field
}

// FieldByName returns the composite field with the specified name.
func (o *Node) FieldByName(name string) (Field, bool) {
	for _, field := range o.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

// IsVoid returns true for the incomplete "void" primitive, which only
// exists to be pointed at.
func (o *Node) IsVoid() bool {
	return o.Kind == KindPrimitive && o.Size == 0
}

// IsTail returns true for variable-length tail arrays.
func (o *Node) IsTail() bool {
	return o.Kind == KindArray && o.Count < 0
}

// Graph is the owned collection of type nodes for one target program.
// Construct one with Build. A Graph is not safe for concurrent use:
// PointerTo and ArrayOf may grow the arena.
type Graph struct {
	arch  Arch
	nodes []Node
	index *orderedmap.OrderedMap[string, Handle]
}

func newGraph(arch Arch) *Graph {
	return &Graph{
		arch:  arch,
		index: orderedmap.NewOrderedMap[string, Handle](),
	}
}

// Arch returns the target machine description the graph was built for.
func (o *Graph) Arch() Arch {
	return o.arch
}

// Node returns the node for a handle. The returned pointer aliases the
// graph's arena and must be treated as read-only.
func (o *Graph) Node(h Handle) *Node {
	if h < 0 || int(h) >= len(o.nodes) {
		panic(fmt.Sprintf("typegraph: invalid handle %d (graph has %d nodes)",
			h, len(o.nodes)))
	}
	return &o.nodes[h]
}

// Lookup returns the handle registered under the specified type name.
func (o *Graph) Lookup(name string) (Handle, bool) {
	return o.index.Get(name)
}

// TypeNames returns every registered type name in insertion order.
func (o *Graph) TypeNames() []string {
	return o.index.Keys()
}

// NumTypes returns the number of nodes in the graph.
func (o *Graph) NumTypes() int {
	return len(o.nodes)
}

// PointerTo returns the handle of a pointer to the specified node,
// synthesizing and memoizing the pointer node on first use.
func (o *Graph) PointerTo(pointee Handle) Handle {
	name := o.Node(pointee).Name + "*"

	if h, hasIt := o.index.Get(name); hasIt {
		return h
	}

	return o.add(name, Node{
		Kind:      KindPointer,
		Name:      name,
		Size:      o.arch.PointerSize,
		Alignment: o.arch.PointerSize,
		Pointee:   pointee,
		Elem:      NoHandle,
	})
}

// ArrayOf returns the handle of an array of count elements of the
// specified node, synthesizing and memoizing the array node on first
// use. A negative count produces a variable-length tail type.
func (o *Graph) ArrayOf(elem Handle, count int) Handle {
	elemNode := o.Node(elem)

	var name string
	var size int
	if count < 0 {
		count = -1
		name = elemNode.Name + "[]"
	} else {
		name = elemNode.Name + "[" + strconv.Itoa(count) + "]"
		size = elemNode.Size * count
	}

	if h, hasIt := o.index.Get(name); hasIt {
		return h
	}

	alignment := elemNode.Alignment
	if alignment == 0 {
		alignment = 1
	}

	return o.add(name, Node{
		Kind:      KindArray,
		Name:      name,
		Size:      size,
		Alignment: alignment,
		Pointee:   NoHandle,
		Elem:      elem,
		Count:     count,
	})
}

func (o *Graph) add(name string, node Node) Handle {
	h := Handle(len(o.nodes))
	o.nodes = append(o.nodes, node)
	o.index.Set(name, h)
	return h
}

func (o *Graph) alias(name string, h Handle) {
	o.index.Set(name, h)
}
