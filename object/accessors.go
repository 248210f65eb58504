package object

import (
	"fmt"
	"math"

	"gitlab.com/sigtrap/structkit/typegraph"
)

// Int returns a signed integer primitive's value, sign-extended.
// It panics if the instance is not an integer primitive.
func (o *Instance) Int() int64 {
	node := o.mustBeScalar()

	bits := o.scalar
	nBits := uint(node.Size * 8)

	if node.Signed && nBits < 64 && bits&(1<<(nBits-1)) != 0 {
		bits |= ^(uint64(1)<<nBits - 1)
	}

	return int64(bits)
}

// Uint returns an integer primitive's raw value bits.
// It panics if the instance is not an integer primitive.
func (o *Instance) Uint() uint64 {
	o.mustBeScalar()
	return o.scalar
}

// Float returns a float primitive's value. It panics if the instance
// is not a float primitive.
func (o *Instance) Float() float64 {
	node := o.TypeNode()
	if node.Kind != typegraph.KindPrimitive || !node.Float {
		panic(fmt.Sprintf("object: %q is not a float primitive", node.Name))
	}

	if node.Size == 4 {
		return float64(math.Float32frombits(uint32(o.scalar)))
	}
	return math.Float64frombits(o.scalar)
}

// Str returns the contents of a character array or variable-length
// tail as a string, stopping at the first NUL for fixed arrays.
// It panics if the instance is not an array of 1-byte primitives.
func (o *Instance) Str() string {
	node := o.TypeNode()
	if node.Kind != typegraph.KindArray {
		panic(fmt.Sprintf("object: %q is not an array", node.Name))
	}

	if node.IsTail() {
		return string(o.tail)
	}

	elem := o.graph.Node(node.Elem)
	if elem.Kind != typegraph.KindPrimitive || elem.Size != 1 {
		panic(fmt.Sprintf("object: %q is not a character array", node.Name))
	}

	out := make([]byte, 0, len(o.elems))
	for _, inst := range o.elems {
		if inst.scalar == 0 {
			break
		}
		out = append(out, byte(inst.scalar))
	}

	return string(out)
}

// Bytes returns a copy of the full contents of a character array or
// variable-length tail, including any bytes past a NUL. It panics if
// the instance is not an array of 1-byte primitives.
func (o *Instance) Bytes() []byte {
	node := o.TypeNode()
	if node.Kind != typegraph.KindArray {
		panic(fmt.Sprintf("object: %q is not an array", node.Name))
	}

	if node.IsTail() {
		return append([]byte(nil), o.tail...)
	}

	elem := o.graph.Node(node.Elem)
	if elem.Kind != typegraph.KindPrimitive || elem.Size != 1 {
		panic(fmt.Sprintf("object: %q is not a character array", node.Name))
	}

	out := make([]byte, len(o.elems))
	for i, inst := range o.elems {
		out[i] = byte(inst.scalar)
	}

	return out
}

// NumFields returns the number of declared fields of a composite
// instance, and zero for every other kind.
func (o *Instance) NumFields() int {
	return len(o.fields)
}

// Field returns the instance of a composite's i-th declared field.
func (o *Instance) Field(i int) *Instance {
	return o.fields[i]
}

// Len returns the element count of a fixed array instance, and zero
// for every other kind.
func (o *Instance) Len() int {
	return len(o.elems)
}

// Elem returns the instance of a fixed array's i-th element.
func (o *Instance) Elem(i int) *Instance {
	return o.elems[i]
}

// Tail returns a variable-length tail's literal content and whether it
// represents a NUL-terminated string. ok is false if the instance is
// not a variable-length tail.
func (o *Instance) Tail() (content []byte, isString bool, ok bool) {
	if !o.TypeNode().IsTail() {
		return nil, false, false
	}
	return o.tail, o.tailStr, true
}

// PointerValue returns a pointer instance's value: a non-nil target if
// the pointer holds a symbolic reference, otherwise the raw address.
// It panics if the instance is not a pointer.
func (o *Instance) PointerValue() (target *Instance, raw uint64) {
	node := o.TypeNode()
	if node.Kind != typegraph.KindPointer {
		panic(fmt.Sprintf("object: %q is not a pointer", node.Name))
	}
	return o.ptrRef, o.ptrRaw
}

// ScalarBits returns a primitive's raw value bits without
// interpretation. It panics if the instance is not a primitive.
func (o *Instance) ScalarBits() uint64 {
	node := o.TypeNode()
	if node.Kind != typegraph.KindPrimitive {
		panic(fmt.Sprintf("object: %q is not a primitive", node.Name))
	}
	return o.scalar
}

func (o *Instance) mustBeScalar() *typegraph.Node {
	node := o.TypeNode()
	if node.Kind != typegraph.KindPrimitive || node.Float {
		panic(fmt.Sprintf("object: %q is not an integer primitive", node.Name))
	}
	return node
}
