package object

import (
	"fmt"

	"gitlab.com/sigtrap/structkit/typegraph"
)

// Unpack decodes an instance of the specified type from the beginning
// of a packed buffer, the inverse of serializing it. Pointer fields
// decode as raw addresses; the identity of whatever they pointed at is
// not recoverable from bytes. A trailing variable-length field decodes
// as empty, since its length is not recorded in the buffer.
//
// The buffer may be longer than the type; the excess is ignored. It
// returns ErrCapacityExceeded if the buffer is shorter than the type's
// size, and ErrTypeMismatch for types with no fixed size (void,
// standalone variable-length tails).
func Unpack(graph *typegraph.Graph, h typegraph.Handle, b []byte) (*Instance, error) {
	node := graph.Node(h)

	if node.IsVoid() {
		return nil, fmt.Errorf("%w: cannot decode incomplete type %q",
			ErrTypeMismatch, node.Name)
	}

	if node.IsTail() {
		return nil, fmt.Errorf("%w: cannot decode %q without a length",
			ErrTypeMismatch, node.Name)
	}

	if len(b) < node.Size {
		return nil, fmt.Errorf("%w: %d bytes cannot hold %q (%d bytes)",
			ErrCapacityExceeded, len(b), node.Name, node.Size)
	}

	inst := New(graph, h)
	inst.decode(b[:node.Size])

	return inst, nil
}

// UnpackOrExit calls Unpack and calls DefaultExitFn if an error occurs.
func UnpackOrExit(graph *typegraph.Graph, h typegraph.Handle, b []byte) *Instance {
	inst, err := Unpack(graph, h, b)
	if err != nil {
		DefaultExitFn(fmt.Errorf("object: failed to unpack %q - %w",
			graph.Node(h).Name, err))
	}

	return inst
}

func (o *Instance) decode(b []byte) {
	node := o.TypeNode()

	switch node.Kind {
	case typegraph.KindPrimitive:
		o.scalar = o.graph.Arch().Uint(b[:node.Size])

	case typegraph.KindPointer:
		o.ptrRef = nil
		o.ptrRaw = o.graph.Arch().Uint(b[:node.Size])

	case typegraph.KindArray:
		elemSize := o.graph.Node(node.Elem).Size
		for i, inst := range o.elems {
			inst.decode(b[i*elemSize : (i+1)*elemSize])
		}

	case typegraph.KindComposite:
		for i, field := range node.Fields {
			child := o.fields[i]
			if child.TypeNode().IsTail() {
				continue
			}
			child.decode(b[field.Offset : field.Offset+child.TypeNode().Size])
		}
	}
}
