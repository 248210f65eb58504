package packer

import (
	"fmt"

	"gitlab.com/sigtrap/structkit/object"
	"gitlab.com/sigtrap/structkit/typegraph"
)

// writer serializes instances into their assigned spans. The address
// table is complete before the first write, so self, forward, and
// mutual references all resolve to final addresses.
type writer struct {
	arch      typegraph.Arch
	addresses map[*object.Instance]uint64
}

func (o writer) write(b []byte, inst *object.Instance) error {
	node := inst.TypeNode()

	switch node.Kind {
	case typegraph.KindPrimitive:
		o.arch.PutUint(b[:node.Size], inst.ScalarBits())
		return nil

	case typegraph.KindPointer:
		target, raw := inst.PointerValue()

		addr := raw
		if target != nil {
			resolved, hasIt := o.addresses[target]
			if !hasIt {
				return fmt.Errorf("%w: %q points at an unplaced %q instance",
					ErrDanglingReference, node.Name, target.TypeNode().Name)
			}
			addr = resolved
		}

		o.arch.PutUint(b[:node.Size], addr)
		return nil

	case typegraph.KindArray:
		if content, _, ok := inst.Tail(); ok {
			// The terminator byte, when present, is already zero.
			copy(b, content)
			return nil
		}

		elemSize := inst.Graph().Node(node.Elem).Size

		for i := 0; i < inst.Len(); i++ {
			err := o.write(b[i*elemSize:(i+1)*elemSize], inst.Elem(i))
			if err != nil {
				return err
			}
		}
		return nil

	case typegraph.KindComposite:
		for i, field := range node.Fields {
			child := inst.Field(i)

			err := o.write(b[field.Offset:field.Offset+sizeOf(child)], child)
			if err != nil {
				return fmt.Errorf("failed to write field %q of %q - %w",
					field.Name, node.Name, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("cannot serialize %s type %q", node.Kind, node.Name)
	}
}
