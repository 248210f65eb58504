package dwarfcat

import (
	"debug/dwarf"
	"fmt"

	"gitlab.com/sigtrap/structkit/typegraph"
)

func newConverter(catalog *typegraph.MapCatalog) *converter {
	return &converter{
		catalog: catalog,
		added:   make(map[string]struct{}),
	}
}

// converter turns dwarf type trees into catalog descriptors. Struct
// names are marked before their members convert, so a struct whose
// member points back at it (directly or through another struct)
// converts exactly once instead of recursing forever.
type converter struct {
	catalog *typegraph.MapCatalog
	added   map[string]struct{}
}

func (o *converter) ref(dt dwarf.Type) (typegraph.TypeRef, error) {
	switch t := dt.(type) {
	case *dwarf.StructType:
		return o.structRef(t)

	case *dwarf.PtrType:
		if t.Type == nil {
			return typegraph.PointerTo(typegraph.Named("void")), nil
		}

		inner, err := o.ref(t.Type)
		if err != nil {
			return typegraph.TypeRef{}, err
		}
		return typegraph.PointerTo(inner), nil

	case *dwarf.ArrayType:
		inner, err := o.ref(t.Type)
		if err != nil {
			return typegraph.TypeRef{}, err
		}

		count := int(t.Count)
		if t.Count < 0 {
			count = -1
		}
		return typegraph.ArrayOf(inner, count), nil

	case *dwarf.IntType:
		return o.primitiveRef(t.Common(), true, false)
	case *dwarf.CharType:
		return o.primitiveRef(t.Common(), true, false)
	case *dwarf.UintType:
		return o.primitiveRef(t.Common(), false, false)
	case *dwarf.UcharType:
		return o.primitiveRef(t.Common(), false, false)
	case *dwarf.BoolType:
		return o.primitiveRef(t.Common(), false, false)
	case *dwarf.AddrType:
		return o.primitiveRef(t.Common(), false, false)
	case *dwarf.FloatType:
		return o.primitiveRef(t.Common(), false, true)

	case *dwarf.EnumType:
		name := t.EnumName
		if name == "" {
			name = t.Common().Name
		}
		if name == "" {
			return typegraph.TypeRef{}, fmt.Errorf("anonymous enum")
		}

		name = "enum " + name
		if _, hasIt := o.added[name]; !hasIt {
			o.catalog.AddPrimitive(name, int(t.ByteSize), true)
			o.added[name] = struct{}{}
		}
		return typegraph.Named(name), nil

	case *dwarf.TypedefType:
		return o.ref(t.Type)
	case *dwarf.QualType:
		return o.ref(t.Type)

	case *dwarf.VoidType:
		return typegraph.Named("void"), nil

	default:
		return typegraph.TypeRef{}, fmt.Errorf("unsupported type %s", dt)
	}
}

func (o *converter) structRef(st *dwarf.StructType) (typegraph.TypeRef, error) {
	if st.Kind != "struct" {
		return typegraph.TypeRef{}, fmt.Errorf("unsupported %s type", st.Kind)
	}

	name := st.StructName
	if name == "" {
		return typegraph.TypeRef{}, fmt.Errorf("anonymous struct")
	}

	if _, hasIt := o.added[name]; hasIt {
		return typegraph.Named(name), nil
	}

	if st.Incomplete {
		return typegraph.TypeRef{}, fmt.Errorf("incomplete struct %q", name)
	}

	// Mark before converting members so self references terminate.
	o.added[name] = struct{}{}

	fields := make([]typegraph.FieldDescriptor, 0, len(st.Field))
	for _, member := range st.Field {
		if member.BitSize != 0 {
			delete(o.added, name)
			return typegraph.TypeRef{}, fmt.Errorf("field %q of %q is a bitfield",
				member.Name, name)
		}

		memberRef, err := o.ref(member.Type)
		if err != nil {
			delete(o.added, name)
			return typegraph.TypeRef{}, fmt.Errorf("field %q of %q - %w",
				member.Name, name, err)
		}

		fields = append(fields, typegraph.FieldDescriptor{
			Name:   member.Name,
			Type:   memberRef,
			Offset: int(member.ByteOffset),
		})
	}

	o.catalog.AddComposite(name, int(st.ByteSize), fields...)

	return typegraph.Named(name), nil
}

func (o *converter) primitiveRef(common *dwarf.CommonType, signed bool, isFloat bool) (typegraph.TypeRef, error) {
	name := common.Name
	if name == "" {
		return typegraph.TypeRef{}, fmt.Errorf("unnamed base type")
	}

	if _, hasIt := o.added[name]; !hasIt {
		if isFloat {
			o.catalog.AddFloat(name, int(common.ByteSize))
		} else {
			o.catalog.AddPrimitive(name, int(common.ByteSize), signed)
		}
		o.added[name] = struct{}{}
	}

	return typegraph.Named(name), nil
}
