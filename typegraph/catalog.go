package typegraph

import (
	"errors"
	"fmt"

	"github.com/elliotchance/orderedmap/v2"
)

var (
	// ErrUnknownType is returned when a referenced type name has no
	// descriptor in the catalog.
	ErrUnknownType = errors.New("unknown type")

	// ErrMalformedType is returned when a catalog descriptor is
	// internally inconsistent (overlapping field offsets, an array
	// size its element size does not divide, an unsupported scalar
	// width). Bad catalog data is not recoverable.
	ErrMalformedType = errors.New("malformed type")
)

// Catalog supplies raw type descriptors by name. Implementations are
// treated as read-only and fully materialized before Build is called.
type Catalog interface {
	// Lookup returns the descriptor registered under the specified
	// name. The returned error wraps ErrUnknownType if there is none.
	Lookup(name string) (Descriptor, error)

	// TypeNames returns every descriptor name the catalog holds.
	TypeNames() []string
}

// Descriptor is one catalog entry: the raw, un-normalized description
// of a type. Which fields are meaningful depends on Kind.
type Descriptor struct {
	Kind Kind
	Name string
	Size int

	// Alignment may be zero, in which case Build infers the natural
	// alignment from the descriptor's contents.
	Alignment int

	// Primitive variant.
	Signed bool
	Float  bool

	// Pointer and array variants. For arrays, a Count of zero is
	// inferred from Size when possible.
	Elem  *TypeRef
	Count int

	// Composite variant. Offsets come from the producer verbatim.
	Fields []FieldDescriptor
}

// FieldDescriptor is one member of a composite descriptor.
type FieldDescriptor struct {
	Name   string
	Type   TypeRef
	Offset int
}

type refKind int

const (
	refNamed refKind = iota
	refPointer
	refArray
)

// TypeRef references a type from within a descriptor: either a named
// catalog entry, or a pointer/array derived from another reference.
// Construct them with Named, PointerTo, and ArrayOf.
type TypeRef struct {
	kind  refKind
	name  string
	elem  *TypeRef
	count int
}

// Named references the catalog entry with the specified name.
func Named(name string) TypeRef {
	return TypeRef{kind: refNamed, name: name}
}

// PointerTo references a pointer to the referenced type.
func PointerTo(ref TypeRef) TypeRef {
	return TypeRef{kind: refPointer, elem: &ref}
}

// ArrayOf references an array of count elements of the referenced
// type. A negative count references a variable-length tail.
func ArrayOf(ref TypeRef, count int) TypeRef {
	return TypeRef{kind: refArray, elem: &ref, count: count}
}

func (o TypeRef) String() string {
	switch o.kind {
	case refNamed:
		return o.name
	case refPointer:
		return o.elem.String() + "*"
	case refArray:
		if o.count < 0 {
			return o.elem.String() + "[]"
		}
		return fmt.Sprintf("%s[%d]", o.elem.String(), o.count)
	default:
		return "<invalid>"
	}
}

// NewMapCatalog creates an empty in-memory Catalog.
func NewMapCatalog() *MapCatalog {
	return &MapCatalog{
		descriptors: orderedmap.NewOrderedMap[string, Descriptor](),
	}
}

// MapCatalog is an in-memory Catalog keyed by type name, preserving
// insertion order for TypeNames. It is the usual target for descriptor
// producers (e.g., dwarfcat) and is convenient for hand-built catalogs
// in tests and scripts.
type MapCatalog struct {
	descriptors *orderedmap.OrderedMap[string, Descriptor]
}

// Add registers a descriptor under its name, replacing any previous
// descriptor with the same name.
func (o *MapCatalog) Add(d Descriptor) *MapCatalog {
	o.descriptors.Set(d.Name, d)
	return o
}

// AddPrimitive registers an integer primitive descriptor.
func (o *MapCatalog) AddPrimitive(name string, size int, signed bool) *MapCatalog {
	return o.Add(Descriptor{
		Kind:   KindPrimitive,
		Name:   name,
		Size:   size,
		Signed: signed,
	})
}

// AddFloat registers a floating point primitive descriptor.
func (o *MapCatalog) AddFloat(name string, size int) *MapCatalog {
	return o.Add(Descriptor{
		Kind:  KindPrimitive,
		Name:  name,
		Size:  size,
		Float: true,
	})
}

// AddComposite registers a composite descriptor. A size of zero is
// computed from the final field's span during Build.
func (o *MapCatalog) AddComposite(name string, size int, fields ...FieldDescriptor) *MapCatalog {
	return o.Add(Descriptor{
		Kind:   KindComposite,
		Name:   name,
		Size:   size,
		Fields: fields,
	})
}

// Lookup implements Catalog.
func (o *MapCatalog) Lookup(name string) (Descriptor, error) {
	d, hasIt := o.descriptors.Get(name)
	if !hasIt {
		return Descriptor{}, fmt.Errorf("%w: no descriptor named %q",
			ErrUnknownType, name)
	}
	return d, nil
}

// TypeNames implements Catalog.
func (o *MapCatalog) TypeNames() []string {
	return o.descriptors.Keys()
}

// BuiltinCatalog creates a MapCatalog seeded with the C base types for
// the specified Arch: char through long long with their unsigned
// counterparts, the fixed-width intN_t/uintN_t aliases, float, double,
// _Bool, and the incomplete void type.
func BuiltinCatalog(arch Arch) *MapCatalog {
	longSize := 4
	if arch.PointerSize == 8 {
		longSize = 8
	}

	catalog := NewMapCatalog()

	catalog.AddPrimitive("char", 1, true)
	catalog.AddPrimitive("unsigned char", 1, false)
	catalog.AddPrimitive("short", 2, true)
	catalog.AddPrimitive("unsigned short", 2, false)
	catalog.AddPrimitive("int", 4, true)
	catalog.AddPrimitive("unsigned int", 4, false)
	catalog.AddPrimitive("long", longSize, true)
	catalog.AddPrimitive("unsigned long", longSize, false)
	catalog.AddPrimitive("long long", 8, true)
	catalog.AddPrimitive("unsigned long long", 8, false)

	catalog.AddPrimitive("int8_t", 1, true)
	catalog.AddPrimitive("uint8_t", 1, false)
	catalog.AddPrimitive("int16_t", 2, true)
	catalog.AddPrimitive("uint16_t", 2, false)
	catalog.AddPrimitive("int32_t", 4, true)
	catalog.AddPrimitive("uint32_t", 4, false)
	catalog.AddPrimitive("int64_t", 8, true)
	catalog.AddPrimitive("uint64_t", 8, false)

	catalog.AddPrimitive("_Bool", 1, false)
	catalog.AddPrimitive("void", 0, false)

	catalog.AddFloat("float", 4)
	catalog.AddFloat("double", 8)

	return catalog
}
