package dwarfcat

import (
	"debug/dwarf"
	"testing"

	"gitlab.com/sigtrap/structkit/typegraph"
)

func dwarfInt(name string, size int64) *dwarf.IntType {
	return &dwarf.IntType{
		BasicType: dwarf.BasicType{
			CommonType: dwarf.CommonType{ByteSize: size, Name: name},
		},
	}
}

func dwarfChar() *dwarf.CharType {
	return &dwarf.CharType{
		BasicType: dwarf.BasicType{
			CommonType: dwarf.CommonType{ByteSize: 1, Name: "char"},
		},
	}
}

func TestConvert_SelfReferentialStruct(t *testing.T) {
	node := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 16},
		StructName: "node",
		Kind:       "struct",
	}
	node.Field = []*dwarf.StructField{
		{Name: "value", Type: dwarfInt("int", 4), ByteOffset: 0},
		{Name: "next", Type: &dwarf.PtrType{
			CommonType: dwarf.CommonType{ByteSize: 8},
			Type:       node,
		}, ByteOffset: 8},
	}

	arch := typegraph.ArchLittle64()
	catalog := typegraph.BuiltinCatalog(arch)

	c := newConverter(catalog)

	ref, err := c.ref(node)
	if err != nil {
		t.Fatalf("failed to convert - %s", err)
	}

	if ref.String() != "node" {
		t.Fatalf("expected ref 'node', got %q", ref.String())
	}

	graph, err := typegraph.Build(arch, catalog, "node")
	if err != nil {
		t.Fatalf("failed to build type graph - %s", err)
	}

	h, hasIt := graph.Lookup("node")
	if !hasIt {
		t.Fatal("graph has no 'node' type")
	}

	typeNode := graph.Node(h)
	if typeNode.Size != 16 {
		t.Fatalf("expected size 16, got %d", typeNode.Size)
	}
	if len(typeNode.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(typeNode.Fields))
	}

	next, hasIt := typeNode.FieldByName("next")
	if !hasIt {
		t.Fatal("no 'next' field")
	}
	if next.Offset != 8 {
		t.Fatalf("expected offset 8, got %d", next.Offset)
	}
	if graph.Node(next.Type).Kind != typegraph.KindPointer {
		t.Fatal("'next' is not a pointer")
	}
	if graph.Node(next.Type).Pointee != h {
		t.Fatal("'next' does not point back at 'node'")
	}
}

func TestConvert_CharArrayField(t *testing.T) {
	user := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 16},
		StructName: "user",
		Kind:       "struct",
		Field: []*dwarf.StructField{
			{Name: "name", Type: &dwarf.ArrayType{
				CommonType: dwarf.CommonType{ByteSize: 16},
				Type:       dwarfChar(),
				Count:      16,
			}, ByteOffset: 0},
		},
	}

	arch := typegraph.ArchLittle64()
	catalog := typegraph.BuiltinCatalog(arch)

	_, err := newConverter(catalog).ref(user)
	if err != nil {
		t.Fatalf("failed to convert - %s", err)
	}

	graph, err := typegraph.Build(arch, catalog, "user")
	if err != nil {
		t.Fatalf("failed to build type graph - %s", err)
	}

	h, _ := graph.Lookup("user")
	name, hasIt := graph.Node(h).FieldByName("name")
	if !hasIt {
		t.Fatal("no 'name' field")
	}

	arrayNode := graph.Node(name.Type)
	if arrayNode.Kind != typegraph.KindArray || arrayNode.Count != 16 {
		t.Fatalf("expected a 16-element array, got %s count %d",
			arrayNode.Kind, arrayNode.Count)
	}
}

func TestConvert_VoidPointerField(t *testing.T) {
	holder := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 8},
		StructName: "holder",
		Kind:       "struct",
		Field: []*dwarf.StructField{
			{Name: "opaque", Type: &dwarf.PtrType{
				CommonType: dwarf.CommonType{ByteSize: 8},
				Type:       nil,
			}, ByteOffset: 0},
		},
	}

	arch := typegraph.ArchLittle64()
	catalog := typegraph.BuiltinCatalog(arch)

	_, err := newConverter(catalog).ref(holder)
	if err != nil {
		t.Fatalf("failed to convert - %s", err)
	}

	graph, err := typegraph.Build(arch, catalog, "holder")
	if err != nil {
		t.Fatalf("failed to build type graph - %s", err)
	}

	h, _ := graph.Lookup("holder")
	opaque, _ := graph.Node(h).FieldByName("opaque")

	ptrNode := graph.Node(opaque.Type)
	if ptrNode.Kind != typegraph.KindPointer {
		t.Fatal("'opaque' is not a pointer")
	}
	if !graph.Node(ptrNode.Pointee).IsVoid() {
		t.Fatal("'opaque' does not point at void")
	}
}

func TestConvert_TypedefAndQualifierUnwrap(t *testing.T) {
	inner := dwarfInt("int", 4)

	wrapped := &dwarf.TypedefType{
		CommonType: dwarf.CommonType{Name: "my_int"},
		Type: &dwarf.QualType{
			Qual: "const",
			Type: inner,
		},
	}

	catalog := typegraph.BuiltinCatalog(typegraph.ArchLittle64())

	ref, err := newConverter(catalog).ref(wrapped)
	if err != nil {
		t.Fatalf("failed to convert - %s", err)
	}

	if ref.String() != "int" {
		t.Fatalf("expected underlying 'int', got %q", ref.String())
	}
}

func TestConvert_Enum(t *testing.T) {
	color := &dwarf.EnumType{
		CommonType: dwarf.CommonType{ByteSize: 4},
		EnumName:   "color",
	}

	catalog := typegraph.BuiltinCatalog(typegraph.ArchLittle64())

	ref, err := newConverter(catalog).ref(color)
	if err != nil {
		t.Fatalf("failed to convert - %s", err)
	}

	if ref.String() != "enum color" {
		t.Fatalf("expected 'enum color', got %q", ref.String())
	}

	d, err := catalog.Lookup("enum color")
	if err != nil {
		t.Fatalf("catalog has no 'enum color' - %s", err)
	}
	if d.Kind != typegraph.KindPrimitive || d.Size != 4 || !d.Signed {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}

func TestConvert_RejectsUnion(t *testing.T) {
	u := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 8},
		StructName: "variant",
		Kind:       "union",
	}

	catalog := typegraph.BuiltinCatalog(typegraph.ArchLittle64())

	_, err := newConverter(catalog).ref(u)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestConvert_RejectsBitfield(t *testing.T) {
	flags := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 4},
		StructName: "flags",
		Kind:       "struct",
		Field: []*dwarf.StructField{
			{Name: "enabled", Type: dwarfInt("int", 4), BitSize: 1},
		},
	}

	catalog := typegraph.BuiltinCatalog(typegraph.ArchLittle64())
	c := newConverter(catalog)

	_, err := c.ref(flags)
	if err == nil {
		t.Fatal("expected an error")
	}

	// A failed conversion must not leave the name marked as added.
	if _, hasIt := c.added["flags"]; hasIt {
		t.Fatal("'flags' still marked after failed conversion")
	}
}

func TestConvert_RejectsIncompleteStruct(t *testing.T) {
	opaque := &dwarf.StructType{
		StructName: "opaque",
		Kind:       "struct",
		Incomplete: true,
	}

	catalog := typegraph.BuiltinCatalog(typegraph.ArchLittle64())

	_, err := newConverter(catalog).ref(opaque)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestConvert_RejectsAnonymousStruct(t *testing.T) {
	anon := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 8},
		Kind:       "struct",
	}

	catalog := typegraph.BuiltinCatalog(typegraph.ArchLittle64())

	_, err := newConverter(catalog).ref(anon)
	if err == nil {
		t.Fatal("expected an error")
	}
}
