package object

import (
	"encoding/binary"
	"errors"
	"testing"

	"gitlab.com/sigtrap/structkit/typegraph"
)

func TestUnpack_Composite(t *testing.T) {
	graph := buildUserGraph(t)
	h, _ := graph.Lookup("user")

	b := make([]byte, 56)
	le := binary.LittleEndian
	le.PutUint32(b[0:], 7)
	copy(b[4:], "mallory")
	le.PutUint64(b[40:], 0x1000)
	le.PutUint64(b[48:], 0xdeadbeef)

	user, err := Unpack(graph, h, b)
	if err != nil {
		t.Fatalf("failed to unpack - %s", err)
	}

	id, _ := user.Get("id")
	if id.Int() != 7 {
		t.Fatalf("expected id 7, got %d", id.Int())
	}

	name, _ := user.Get("name")
	if name.Str() != "mallory" {
		t.Fatalf("expected 'mallory', got %q", name.Str())
	}

	next, _ := user.Get("next")
	target, raw := next.PointerValue()
	if target != nil || raw != 0xdeadbeef {
		t.Fatalf("expected raw next 0xdeadbeef, got target=%v raw=0x%x", target, raw)
	}
}

func TestUnpack_NegativeScalar(t *testing.T) {
	graph := buildUserGraph(t)
	h, _ := graph.Lookup("int32_t")

	b := []byte{0xf9, 0xff, 0xff, 0xff}

	v, err := Unpack(graph, h, b)
	if err != nil {
		t.Fatalf("failed to unpack - %s", err)
	}

	if v.Int() != -7 {
		t.Fatalf("expected -7, got %d", v.Int())
	}
}

func TestUnpack_IgnoresExcessBytes(t *testing.T) {
	graph := buildUserGraph(t)
	h, _ := graph.Lookup("int32_t")

	b := []byte{0x2a, 0x00, 0x00, 0x00, 0xff, 0xff}

	v, err := Unpack(graph, h, b)
	if err != nil {
		t.Fatalf("failed to unpack - %s", err)
	}

	if v.Int() != 42 {
		t.Fatalf("expected 42, got %d", v.Int())
	}
}

func TestUnpack_BufferTooSmall(t *testing.T) {
	graph := buildUserGraph(t)
	h, _ := graph.Lookup("user")

	_, err := Unpack(graph, h, make([]byte, 55))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestUnpack_RejectsTail(t *testing.T) {
	graph := buildUserGraph(t)
	charHandle, _ := graph.Lookup("char")

	_, err := Unpack(graph, graph.ArrayOf(charHandle, -1), []byte("abc"))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestUnpack_RejectsVoid(t *testing.T) {
	catalog := typegraph.BuiltinCatalog(typegraph.ArchLittle64())

	graph, err := typegraph.Build(typegraph.ArchLittle64(), catalog, "void")
	if err != nil {
		t.Fatalf("failed to build type graph - %s", err)
	}

	h, _ := graph.Lookup("void")

	_, err = Unpack(graph, h, nil)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}
