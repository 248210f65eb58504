package packer_test

import (
	"fmt"

	"gitlab.com/sigtrap/structkit/object"
	"gitlab.com/sigtrap/structkit/packer"
	"gitlab.com/sigtrap/structkit/typegraph"
)

func ExamplePack() {
	arch := typegraph.ArchLittle64()

	catalog := typegraph.BuiltinCatalog(arch)
	catalog.AddComposite("node", 16,
		typegraph.FieldDescriptor{
			Name: "value", Type: typegraph.Named("int32_t"), Offset: 0,
		},
		typegraph.FieldDescriptor{
			Name: "next", Type: typegraph.PointerTo(typegraph.Named("node")), Offset: 8,
		})

	graph := typegraph.BuildOrExit(arch, catalog, "node")

	handle, _ := graph.Lookup("node")

	head := object.New(graph, handle)
	tail := object.New(graph, handle)

	head.SetOrExit("value", 1)
	head.SetOrExit("next", tail.Ref())
	tail.SetOrExit("value", 2)
	tail.SetOrExit("next", head.Ref())

	result := packer.PackOrExit(0x7f0000000000, 0, head, tail)

	headAddr, _ := result.AddressOf(head)
	tailAddr, _ := result.AddressOf(tail)

	fmt.Printf("head: 0x%x\n", headAddr)
	fmt.Printf("tail: 0x%x\n", tailAddr)
	fmt.Printf("size: %d bytes\n", len(result.Bytes))

	// Output:
	// head: 0x7f0000000000
	// tail: 0x7f0000000010
	// size: 32 bytes
}
