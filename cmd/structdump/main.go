package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"gitlab.com/sigtrap/structkit/dwarfcat"
	"gitlab.com/sigtrap/structkit/typegraph"
)

const (
	typeNameArg = "t"
	verboseArg  = "v"
	helpArg     = "h"

	appName = "structdump"
	usage   = appName + `
Prints the structure types of an ELF binary (their fields, offsets, and
sizes) as C-style declarations, reconstructed from the binary's DWARF
debug info.

usage:
` + appName + ` [options] elf-binary

options:
`
)

func main() {
	typeName := flag.String(
		typeNameArg,
		"",
		"Only print the struct with this name")
	verbose := flag.Bool(
		verboseArg,
		false,
		"Enable verbose logging")
	help := flag.Bool(
		helpArg,
		false,
		"Display this help page")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	if flag.NArg() != 1 {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	config := dwarfcat.Config{
		Path: flag.Arg(0),
	}
	if *verbose {
		config.OptLogger = log.New(os.Stderr, "", 0)
	}

	binary, err := dwarfcat.OpenConfigured(config)
	if err != nil {
		log.Fatalf("failed to open binary - %s", err)
	}
	defer binary.Close()

	var roots []string
	if *typeName != "" {
		roots = append(roots, *typeName)
	}

	graph, err := binary.Graph(roots...)
	if err != nil {
		log.Fatalf("failed to build type graph - %s", err)
	}

	numPrinted := 0
	for _, name := range graph.TypeNames() {
		h, hasIt := graph.Lookup(name)
		if !hasIt {
			continue
		}

		node := graph.Node(h)
		if node.Kind != typegraph.KindComposite || node.Name != name {
			continue
		}

		if *typeName != "" && name != *typeName {
			continue
		}

		if numPrinted > 0 {
			fmt.Println()
		}

		printStruct(graph, node)

		numPrinted++
	}

	if numPrinted == 0 && *typeName != "" {
		log.Fatalf("no struct named '%s' in %s", *typeName, flag.Arg(0))
	}
}

func printStruct(graph *typegraph.Graph, node *typegraph.Node) {
	fmt.Printf("struct %s {\n", node.Name)

	for _, field := range node.Fields {
		fieldNode := graph.Node(field.Type)

		decl := cDecl(graph, fieldNode, field.Name) + ";"

		fmt.Printf("    %-32s // +0x%-4x %d bytes\n",
			decl, field.Offset, fieldNode.Size)
	}

	fmt.Printf("}; // %d bytes, align %d\n", node.Size, node.Alignment)
}

func cDecl(graph *typegraph.Graph, node *typegraph.Node, fieldName string) string {
	switch node.Kind {
	case typegraph.KindPointer:
		pointee := graph.Node(node.Pointee)
		return fmt.Sprintf("%s *%s", pointee.Name, fieldName)
	case typegraph.KindArray:
		elem := graph.Node(node.Elem)
		if node.Count < 0 {
			return fmt.Sprintf("%s %s[]", elem.Name, fieldName)
		}
		return fmt.Sprintf("%s %s[%d]", elem.Name, fieldName, node.Count)
	default:
		name := node.Name
		if node.Kind == typegraph.KindComposite && !strings.HasPrefix(name, "struct ") {
			name = "struct " + name
		}
		return name + " " + fieldName
	}
}
