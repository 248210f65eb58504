// Package dwarfcat materializes a type catalog from the DWARF debug
// info of an ELF binary. It is a descriptor producer only: the type
// graph, object model, and packer never depend on it.
package dwarfcat

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/edsrzf/mmap-go"

	"gitlab.com/sigtrap/structkit/typegraph"
)

// ErrNoDebugInfo is returned when the binary carries no DWARF data.
var ErrNoDebugInfo = errors.New("no debug info")

// Config configures Open.
type Config struct {
	// Path is the ELF binary to read.
	Path string

	// OptLogger logs skipped (unsupported) type entries if specified.
	OptLogger *log.Logger
}

// OpenOrExit calls Open and calls DefaultExitFn if an error occurs.
func OpenOrExit(path string) *Binary {
	binary, err := Open(path)
	if err != nil {
		DefaultExitFn(fmt.Errorf("dwarfcat: failed to open %q - %w", path, err))
	}

	return binary
}

// Open reads the DWARF info of the ELF binary at path and converts
// every named, complete structure type into a catalog descriptor.
// Entries using unsupported constructs (unions, bitfields) are skipped.
// The catalog is seeded with the builtin C base types for the binary's
// architecture, so descriptors may reference them even when the binary
// defines no matching base type entry.
func Open(path string) (*Binary, error) {
	return OpenConfigured(Config{Path: path})
}

// OpenConfigured is Open with explicit configuration.
func OpenConfigured(config Config) (*Binary, error) {
	f, err := os.Open(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file - %w", err)
	}

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to map file - %w", err)
	}

	binary, err := parse(bytes.NewReader(mapped), config.OptLogger)
	if err != nil {
		_ = mapped.Unmap()
		_ = f.Close()
		return nil, err
	}

	binary.file = f
	binary.mapped = mapped

	return binary, nil
}

func parse(r io.ReaderAt, optLogger *log.Logger) (*Binary, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse elf file - %w", err)
	}

	var pointerSize int
	switch ef.Class {
	case elf.ELFCLASS32:
		pointerSize = 4
	case elf.ELFCLASS64:
		pointerSize = 8
	default:
		return nil, fmt.Errorf("unsupported elf class: %s", ef.Class)
	}

	arch, err := typegraph.ArchFor(ef.ByteOrder, pointerSize)
	if err != nil {
		return nil, err
	}

	data, err := ef.DWARF()
	if err != nil {
		return nil, fmt.Errorf("%w - %s", ErrNoDebugInfo, err)
	}

	catalog := typegraph.BuiltinCatalog(arch)

	conv := newConverter(catalog)

	reader := data.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read debug info entry - %w", err)
		}
		if entry == nil {
			break
		}

		if entry.Tag != dwarf.TagStructType {
			continue
		}

		typ, err := data.Type(entry.Offset)
		if err != nil {
			continue
		}

		structType, isStruct := typ.(*dwarf.StructType)
		if !isStruct || structType.StructName == "" || structType.Incomplete {
			continue
		}

		_, err = conv.ref(structType)
		if err != nil && optLogger != nil {
			optLogger.Printf("dwarfcat: skipping struct %q - %s",
				structType.StructName, err)
		}
	}

	return &Binary{
		arch:    arch,
		catalog: catalog,
	}, nil
}

// Binary is an opened ELF binary's type information.
type Binary struct {
	file    *os.File
	mapped  mmap.MMap
	arch    typegraph.Arch
	catalog *typegraph.MapCatalog
}

// Arch returns the binary's target machine description.
func (o *Binary) Arch() typegraph.Arch {
	return o.arch
}

// Catalog returns the type catalog materialized from the binary's
// debug info.
func (o *Binary) Catalog() *typegraph.MapCatalog {
	return o.catalog
}

// Graph builds a type graph from the binary's catalog. With no root
// type names, every cataloged type is resolved.
func (o *Binary) Graph(rootTypeNames ...string) (*typegraph.Graph, error) {
	return typegraph.Build(o.arch, o.catalog, rootTypeNames...)
}

// Close unmaps and closes the underlying file. The catalog remains
// usable.
func (o *Binary) Close() error {
	var unmapErr error
	if o.mapped != nil {
		unmapErr = o.mapped.Unmap()
		o.mapped = nil
	}

	if o.file != nil {
		closeErr := o.file.Close()
		o.file = nil
		if closeErr != nil {
			return closeErr
		}
	}

	return unmapErr
}
