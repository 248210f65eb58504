package typegraph

import (
	"errors"
	"fmt"
)

// BuildOrExit calls Build and calls DefaultExitFn if an error occurs.
func BuildOrExit(arch Arch, catalog Catalog, rootTypeNames ...string) *Graph {
	graph, err := Build(arch, catalog, rootTypeNames...)
	if err != nil {
		DefaultExitFn(fmt.Errorf("typegraph: failed to build type graph - %w", err))
	}

	return graph
}

// Build resolves the specified root type names (every catalog entry if
// none are specified) and their transitive references into a Graph.
//
// Resolution is lazy and memoized by name: a composite's node is
// registered in the graph before its own fields are resolved, so a
// type that references itself (directly or through another type)
// resolves to the in-progress handle instead of recursing forever.
// Anonymous pointer and array types register under synthesized
// structural keys ("T*", "T[8]", "T[]").
func Build(arch Arch, catalog Catalog, rootTypeNames ...string) (*Graph, error) {
	if catalog == nil {
		return nil, errors.New("catalog cannot be nil")
	}

	if arch.ByteOrder == nil {
		return nil, errors.New("arch byte order cannot be nil")
	}

	b := builder{
		graph:   newGraph(arch),
		catalog: catalog,
	}

	names := rootTypeNames
	if len(names) == 0 {
		names = catalog.TypeNames()
	}

	for _, name := range names {
		_, err := b.resolveName(name)
		if err != nil {
			return nil, err
		}
	}

	return b.graph, nil
}

type builder struct {
	graph   *Graph
	catalog Catalog
}

func (o *builder) resolveName(name string) (Handle, error) {
	if h, hasIt := o.graph.Lookup(name); hasIt {
		return h, nil
	}

	desc, err := o.catalog.Lookup(name)
	if err != nil {
		return NoHandle, fmt.Errorf("failed to look up type %q - %w", name, err)
	}

	if desc.Name == "" {
		desc.Name = name
	}

	switch desc.Kind {
	case KindPrimitive:
		return o.resolvePrimitive(desc)
	case KindPointer:
		return o.resolveNamedPointer(desc)
	case KindArray:
		return o.resolveNamedArray(desc)
	case KindComposite:
		return o.resolveComposite(desc)
	default:
		return NoHandle, fmt.Errorf("%w: descriptor %q has unknown kind %d",
			ErrMalformedType, desc.Name, desc.Kind)
	}
}

func (o *builder) resolvePrimitive(desc Descriptor) (Handle, error) {
	if desc.Float {
		switch desc.Size {
		case 4, 8:
			// OK.
		default:
			return NoHandle, fmt.Errorf("%w: float %q has unsupported size %d",
				ErrMalformedType, desc.Name, desc.Size)
		}
	} else {
		switch desc.Size {
		case 0, 1, 2, 4, 8:
			// OK. Size zero is the incomplete void type.
		default:
			return NoHandle, fmt.Errorf("%w: primitive %q has unsupported size %d",
				ErrMalformedType, desc.Name, desc.Size)
		}
	}

	alignment := desc.Alignment
	if alignment == 0 && desc.Size > 0 {
		alignment = desc.Size
	}

	return o.graph.add(desc.Name, Node{
		Kind:      KindPrimitive,
		Name:      desc.Name,
		Size:      desc.Size,
		Alignment: alignment,
		Signed:    desc.Signed,
		Float:     desc.Float,
		Pointee:   NoHandle,
		Elem:      NoHandle,
	}), nil
}

func (o *builder) resolveNamedPointer(desc Descriptor) (Handle, error) {
	if desc.Elem == nil {
		return NoHandle, fmt.Errorf("%w: pointer %q has no pointee reference",
			ErrMalformedType, desc.Name)
	}

	pointee, err := o.resolveRef(*desc.Elem)
	if err != nil {
		return NoHandle, err
	}

	h := o.graph.PointerTo(pointee)
	o.graph.alias(desc.Name, h)

	return h, nil
}

func (o *builder) resolveNamedArray(desc Descriptor) (Handle, error) {
	if desc.Elem == nil {
		return NoHandle, fmt.Errorf("%w: array %q has no element reference",
			ErrMalformedType, desc.Name)
	}

	elem, err := o.resolveRef(*desc.Elem)
	if err != nil {
		return NoHandle, err
	}

	elemSize := o.graph.Node(elem).Size
	if elemSize <= 0 {
		return NoHandle, fmt.Errorf("%w: array %q of incomplete element type %q",
			ErrMalformedType, desc.Name, o.graph.Node(elem).Name)
	}

	if o.hasFlexibleTail(o.graph.Node(elem)) {
		return NoHandle, fmt.Errorf("%w: array %q of %q, whose variable-length tail cannot repeat",
			ErrMalformedType, desc.Name, o.graph.Node(elem).Name)
	}

	count := desc.Count
	if desc.Size > 0 {
		if desc.Size%elemSize != 0 {
			return NoHandle, fmt.Errorf("%w: array %q has size %d, which element size %d does not divide",
				ErrMalformedType, desc.Name, desc.Size, elemSize)
		}

		if count == 0 {
			count = desc.Size / elemSize
		} else if count*elemSize != desc.Size {
			return NoHandle, fmt.Errorf("%w: array %q declares %d elements of %d bytes but a total size of %d",
				ErrMalformedType, desc.Name, count, elemSize, desc.Size)
		}
	}

	h := o.graph.ArrayOf(elem, count)
	o.graph.alias(desc.Name, h)

	return h, nil
}

func (o *builder) resolveComposite(desc Descriptor) (Handle, error) {
	// Register before resolving fields so that self references
	// terminate at the in-progress handle.
	h := o.graph.add(desc.Name, Node{
		Kind:      KindComposite,
		Name:      desc.Name,
		Size:      desc.Size,
		Alignment: desc.Alignment,
		Pointee:   NoHandle,
		Elem:      NoHandle,
	})

	fields := make([]Field, 0, len(desc.Fields))
	seenNames := make(map[string]struct{}, len(desc.Fields))

	prevEnd := 0
	maxAlignment := 1

	for i, fd := range desc.Fields {
		if fd.Name == "" {
			return NoHandle, fmt.Errorf("%w: composite %q has an unnamed field at offset %d",
				ErrMalformedType, desc.Name, fd.Offset)
		}

		if _, hasIt := seenNames[fd.Name]; hasIt {
			return NoHandle, fmt.Errorf("%w: composite %q declares field %q twice",
				ErrMalformedType, desc.Name, fd.Name)
		}
		seenNames[fd.Name] = struct{}{}

		fieldType, err := o.resolveRef(fd.Type)
		if err != nil {
			return NoHandle, fmt.Errorf("failed to resolve field %q of %q - %w",
				fd.Name, desc.Name, err)
		}

		fieldNode := o.graph.Node(fieldType)

		if fd.Offset < prevEnd {
			return NoHandle, fmt.Errorf("%w: field %q of %q at offset %d overlaps the previous field ending at %d",
				ErrMalformedType, fd.Name, desc.Name, fd.Offset, prevEnd)
		}

		if fieldNode.IsTail() {
			if i != len(desc.Fields)-1 {
				return NoHandle, fmt.Errorf("%w: variable-length field %q of %q is not the last field",
					ErrMalformedType, fd.Name, desc.Name)
			}
			prevEnd = fd.Offset
		} else {
			if o.hasFlexibleTail(fieldNode) {
				return NoHandle, fmt.Errorf("%w: field %q of %q embeds %q, whose variable-length tail cannot live inside another composite",
					ErrMalformedType, fd.Name, desc.Name, fieldNode.Name)
			}

			if fieldNode.IsVoid() {
				return NoHandle, fmt.Errorf("%w: field %q of %q has incomplete type %q",
					ErrMalformedType, fd.Name, desc.Name, fieldNode.Name)
			}

			end := fd.Offset + fieldNode.Size
			if desc.Size > 0 && end > desc.Size {
				return NoHandle, fmt.Errorf("%w: field %q of %q ends at %d, past the declared size %d",
					ErrMalformedType, fd.Name, desc.Name, end, desc.Size)
			}
			prevEnd = end
		}

		if fieldNode.Alignment > maxAlignment {
			maxAlignment = fieldNode.Alignment
		}

		fields = append(fields, Field{
			Name:   fd.Name,
			Type:   fieldType,
			Offset: fd.Offset,
		})
	}

	node := o.graph.Node(h)
	node.Fields = fields

	if node.Alignment == 0 {
		node.Alignment = maxAlignment
	}

	if node.Size == 0 {
		node.Size = roundUp(prevEnd, node.Alignment)
	}

	return h, nil
}

// hasFlexibleTail reports whether a composite's last field is a
// variable-length tail. Such a composite has no fixed extent and can
// only exist as a free-standing object, never embedded in another
// composite or repeated in an array.
func (o *builder) hasFlexibleTail(node *Node) bool {
	if node.Kind != KindComposite || len(node.Fields) == 0 {
		return false
	}

	last := node.Fields[len(node.Fields)-1]
	return o.graph.Node(last.Type).IsTail()
}

func (o *builder) resolveRef(ref TypeRef) (Handle, error) {
	switch ref.kind {
	case refNamed:
		return o.resolveName(ref.name)
	case refPointer:
		pointee, err := o.resolveRef(*ref.elem)
		if err != nil {
			return NoHandle, err
		}
		return o.graph.PointerTo(pointee), nil
	case refArray:
		elem, err := o.resolveRef(*ref.elem)
		if err != nil {
			return NoHandle, err
		}

		if o.graph.Node(elem).Size <= 0 {
			return NoHandle, fmt.Errorf("%w: array of incomplete element type %q",
				ErrMalformedType, o.graph.Node(elem).Name)
		}

		if o.hasFlexibleTail(o.graph.Node(elem)) {
			return NoHandle, fmt.Errorf("%w: array of %q, whose variable-length tail cannot repeat",
				ErrMalformedType, o.graph.Node(elem).Name)
		}

		return o.graph.ArrayOf(elem, ref.count), nil
	default:
		return NoHandle, fmt.Errorf("%w: invalid type reference", ErrMalformedType)
	}
}

func roundUp(n int, alignment int) int {
	if alignment <= 1 {
		return n
	}
	rem := n % alignment
	if rem == 0 {
		return n
	}
	return n + alignment - rem
}
