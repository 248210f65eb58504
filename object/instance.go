// Package object provides runtime instances of typegraph types.
// Instances support field assignment by dotted path, nested composite
// embedding, and pointer fields holding either a raw address or a
// symbolic reference to another live instance. Symbolic references
// carry no address; they are resolved by the packer once every
// reachable instance has one.
package object

import (
	"errors"
	"fmt"
	"math"

	"gitlab.com/sigtrap/structkit/typegraph"
)

var (
	// ErrTypeMismatch is returned when a value's shape does not match
	// the declared type of the field it is assigned to, or when a path
	// addresses a field that does not exist.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrCapacityExceeded is returned when a value does not fit the
	// declared capacity of its field: a string longer than a fixed
	// character array, or an integer outside the representable range
	// of its scalar type. The field's prior value is left unchanged.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)

// Instance is a runtime value bound to one type graph node. Its shape
// (the set of fields and their types) is immutable after creation;
// only values change. Instances are not safe for concurrent mutation.
type Instance struct {
	graph *typegraph.Graph
	typ   typegraph.Handle

	// parent is the composite or array this instance is embedded in.
	// Embedded instances never own memory; they live at their parent's
	// address plus their declared offset.
	parent *Instance

	// Exactly one of the following groups is live, per the node kind.
	scalar  uint64      // primitives, raw bits
	fields  []*Instance // composites, parallel to declared fields
	elems   []*Instance // fixed arrays
	ptrRef  *Instance   // pointers, symbolic referent
	ptrRaw  uint64      // pointers, raw address when ptrRef is nil
	tail    []byte      // variable-length tails, literal content
	tailStr bool        // tail is NUL-terminated when packed
}

// New creates a zero-valued instance of the specified type, with every
// declared field present. It panics if the handle does not belong to
// the graph or the type is incomplete (void).
func New(graph *typegraph.Graph, h typegraph.Handle) *Instance {
	node := graph.Node(h)

	inst := &Instance{
		graph: graph,
		typ:   h,
	}

	switch node.Kind {
	case typegraph.KindPrimitive:
		if node.IsVoid() {
			panic("object: cannot instantiate incomplete type " + node.Name)
		}
	case typegraph.KindPointer:
		// Zero raw address (NULL).
	case typegraph.KindArray:
		if node.IsTail() {
			break
		}
		inst.elems = make([]*Instance, node.Count)
		for i := range inst.elems {
			inst.elems[i] = New(graph, node.Elem)
			inst.elems[i].parent = inst
		}
	case typegraph.KindComposite:
		inst.fields = make([]*Instance, len(node.Fields))
		for i, field := range node.Fields {
			inst.fields[i] = New(graph, field.Type)
			inst.fields[i].parent = inst
		}
	}

	return inst
}

// Graph returns the type graph the instance is bound to.
func (o *Instance) Graph() *typegraph.Graph {
	return o.graph
}

// Type returns the handle of the instance's type.
func (o *Instance) Type() typegraph.Handle {
	return o.typ
}

// TypeNode returns the instance's type node.
func (o *Instance) TypeNode() *typegraph.Node {
	return o.graph.Node(o.typ)
}

// Kind returns the kind of the instance's type.
func (o *Instance) Kind() typegraph.Kind {
	return o.TypeNode().Kind
}

// Container returns the composite or array instance this instance is
// embedded in, or nil if it is free-standing. An embedded instance has
// no address of its own; it lives inside its container's span.
func (o *Instance) Container() *Instance {
	return o.parent
}

// Ref returns a symbolic reference to the instance, usable wherever a
// pointer-typed field's value is expected. The reference carries only
// the identity of its target, never an address.
func (o *Instance) Ref() Ref {
	return Ref{target: o}
}

// Ref is a symbolic reference to an instance. The zero value
// references nothing and assigns as a NULL pointer.
type Ref struct {
	target *Instance
}

// Target returns the referenced instance (nil for the zero Ref).
func (o Ref) Target() *Instance {
	return o.target
}

// Get returns the instance at the specified dotted path. Path segments
// name composite fields; fixed array elements are addressed by index
// ("users[2].name" or "users.2.name"). The empty path returns the
// instance itself.
func (o *Instance) Get(path string) (*Instance, error) {
	steps, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	return o.walk(steps)
}

// Set assigns a value to the field at the specified dotted path.
//
// Accepted values depend on the field's declared type:
//
//   - integer primitives: Go integers and bool, checked against the
//     declared size and signedness
//   - float primitives: float32, float64, or Go integers
//   - pointers: a raw address (unsigned integer), nil (NULL), a Ref or
//     *Instance whose type matches the declared pointee, or a
//     string/[]byte, which allocates an anonymous variable-length
//     character buffer and references it symbolically
//   - fixed character arrays: string or []byte no longer than the
//     declared capacity (longer input fails, it is never truncated)
//   - variable-length tails: string or []byte of any length
//
// On failure the field's prior value is unchanged.
func (o *Instance) Set(path string, value interface{}) error {
	steps, err := parsePath(path)
	if err != nil {
		return err
	}

	target, err := o.walk(steps)
	if err != nil {
		return err
	}

	return target.assign(value)
}

// SetOrExit calls Set and calls DefaultExitFn if an error occurs.
func (o *Instance) SetOrExit(path string, value interface{}) {
	err := o.Set(path, value)
	if err != nil {
		DefaultExitFn(fmt.Errorf("object: failed to set %q - %w", path, err))
	}
}

func (o *Instance) walk(steps []pathStep) (*Instance, error) {
	cur := o

	for _, step := range steps {
		node := cur.TypeNode()

		if step.isIndex {
			if node.Kind != typegraph.KindArray || node.IsTail() {
				return nil, fmt.Errorf("%w: cannot index into %s type %q",
					ErrTypeMismatch, node.Kind, node.Name)
			}
			if step.index < 0 || step.index >= len(cur.elems) {
				return nil, fmt.Errorf("%w: index %d out of range for %q",
					ErrTypeMismatch, step.index, node.Name)
			}
			cur = cur.elems[step.index]
			continue
		}

		if node.Kind != typegraph.KindComposite {
			return nil, fmt.Errorf("%w: %s type %q has no fields",
				ErrTypeMismatch, node.Kind, node.Name)
		}

		found := false
		for i, field := range node.Fields {
			if field.Name == step.name {
				cur = cur.fields[i]
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: type %q has no field %q",
				ErrTypeMismatch, node.Name, step.name)
		}
	}

	return cur, nil
}

func (o *Instance) assign(value interface{}) error {
	node := o.TypeNode()

	switch node.Kind {
	case typegraph.KindPrimitive:
		return o.assignScalar(node, value)
	case typegraph.KindPointer:
		return o.assignPointer(node, value)
	case typegraph.KindArray:
		return o.assignArray(node, value)
	default:
		return fmt.Errorf("%w: cannot assign directly to %s type %q",
			ErrTypeMismatch, node.Kind, node.Name)
	}
}

func (o *Instance) assignScalar(node *typegraph.Node, value interface{}) error {
	if node.Float {
		f, ok := floatValue(value)
		if !ok {
			return fmt.Errorf("%w: cannot assign %T to %q",
				ErrTypeMismatch, value, node.Name)
		}

		if node.Size == 4 {
			o.scalar = uint64(math.Float32bits(float32(f)))
		} else {
			o.scalar = math.Float64bits(f)
		}
		return nil
	}

	bits, err := intBits(node, value)
	if err != nil {
		return err
	}

	o.scalar = bits
	return nil
}

func (o *Instance) assignPointer(node *typegraph.Node, value interface{}) error {
	switch v := value.(type) {
	case nil:
		o.ptrRef = nil
		o.ptrRaw = 0
		return nil
	case Ref:
		if v.target == nil {
			o.ptrRef = nil
			o.ptrRaw = 0
			return nil
		}
		return o.setPointerTarget(node, v.target)
	case *Instance:
		if v == nil {
			o.ptrRef = nil
			o.ptrRaw = 0
			return nil
		}
		return o.setPointerTarget(node, v)
	case string:
		return o.setPointerTail(node, []byte(v), true)
	case []byte:
		return o.setPointerTail(node, v, false)
	default:
		addr, ok := addressValue(value)
		if !ok {
			return fmt.Errorf("%w: cannot assign %T to %q",
				ErrTypeMismatch, value, node.Name)
		}
		o.ptrRef = nil
		o.ptrRaw = addr
		return nil
	}
}

func (o *Instance) setPointerTarget(node *typegraph.Node, target *Instance) error {
	if target.graph != o.graph {
		return fmt.Errorf("%w: reference target belongs to a different type graph",
			ErrTypeMismatch)
	}

	pointee := o.graph.Node(node.Pointee)
	if !pointee.IsVoid() && target.typ != node.Pointee {
		targetNode := target.TypeNode()

		// Pointing a T* at a T array lands on its first element.
		if !(targetNode.Kind == typegraph.KindArray && targetNode.Elem == node.Pointee) {
			return fmt.Errorf("%w: cannot point %q at a value of type %q",
				ErrTypeMismatch, node.Name, targetNode.Name)
		}
	}

	o.ptrRef = target
	o.ptrRaw = 0
	return nil
}

func (o *Instance) setPointerTail(node *typegraph.Node, content []byte, isString bool) error {
	pointee := o.graph.Node(node.Pointee)

	elem := node.Pointee
	if pointee.IsVoid() {
		// A void pointer's buffer is raw bytes.
		h, hasIt := o.graph.Lookup("char")
		if !hasIt {
			return fmt.Errorf("%w: no character type in graph for %q buffer",
				ErrTypeMismatch, node.Name)
		}
		elem = h
	} else if pointee.Kind != typegraph.KindPrimitive || pointee.Size != 1 {
		return fmt.Errorf("%w: cannot allocate a byte buffer behind %q",
			ErrTypeMismatch, node.Name)
	}

	buffer := &Instance{
		graph:   o.graph,
		typ:     o.graph.ArrayOf(elem, -1),
		tail:    append([]byte(nil), content...),
		tailStr: isString,
	}

	o.ptrRef = buffer
	o.ptrRaw = 0
	return nil
}

func (o *Instance) assignArray(node *typegraph.Node, value interface{}) error {
	var content []byte
	var isString bool

	switch v := value.(type) {
	case string:
		content = []byte(v)
		isString = true
	case []byte:
		content = v
	default:
		return fmt.Errorf("%w: cannot assign %T to %q",
			ErrTypeMismatch, value, node.Name)
	}

	if node.IsTail() {
		o.tail = append([]byte(nil), content...)
		o.tailStr = isString
		return nil
	}

	elem := o.graph.Node(node.Elem)
	if elem.Kind != typegraph.KindPrimitive || elem.Size != 1 {
		return fmt.Errorf("%w: cannot assign bytes to %q",
			ErrTypeMismatch, node.Name)
	}

	if len(content) > node.Count {
		return fmt.Errorf("%w: %d bytes do not fit in %q",
			ErrCapacityExceeded, len(content), node.Name)
	}

	for i, inst := range o.elems {
		if i < len(content) {
			inst.scalar = uint64(content[i])
		} else {
			inst.scalar = 0
		}
	}

	return nil
}

func intBits(node *typegraph.Node, value interface{}) (uint64, error) {
	var signedVal int64
	var unsignedVal uint64
	isNegative := false

	switch v := value.(type) {
	case bool:
		if v {
			unsignedVal = 1
		}
	case int:
		signedVal = int64(v)
	case int8:
		signedVal = int64(v)
	case int16:
		signedVal = int64(v)
	case int32:
		signedVal = int64(v)
	case int64:
		signedVal = v
	case uint:
		unsignedVal = uint64(v)
	case uint8:
		unsignedVal = uint64(v)
	case uint16:
		unsignedVal = uint64(v)
	case uint32:
		unsignedVal = uint64(v)
	case uint64:
		unsignedVal = v
	case uintptr:
		unsignedVal = uint64(v)
	default:
		return 0, fmt.Errorf("%w: cannot assign %T to %q",
			ErrTypeMismatch, value, node.Name)
	}

	switch value.(type) {
	case int, int8, int16, int32, int64:
		if signedVal < 0 {
			isNegative = true
		} else {
			unsignedVal = uint64(signedVal)
		}
	}

	nBits := uint(node.Size * 8)

	if node.Signed {
		maxVal := int64(1)<<(nBits-1) - 1
		minVal := -maxVal - 1

		if isNegative {
			if signedVal < minVal {
				return 0, rangeError(node, fmt.Sprintf("%d", signedVal))
			}
		} else if unsignedVal > uint64(maxVal) {
			return 0, rangeError(node, fmt.Sprintf("%d", unsignedVal))
		}
	} else {
		if isNegative {
			return 0, rangeError(node, fmt.Sprintf("%d", signedVal))
		}

		if nBits < 64 && unsignedVal > uint64(1)<<nBits-1 {
			return 0, rangeError(node, fmt.Sprintf("%d", unsignedVal))
		}
	}

	var bits uint64
	if isNegative {
		bits = uint64(signedVal)
	} else {
		bits = unsignedVal
	}

	if nBits < 64 {
		bits &= uint64(1)<<nBits - 1
	}

	return bits, nil
}

func rangeError(node *typegraph.Node, value string) error {
	signedness := "unsigned"
	if node.Signed {
		signedness = "signed"
	}
	return fmt.Errorf("%w: %s cannot be represented by %s %d-byte type %q",
		ErrCapacityExceeded, value, signedness, node.Size, node.Name)
}

func floatValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func addressValue(value interface{}) (uint64, bool) {
	switch v := value.(type) {
	case uint:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case uintptr:
		return uint64(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}
