package typegraph

import (
	"encoding/binary"
	"fmt"
)

// ArchLittle64 returns the Arch of a little endian machine with
// 64-bit pointers (e.g., x86-64, aarch64).
func ArchLittle64() Arch {
	return Arch{
		ByteOrder:   binary.LittleEndian,
		PointerSize: 8,
	}
}

// ArchLittle32 returns the Arch of a little endian machine with
// 32-bit pointers.
func ArchLittle32() Arch {
	return Arch{
		ByteOrder:   binary.LittleEndian,
		PointerSize: 4,
	}
}

// ArchFor returns an Arch for the specified byte order and pointer size.
func ArchFor(byteOrder binary.ByteOrder, pointerSize int) (Arch, error) {
	if byteOrder == nil {
		return Arch{}, fmt.Errorf("byte order cannot be nil")
	}

	switch pointerSize {
	case 4, 8:
		// OK.
	default:
		return Arch{}, fmt.Errorf("unsupported pointer size: %d", pointerSize)
	}

	return Arch{
		ByteOrder:   byteOrder,
		PointerSize: pointerSize,
	}, nil
}

// Arch describes the byte order and pointer width of the machine that
// packed buffers are destined for. Scalar sizes and endianness questions
// are answered here exactly once; type nodes never carry their own
// byte order.
type Arch struct {
	ByteOrder   binary.ByteOrder
	PointerSize int
}

// PutUint encodes v into b using the Arch's byte order. The width of
// the encoding is len(b), which must be 1, 2, 4, or 8.
func (o Arch) PutUint(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		o.ByteOrder.PutUint16(b, uint16(v))
	case 4:
		o.ByteOrder.PutUint32(b, uint32(v))
	case 8:
		o.ByteOrder.PutUint64(b, v)
	default:
		panic(fmt.Sprintf("unsupported scalar size: %d", len(b)))
	}
}

// Uint decodes an unsigned integer of len(b) bytes using the Arch's
// byte order. len(b) must be 1, 2, 4, or 8.
func (o Arch) Uint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(o.ByteOrder.Uint16(b))
	case 4:
		return uint64(o.ByteOrder.Uint32(b))
	case 8:
		return o.ByteOrder.Uint64(b)
	default:
		panic(fmt.Sprintf("unsupported scalar size: %d", len(b)))
	}
}

// Pointer encodes an address as a raw pointer value.
func (o Arch) Pointer(address uint64) []byte {
	out := make([]byte, o.PointerSize)
	o.PutUint(out, address)
	return out
}
