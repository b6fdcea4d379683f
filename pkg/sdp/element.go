package sdp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Data element type descriptors.
const (
	typeNil      = 0
	typeUint     = 1
	typeInt      = 2
	typeUUID     = 3
	typeString   = 4
	typeBool     = 5
	typeSequence = 6
	typeAlt      = 7
	typeURL      = 8
)

// ErrInvalidElement reports a malformed data element.
var ErrInvalidElement = errors.New("invalid data element")

// baseUUID is the Bluetooth base UUID 00000000-0000-1000-8000-00805F9B34FB.
var baseUUID = uuid.UUID{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0x80, 0x5F, 0x9B, 0x34, 0xFB,
}

// ShortUUID returns the 16-bit alias of u if u is derived from the
// Bluetooth base UUID.
func ShortUUID(u uuid.UUID) (uint16, bool) {
	if u[0] != 0 || u[1] != 0 || [12]byte(u[4:]) != [12]byte(baseUUID[4:]) {
		return 0, false
	}
	return binary.BigEndian.Uint16(u[2:4]), true
}

// FromShort expands a 16-bit alias to a full UUID.
func FromShort(v uint16) uuid.UUID {
	u := baseUUID
	binary.BigEndian.PutUint16(u[2:4], v)
	return u
}

// EncodeUUID encodes u as a UUID data element, using the 16-bit form
// when possible.
func EncodeUUID(u uuid.UUID) []byte {
	if v, ok := ShortUUID(u); ok {
		return []byte{typeUUID<<3 | 1, byte(v >> 8), byte(v)}
	}
	out := make([]byte, 0, 17)
	out = append(out, typeUUID<<3|4)
	return append(out, u[:]...)
}

// EncodeSequence wraps already encoded elements in a sequence element.
func EncodeSequence(elements ...[]byte) []byte {
	var body []byte
	for _, e := range elements {
		body = append(body, e...)
	}
	var out []byte
	switch {
	case len(body) <= 0xFF:
		out = []byte{typeSequence<<3 | 5, byte(len(body))}
	case len(body) <= 0xFFFF:
		out = []byte{typeSequence<<3 | 6, byte(len(body) >> 8), byte(len(body))}
	default:
		out = binary.BigEndian.AppendUint32([]byte{typeSequence<<3 | 7}, uint32(len(body)))
	}
	return append(out, body...)
}

// ServiceClassIDList encodes the value of the ServiceClassIDList
// attribute.
func ServiceClassIDList(classes []uuid.UUID) []byte {
	elements := make([][]byte, len(classes))
	for i, c := range classes {
		elements[i] = EncodeUUID(c)
	}
	return EncodeSequence(elements...)
}

// ElementLength returns the encoded length of the data element at the
// start of b.
func ElementLength(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrInvalidElement)
	}
	typ, idx := b[0]>>3, b[0]&0x07
	if typ > typeURL {
		return 0, fmt.Errorf("%w: type %d", ErrInvalidElement, typ)
	}

	var header, size int
	switch {
	case typ == typeNil:
		if idx != 0 {
			return 0, fmt.Errorf("%w: nil with size index %d", ErrInvalidElement, idx)
		}
		header, size = 1, 0
	case idx <= 4:
		header, size = 1, 1<<idx
	case idx == 5:
		if len(b) < 2 {
			return 0, fmt.Errorf("%w: truncated length", ErrInvalidElement)
		}
		header, size = 2, int(b[1])
	case idx == 6:
		if len(b) < 3 {
			return 0, fmt.Errorf("%w: truncated length", ErrInvalidElement)
		}
		header, size = 3, int(binary.BigEndian.Uint16(b[1:3]))
	default:
		if len(b) < 5 {
			return 0, fmt.Errorf("%w: truncated length", ErrInvalidElement)
		}
		header, size = 5, int(binary.BigEndian.Uint32(b[1:5]))
	}
	if header+size > len(b) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrInvalidElement, header+size, len(b))
	}
	return header + size, nil
}

// ValidateElement checks that b holds exactly one data element.
func ValidateElement(b []byte) error {
	n, err := ElementLength(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidElement, len(b)-n)
	}
	return nil
}
