package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var le = binary.LittleEndian

// Decoding errors.
var (
	ErrShortBuffer     = errors.New("wire: message truncated")
	ErrLengthMismatch  = errors.New("wire: trailing array length does not match total length")
	ErrTrailingBytes   = errors.New("wire: unexpected bytes after message body")
	ErrUnknownFunction = errors.New("wire: unknown function id")
	ErrInvalidHeader   = errors.New("wire: invalid header")
	ErrInvalidPayload  = errors.New("wire: invalid payload")
)

// encoder appends little-endian fields to a growing buffer.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = le.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = le.AppendUint32(e.buf, v) }
func (e *encoder) i32(v int32)  { e.u32(uint32(v)) }
func (e *encoder) i64(v int64)  { e.buf = le.AppendUint64(e.buf, uint64(v)) }
func (e *encoder) pad(n int)    { e.buf = append(e.buf, make([]byte, n)...) }

func (e *encoder) bytes(b []byte) { e.buf = append(e.buf, b...) }

// fixed writes b into a field of exactly n bytes, zero filled.
func (e *encoder) fixed(b []byte, n int) {
	if len(b) > n {
		b = b[:n]
	}
	e.buf = append(e.buf, b...)
	e.pad(n - len(b))
}

func (e *encoder) bool32(v bool) {
	if v {
		e.u32(1)
		return
	}
	e.u32(0)
}

func (e *encoder) addr(a BDAddr) {
	e.buf = append(e.buf, a[:]...)
	e.pad(2)
}

func (e *encoder) uuid(u uuid.UUID) { e.buf = append(e.buf, u[:]...) }

// decoder reads little-endian fields and remembers the first error.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf)-d.off < n {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, d.off, len(d.buf)-d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return le.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return le.Uint32(b)
}

func (d *decoder) i32() int32 { return int32(d.u32()) }

func (d *decoder) i64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(le.Uint64(b))
}

func (d *decoder) skip(n int) { d.take(n) }

func (d *decoder) bool32() bool { return d.u32() != 0 }

func (d *decoder) addr() BDAddr {
	var a BDAddr
	copy(a[:], d.take(6))
	d.skip(2)
	return a
}

func (d *decoder) uuid() uuid.UUID {
	var u uuid.UUID
	copy(u[:], d.take(16))
	return u
}

// fixedBytes returns an owned copy of the first n bytes of a size-byte field.
func (d *decoder) fixedBytes(n, size int) []byte {
	b := d.take(size)
	if b == nil {
		return nil
	}
	if n > size {
		d.fail(fmt.Errorf("%w: length %d exceeds field size %d", ErrInvalidPayload, n, size))
		return nil
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out
}

// trailing consumes the rest of the body as count elements of elemSize
// bytes. The remaining length must match exactly.
func (d *decoder) trailing(count uint32, elemSize int) []byte {
	if d.err != nil {
		return nil
	}
	want := uint64(count) * uint64(elemSize)
	if uint64(d.remaining()) != want {
		d.err = fmt.Errorf("%w: %d elements of %d bytes need %d, have %d",
			ErrLengthMismatch, count, elemSize, want, d.remaining())
		return nil
	}
	if want == 0 {
		return nil
	}
	out := make([]byte, want)
	copy(out, d.buf[d.off:])
	d.off = len(d.buf)
	return out
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// finish reports the first error or any unread bytes.
func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return fmt.Errorf("%w: %d bytes", ErrTrailingBytes, len(d.buf)-d.off)
	}
	return nil
}
