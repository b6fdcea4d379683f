package wire

import "fmt"

// HeaderSize is the encoded size of Header.
const HeaderSize = 16

// NotificationTransactionID is the transaction id carried by events.
const NotificationTransactionID uint32 = 0

// Header precedes every DEVM message.
type Header struct {
	Group         Group
	Function      Function
	TransactionID uint32
	// Length is the total message length including the header.
	Length uint32
}

// DecodeHeader reads the header from the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(b))
	}
	return Header{
		Group:         Group(le.Uint32(b[0:4])),
		Function:      Function(le.Uint32(b[4:8])),
		TransactionID: le.Uint32(b[8:12]),
		Length:        le.Uint32(b[12:16]),
	}, nil
}

// Body is the part of a message following the header.
type Body interface {
	encode(e *encoder)
	decode(d *decoder) error
}

// Encode builds a complete message.
func Encode(fn Function, txn uint32, body Body) []byte {
	e := &encoder{buf: make([]byte, HeaderSize, HeaderSize+64)}
	if body != nil {
		body.encode(e)
	}
	le.PutUint32(e.buf[0:4], uint32(GroupDEVM))
	le.PutUint32(e.buf[4:8], uint32(fn))
	le.PutUint32(e.buf[8:12], txn)
	le.PutUint32(e.buf[12:16], uint32(len(e.buf)))
	return e.buf
}

// Message is a decoded message.
type Message struct {
	Header Header
	Body   Body
}

func decode(b []byte, table map[Function]func() Body, kind string) (*Message, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if h.Group != GroupDEVM {
		return nil, fmt.Errorf("%w: group 0x%08X", ErrInvalidHeader, uint32(h.Group))
	}
	if int(h.Length) != len(b) {
		return nil, fmt.Errorf("%w: length field %d, message %d bytes", ErrInvalidHeader, h.Length, len(b))
	}
	newBody, ok := table[h.Function]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownFunction, kind, h.Function)
	}
	body := newBody()
	d := &decoder{buf: b[HeaderSize:]}
	if err := body.decode(d); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, h.Function, err)
	}
	return &Message{Header: h, Body: body}, nil
}

// DecodeRequest decodes a client request.
func DecodeRequest(b []byte) (*Message, error) {
	return decode(b, requestBodies, "request")
}

// DecodeResponse decodes a server response.
func DecodeResponse(b []byte) (*Message, error) {
	return decode(b, responseBodies, "response")
}

// DecodeEvent decodes an asynchronous event.
func DecodeEvent(b []byte) (*Message, error) {
	return decode(b, eventBodies, "event")
}

// Empty is the body of messages that carry no fields.
type Empty struct{}

func (*Empty) encode(*encoder)         {}
func (*Empty) decode(d *decoder) error { return d.finish() }

// StatusResponse is the response of commands that only report a status.
type StatusResponse struct {
	Status Status
}

func (r *StatusResponse) encode(e *encoder) { e.i32(int32(r.Status)) }
func (r *StatusResponse) decode(d *decoder) error {
	r.Status = Status(d.i32())
	return d.finish()
}

// Statuser is implemented by every response body.
type Statuser interface {
	ResponseStatus() Status
}

// ResponseStatus implements Statuser.
func (r *StatusResponse) ResponseStatus() Status { return r.Status }
