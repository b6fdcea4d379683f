package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/wire"
)

// Framing constants.
const (
	// DefaultMaxMessageSize is the default maximum message size (64 KB).
	DefaultMaxMessageSize = 65536

	// MinMessageSize is the smallest valid message: a bare header.
	MinMessageSize = wire.HeaderSize

	// MaxLogFrameDataSize is the maximum frame data size to include in
	// capture events (4 KB).
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageTooShort indicates a length field smaller than the header.
	ErrMessageTooShort = errors.New("message shorter than header")

	// ErrFrameTruncated indicates the stream ended inside a message.
	ErrFrameTruncated = errors.New("frame truncated")
)

// FrameWriter writes complete messages to an underlying writer. Messages
// carry their own total length in the header, so no prefix is added.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex

	// Capture support (optional)
	logger log.Logger
	connID string
	role   log.Role
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom max size.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures capture for this writer. Pass nil to disable.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string, role log.Role) {
	fw.logger = logger
	fw.connID = connID
	fw.role = role
}

// WriteFrame writes one message. Safe for concurrent use.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) < MinMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooShort, len(data))
	}
	if uint32(len(data)) > fw.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxMessageSize)
	}
	if got := binary.LittleEndian.Uint32(data[12:16]); got != uint32(len(data)) {
		return fmt.Errorf("%w: header length %d, buffer %d", wire.ErrInvalidHeader, got, len(data))
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if fw.logger != nil {
		fw.logger.Log(makeFrameEvent(data, log.DirectionOut, fw.connID, fw.role))
	}
	return nil
}

// makeFrameEvent creates a capture event for a frame.
func makeFrameEvent(data []byte, direction log.Direction, connID string, role log.Role) log.Event {
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		LocalRole:    role,
		Frame: &log.FrameEvent{
			Size:      len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

// FrameReader reads complete messages from an underlying reader.
type FrameReader struct {
	r              io.Reader
	maxMessageSize uint32
	header         [wire.HeaderSize]byte

	// Capture support (optional)
	logger log.Logger
	connID string
	role   log.Role
}

// NewFrameReader creates a new frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom max size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{
		r:              r,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures capture for this reader. Pass nil to disable.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string, role log.Role) {
	fr.logger = logger
	fr.connID = connID
	fr.role = role
}

// ReadFrame reads one message, header included. It returns io.EOF if the
// stream ends cleanly between messages.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	length := binary.LittleEndian.Uint32(fr.header[12:16])
	if length < MinMessageSize {
		return nil, fmt.Errorf("%w: %d", ErrMessageTooShort, length)
	}
	if length > fr.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	msg := make([]byte, length)
	copy(msg, fr.header[:])
	if _, err := io.ReadFull(fr.r, msg[wire.HeaderSize:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if fr.logger != nil {
		fr.logger.Log(makeFrameEvent(msg, log.DirectionIn, fr.connID, fr.role))
	}
	return msg, nil
}

// Framer combines frame reading and writing.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a framer with a custom max message size; zero selects
// DefaultMaxMessageSize.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger configures capture for both directions.
func (f *Framer) SetLogger(logger log.Logger, connID string, role log.Role) {
	f.FrameReader.SetLogger(logger, connID, role)
	f.FrameWriter.SetLogger(logger, connID, role)
}
