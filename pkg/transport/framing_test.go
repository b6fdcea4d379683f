package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/wire"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLogger) Events() []log.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]log.Event(nil), r.events...)
}

func rawMessage(length uint32, payload []byte) []byte {
	b := make([]byte, wire.HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(b[0:4], uint32(wire.GroupDEVM))
	binary.LittleEndian.PutUint32(b[4:8], uint32(wire.FuncQueryPowerState))
	binary.LittleEndian.PutUint32(b[8:12], 7)
	binary.LittleEndian.PutUint32(b[12:16], length)
	copy(b[wire.HeaderSize:], payload)
	return b
}

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"header only", nil},
		{"small body", []byte{1, 2, 3, 4}},
		{"large body", bytes.Repeat([]byte("x"), 4000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := rawMessage(uint32(wire.HeaderSize+len(tt.payload)), tt.payload)
			buf := new(bytes.Buffer)

			if err := NewFrameWriter(buf).WriteFrame(msg); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if buf.Len() != len(msg) {
				t.Errorf("written = %d bytes, want %d", buf.Len(), len(msg))
			}

			got, err := NewFrameReader(buf).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, msg) {
				t.Errorf("message mismatch: got %d bytes, want %d", len(got), len(msg))
			}
		})
	}
}

func TestFrameWriterRejectsBadMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		want error
	}{
		{"too short", []byte{1, 2, 3}, ErrMessageTooShort},
		{"length mismatch", rawMessage(20, []byte{1, 2}), wire.ErrInvalidHeader},
		{"too large", rawMessage(DefaultMaxMessageSize+4, make([]byte, DefaultMaxMessageSize-wire.HeaderSize+4)), ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewFrameWriter(new(bytes.Buffer)).WriteFrame(tt.msg)
			if !errors.Is(err, tt.want) {
				t.Errorf("WriteFrame error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"clean eof", nil, io.EOF},
		{"truncated header", []byte{0, 1, 0, 0, 1}, ErrFrameTruncated},
		{"length below header", rawMessage(8, nil), ErrMessageTooShort},
		{"length above max", rawMessage(DefaultMaxMessageSize+1, nil), ErrMessageTooLarge},
		{"truncated body", rawMessage(32, []byte{1, 2, 3}), ErrFrameTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReader(bytes.NewReader(tt.input)).ReadFrame()
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadFrame error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMultipleFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewFrameWriter(buf)

	var sent [][]byte
	for i := 0; i < 5; i++ {
		msg := rawMessage(uint32(wire.HeaderSize+i), bytes.Repeat([]byte{byte(i)}, i))
		sent = append(sent, msg)
		if err := w.WriteFrame(msg); err != nil {
			t.Fatalf("WriteFrame %d failed: %v", i, err)
		}
	}

	r := NewFrameReader(buf)
	for i, want := range sent {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d mismatch", i)
		}
	}
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

func TestFramerLogsBothDirections(t *testing.T) {
	logger := &recordingLogger{}
	buf := new(bytes.Buffer)
	f := NewFramer(buf, 0)
	f.SetLogger(logger, "conn-1", log.RoleClient)

	msg := rawMessage(wire.HeaderSize+2, []byte{9, 9})
	if err := f.WriteFrame(msg); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := f.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Direction != log.DirectionOut || events[1].Direction != log.DirectionIn {
		t.Errorf("directions = %v, %v", events[0].Direction, events[1].Direction)
	}
	for _, e := range events {
		if e.ConnectionID != "conn-1" || e.LocalRole != log.RoleClient {
			t.Errorf("unexpected event identity: %+v", e)
		}
		if e.Frame == nil || e.Frame.Size != len(msg) {
			t.Errorf("frame event missing or wrong size: %+v", e.Frame)
		}
	}
}

func TestFramerLogsTruncatedData(t *testing.T) {
	logger := &recordingLogger{}
	buf := new(bytes.Buffer)
	f := NewFramer(buf, 0)
	f.SetLogger(logger, "c", log.RoleServer)

	body := make([]byte, MaxLogFrameDataSize+100)
	if err := f.WriteFrame(rawMessage(uint32(wire.HeaderSize+len(body)), body)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	fe := events[0].Frame
	if !fe.Truncated || len(fe.Data) != MaxLogFrameDataSize {
		t.Errorf("frame not truncated: truncated=%v len=%d", fe.Truncated, len(fe.Data))
	}
}
