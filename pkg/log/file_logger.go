package log

import (
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/devm-project/devm-go/pkg/version"
)

// sessionMagic marks a Session record among the events of a capture.
const sessionMagic = "devm-capture"

// syncBatch is how many events may sit in the page cache before the
// capture is forced to disk. Error and state events sync at once.
const syncBatch = 256

// Session is the record a FileLogger writes each time it opens a
// capture. Files opened for append hold one Session per daemon run,
// each ahead of the events of that run. Readers return them separately
// from events.
type Session struct {
	Magic    string    `cbor:"100,keyasint"`
	Protocol string    `cbor:"101,keyasint"`
	Build    string    `cbor:"102,keyasint"`
	Opened   time.Time `cbor:"103,keyasint"`
}

// FileLogger writes protocol events to a capture file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	file     *os.File
	encoder  *cbor.Encoder
	mu       sync.Mutex
	closed   bool
	unsynced int
}

// NewFileLogger opens path for appending, creating it with mode 0644,
// and starts a new session naming the protocol version.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l := &FileLogger{
		file:    f,
		encoder: NewEncoder(f),
	}
	err = l.encoder.Encode(Session{
		Magic:    sessionMagic,
		Protocol: version.Protocol,
		Build:    version.Build(),
		Opened:   time.Now(),
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Log writes an event to the capture file. Errors and state changes are
// synced to disk immediately so a crash leaves the events that explain
// it; other events are synced in batches.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	// Capture must not disrupt the daemon.
	if err := l.encoder.Encode(event); err != nil {
		return
	}
	l.unsynced++
	if event.Category != CategoryMessage || l.unsynced >= syncBatch {
		_ = l.syncLocked()
	}
}

// Sync forces buffered events to disk.
func (l *FileLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	return l.syncLocked()
}

func (l *FileLogger) syncLocked() error {
	l.unsynced = 0
	return l.file.Sync()
}

// Close syncs and closes the file. Later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	syncErr := l.syncLocked()
	if err := l.file.Close(); err != nil {
		return err
	}
	return syncErr
}

var _ Logger = (*FileLogger)(nil)
