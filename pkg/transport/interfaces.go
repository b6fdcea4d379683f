package transport

import (
	"context"
	"net"

	"github.com/devm-project/devm-go/pkg/wire"
)

// ServerConnection is the server side of one client connection.
// Implemented by ServerConn.
type ServerConnection interface {
	// ConnID returns the connection's unique id.
	ConnID() string

	// RemoteAddr returns the remote network address of the client.
	RemoteAddr() net.Addr

	// Send writes one complete message.
	Send(data []byte) error

	// Close closes the connection.
	Close() error
}

// RequestSender issues correlated requests. Implemented by Client.
type RequestSender interface {
	Send(ctx context.Context, fn wire.Function, body wire.Body) (*wire.Message, error)
	RegisterEventListener(h EventHandler) ListenerID
	UnregisterEventListener(id ListenerID) bool
	Close() error
}

// TransportServer accepts IPC connections. Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and all connections.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
}

// FrameReadWriter provides header-delimited message I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ ServerConnection = (*ServerConn)(nil)
	_ RequestSender    = (*Client)(nil)
	_ TransportServer  = (*Server)(nil)
	_ FrameReadWriter  = (*Framer)(nil)
)
