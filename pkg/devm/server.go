package devm

import (
	"context"
	"errors"
	"net"

	"github.com/devm-project/devm-go/pkg/transport"
)

// Service serves a Manager over a transport server.
type Service struct {
	manager *Manager
	server  *transport.Server
}

// NewService binds m to a server built from config. The connection
// callbacks of config are replaced.
func NewService(m *Manager, config transport.ServerConfig) (*Service, error) {
	if config.Logger == nil {
		config.Logger = m.logger
	}
	if config.Log == nil {
		config.Log = m.log
	}
	config.OnConnect = func(c *transport.ServerConn) { m.Connect(c) }
	config.OnMessage = m.handleFrame
	config.OnDisconnect = func(c *transport.ServerConn) { m.Disconnect(c.ConnID()) }
	config.OnError = func(c *transport.ServerConn, err error) {
		entry := m.log.WithError(err)
		if c != nil {
			entry = entry.WithField("conn", c.ConnID())
		}
		if errors.Is(err, transport.ErrMessageTooLarge) {
			entry.Warn("oversized message, closing connection")
			return
		}
		entry.Debug("connection error")
	}

	server, err := transport.NewServer(config)
	if err != nil {
		return nil, err
	}
	return &Service{manager: m, server: server}, nil
}

// Start begins accepting clients.
func (s *Service) Start(ctx context.Context) error {
	return s.server.Start(ctx)
}

// Stop closes the listener and every client connection.
func (s *Service) Stop() error {
	return s.server.Stop()
}

// Addr returns the listen address.
func (s *Service) Addr() net.Addr {
	return s.server.Addr()
}

// ConnectionCount returns the number of connected clients.
func (s *Service) ConnectionCount() int {
	return s.server.ConnectionCount()
}

func (m *Manager) handleFrame(c *transport.ServerConn, data []byte) {
	m.HandleMessage(c, data)
}
