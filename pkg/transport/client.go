package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/wire"
)

// Client defaults.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// ClientConfig configures a DEVM IPC client.
type ClientConfig struct {
	// Network is "unix" or "tcp" (default: unix).
	Network string

	// Address is the socket path or host:port of the daemon.
	Address string

	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// RequestTimeout bounds each Send when the context has no deadline.
	RequestTimeout time.Duration

	// ConnectTimeout bounds Dial when the context has no deadline.
	ConnectTimeout time.Duration

	// Logger for protocol capture (optional).
	Logger log.Logger

	// Log is the operational logger (optional).
	Log logrus.FieldLogger

	// OnDisconnect is called once when the connection ends. err is nil
	// after a local Close.
	OnDisconnect func(err error)
}

func (c *ClientConfig) applyDefaults() {
	if c.Network == "" {
		c.Network = DefaultNetwork
	}
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
}

// ListenerID identifies a registered event listener.
type ListenerID uint32

// EventHandler receives decoded events. Calls for one listener never
// overlap and arrive in the order the events were read.
type EventHandler func(msg *wire.Message)

type result struct {
	msg *wire.Message
	err error
}

type pendingRequest struct {
	fn wire.Function
	ch chan result
}

// Client is a connection to the daemon that correlates responses by
// transaction id and fans events out to listeners.
type Client struct {
	config ClientConfig
	log    logrus.FieldLogger
	conn   net.Conn
	framer *Framer
	connID string

	pending *hashmap.Map[uint32, *pendingRequest]
	nextTxn atomic.Uint32

	listenersMu  sync.RWMutex
	listeners    map[ListenerID]*listener
	nextListener ListenerID

	state     atomic.Int32
	closeOnce sync.Once
	closeCh   chan struct{}
	closeErr  error
	readDone  chan struct{}
}

// Dial connects to the daemon.
func Dial(ctx context.Context, config ClientConfig) (*Client, error) {
	config.applyDefaults()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, config.Network, config.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", config.Network, config.Address, err)
	}
	return NewClient(conn, config), nil
}

// NewClient wraps an established connection and starts its read loop.
func NewClient(conn net.Conn, config ClientConfig) *Client {
	config.applyDefaults()

	c := &Client{
		config:    config,
		conn:      conn,
		framer:    NewFramer(conn, config.MaxMessageSize),
		connID:    uuid.New().String(),
		pending:   hashmap.New[uint32, *pendingRequest](),
		listeners: make(map[ListenerID]*listener),
		closeCh:   make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	c.log = config.Log.WithField("component", "client")
	if config.Logger != nil {
		c.framer.SetLogger(config.Logger, c.connID, log.RoleClient)
	}
	c.state.Store(int32(StateConnected))

	go c.readLoop()
	return c
}

// State returns the connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Send writes a request and blocks until the response with the same
// transaction id and function id arrives, ctx ends, the request timeout
// elapses or the connection fails.
func (c *Client) Send(ctx context.Context, fn wire.Function, body wire.Body) (*wire.Message, error) {
	if fn.IsEvent() {
		return nil, fmt.Errorf("%w: %s is an event", wire.ErrUnknownFunction, fn)
	}
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}

	txn := c.nextTxn.Add(1)
	if txn == wire.NotificationTransactionID {
		txn = c.nextTxn.Add(1)
	}
	req := &pendingRequest{fn: fn, ch: make(chan result, 1)}
	c.pending.Set(txn, req)
	defer c.pending.Del(txn)

	data := wire.Encode(fn, txn, body)
	start := time.Now()
	if err := c.framer.WriteFrame(data); err != nil {
		return nil, fmt.Errorf("send %s: %w", fn, err)
	}
	c.logMessage(log.DirectionOut, log.MessageTypeRequest, txn, fn, nil, nil)

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()
	timeout := timer.C
	if _, ok := ctx.Deadline(); ok {
		timeout = nil
	}

	select {
	case r := <-req.ch:
		if r.err != nil {
			return nil, r.err
		}
		elapsed := time.Since(start)
		var status *wire.Status
		if s, ok := r.msg.Body.(wire.Statuser); ok {
			st := s.ResponseStatus()
			status = &st
		}
		c.logMessage(log.DirectionIn, log.MessageTypeResponse, txn, fn, status, &elapsed)
		return r.msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, fn, c.config.RequestTimeout)
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	}
}

// RegisterEventListener adds h to the set of event listeners.
func (c *Client) RegisterEventListener(h EventHandler) ListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.nextListener++
	id := c.nextListener
	l := newListener(h)
	c.listeners[id] = l
	go l.run()
	return id
}

// UnregisterEventListener removes a listener. Events already queued for
// it are dropped; a callback in progress runs to completion. It returns
// false for an unknown id.
func (c *Client) UnregisterEventListener(id ListenerID) bool {
	c.listenersMu.Lock()
	l, ok := c.listeners[id]
	delete(c.listeners, id)
	c.listenersMu.Unlock()

	if ok {
		l.stop()
	}
	return ok
}

// Close closes the connection and stops all listeners.
func (c *Client) Close() error {
	c.shutdown(nil)
	<-c.readDone
	return nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.closeCh
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	select {
	case <-c.closeCh:
		return c.closeErr
	default:
		return nil
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.closeErr = err
		close(c.closeCh)
		c.conn.Close()

		c.listenersMu.Lock()
		for id, l := range c.listeners {
			l.stop()
			delete(c.listeners, id)
		}
		c.listenersMu.Unlock()

		c.state.Store(int32(StateDisconnected))
		if c.config.OnDisconnect != nil {
			go c.config.OnDisconnect(err)
		}
	})
}

func (c *Client) readLoop() {
	defer close(c.readDone)

	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				err = ErrConnectionClosed
			}
			c.log.WithError(err).Debug("read loop ended")
			c.shutdown(err)
			return
		}

		h, err := wire.DecodeHeader(data)
		if err != nil {
			c.log.WithError(err).Warn("dropping malformed message")
			continue
		}

		if h.Function.IsEvent() {
			c.dispatchEvent(data)
			continue
		}
		c.routeResponse(h, data)
	}
}

func (c *Client) routeResponse(h wire.Header, data []byte) {
	req, ok := c.pending.Get(h.TransactionID)
	if !ok {
		c.log.WithFields(logrus.Fields{"txn": h.TransactionID, "function": h.Function}).
			Debug("response without pending request")
		return
	}
	if req.fn != h.Function {
		c.log.WithFields(logrus.Fields{"txn": h.TransactionID, "want": req.fn, "got": h.Function}).
			Warn("response function does not match request")
		return
	}
	msg, err := wire.DecodeResponse(data)
	select {
	case req.ch <- result{msg: msg, err: err}:
	default:
	}
}

func (c *Client) dispatchEvent(data []byte) {
	msg, err := wire.DecodeEvent(data)
	if err != nil {
		c.log.WithError(err).Warn("dropping undecodable event")
		return
	}
	c.logMessage(log.DirectionIn, log.MessageTypeEvent, 0, msg.Header.Function, nil, nil)

	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, l := range c.listeners {
		l.push(msg)
	}
}

func (c *Client) logMessage(dir log.Direction, typ log.MessageType, txn uint32, fn wire.Function, status *wire.Status, elapsed *time.Duration) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleClient,
		Message: &log.MessageEvent{
			Type:           typ,
			TransactionID:  txn,
			Function:       fn,
			Status:         status,
			ProcessingTime: elapsed,
		},
	})
}

// listener delivers events to one handler through an unbounded FIFO so
// the read loop never blocks on a slow handler.
type listener struct {
	handler EventHandler

	mu     sync.Mutex
	queue  []*wire.Message
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newListener(h EventHandler) *listener {
	return &listener{
		handler: h,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (l *listener) push(msg *wire.Message) {
	l.mu.Lock()
	l.queue = append(l.queue, msg)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *listener) stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *listener) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.signal:
		}

		for {
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, msg := range batch {
				select {
				case <-l.done:
					return
				default:
				}
				l.handler(msg)
			}
		}
	}
}
