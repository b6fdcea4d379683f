package devm

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/wire"
)

// Conn is the server side of one client connection.
type Conn interface {
	ConnID() string
	Send(data []byte) error
}

// outbound is the write queue and callback set of one connection.
type outbound struct {
	conn      Conn
	callbacks map[uint32]struct{}

	mu     sync.Mutex
	queue  [][]byte
	signal chan struct{}
	done   chan struct{}
}

func newOutbound(c Conn) *outbound {
	return &outbound{
		conn:      c,
		callbacks: make(map[uint32]struct{}),
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (o *outbound) push(data []byte) {
	o.mu.Lock()
	o.queue = append(o.queue, data)
	o.mu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbound) run(l logrus.FieldLogger) {
	for {
		select {
		case <-o.done:
			return
		case <-o.signal:
		}
		for {
			o.mu.Lock()
			if len(o.queue) == 0 {
				o.mu.Unlock()
				break
			}
			data := o.queue[0]
			o.queue[0] = nil
			o.queue = o.queue[1:]
			o.mu.Unlock()

			if err := o.conn.Send(data); err != nil {
				l.WithError(err).WithField("conn", o.conn.ConnID()).Debug("dropping outbound queue")
				o.mu.Lock()
				o.queue = nil
				o.mu.Unlock()
				break
			}
		}
	}
}

// Dispatcher tracks connections and the callback ids they registered,
// and delivers events to them. It implements registry.Emitter.
//
// The dispatcher lock is taken inside the registry lock when events are
// emitted, so it must never be held while acquiring the registry lock.
type Dispatcher struct {
	mu     sync.Mutex
	conns  map[string]*outbound
	owners map[uint32]*outbound
	nextID uint32

	logger log.Logger
	log    logrus.FieldLogger
}

// NewDispatcher creates a dispatcher with no connections.
func NewDispatcher(logger log.Logger, l logrus.FieldLogger) *Dispatcher {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Dispatcher{
		conns:  make(map[string]*outbound),
		owners: make(map[uint32]*outbound),
		logger: logger,
		log:    l.WithField("component", "dispatcher"),
	}
}

// AddConnection starts the outbound queue of c.
func (d *Dispatcher) AddConnection(c Conn) {
	o := newOutbound(c)
	d.mu.Lock()
	d.conns[c.ConnID()] = o
	d.mu.Unlock()
	go o.run(d.log)
}

// RemoveConnection stops the queue of connID and returns the callback
// ids it still held.
func (d *Dispatcher) RemoveConnection(connID string) []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.conns[connID]
	if !ok {
		return nil
	}
	delete(d.conns, connID)
	ids := make([]uint32, 0, len(o.callbacks))
	for id := range o.callbacks {
		delete(d.owners, id)
		ids = append(ids, id)
	}
	close(o.done)
	return ids
}

// Register allocates a callback id for connID.
func (d *Dispatcher) Register(connID string) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.conns[connID]
	if !ok {
		return 0, fmt.Errorf("%w: connection %s", wire.StatusNotInitialized, connID)
	}
	for {
		d.nextID++
		if d.nextID == 0 {
			continue
		}
		if _, taken := d.owners[d.nextID]; !taken {
			break
		}
	}
	o.callbacks[d.nextID] = struct{}{}
	d.owners[d.nextID] = o
	return d.nextID, nil
}

// Unregister releases a callback id held by connID.
func (d *Dispatcher) Unregister(connID string, id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.owners[id]
	if !ok || o.conn.ConnID() != connID {
		return fmt.Errorf("%w: callback %d", wire.StatusInvalidHandle, id)
	}
	delete(o.callbacks, id)
	delete(d.owners, id)
	return nil
}

// Owns reports whether connID registered id.
func (d *Dispatcher) Owns(connID string, id uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.owners[id]
	return ok && o.conn.ConnID() == connID
}

// Registered reports whether id is held by any connection.
func (d *Dispatcher) Registered(id uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.owners[id]
	return ok
}

// OwnedBy returns the ids among ids that connID registered.
func (d *Dispatcher) OwnedBy(connID string, ids ...uint32) []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []uint32
	for _, id := range ids {
		if o, ok := d.owners[id]; ok && o.conn.ConnID() == connID {
			out = append(out, id)
		}
	}
	return out
}

// Callbacks returns every registered callback id.
func (d *Dispatcher) Callbacks() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uint32, 0, len(d.owners))
	for id := range d.owners {
		ids = append(ids, id)
	}
	return ids
}

// Send queues a complete message for connID.
func (d *Dispatcher) Send(connID string, data []byte) {
	d.mu.Lock()
	o, ok := d.conns[connID]
	d.mu.Unlock()
	if ok {
		o.push(data)
	}
}

// Broadcast queues ev for every connection holding a callback.
func (d *Dispatcher) Broadcast(ev wire.Event) {
	data := ev.Encode()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.conns {
		if len(o.callbacks) == 0 {
			continue
		}
		d.logEvent(o.conn.ConnID(), ev.Function)
		o.push(data)
	}
}

// Unicast queues ev for the connection holding callback owner. Events
// for unknown owners are dropped.
func (d *Dispatcher) Unicast(owner uint32, ev wire.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.owners[owner]
	if !ok {
		d.log.WithFields(logrus.Fields{"owner": owner, "event": ev.Function}).Debug("no owner for event")
		return
	}
	d.logEvent(o.conn.ConnID(), ev.Function)
	o.push(ev.Encode())
}

// Close stops every queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, o := range d.conns {
		close(o.done)
		delete(d.conns, id)
	}
	d.owners = make(map[uint32]*outbound)
}

func (d *Dispatcher) logEvent(connID string, fn wire.Function) {
	if d.logger == nil {
		return
	}
	d.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleServer,
		Message: &log.MessageEvent{
			Type:     log.MessageTypeEvent,
			Function: fn,
		},
	})
}
