package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/registry"
	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/timer"
	"github.com/devm-project/devm-go/pkg/wire"
)

// DefaultResponseTimeout is the usual handler response timeout.
const DefaultResponseTimeout = 30 * time.Second

// Config configures a Negotiator.
type Config struct {
	// Registry holds the lock and the directory.
	Registry *registry.Registry

	// Pairer is the stack's pairing engine.
	Pairer stack.Pairer

	// Timers arms response timeouts.
	Timers *timer.Facility

	// ResponseTimeout bounds how long a request waits for the handler.
	// Zero disables the timeout.
	ResponseTimeout time.Duration

	// Log is the operational logger (optional).
	Log logrus.FieldLogger
}

// session tracks the exchange with one remote device.
type session struct {
	addr wire.BDAddr
	le   bool

	// pairing is set when the exchange was started by Pair.
	pairing bool

	// awaiting is the response action the handler owes, or zero.
	awaiting wire.AuthAction
	timer    timer.ID
	hasTimer bool
	gen      uint64
}

// handlerSlot is the single registered authentication handler.
type handlerSlot struct {
	owner uint32
}

// Negotiator drives pairing and authentication.
type Negotiator struct {
	reg     *registry.Registry
	pairer  stack.Pairer
	timers  *timer.Facility
	timeout time.Duration
	log     logrus.FieldLogger

	handler  *handlerSlot
	sessions map[wire.BDAddr]*session
}

// New creates a negotiator with no handler registered.
func New(config Config) *Negotiator {
	if config.Log == nil {
		config.Log = logrus.StandardLogger()
	}
	return &Negotiator{
		reg:      config.Registry,
		pairer:   config.Pairer,
		timers:   config.Timers,
		timeout:  config.ResponseTimeout,
		log:      config.Log.WithField("component", "auth"),
		sessions: make(map[wire.BDAddr]*session),
	}
}

// Register installs owner as the authentication handler.
func (n *Negotiator) Register(owner uint32) error {
	n.reg.Acquire()
	defer n.reg.Release()

	if n.handler != nil {
		return fmt.Errorf("%w: handler held by callback %d", wire.StatusAlreadyRegistered, n.handler.owner)
	}
	n.handler = &handlerSlot{owner: owner}
	n.log.WithField("owner", owner).Info("authentication handler registered")
	return nil
}

// Unregister releases the handler slot. Only the holder may release it.
func (n *Negotiator) Unregister(owner uint32) error {
	n.reg.Acquire()
	defer n.reg.Release()

	if n.handler == nil || n.handler.owner != owner {
		return fmt.Errorf("%w: callback %d is not the authentication handler", wire.StatusInvalidHandle, owner)
	}
	n.releaseHandlerLocked()
	return nil
}

// Handler returns the owner of the handler slot.
func (n *Negotiator) Handler() (uint32, bool) {
	n.reg.Acquire()
	defer n.reg.Release()
	if n.handler == nil {
		return 0, false
	}
	return n.handler.owner, true
}

// RemoveOwnerLocked releases the handler slot if owner holds it.
func (n *Negotiator) RemoveOwnerLocked(owner uint32) {
	if n.handler != nil && n.handler.owner == owner {
		n.releaseHandlerLocked()
	}
}

// releaseHandlerLocked empties the slot and rejects everything the
// handler still owes.
func (n *Negotiator) releaseHandlerLocked() {
	n.log.WithField("owner", n.handler.owner).Info("authentication handler released")
	n.handler = nil
	for _, s := range n.sessions {
		if s.awaiting != 0 {
			n.rejectLocked(s, "handler released")
		}
	}
}

// HandleRequest forwards a stack authentication request to the handler.
// Requests needing an answer are rejected at once when no handler is
// registered. Indications never open a session, and AuthEnd closes the
// one the remote side opened.
func (n *Negotiator) HandleRequest(info wire.AuthenticationInformation) {
	n.reg.Acquire()
	defer n.reg.Release()

	resp, needsAnswer := info.Action.ResponseTo()
	s, open := n.sessions[info.Address]
	if needsAnswer && !open {
		s = n.sessionLocked(info.Address, info.Action.IsLE())
	}

	entry := n.log.WithFields(logrus.Fields{"device": info.Address, "action": info.Action})
	if n.handler == nil {
		if needsAnswer {
			s.awaiting = resp
			entry.Info("no authentication handler, rejecting")
			n.rejectLocked(s, "no handler")
			n.closeLocked(s)
		} else if open && info.Action.Code() == wire.AuthEnd {
			n.closeLocked(s)
		}
		return
	}

	if needsAnswer {
		n.disarmLocked(s)
		s.awaiting = resp
		n.armLocked(s)
	}
	entry.Debug("authentication request forwarded")
	n.reg.UnicastLocked(n.handler.owner, wire.Event{
		Function: wire.EventAuthenticationRequest,
		Body:     &wire.AuthenticationRequestEvent{Info: info},
	})
	if open && info.Action.Code() == wire.AuthEnd {
		n.closeLocked(s)
	}
}

// closeLocked ends the exchange on s. A session opened by Pair stays
// until the stack reports the pairing result.
func (n *Negotiator) closeLocked(s *session) {
	n.disarmLocked(s)
	s.awaiting = 0
	if !s.pairing {
		delete(n.sessions, s.addr)
	}
}

// Respond passes the handler's answer to the stack. The action must
// answer the session's pending request and the payload must be the
// member that action selects. A nil payload rejects.
func (n *Negotiator) Respond(owner uint32, info wire.AuthenticationInformation) error {
	n.reg.Acquire()
	defer n.reg.Release()

	if n.handler == nil || n.handler.owner != owner {
		return fmt.Errorf("%w: callback %d is not the authentication handler", wire.StatusInvalidHandle, owner)
	}
	if !info.Action.IsResponse() {
		return fmt.Errorf("%w: %s is not a response action", wire.StatusInvalidParameter, info.Action)
	}
	s, ok := n.sessions[info.Address]
	if !ok || s.awaiting == 0 {
		return fmt.Errorf("%w: no request pending for %s", wire.StatusInvalidParameter, info.Address)
	}
	if s.awaiting != info.Action {
		return fmt.Errorf("%w: pending request expects %s, got %s", wire.StatusInvalidParameter, s.awaiting, info.Action)
	}
	if err := wire.ValidateAuthData(info.Action, info.Data); err != nil {
		return fmt.Errorf("%w: %v", wire.StatusInvalidParameter, err)
	}

	if err := n.pairer.AuthenticationResponse(info); err != nil {
		return stackError("authentication response", err)
	}
	n.disarmLocked(s)
	s.awaiting = 0
	return nil
}

// sessionLocked returns the session of addr, creating it for exchanges
// started by the remote side.
func (n *Negotiator) sessionLocked(addr wire.BDAddr, le bool) *session {
	s, ok := n.sessions[addr]
	if !ok {
		s = &session{addr: addr, le: le}
		n.sessions[addr] = s
	}
	return s
}

// rejectLocked answers the pending request with an empty payload.
func (n *Negotiator) rejectLocked(s *session, reason string) {
	action := s.awaiting
	n.disarmLocked(s)
	s.awaiting = 0

	err := n.pairer.AuthenticationResponse(wire.AuthenticationInformation{Address: s.addr, Action: action})
	entry := n.log.WithFields(logrus.Fields{"device": s.addr, "action": action, "reason": reason})
	if err != nil {
		entry.WithError(err).Warn("stack refused rejection")
		return
	}
	entry.Debug("authentication request rejected")
}

func (n *Negotiator) armLocked(s *session) {
	if n.timeout <= 0 {
		return
	}
	s.gen++
	gen, addr := s.gen, s.addr
	id, err := n.timers.AfterFunc(n.timeout, func() { n.expire(addr, gen) })
	if err != nil {
		n.log.WithError(err).Warn("failed to arm authentication timeout")
		return
	}
	s.timer = id
	s.hasTimer = true
}

func (n *Negotiator) disarmLocked(s *session) {
	s.gen++
	if s.hasTimer {
		n.timers.Cancel(s.timer)
		s.hasTimer = false
	}
}

func (n *Negotiator) expire(addr wire.BDAddr, gen uint64) {
	n.reg.Acquire()
	defer n.reg.Release()

	s, ok := n.sessions[addr]
	if !ok || s.gen != gen || s.awaiting == 0 {
		return
	}
	s.hasTimer = false
	n.rejectLocked(s, "response timeout")
}

func (n *Negotiator) captureLocked(addr wire.BDAddr, from, to, reason string) {
	n.reg.CaptureState(log.StateEntityPairing, addr.String()+" "+from, addr.String()+" "+to, reason)
}

// stackError maps a stack failure to a status error.
func stackError(op string, err error) error {
	var st wire.Status
	if errors.As(err, &st) {
		return fmt.Errorf("%w: %s", st, op)
	}
	if errors.Is(err, stack.ErrUnsupported) {
		return fmt.Errorf("%w: %s: %v", wire.StatusUnsupported, op, err)
	}
	return fmt.Errorf("%w: %s: %v", wire.StatusInternal, op, err)
}
