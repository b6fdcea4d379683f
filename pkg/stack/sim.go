package stack

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devm-project/devm-go/pkg/wire"
)

// Sim errors.
var (
	ErrNotPowered    = errors.New("stack not powered")
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrNoSession     = errors.New("no pairing session")
	ErrUnknownRecord = errors.New("unknown service record")
)

// Simulated authentication status codes.
const (
	SimStatusAuthFailure wire.AuthStatus = 0x05
	SimStatusCancelled   wire.AuthStatus = 0x16
)

// SimDevice is a remote device the simulator can discover.
type SimDevice struct {
	Address       wire.BDAddr
	AddressType   wire.AddressType
	Name          string
	ClassOfDevice wire.ClassOfDevice
	Classic       bool
	LE            bool
	RSSI          int8
	Appearance    uint16
	AdvData       []byte
	Services      []uuid.UUID

	// RejectPairing makes every pairing attempt fail.
	RejectPairing bool
}

// SimConfig configures a Sim.
type SimConfig struct {
	// Address is the local public address.
	Address wire.BDAddr

	// Devices are the simulated peers.
	Devices []SimDevice

	// ReportInterval paces inquiry results and advertising reports
	// (default: 200ms).
	ReportInterval time.Duration

	// Unsupported lists features SetFeature refuses to enable.
	Unsupported wire.Feature

	// Passkey is shown in numeric comparison requests (default: 123456).
	Passkey uint32

	// Log is the operational logger (optional).
	Log logrus.FieldLogger
}

type simSession struct {
	le       bool
	awaiting wire.AuthAction
}

// Sim is a simulated protocol engine.
type Sim struct {
	mu      sync.Mutex
	config  SimConfig
	handler Handler
	powered bool

	inquiryStop chan struct{}
	scanStop    chan struct{}
	advertising *AdvertisingParams

	sessions map[wire.BDAddr]*simSession
	records  map[uint32]map[uint16][]byte
	nextRec  uint32
	calls    []string

	queueMu sync.Mutex
	queue   []func(Handler)
	signal  chan struct{}
	closed  chan struct{}
	done    chan struct{}
	log     logrus.FieldLogger
}

// NewSim creates a simulator and starts its delivery goroutine.
func NewSim(config SimConfig) *Sim {
	if config.ReportInterval <= 0 {
		config.ReportInterval = 200 * time.Millisecond
	}
	if config.Passkey == 0 {
		config.Passkey = 123456
	}
	if config.Log == nil {
		config.Log = logrus.StandardLogger()
	}
	s := &Sim{
		config:   config,
		sessions: make(map[wire.BDAddr]*simSession),
		records:  make(map[uint32]map[uint16][]byte),
		nextRec:  0x00010000,
		signal:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
		log:      config.Log.WithField("component", "sim"),
	}
	go s.deliverLoop()
	return s
}

// Close stops all activity and the delivery goroutine.
func (s *Sim) Close() {
	s.mu.Lock()
	s.stopLoopsLocked()
	s.mu.Unlock()

	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	<-s.done
}

// SetHandler installs the receiver of asynchronous results.
func (s *Sim) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Calls returns the names of the engine operations invoked so far.
func (s *Sim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Advertising returns the active advertising set, or nil.
func (s *Sim) Advertising() *AdvertisingParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advertising == nil {
		return nil
	}
	p := *s.advertising
	return &p
}

// Attribute returns a stored SDP attribute value.
func (s *Sim) Attribute(handle uint32, id uint16) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.records[handle]
	if !ok {
		return nil, false
	}
	v, ok := attrs[id]
	return v, ok
}

// Inject queues fn for execution on the delivery goroutine with the
// installed handler.
func (s *Sim) Inject(fn func(h Handler)) {
	s.queueMu.Lock()
	s.queue = append(s.queue, fn)
	s.queueMu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Flush blocks until everything queued so far has been delivered.
func (s *Sim) Flush() {
	done := make(chan struct{})
	s.Inject(func(Handler) { close(done) })
	select {
	case <-done:
	case <-s.done:
	}
}

func (s *Sim) deliverLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.closed:
			return
		case <-s.signal:
		}
		for {
			s.queueMu.Lock()
			batch := s.queue
			s.queue = nil
			s.queueMu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				s.mu.Lock()
				h := s.handler
				s.mu.Unlock()
				fn(h)
			}
		}
	}
}

func (s *Sim) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *Sim) device(addr wire.BDAddr) (SimDevice, bool) {
	for _, d := range s.config.Devices {
		if d.Address == addr {
			return d, true
		}
	}
	return SimDevice{}, false
}

// PowerOn powers the simulated radio.
func (s *Sim) PowerOn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("PowerOn")
	s.powered = true
	return nil
}

// PowerOff stops all activity and powers the radio down.
func (s *Sim) PowerOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("PowerOff")
	s.stopLoopsLocked()
	s.advertising = nil
	s.sessions = make(map[wire.BDAddr]*simSession)
	s.powered = false
	return nil
}

func (s *Sim) stopLoopsLocked() {
	if s.inquiryStop != nil {
		close(s.inquiryStop)
		s.inquiryStop = nil
	}
	if s.scanStop != nil {
		close(s.scanStop)
		s.scanStop = nil
	}
}

// ApplyLocalProperties accepts any local property change.
func (s *Sim) ApplyLocalProperties(mask wire.LocalPropertiesMask, _ wire.LocalProperties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("ApplyLocalProperties(0x%X)", uint32(mask)))
	return nil
}

// SetFeature refuses to enable features listed as unsupported.
func (s *Sim) SetFeature(f wire.Feature, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(fmt.Sprintf("SetFeature(%s,%t)", f, enabled))
	if enabled && s.config.Unsupported&f != 0 {
		return fmt.Errorf("%w: %s", ErrUnsupported, f)
	}
	return nil
}

// StartInquiry reports every classic peer once, paced by ReportInterval.
func (s *Sim) StartInquiry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("StartInquiry")
	if !s.powered {
		return ErrNotPowered
	}
	if s.inquiryStop != nil {
		return nil
	}
	stop := make(chan struct{})
	s.inquiryStop = stop

	var peers []SimDevice
	for _, d := range s.config.Devices {
		if d.Classic {
			peers = append(peers, d)
		}
	}
	go s.runInquiry(peers, stop)
	return nil
}

func (s *Sim) runInquiry(peers []SimDevice, stop chan struct{}) {
	for _, d := range peers {
		select {
		case <-stop:
			return
		case <-time.After(s.config.ReportInterval):
		}
		r := InquiryResult{
			Address:       d.Address,
			ClassOfDevice: d.ClassOfDevice,
			Name:          d.Name,
			RSSI:          d.RSSI,
			EIR:           d.Name != "",
		}
		s.Inject(func(h Handler) {
			if h != nil {
				h.InquiryResult(r)
			}
		})
	}
}

// StopInquiry ends a running inquiry.
func (s *Sim) StopInquiry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("StopInquiry")
	if s.inquiryStop != nil {
		close(s.inquiryStop)
		s.inquiryStop = nil
	}
	return nil
}

// StartLEScan reports every LE peer each ReportInterval until stopped.
func (s *Sim) StartLEScan(p ScanParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("StartLEScan")
	if !s.powered {
		return ErrNotPowered
	}
	if s.scanStop != nil {
		return nil
	}
	stop := make(chan struct{})
	s.scanStop = stop

	var peers []SimDevice
	for _, d := range s.config.Devices {
		if d.LE {
			peers = append(peers, d)
		}
	}
	go s.runScan(peers, stop)
	return nil
}

func (s *Sim) runScan(peers []SimDevice, stop chan struct{}) {
	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		for _, d := range peers {
			r := AdvertisingReport{
				Address:     d.Address,
				AddressType: d.AddressType,
				RSSI:        d.RSSI,
				Name:        d.Name,
				Appearance:  d.Appearance,
				Data:        append([]byte(nil), d.AdvData...),
			}
			s.Inject(func(h Handler) {
				if h != nil {
					h.AdvertisingReport(r)
				}
			})
		}
	}
}

// StopLEScan ends LE scanning.
func (s *Sim) StopLEScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("StopLEScan")
	if s.scanStop != nil {
		close(s.scanStop)
		s.scanStop = nil
	}
	return nil
}

// StartAdvertising enables one advertising set.
func (s *Sim) StartAdvertising(p AdvertisingParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("StartAdvertising")
	if !s.powered {
		return ErrNotPowered
	}
	if len(p.Data) > wire.MaxAdvertisingDataLength {
		return fmt.Errorf("advertising data is %d bytes", len(p.Data))
	}
	p.Data = append([]byte(nil), p.Data...)
	s.advertising = &p
	return nil
}

// StopAdvertising disables advertising.
func (s *Sim) StopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("StopAdvertising")
	s.advertising = nil
	return nil
}

// Pair starts a numeric comparison with a known peer.
func (s *Sim) Pair(addr wire.BDAddr, le bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Pair")
	if !s.powered {
		return ErrNotPowered
	}
	if _, ok := s.device(addr); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}

	req := wire.AuthUserConfirmationRequest.WithLE(le)
	s.sessions[addr] = &simSession{le: le, awaiting: req}
	info := wire.AuthenticationInformation{
		Address: addr,
		Action:  req,
		Data:    wire.Passkey(s.config.Passkey),
		Flags:   wire.AuthFlagSecureConnections,
	}
	s.Inject(func(h Handler) {
		if h != nil {
			h.AuthenticationRequest(info)
		}
	})
	return nil
}

// CancelPair aborts a pairing session.
func (s *Sim) CancelPair(addr wire.BDAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("CancelPair")
	sess, ok := s.sessions[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, addr)
	}
	delete(s.sessions, addr)
	s.complete(PairingResult{Address: addr, LE: sess.le, Status: SimStatusCancelled})
	return nil
}

// Unpair removes the bond with a peer.
func (s *Sim) Unpair(addr wire.BDAddr, le bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Unpair")
	if !s.powered {
		return ErrNotPowered
	}
	s.complete(PairingResult{Address: addr, LE: le, Success: true})
	return nil
}

// AuthenticationResponse answers the pending request of a session.
func (s *Sim) AuthenticationResponse(info wire.AuthenticationInformation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("AuthenticationResponse")
	sess, ok := s.sessions[info.Address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, info.Address)
	}
	delete(s.sessions, info.Address)

	dev, _ := s.device(info.Address)
	accepted := !info.Rejected() && !dev.RejectPairing
	if c, ok := info.Data.(wire.Confirmation); ok && !bool(c) {
		accepted = false
	}
	r := PairingResult{Address: info.Address, LE: sess.le}
	if accepted {
		r.Success = true
		r.Paired = true
	} else {
		r.Status = SimStatusAuthFailure
	}
	s.complete(r)
	return nil
}

func (s *Sim) complete(r PairingResult) {
	s.Inject(func(h Handler) {
		if h != nil {
			h.PairingComplete(r)
		}
	})
}

// Connect brings up a link with a known peer.
func (s *Sim) Connect(addr wire.BDAddr, le bool) error {
	return s.link("Connect", addr, le, true)
}

// Disconnect tears down a link.
func (s *Sim) Disconnect(addr wire.BDAddr, le bool) error {
	return s.link("Disconnect", addr, le, false)
}

func (s *Sim) link(call string, addr wire.BDAddr, le, up bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(call)
	if !s.powered {
		return ErrNotPowered
	}
	if _, ok := s.device(addr); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	e := ConnectionEvent{Address: addr, LE: le, Connected: up}
	s.Inject(func(h Handler) {
		if h != nil {
			h.ConnectionChanged(e)
		}
	})
	return nil
}

// QueryServices reports the peer's service classes.
func (s *Sim) QueryServices(addr wire.BDAddr, le bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("QueryServices")
	dev, ok := s.device(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	services := append([]uuid.UUID(nil), dev.Services...)
	s.Inject(func(h Handler) {
		if h != nil {
			h.ServicesDiscovered(addr, le, services)
		}
	})
	return nil
}

// CreateRecord allocates an empty service record.
func (s *Sim) CreateRecord() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("CreateRecord")
	h := s.nextRec
	s.nextRec++
	s.records[h] = make(map[uint16][]byte)
	return h, nil
}

// DeleteRecord removes a service record.
func (s *Sim) DeleteRecord(handle uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteRecord")
	if _, ok := s.records[handle]; !ok {
		return fmt.Errorf("%w: 0x%08X", ErrUnknownRecord, handle)
	}
	delete(s.records, handle)
	return nil
}

// SetAttribute stores an attribute value.
func (s *Sim) SetAttribute(handle uint32, id uint16, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SetAttribute")
	attrs, ok := s.records[handle]
	if !ok {
		return fmt.Errorf("%w: 0x%08X", ErrUnknownRecord, handle)
	}
	attrs[id] = append([]byte(nil), value...)
	return nil
}

// DeleteAttribute removes an attribute.
func (s *Sim) DeleteAttribute(handle uint32, id uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteAttribute")
	attrs, ok := s.records[handle]
	if !ok {
		return fmt.Errorf("%w: 0x%08X", ErrUnknownRecord, handle)
	}
	delete(attrs, id)
	return nil
}

// Compile-time interface satisfaction check.
var _ Stack = (*Sim)(nil)
