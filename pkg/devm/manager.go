package devm

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/devm-project/devm-go/pkg/auth"
	"github.com/devm-project/devm-go/pkg/controller"
	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/persistence"
	"github.com/devm-project/devm-go/pkg/registry"
	"github.com/devm-project/devm-go/pkg/scheduler"
	"github.com/devm-project/devm-go/pkg/sdp"
	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/timer"
	"github.com/devm-project/devm-go/pkg/wire"
)

// DefaultAckTimeout bounds the power-down handshake.
const DefaultAckTimeout = 2 * time.Second

// Config configures a Manager.
type Config struct {
	// Stack is the protocol engine. Required.
	Stack stack.Stack

	// Local is the local device description at start-up.
	Local wire.LocalProperties

	// Features is the initially active feature set.
	Features wire.Feature

	// MaxRemoteDevices bounds the directory (default: 256).
	MaxRemoteDevices int

	// DeleteOnPowerOff empties the directory on power-off.
	DeleteOnPowerOff bool

	// Store persists bonded devices (optional).
	Store *persistence.RegistryStore

	// MaxPending bounds the advertisement queue (default: 32).
	MaxPending int

	// ResponseTimeout bounds authentication answers. Zero disables it.
	ResponseTimeout time.Duration

	// AckTimeout bounds the power-down handshake (default: 2s).
	AckTimeout time.Duration

	// MinTimerResolution floors every timer (default: 10ms).
	MinTimerResolution time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Logger for protocol capture (optional).
	Logger log.Logger

	// Log is the operational logger (optional).
	Log logrus.FieldLogger
}

// powerDown is the PreDisable handshake in progress.
type powerDown struct {
	waiting  map[uint32]struct{}
	timer    timer.ID
	hasTimer bool
	gen      uint64
}

// Manager is the device manager service.
type Manager struct {
	stack      stack.Stack
	reg        *registry.Registry
	timers     *timer.Facility
	ctl        *controller.Controller
	sched      *scheduler.Scheduler
	auth       *auth.Negotiator
	sdp        *sdp.Manager
	dispatcher *Dispatcher
	logger     log.Logger
	log        logrus.FieldLogger

	ackTimeout time.Duration
	down       *powerDown
	downGen    uint64
}

// New builds a manager around config.Stack and installs itself as the
// stack's handler. The radio starts powered off.
func New(config Config) (*Manager, error) {
	if config.Stack == nil {
		return nil, errors.New("devm: stack is required")
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	if config.MinTimerResolution <= 0 {
		config.MinTimerResolution = timer.DefaultMinResolution
	}
	if config.Log == nil {
		config.Log = logrus.StandardLogger()
	}

	m := &Manager{
		stack:      config.Stack,
		logger:     config.Logger,
		log:        config.Log.WithField("component", "devm"),
		ackTimeout: config.AckTimeout,
	}
	m.dispatcher = NewDispatcher(config.Logger, config.Log)
	m.timers = timer.New(timer.Config{MinResolution: config.MinTimerResolution, Log: config.Log})
	m.reg = registry.New(registry.Config{
		MaxRemoteDevices: config.MaxRemoteDevices,
		DeleteOnPowerOff: config.DeleteOnPowerOff,
		Local:            config.Local,
		Features:         config.Features,
		Store:            config.Store,
		Logger:           config.Logger,
		Log:              config.Log,
	})
	m.reg.SetEmitter(m.dispatcher)
	m.reg.SetLocalApplier(config.Stack.ApplyLocalProperties)
	if err := m.reg.Restore(); err != nil {
		m.log.WithError(err).Warn("registry restore failed, starting empty")
	}

	m.ctl = controller.New(controller.Config{
		Registry: m.reg,
		Radio:    config.Stack,
		Timers:   m.timers,
		Now:      config.Now,
		Log:      config.Log,
	})
	m.sched = scheduler.New(scheduler.Config{
		Registry:   m.reg,
		Radio:      config.Stack,
		Timers:     m.timers,
		MaxPending: config.MaxPending,
		Log:        config.Log,
	})
	m.ctl.SetPreemptHook(m.sched.PreemptLocked)
	m.auth = auth.New(auth.Config{
		Registry:        m.reg,
		Pairer:          config.Stack,
		Timers:          m.timers,
		ResponseTimeout: config.ResponseTimeout,
		Log:             config.Log,
	})
	m.sdp = sdp.New(sdp.Config{
		Registry: m.reg,
		Database: config.Stack,
		Log:      config.Log,
	})

	config.Stack.SetHandler(stackEvents{m})
	return m, nil
}

// Registry returns the device registry.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Controller returns the discovery, scan and advertising controller.
func (m *Manager) Controller() *controller.Controller { return m.ctl }

// Scheduler returns the interleaved advertisement scheduler.
func (m *Manager) Scheduler() *scheduler.Scheduler { return m.sched }

// Negotiator returns the pairing negotiator.
func (m *Manager) Negotiator() *auth.Negotiator { return m.auth }

// Records returns the service record manager.
func (m *Manager) Records() *sdp.Manager { return m.sdp }

// Dispatcher returns the event dispatcher.
func (m *Manager) Dispatcher() *Dispatcher { return m.dispatcher }

// Close stops timers and outbound queues and saves the directory.
func (m *Manager) Close() error {
	m.stack.SetHandler(nil)
	m.timers.Stop()
	m.dispatcher.Close()
	return m.reg.Save()
}

// Connect registers a new client connection.
func (m *Manager) Connect(c Conn) {
	m.dispatcher.AddConnection(c)
	m.log.WithField("conn", c.ConnID()).Debug("client connected")
}

// Disconnect drops a client connection and everything its callbacks
// owned.
func (m *Manager) Disconnect(connID string) {
	ids := m.dispatcher.RemoveConnection(connID)
	if len(ids) > 0 {
		m.removeOwners(ids...)
	}
	m.log.WithFields(logrus.Fields{"conn": connID, "callbacks": len(ids)}).Debug("client disconnected")
}

// removeOwners releases the jobs, handler slot, transient records and
// pending power-down acknowledgements of owners.
func (m *Manager) removeOwners(owners ...uint32) {
	m.reg.Acquire()
	var finished bool
	for _, owner := range owners {
		m.sched.RemoveOwnerLocked(owner)
		m.auth.RemoveOwnerLocked(owner)
		m.sdp.RemoveOwnerLocked(owner)
		if m.ackLocked(owner) {
			finished = true
		}
	}
	m.reg.Release()
	if finished {
		m.save()
	}
}

func (m *Manager) save() {
	if err := m.reg.Save(); err != nil {
		m.log.WithError(err).Warn("registry save failed")
	}
}

// stackEvents routes asynchronous stack results to the components.
type stackEvents struct {
	m *Manager
}

func (h stackEvents) InquiryResult(r stack.InquiryResult) {
	h.m.ctl.HandleInquiryResult(r)
}

func (h stackEvents) AdvertisingReport(r stack.AdvertisingReport) {
	h.m.ctl.HandleAdvertisingReport(r)
}

func (h stackEvents) AuthenticationRequest(info wire.AuthenticationInformation) {
	h.m.auth.HandleRequest(info)
}

func (h stackEvents) PairingComplete(r stack.PairingResult) {
	h.m.auth.HandlePairingComplete(r)
	h.m.save()
}

func (h stackEvents) ConnectionChanged(e stack.ConnectionEvent) {
	h.m.auth.HandleConnectionChanged(e)
}

func (h stackEvents) ServicesDiscovered(addr wire.BDAddr, le bool, services []uuid.UUID) {
	m := h.m
	m.reg.Acquire()
	err := m.reg.SetServicesLocked(addr, le, services)
	m.reg.Release()
	if err != nil {
		m.log.WithError(err).WithField("device", addr).Warn("discovered services dropped")
		return
	}
	m.save()
}

func stackError(op string, err error) error {
	var s wire.Status
	if errors.As(err, &s) {
		return err
	}
	if errors.Is(err, stack.ErrUnsupported) {
		return fmt.Errorf("%w: %s: %v", wire.StatusUnsupported, op, err)
	}
	return fmt.Errorf("%w: %s: %v", wire.StatusInternal, op, err)
}
