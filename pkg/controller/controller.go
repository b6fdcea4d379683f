package controller

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

// Mode is one of the controller state machines.
type Mode uint8

const (
	ModeInquiry Mode = iota
	ModeLEScan
	ModeObservation
	ModeAdvertising

	modeCount
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeInquiry:
		return "inquiry"
	case ModeLEScan:
		return "le-scan"
	case ModeObservation:
		return "observation"
	case ModeAdvertising:
		return "advertising"
	default:
		return "unknown"
	}
}

// flag returns the local flag bit set while m is active.
func (m Mode) flag() wire.LocalFlags {
	switch m {
	case ModeInquiry:
		return wire.LocalFlagDiscoveryInProgress
	case ModeLEScan:
		return wire.LocalFlagLEScanInProgress
	case ModeObservation:
		return wire.LocalFlagObservationScanInProgress
	case ModeAdvertising:
		return wire.LocalFlagLEAdvertisingInProgress
	}
	return 0
}

// events returns the Started and Stopped event ids of m.
func (m Mode) events() (started, stopped wire.Function) {
	switch m {
	case ModeInquiry:
		return wire.EventDiscoveryStarted, wire.EventDiscoveryStopped
	case ModeLEScan:
		return wire.EventLEScanStarted, wire.EventLEScanStopped
	case ModeObservation:
		return wire.EventObservationScanStarted, wire.EventObservationScanStopped
	default:
		return wire.EventAdvertisingStarted, wire.EventAdvertisingStopped
	}
}

// Config configures a Controller.
type Config struct {
	// Registry holds the lock and the directory.
	Registry *registry.Registry

	// Radio is the stack engine.
	Radio stack.Radio

	// Timers arms mode durations.
	Timers *timer.Facility

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Log is the operational logger (optional).
	Log logrus.FieldLogger
}

type modeState struct {
	active   bool
	gen      uint64
	timer    timer.ID
	hasTimer bool
}

// Controller owns the four radio activity modes.
type Controller struct {
	reg    *registry.Registry
	radio  stack.Radio
	timers *timer.Facility
	now    func() time.Time
	log    logrus.FieldLogger

	modes    [modeCount]modeState
	scanners int
	obs      observation
	preempt  func() bool
}

// New creates a controller with every mode idle.
func New(config Config) *Controller {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Log == nil {
		config.Log = logrus.StandardLogger()
	}
	return &Controller{
		reg:    config.Registry,
		radio:  config.Radio,
		timers: config.Timers,
		now:    config.Now,
		log:    config.Log.WithField("component", "controller"),
	}
}

// SetPreemptHook installs the function a forced StopAdvertising calls
// when a scheduler job holds the radio. It runs under the registry lock
// and reports whether a job was stopped.
func (c *Controller) SetPreemptHook(fn func() bool) {
	c.reg.Acquire()
	defer c.reg.Release()
	c.preempt = fn
}

// Active reports whether m is running.
func (c *Controller) Active(m Mode) bool {
	c.reg.Acquire()
	defer c.reg.Release()
	return c.ActiveLocked(m)
}

// ActiveLocked reports whether m is running.
func (c *Controller) ActiveLocked(m Mode) bool {
	return c.modes[m].active
}

// StopAllLocked stops every active mode. Used when powering down.
func (c *Controller) StopAllLocked(reason string) {
	for m := Mode(0); m < modeCount; m++ {
		if c.modes[m].active {
			c.stopLocked(m, reason)
		}
	}
}

// checkStartLocked applies the rules shared by every Start operation.
func (c *Controller) checkStartLocked(m Mode, needLE bool) error {
	if err := c.reg.RequirePoweredLocked(); err != nil {
		return err
	}
	if needLE && !c.reg.FeatureActiveLocked(wire.FeatureLowEnergy) {
		return fmt.Errorf("%w: %s requires the low-energy feature", wire.StatusUnsupported, m)
	}
	if c.modes[m].active {
		return fmt.Errorf("%w: %s already active", wire.StatusOperationInProgress, m)
	}
	return nil
}

// activateLocked marks m active, arms its duration and announces it.
func (c *Controller) activateLocked(m Mode, d time.Duration) {
	st := &c.modes[m]
	st.active = true
	st.gen++
	st.hasTimer = false

	if d > 0 {
		gen := st.gen
		id, err := c.timers.AfterFunc(d, func() { c.expire(m, gen) })
		if err != nil {
			c.log.WithError(err).WithField("mode", m).Warn("failed to arm duration timer")
		} else {
			st.timer = id
			st.hasTimer = true
		}
	}

	started, _ := m.events()
	c.reg.SetLocalFlagsLocked(m.flag(), 0)
	c.reg.BroadcastLocked(wire.Event{Function: started, Body: &wire.Empty{}})
	c.reg.CaptureState(log.StateEntityRadioMode, m.String()+":idle", m.String()+":active", "")
	c.log.WithFields(logrus.Fields{"mode": m, "duration": d}).Info("mode started")
}

// stopLocked tears m down. The caller has checked that m is active.
func (c *Controller) stopLocked(m Mode, reason string) {
	st := &c.modes[m]
	if st.hasTimer {
		c.timers.Cancel(st.timer)
		st.hasTimer = false
	}
	st.active = false
	st.gen++

	switch m {
	case ModeInquiry:
		c.stackCall("stop inquiry", c.radio.StopInquiry())
	case ModeLEScan:
		c.releaseScannerLocked()
		c.reg.ReleaseRadioLocked(registry.RadioController)
	case ModeObservation:
		c.releaseScannerLocked()
		c.obs.reset()
	case ModeAdvertising:
		c.stackCall("stop advertising", c.radio.StopAdvertising())
		c.reg.ReleaseRadioLocked(registry.RadioController)
	}

	_, stopped := m.events()
	c.reg.SetLocalFlagsLocked(0, m.flag())
	c.reg.BroadcastLocked(wire.Event{Function: stopped, Body: &wire.Empty{}})
	c.reg.CaptureState(log.StateEntityRadioMode, m.String()+":active", m.String()+":idle", reason)
	c.log.WithFields(logrus.Fields{"mode": m, "reason": reason}).Info("mode stopped")
}

func (c *Controller) expire(m Mode, gen uint64) {
	c.reg.Acquire()
	defer c.reg.Release()

	st := &c.modes[m]
	if !st.active || st.gen != gen {
		return
	}
	st.hasTimer = false
	c.stopLocked(m, "timeout")
}

// stop is the shared body of the Stop operations. Stopping an idle mode
// succeeds without an event.
func (c *Controller) stop(m Mode) error {
	c.reg.Acquire()
	defer c.reg.Release()

	if !c.modes[m].active {
		return nil
	}
	c.stopLocked(m, "stopped")
	return nil
}

func (c *Controller) acquireScannerLocked(p stack.ScanParams) error {
	if c.scanners == 0 {
		if err := c.radio.StartLEScan(p); err != nil {
			return stackError("start LE scan", err)
		}
	}
	c.scanners++
	return nil
}

func (c *Controller) releaseScannerLocked() {
	if c.scanners == 0 {
		return
	}
	c.scanners--
	if c.scanners == 0 {
		c.stackCall("stop LE scan", c.radio.StopLEScan())
	}
}

// stackCall logs a failed teardown call. Teardown proceeds regardless.
func (c *Controller) stackCall(op string, err error) {
	if err != nil {
		c.log.WithError(err).Warnf("stack %s failed", op)
	}
}

// stackError maps a stack failure to a status error.
func stackError(op string, err error) error {
	if errors.Is(err, stack.ErrUnsupported) {
		return fmt.Errorf("%w: %s: %v", wire.StatusUnsupported, op, err)
	}
	return fmt.Errorf("%w: %s: %v", wire.StatusInternal, op, err)
}

func seconds(s uint32) time.Duration {
	return time.Duration(s) * time.Second
}
