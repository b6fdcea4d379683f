package devm

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/devm-project/devm-go/pkg/wire"
)

// PowerOn brings the radio up. Powering on an enabled radio succeeds
// without an event.
func (m *Manager) PowerOn() error {
	m.reg.Acquire()
	defer m.reg.Release()

	switch m.reg.PowerStateLocked() {
	case wire.PowerEnabled:
		return nil
	case wire.PowerPreDisable:
		return fmt.Errorf("%w: powering off", wire.StatusOperationInProgress)
	}
	if err := m.stack.PowerOn(); err != nil {
		return stackError("power on", err)
	}
	if err := m.reg.SetPowerStateLocked(wire.PowerEnabled); err != nil {
		return err
	}
	m.reg.BroadcastLocked(wire.Event{Function: wire.EventDevicePoweredOn, Body: &wire.Empty{}})
	return nil
}

// PowerOff enters PreDisable and announces it. The radio goes down once
// every registered callback acknowledged or the ack timeout elapsed.
// Powering off a disabled radio succeeds without an event.
func (m *Manager) PowerOff() error {
	m.reg.Acquire()

	switch m.reg.PowerStateLocked() {
	case wire.PowerDisabled:
		m.reg.Release()
		return nil
	case wire.PowerPreDisable:
		m.reg.Release()
		return fmt.Errorf("%w: already powering off", wire.StatusOperationInProgress)
	}
	if err := m.reg.SetPowerStateLocked(wire.PowerPreDisable); err != nil {
		m.reg.Release()
		return err
	}
	m.reg.BroadcastLocked(wire.Event{
		Function: wire.EventDevicePoweringOff,
		Body:     &wire.PoweringOffEvent{AckTimeoutMS: uint32(m.ackTimeout.Milliseconds())},
	})

	callbacks := m.dispatcher.Callbacks()
	if len(callbacks) == 0 {
		m.finishPowerOffLocked("no callbacks")
		m.reg.Release()
		m.save()
		return nil
	}

	m.downGen++
	down := &powerDown{waiting: make(map[uint32]struct{}, len(callbacks)), gen: m.downGen}
	for _, id := range callbacks {
		down.waiting[id] = struct{}{}
	}
	gen := down.gen
	id, err := m.timers.AfterFunc(m.ackTimeout, func() { m.ackExpired(gen) })
	if err != nil {
		m.log.WithError(err).Warn("ack timer unavailable, powering off now")
		m.finishPowerOffLocked("no timer")
		m.reg.Release()
		m.save()
		return nil
	}
	down.timer = id
	down.hasTimer = true
	m.down = down
	m.log.WithFields(logrus.Fields{"callbacks": len(callbacks), "timeout": m.ackTimeout}).Info("waiting for power-down acknowledgements")
	m.reg.Release()
	return nil
}

// AcknowledgePowerDown records that owner is ready for power-off.
func (m *Manager) AcknowledgePowerDown(owner uint32) error {
	m.reg.Acquire()
	if m.reg.PowerStateLocked() != wire.PowerPreDisable || m.down == nil {
		m.reg.Release()
		return fmt.Errorf("%w: not powering off", wire.StatusInvalidParameter)
	}
	if _, ok := m.down.waiting[owner]; !ok {
		m.reg.Release()
		return nil
	}
	finished := m.ackLocked(owner)
	m.reg.Release()
	if finished {
		m.save()
	}
	return nil
}

// QueryPowerState returns the power state.
func (m *Manager) QueryPowerState() wire.PowerState {
	return m.reg.PowerState()
}

// ackLocked removes owner from the handshake and powers off when it was
// the last one. It reports whether the radio went down.
func (m *Manager) ackLocked(owner uint32) bool {
	if m.down == nil {
		return false
	}
	if _, ok := m.down.waiting[owner]; !ok {
		return false
	}
	delete(m.down.waiting, owner)
	if len(m.down.waiting) > 0 {
		return false
	}
	m.finishPowerOffLocked("acknowledged")
	return true
}

func (m *Manager) ackExpired(gen uint64) {
	m.reg.Acquire()
	if m.down == nil || m.down.gen != gen {
		m.reg.Release()
		return
	}
	m.down.hasTimer = false
	m.log.WithField("missing", len(m.down.waiting)).Warn("power-down acknowledgement timed out")
	m.finishPowerOffLocked("ack timeout")
	m.reg.Release()
	m.save()
}

// finishPowerOffLocked stops all activity and completes PreDisable to
// Disabled.
func (m *Manager) finishPowerOffLocked(reason string) {
	if m.down != nil {
		if m.down.hasTimer {
			m.timers.Cancel(m.down.timer)
		}
		m.down = nil
	}

	m.ctl.StopAllLocked("power off")
	m.sched.CancelAllLocked("power off")
	m.auth.AbortAllLocked()
	m.sdp.DeleteAllLocked()
	m.reg.PowerOffLocked()
	if err := m.stack.PowerOff(); err != nil {
		m.log.WithError(err).Warn("stack power off failed")
	}
	if err := m.reg.SetPowerStateLocked(wire.PowerDisabled); err != nil {
		m.log.WithError(err).Error("power state out of sequence")
	}
	m.log.WithField("reason", reason).Info("powered off")
	m.reg.BroadcastLocked(wire.Event{Function: wire.EventDevicePoweredOff, Body: &wire.Empty{}})
}
