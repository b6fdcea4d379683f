package auth

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/wire"
)

// targetLocked resolves the device and transport of an address-based
// command. LE is used when requested or when the device is LE-only.
func (n *Negotiator) targetLocked(addr wire.BDAddr, flags wire.OperationFlags) (*wire.RemoteDevice, bool, error) {
	if err := n.reg.RequirePoweredLocked(); err != nil {
		return nil, false, err
	}
	d, ok := n.reg.DeviceLocked(addr)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", wire.StatusUnknownDevice, addr)
	}
	le := flags&wire.OpFlagLE != 0 || d.Flags.IsLEOnly()
	if le && !n.reg.FeatureActiveLocked(wire.FeatureLowEnergy) {
		return nil, false, fmt.Errorf("%w: low-energy feature disabled", wire.StatusUnsupported)
	}
	return d, le, nil
}

// Pair asks the stack to bond with addr. LE pairing needs an existing LE
// connection; without one Pair fails here and no status event follows.
func (n *Negotiator) Pair(addr wire.BDAddr, flags wire.OperationFlags) error {
	n.reg.Acquire()
	defer n.reg.Release()

	d, le, err := n.targetLocked(addr, flags)
	if err != nil {
		return err
	}
	if le && d.Flags&wire.RemoteFlagLEConnected == 0 {
		return fmt.Errorf("%w: %s has no LE connection", wire.StatusNotConnected, addr)
	}
	if s, ok := n.sessions[addr]; ok && (s.pairing || s.awaiting != 0) {
		return fmt.Errorf("%w: authentication with %s in progress", wire.StatusOperationInProgress, addr)
	}

	if err := n.pairer.Pair(addr, le); err != nil {
		return stackError("pair", err)
	}
	s := n.sessionLocked(addr, le)
	s.le = le
	s.pairing = true
	n.captureLocked(addr, "idle", "pairing", "")
	n.log.WithFields(logrus.Fields{"device": addr, "le": le}).Info("pairing started")
	return nil
}

// CancelPair aborts a pairing started with Pair.
func (n *Negotiator) CancelPair(addr wire.BDAddr) error {
	n.reg.Acquire()
	defer n.reg.Release()

	if err := n.reg.RequirePoweredLocked(); err != nil {
		return err
	}
	s, ok := n.sessions[addr]
	if !ok || !s.pairing {
		return fmt.Errorf("%w: no pairing with %s", wire.StatusInvalidParameter, addr)
	}
	if err := n.pairer.CancelPair(addr); err != nil {
		return stackError("cancel pair", err)
	}
	n.log.WithField("device", addr).Info("pairing cancel requested")
	return nil
}

// Unpair removes the bond with addr on the selected transport.
func (n *Negotiator) Unpair(addr wire.BDAddr, flags wire.OperationFlags) error {
	n.reg.Acquire()
	defer n.reg.Release()

	d, le, err := n.targetLocked(addr, flags)
	if err != nil {
		return err
	}
	bond := wire.RemoteFlagPaired
	if le {
		bond = wire.RemoteFlagLEPaired
	}
	if d.Flags&bond == 0 {
		return fmt.Errorf("%w: %s is not paired", wire.StatusInvalidParameter, addr)
	}
	if err := n.pairer.Unpair(addr, le); err != nil {
		return stackError("unpair", err)
	}
	return nil
}

// Connect asks the stack to connect to addr.
func (n *Negotiator) Connect(addr wire.BDAddr, flags wire.OperationFlags) error {
	n.reg.Acquire()
	defer n.reg.Release()

	_, le, err := n.targetLocked(addr, flags)
	if err != nil {
		return err
	}
	if err := n.pairer.Connect(addr, le); err != nil {
		return stackError("connect", err)
	}
	return nil
}

// Disconnect asks the stack to drop the link with addr.
func (n *Negotiator) Disconnect(addr wire.BDAddr, flags wire.OperationFlags) error {
	n.reg.Acquire()
	defer n.reg.Release()

	d, le, err := n.targetLocked(addr, flags)
	if err != nil {
		return err
	}
	link := wire.RemoteFlagConnected
	if le {
		link = wire.RemoteFlagLEConnected
	}
	if d.Flags&link == 0 {
		return fmt.Errorf("%w: %s", wire.StatusNotConnected, addr)
	}
	if err := n.pairer.Disconnect(addr, le); err != nil {
		return stackError("disconnect", err)
	}
	return nil
}

// QueryServices asks the stack to refresh the service list of addr.
func (n *Negotiator) QueryServices(addr wire.BDAddr, flags wire.OperationFlags) error {
	n.reg.Acquire()
	defer n.reg.Release()

	_, le, err := n.targetLocked(addr, flags)
	if err != nil {
		return err
	}
	if err := n.pairer.QueryServices(addr, le); err != nil {
		return stackError("query services", err)
	}
	return nil
}

// HandlePairingComplete ends the session of the result's device,
// updates its bond state and announces the outcome.
func (n *Negotiator) HandlePairingComplete(r stack.PairingResult) {
	n.reg.Acquire()
	defer n.reg.Release()

	if s, ok := n.sessions[r.Address]; ok {
		n.disarmLocked(s)
		delete(n.sessions, r.Address)
	}

	d, ok := n.reg.DeviceLocked(r.Address)
	if !ok {
		d = &wire.RemoteDevice{Address: r.Address, Flags: supportFlag(r.LE)}
		if err := n.reg.InsertLocked(d); err != nil {
			n.log.WithError(err).WithField("device", r.Address).Warn("no record for paired device")
			d = nil
		}
	}
	if d != nil && r.Success {
		bond, mask := wire.RemoteFlagPaired, wire.RemoteMaskPairingState
		if r.LE {
			bond, mask = wire.RemoteFlagLEPaired, wire.RemoteMaskLEPairingState
		}
		flags := d.Flags &^ bond
		if r.Paired {
			flags |= bond
		}
		if flags != d.Flags {
			d.Flags = flags
			n.reg.ChangedLocked(d, mask)
		}
	}

	outcome := "failed"
	if r.Success {
		outcome = "unpaired"
		if r.Paired {
			outcome = "paired"
		}
	}
	n.captureLocked(r.Address, "pairing", outcome, fmt.Sprintf("status 0x%02X", uint32(r.Status)))
	n.log.WithFields(logrus.Fields{"device": r.Address, "le": r.LE, "outcome": outcome}).Info("pairing finished")

	n.reg.BroadcastLocked(wire.Event{
		Function: wire.EventRemoteDevicePairingStatus,
		Body: &wire.PairingStatusEvent{
			Address:    r.Address,
			Success:    r.Success,
			Paired:     r.Paired,
			LE:         r.LE,
			AuthStatus: r.Status,
		},
	})
}

// HandleConnectionChanged records link and encryption state.
func (n *Negotiator) HandleConnectionChanged(e stack.ConnectionEvent) {
	n.reg.Acquire()
	defer n.reg.Release()

	link, enc := wire.RemoteFlagConnected, wire.RemoteFlagEncrypted
	linkMask, encMask := wire.RemoteMaskConnectionState, wire.RemoteMaskEncryptionState
	if e.LE {
		link, enc = wire.RemoteFlagLEConnected, wire.RemoteFlagLEEncrypted
		linkMask, encMask = wire.RemoteMaskLEConnectionState, wire.RemoteMaskLEEncryptionState
	}

	d, ok := n.reg.DeviceLocked(e.Address)
	if !ok {
		if !e.Connected {
			return
		}
		d = &wire.RemoteDevice{Address: e.Address, Flags: supportFlag(e.LE) | link}
		if e.Encrypted {
			d.Flags |= enc
		}
		if err := n.reg.InsertLocked(d); err != nil {
			n.log.WithError(err).WithField("device", e.Address).Warn("no record for connected device")
		}
		return
	}

	var mask wire.RemotePropertiesMask
	flags := d.Flags | supportFlag(e.LE)
	if e.Connected {
		flags |= link
	} else {
		flags &^= link
	}
	if e.Connected && e.Encrypted {
		flags |= enc
	} else {
		flags &^= enc
	}
	if flags&link != d.Flags&link {
		mask |= linkMask
	}
	if flags&enc != d.Flags&enc {
		mask |= encMask
	}
	if flags&^(link|enc) != d.Flags&^(link|enc) {
		mask |= wire.RemoteMaskDeviceFlags
	}
	d.Flags = flags
	n.reg.ChangedLocked(d, mask)
}

// AbortAllLocked drops every session when powering down. Pairings
// started with Pair are reported as failed.
func (n *Negotiator) AbortAllLocked() {
	for addr, s := range n.sessions {
		n.disarmLocked(s)
		delete(n.sessions, addr)
		if !s.pairing {
			continue
		}
		n.captureLocked(addr, "pairing", "failed", "power-off")
		n.reg.BroadcastLocked(wire.Event{
			Function: wire.EventRemoteDevicePairingStatus,
			Body:     &wire.PairingStatusEvent{Address: addr, LE: s.le},
		})
	}
}

// Sessions returns the number of open sessions.
func (n *Negotiator) Sessions() int {
	n.reg.Acquire()
	defer n.reg.Release()
	return len(n.sessions)
}

func supportFlag(le bool) wire.RemoteFlags {
	if le {
		return wire.RemoteFlagSupportsLE
	}
	return wire.RemoteFlagSupportsClassic
}
