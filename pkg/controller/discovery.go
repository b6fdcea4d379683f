package controller

import (
	"github.com/devm-project/devm-go/pkg/registry"
	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/wire"
)

// StartDeviceDiscovery starts a classic inquiry. Zero runs until
// stopped.
func (c *Controller) StartDeviceDiscovery(durationSeconds uint32) error {
	c.reg.Acquire()
	defer c.reg.Release()

	if err := c.checkStartLocked(ModeInquiry, false); err != nil {
		return err
	}
	if err := c.radio.StartInquiry(); err != nil {
		return stackError("start inquiry", err)
	}
	c.activateLocked(ModeInquiry, seconds(durationSeconds))
	return nil
}

// StopDeviceDiscovery ends a running inquiry.
func (c *Controller) StopDeviceDiscovery() error {
	return c.stop(ModeInquiry)
}

// StartLEScan starts an LE scan. Zero runs until stopped. The scan holds
// a controller claim on the radio, so it is refused while a scheduler
// job transmits.
func (c *Controller) StartLEScan(durationSeconds uint32) error {
	c.reg.Acquire()
	defer c.reg.Release()

	if err := c.checkStartLocked(ModeLEScan, true); err != nil {
		return err
	}
	if err := c.reg.ClaimRadioLocked(registry.RadioController); err != nil {
		return err
	}
	if err := c.acquireScannerLocked(stack.ScanParams{Active: true}); err != nil {
		c.reg.ReleaseRadioLocked(registry.RadioController)
		return err
	}
	c.activateLocked(ModeLEScan, seconds(durationSeconds))
	return nil
}

// StopLEScan ends a running LE scan.
func (c *Controller) StopLEScan() error {
	return c.stop(ModeLEScan)
}

// StopLELocked stops every LE mode. Used when the low-energy feature is
// disabled.
func (c *Controller) StopLELocked(reason string) {
	for _, m := range []Mode{ModeLEScan, ModeObservation, ModeAdvertising} {
		if c.modes[m].active {
			c.stopLocked(m, reason)
		}
	}
}

// HandleInquiryResult merges an inquiry result into the directory.
// Results arriving while no inquiry runs are dropped.
func (c *Controller) HandleInquiryResult(r stack.InquiryResult) {
	c.reg.Acquire()
	defer c.reg.Release()

	if !c.modes[ModeInquiry].active {
		return
	}

	d, ok := c.reg.DeviceLocked(r.Address)
	if !ok {
		d = &wire.RemoteDevice{
			Address:       r.Address,
			ClassOfDevice: r.ClassOfDevice,
			DeviceName:    r.Name,
			RSSI:          r.RSSI,
			Flags:         wire.RemoteFlagSupportsClassic,
		}
		if r.EIR {
			d.Flags |= wire.RemoteFlagEIRDataKnown
		}
		if err := c.reg.InsertLocked(d); err != nil {
			c.log.WithError(err).WithField("device", r.Address).Debug("inquiry result dropped")
		}
		return
	}

	var mask wire.RemotePropertiesMask
	if d.ClassOfDevice != r.ClassOfDevice {
		d.ClassOfDevice = r.ClassOfDevice
		mask |= wire.RemoteMaskClassOfDevice
	}
	if r.Name != "" && d.DeviceName != r.Name {
		d.DeviceName = r.Name
		mask |= wire.RemoteMaskDeviceName
	}
	if d.RSSI != r.RSSI {
		d.RSSI = r.RSSI
		mask |= wire.RemoteMaskRSSI
	}
	flags := d.Flags | wire.RemoteFlagSupportsClassic
	if r.EIR {
		flags |= wire.RemoteFlagEIRDataKnown
	}
	if flags != d.Flags {
		d.Flags = flags
		mask |= wire.RemoteMaskDeviceFlags
	}
	c.reg.ChangedLocked(d, mask)
}
