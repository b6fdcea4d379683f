package controller

import (
	"fmt"

	"github.com/devm-project/devm-go/pkg/registry"
	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/wire"
)

// Advertising data structure types added on request.
const (
	adTypeFlags        = 0x01
	adTypeCompleteName = 0x09
	adTypeAppearance   = 0x19

	// LE General Discoverable, BR/EDR not supported.
	adFlagsDiscoverable = 0x06
)

const knownAdvertisingFlags = wire.AdvFlagUsePublicAddress | wire.AdvFlagDiscoverable |
	wire.AdvFlagConnectable | wire.AdvFlagAdvertiseName | wire.AdvFlagAdvertiseTxPower |
	wire.AdvFlagAdvertiseAppearance

// StartAdvertising starts controller-driven advertising. It claims the
// radio, so it fails with RadioBusy while a scheduler job transmits.
// Zero duration advertises until stopped.
func (c *Controller) StartAdvertising(req wire.StartAdvertisingRequest) error {
	c.reg.Acquire()
	defer c.reg.Release()

	if err := c.checkStartLocked(ModeAdvertising, true); err != nil {
		return err
	}
	if req.Flags&^knownAdvertisingFlags != 0 {
		return fmt.Errorf("%w: advertising flags 0x%X", wire.StatusInvalidParameter, uint32(req.Flags))
	}
	params, err := c.advertisingParamsLocked(req)
	if err != nil {
		return err
	}
	if err := c.reg.ClaimRadioLocked(registry.RadioController); err != nil {
		return err
	}
	if err := c.radio.StartAdvertising(params); err != nil {
		c.reg.ReleaseRadioLocked(registry.RadioController)
		return stackError("start advertising", err)
	}
	c.activateLocked(ModeAdvertising, seconds(req.DurationSeconds))
	return nil
}

// StopAdvertising stops controller advertising. With force and no
// controller advertising running, a scheduler job holding the radio is
// stopped instead.
func (c *Controller) StopAdvertising(force bool) error {
	c.reg.Acquire()
	defer c.reg.Release()

	if c.modes[ModeAdvertising].active {
		c.stopLocked(ModeAdvertising, "stopped")
		return nil
	}
	if force && c.reg.RadioOwnerLocked() == registry.RadioScheduler && c.preempt != nil {
		if c.preempt() {
			c.log.Info("scheduler job preempted by forced stop")
		}
	}
	return nil
}

func (c *Controller) advertisingParamsLocked(req wire.StartAdvertisingRequest) (stack.AdvertisingParams, error) {
	local := c.reg.LocalPropertiesLocked()

	p := stack.AdvertisingParams{
		Address:        local.LEAddress,
		Connectable:    req.Flags&wire.AdvFlagConnectable != 0,
		Discoverable:   req.Flags&wire.AdvFlagDiscoverable != 0,
		IncludeTxPower: req.Flags&wire.AdvFlagAdvertiseTxPower != 0,
	}
	if req.Flags&wire.AdvFlagUsePublicAddress != 0 {
		p.Address = local.Address
	}

	var data []byte
	if p.Discoverable {
		data = append(data, 2, adTypeFlags, adFlagsDiscoverable)
	}
	if req.Flags&wire.AdvFlagAdvertiseName != 0 && local.DeviceName != "" {
		data = append(data, byte(len(local.DeviceName)+1), adTypeCompleteName)
		data = append(data, local.DeviceName...)
	}
	if req.Flags&wire.AdvFlagAdvertiseAppearance != 0 {
		data = append(data, 3, adTypeAppearance, byte(local.Appearance), byte(local.Appearance>>8))
	}
	data = append(data, req.Data...)
	if len(data) > wire.MaxAdvertisingDataLength {
		return p, fmt.Errorf("%w: advertising data is %d bytes, limit %d",
			wire.StatusInvalidParameter, len(data), wire.MaxAdvertisingDataLength)
	}
	p.Data = data
	return p, nil
}
