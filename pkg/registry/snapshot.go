package registry

import (
	"github.com/sirupsen/logrus"

	"github.com/devm-project/devm-go/pkg/persistence"
	"github.com/devm-project/devm-go/pkg/wire"
)

const bondFlags = wire.RemoteFlagPaired | wire.RemoteFlagLEPaired

const persistedFlags = bondFlags | wire.RemoteFlagSupportsLE | wire.RemoteFlagSupportsClassic |
	wire.RemoteFlagServicesKnown | wire.RemoteFlagLEServicesKnown

// Restore loads bonded devices and local settings from the store. It is
// a no-op without a store or state file and emits no events.
func (r *Registry) Restore() error {
	if r.config.Store == nil {
		return nil
	}
	state, err := r.config.Store.Load()
	if err != nil || state == nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if state.Local.DeviceName != "" {
		r.local.DeviceName = state.Local.DeviceName
	}
	if state.Local.ClassOfDevice != 0 {
		r.local.ClassOfDevice = state.Local.ClassOfDevice
	}
	if state.Local.Appearance != 0 {
		r.local.Appearance = state.Local.Appearance
	}

	for _, rec := range state.Devices {
		if r.devices.Len() >= r.config.MaxRemoteDevices {
			break
		}
		if _, ok := r.devices.Get(rec.Address); ok {
			continue
		}
		r.devices.Set(rec.Address, &wire.RemoteDevice{
			Address:         rec.Address,
			ClassOfDevice:   rec.ClassOfDevice,
			DeviceName:      rec.DeviceName,
			Flags:           rec.Flags & persistedFlags,
			LEAddressType:   rec.LEAddressType,
			Appearance:      rec.Appearance,
			ApplicationData: rec.ApplicationData,
			Services:        rec.Services,
		})
	}
	r.log.WithFields(logrus.Fields{"devices": r.devices.Len(), "path": r.config.Store.Path()}).
		Info("registry restored")
	return nil
}

// Save writes bonded devices and local settings to the store.
func (r *Registry) Save() error {
	if r.config.Store == nil {
		return nil
	}

	r.mu.Lock()
	state := &persistence.RegistryState{
		Local: persistence.LocalState{
			DeviceName:    r.local.DeviceName,
			ClassOfDevice: r.local.ClassOfDevice,
			Appearance:    r.local.Appearance,
		},
	}
	r.ForEachLocked(func(d *wire.RemoteDevice) bool {
		if d.Flags&bondFlags == 0 {
			return true
		}
		state.Devices = append(state.Devices, persistence.DeviceRecord{
			Address:         d.Address,
			ClassOfDevice:   d.ClassOfDevice,
			DeviceName:      d.DeviceName,
			Flags:           d.Flags & persistedFlags,
			LEAddressType:   d.LEAddressType,
			Appearance:      d.Appearance,
			ApplicationData: append([]byte(nil), d.ApplicationData...),
			Services:        append(d.Services[:0:0], d.Services...),
		})
		return true
	})
	r.mu.Unlock()

	return r.config.Store.Save(state)
}
