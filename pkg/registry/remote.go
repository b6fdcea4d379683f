package registry

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/devm-project/devm-go/pkg/wire"
)

// RemoteDeviceList returns the number of devices matching filter and up
// to limit of their addresses in directory order.
func (r *Registry) RemoteDeviceList(filter wire.DeviceFilter, cod wire.ClassOfDevice, limit uint32) (uint32, []wire.BDAddr, error) {
	if !filter.Valid() {
		return 0, nil, fmt.Errorf("%w: filter 0x%08X", wire.StatusInvalidParameter, uint32(filter))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var total uint32
	var out []wire.BDAddr
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		d := pair.Value
		if !filter.Match(d.Flags) {
			continue
		}
		if cod != 0 && d.ClassOfDevice&cod != cod {
			continue
		}
		total++
		if uint32(len(out)) < limit {
			out = append(out, d.Address)
		}
	}
	return total, out, nil
}

// RemoteDevice returns a copy of the record for addr.
func (r *Registry) RemoteDevice(addr wire.BDAddr) (*wire.RemoteDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices.Get(addr)
	if !ok {
		return nil, unknownDevice(addr)
	}
	return d.Clone(), nil
}

// RemoteDeviceServices returns the number of known service class UUIDs
// and up to limit of them.
func (r *Registry) RemoteDeviceServices(addr wire.BDAddr, limit uint32) (uint32, []uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices.Get(addr)
	if !ok {
		return 0, nil, unknownDevice(addr)
	}
	total := uint32(len(d.Services))
	n := total
	if limit < n {
		n = limit
	}
	return total, append([]uuid.UUID(nil), d.Services[:n]...), nil
}

// RemoteDeviceCount returns the directory size.
func (r *Registry) RemoteDeviceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.Len()
}

// AddRemoteDevice creates a record for a device the client already knows.
func (r *Registry) AddRemoteDevice(addr wire.BDAddr, cod wire.ClassOfDevice, appData []byte) error {
	if addr.IsZero() {
		return fmt.Errorf("%w: zero address", wire.StatusInvalidParameter)
	}
	if !cod.Valid() {
		return fmt.Errorf("%w: class of device %s", wire.StatusInvalidParameter, cod)
	}
	if len(appData) > wire.MaxApplicationDataLength {
		return fmt.Errorf("%w: application data is %d bytes", wire.StatusInvalidParameter, len(appData))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices.Get(addr); ok {
		return fmt.Errorf("%w: device %s already known", wire.StatusInvalidParameter, addr)
	}
	d := &wire.RemoteDevice{
		Address:         addr,
		ClassOfDevice:   cod,
		ApplicationData: append([]byte(nil), appData...),
	}
	if cod != 0 {
		d.Flags |= wire.RemoteFlagSupportsClassic
	}
	return r.InsertLocked(d)
}

// DeleteRemoteDevice removes the record for addr.
func (r *Registry) DeleteRemoteDevice(addr wire.BDAddr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.DeleteLocked(addr) {
		return unknownDevice(addr)
	}
	return nil
}

// DeleteRemoteDevices removes every record matching filter and returns
// how many were removed.
func (r *Registry) DeleteRemoteDevices(filter wire.DeviceFilter) (int, error) {
	if !filter.Valid() {
		return 0, fmt.Errorf("%w: filter 0x%08X", wire.StatusInvalidParameter, uint32(filter))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.DeleteMatchingLocked(filter), nil
}

// UpdateApplicationData replaces the opaque per-device blob.
func (r *Registry) UpdateApplicationData(addr wire.BDAddr, data []byte) error {
	if len(data) > wire.MaxApplicationDataLength {
		return fmt.Errorf("%w: application data is %d bytes", wire.StatusInvalidParameter, len(data))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices.Get(addr)
	if !ok {
		return unknownDevice(addr)
	}
	d.ApplicationData = append([]byte(nil), data...)
	r.ChangedLocked(d, wire.RemoteMaskApplicationData)
	return nil
}

// DeviceLocked returns the live record for addr. Callers may mutate it
// while holding the lock and must announce changes with ChangedLocked.
func (r *Registry) DeviceLocked(addr wire.BDAddr) (*wire.RemoteDevice, bool) {
	return r.devices.Get(addr)
}

// InsertLocked adds d to the directory and announces it.
func (r *Registry) InsertLocked(d *wire.RemoteDevice) error {
	if _, ok := r.devices.Get(d.Address); ok {
		return fmt.Errorf("%w: device %s already known", wire.StatusInvalidParameter, d.Address)
	}
	if r.devices.Len() >= r.config.MaxRemoteDevices {
		return fmt.Errorf("%w: directory holds %d devices", wire.StatusInsufficientResources, r.devices.Len())
	}
	r.devices.Set(d.Address, d)
	r.log.WithField("device", d.Address).Debug("remote device added")
	r.BroadcastLocked(wire.Event{
		Function: wire.EventRemoteDeviceFound,
		Body:     &wire.RemoteDeviceFoundEvent{Device: *d.Clone()},
	})
	return nil
}

// ChangedLocked announces that the fields in mask of d changed.
func (r *Registry) ChangedLocked(d *wire.RemoteDevice, mask wire.RemotePropertiesMask) {
	if mask == 0 {
		return
	}
	r.BroadcastLocked(wire.Event{
		Function: wire.EventRemoteDevicePropertiesChanged,
		Body:     &wire.RemotePropertiesChangedEvent{Mask: mask, Device: *d.Clone()},
	})
}

// DeleteLocked removes addr and announces it. It reports whether a
// record existed.
func (r *Registry) DeleteLocked(addr wire.BDAddr) bool {
	if _, ok := r.devices.Delete(addr); !ok {
		return false
	}
	r.log.WithField("device", addr).Debug("remote device deleted")
	r.BroadcastLocked(wire.Event{
		Function: wire.EventRemoteDeviceDeleted,
		Body:     &wire.RemoteDeviceDeletedEvent{Address: addr},
	})
	return true
}

// DeleteMatchingLocked removes every record matching filter.
func (r *Registry) DeleteMatchingLocked(filter wire.DeviceFilter) int {
	var victims []wire.BDAddr
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		if filter.Match(pair.Value.Flags) {
			victims = append(victims, pair.Key)
		}
	}
	for _, addr := range victims {
		r.DeleteLocked(addr)
	}
	return len(victims)
}

// ForEachLocked calls fn for every record in directory order until fn
// returns false. fn must not insert or delete records.
func (r *Registry) ForEachLocked(fn func(d *wire.RemoteDevice) bool) {
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Value) {
			return
		}
	}
}

// SetServicesLocked merges discovered service classes into the record
// for addr, creating it when unknown.
func (r *Registry) SetServicesLocked(addr wire.BDAddr, le bool, services []uuid.UUID) error {
	flag, mask := wire.RemoteFlagServicesKnown, wire.RemoteMaskServicesState
	if le {
		flag, mask = wire.RemoteFlagLEServicesKnown, wire.RemoteMaskLEServicesState
	}

	d, ok := r.devices.Get(addr)
	if !ok {
		d = &wire.RemoteDevice{Address: addr, Flags: flag, Services: append([]uuid.UUID(nil), services...)}
		if le {
			d.Flags |= wire.RemoteFlagSupportsLE
		} else {
			d.Flags |= wire.RemoteFlagSupportsClassic
		}
		return r.InsertLocked(d)
	}

	added := false
	for _, u := range services {
		if !slices.Contains(d.Services, u) {
			d.Services = append(d.Services, u)
			added = true
		}
	}
	if d.Flags&flag != 0 && !added {
		return nil
	}
	d.Flags |= flag
	r.ChangedLocked(d, mask)
	return nil
}

const linkFlags = wire.RemoteFlagConnected | wire.RemoteFlagEncrypted | wire.RemoteFlagSniff |
	wire.RemoteFlagLEConnected | wire.RemoteFlagLEEncrypted

// PowerOffLocked drops link state of every record, or the whole
// directory when DeleteOnPowerOff is set.
func (r *Registry) PowerOffLocked() {
	if r.config.DeleteOnPowerOff {
		n := r.DeleteMatchingLocked(wire.FilterAll)
		r.log.WithField("count", n).Debug("directory cleared on power-off")
		return
	}
	r.ForEachLocked(func(d *wire.RemoteDevice) bool {
		if d.Flags&linkFlags == 0 {
			return true
		}
		var mask wire.RemotePropertiesMask
		if d.Flags&wire.RemoteFlagConnected != 0 {
			mask |= wire.RemoteMaskConnectionState
		}
		if d.Flags&wire.RemoteFlagEncrypted != 0 {
			mask |= wire.RemoteMaskEncryptionState
		}
		if d.Flags&wire.RemoteFlagSniff != 0 {
			mask |= wire.RemoteMaskSniffState
		}
		if d.Flags&wire.RemoteFlagLEConnected != 0 {
			mask |= wire.RemoteMaskLEConnectionState
		}
		if d.Flags&wire.RemoteFlagLEEncrypted != 0 {
			mask |= wire.RemoteMaskLEEncryptionState
		}
		d.Flags &^= linkFlags
		r.ChangedLocked(d, mask)
		return true
	})
}

func unknownDevice(addr wire.BDAddr) error {
	return fmt.Errorf("%w: %s", wire.StatusUnknownDevice, addr)
}
