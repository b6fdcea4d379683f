package registry

import (
	"fmt"

	"github.com/devm-project/devm-go/pkg/wire"
)

// LocalProperties returns a snapshot of the local device properties.
func (r *Registry) LocalProperties() wire.LocalProperties {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// LocalPropertiesLocked returns a snapshot of the local device properties.
func (r *Registry) LocalPropertiesLocked() wire.LocalProperties {
	return r.local
}

// UpdateLocalProperties applies the masked fields of props.
func (r *Registry) UpdateLocalProperties(mask wire.LocalPropertiesMask, props wire.LocalProperties) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.UpdateLocalPropertiesLocked(mask, props)
}

// UpdateLocalPropertiesLocked applies the masked fields of props and
// announces the change with the same mask.
func (r *Registry) UpdateLocalPropertiesLocked(mask wire.LocalPropertiesMask, props wire.LocalProperties) error {
	if err := validateLocalUpdate(mask, props); err != nil {
		return err
	}

	next := r.local
	if mask&wire.LocalMaskClassOfDevice != 0 {
		next.ClassOfDevice = props.ClassOfDevice
	}
	if mask&wire.LocalMaskDeviceName != 0 {
		next.DeviceName = props.DeviceName
	}
	if mask&wire.LocalMaskDiscoverableMode != 0 {
		next.DiscoverableMode = props.DiscoverableMode
		next.DiscoverableTimeout = props.DiscoverableTimeout
	}
	if mask&wire.LocalMaskConnectableMode != 0 {
		next.ConnectableMode = props.ConnectableMode
		next.ConnectableTimeout = props.ConnectableTimeout
	}
	if mask&wire.LocalMaskPairableMode != 0 {
		next.PairableMode = props.PairableMode
		next.PairableTimeout = props.PairableTimeout
	}
	if mask&wire.LocalMaskAppearance != 0 {
		next.Appearance = props.Appearance
	}

	if r.applier != nil {
		if err := r.applier(mask, next); err != nil {
			return fmt.Errorf("apply local properties: %w", err)
		}
	}

	r.local = next
	r.emitLocalChangedLocked(mask)
	return nil
}

func validateLocalUpdate(mask wire.LocalPropertiesMask, p wire.LocalProperties) error {
	if mask == 0 || mask&^wire.LocalMaskUpdatable != 0 {
		return fmt.Errorf("%w: mask 0x%08X", wire.StatusInvalidParameter, uint32(mask))
	}
	if mask&wire.LocalMaskClassOfDevice != 0 && !p.ClassOfDevice.Valid() {
		return fmt.Errorf("%w: class of device %s", wire.StatusInvalidParameter, p.ClassOfDevice)
	}
	if mask&wire.LocalMaskDeviceName != 0 && len(p.DeviceName) > wire.MaxDeviceNameLength {
		return fmt.Errorf("%w: name is %d bytes", wire.StatusInvalidParameter, len(p.DeviceName))
	}
	if mask&wire.LocalMaskDiscoverableMode != 0 && p.DiscoverableMode > wire.GeneralDiscoverable {
		return fmt.Errorf("%w: discoverable mode %d", wire.StatusInvalidParameter, p.DiscoverableMode)
	}
	if mask&wire.LocalMaskConnectableMode != 0 && p.ConnectableMode > wire.Connectable {
		return fmt.Errorf("%w: connectable mode %d", wire.StatusInvalidParameter, p.ConnectableMode)
	}
	if mask&wire.LocalMaskPairableMode != 0 && p.PairableMode > wire.PairableSecureSimplePairing {
		return fmt.Errorf("%w: pairable mode %d", wire.StatusInvalidParameter, p.PairableMode)
	}
	return nil
}

// SetLocalFlagsLocked sets and clears local flag bits and announces a
// DeviceFlags change if the flags moved.
func (r *Registry) SetLocalFlagsLocked(set, clear wire.LocalFlags) {
	next := (r.local.Flags | set) &^ clear
	if next == r.local.Flags {
		return
	}
	r.local.Flags = next
	r.emitLocalChangedLocked(wire.LocalMaskDeviceFlags)
}

// LocalFlagsLocked returns the local flag bits.
func (r *Registry) LocalFlagsLocked() wire.LocalFlags {
	return r.local.Flags
}

func (r *Registry) emitLocalChangedLocked(mask wire.LocalPropertiesMask) {
	r.BroadcastLocked(wire.Event{
		Function: wire.EventLocalPropertiesChanged,
		Body:     &wire.LocalPropertiesChangedEvent{Mask: mask, Properties: r.local},
	})
}
