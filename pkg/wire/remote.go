package wire

import (
	"strings"

	"github.com/google/uuid"
)

// Size limits of remote device fields.
const (
	MaxApplicationDataLength   = 512
	MaxAdvertisingReportLength = 31
)

// RemoteFlags describe the state of a remote device.
type RemoteFlags uint32

const (
	RemoteFlagPaired            RemoteFlags = 0x00000001
	RemoteFlagConnected         RemoteFlags = 0x00000002
	RemoteFlagEncrypted         RemoteFlags = 0x00000004
	RemoteFlagSniff             RemoteFlags = 0x00000008
	RemoteFlagServicesKnown     RemoteFlags = 0x00000010
	RemoteFlagTxPowerKnown      RemoteFlags = 0x00000020
	RemoteFlagEIRDataKnown      RemoteFlags = 0x00000040
	RemoteFlagLEPaired          RemoteFlags = 0x00000100
	RemoteFlagLEConnected       RemoteFlags = 0x00000200
	RemoteFlagLEEncrypted       RemoteFlags = 0x00000400
	RemoteFlagLEServicesKnown   RemoteFlags = 0x00000800
	RemoteFlagLETxPowerKnown    RemoteFlags = 0x00001000
	RemoteFlagLEAdvDataKnown    RemoteFlags = 0x00002000
	RemoteFlagSupportsLE        RemoteFlags = 0x00004000
	RemoteFlagSupportsClassic   RemoteFlags = 0x00008000
	RemoteFlagLastObservedKnown RemoteFlags = 0x00010000
)

var remoteFlagNames = []struct {
	flag RemoteFlags
	name string
}{
	{RemoteFlagPaired, "paired"},
	{RemoteFlagConnected, "connected"},
	{RemoteFlagEncrypted, "encrypted"},
	{RemoteFlagSniff, "sniff"},
	{RemoteFlagServicesKnown, "services"},
	{RemoteFlagTxPowerKnown, "tx-power"},
	{RemoteFlagEIRDataKnown, "eir"},
	{RemoteFlagLEPaired, "le-paired"},
	{RemoteFlagLEConnected, "le-connected"},
	{RemoteFlagLEEncrypted, "le-encrypted"},
	{RemoteFlagLEServicesKnown, "le-services"},
	{RemoteFlagLETxPowerKnown, "le-tx-power"},
	{RemoteFlagLEAdvDataKnown, "le-adv-data"},
	{RemoteFlagSupportsLE, "le"},
	{RemoteFlagSupportsClassic, "classic"},
	{RemoteFlagLastObservedKnown, "observed"},
}

// String returns the set flags separated by "|".
func (f RemoteFlags) String() string {
	var parts []string
	for _, n := range remoteFlagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// IsLEOnly reports whether the device supports LE and not BR/EDR.
func (f RemoteFlags) IsLEOnly() bool {
	return f&RemoteFlagSupportsLE != 0 && f&RemoteFlagSupportsClassic == 0
}

// IsClassicOnly reports whether the device supports BR/EDR and not LE.
func (f RemoteFlags) IsClassicOnly() bool {
	return f&RemoteFlagSupportsClassic != 0 && f&RemoteFlagSupportsLE == 0
}

// AnyPaired reports whether the device is paired over either transport.
func (f RemoteFlags) AnyPaired() bool {
	return f&(RemoteFlagPaired|RemoteFlagLEPaired) != 0
}

// AnyConnected reports whether the device is connected over either transport.
func (f RemoteFlags) AnyConnected() bool {
	return f&(RemoteFlagConnected|RemoteFlagLEConnected) != 0
}

// RemotePropertiesMask selects fields in RemoteDevicePropertiesChanged.
type RemotePropertiesMask uint32

const (
	RemoteMaskClassOfDevice          RemotePropertiesMask = 0x00000001
	RemoteMaskDeviceName             RemotePropertiesMask = 0x00000002
	RemoteMaskDeviceFlags            RemotePropertiesMask = 0x00000004
	RemoteMaskRSSI                   RemotePropertiesMask = 0x00000008
	RemoteMaskPairingState           RemotePropertiesMask = 0x00000010
	RemoteMaskConnectionState        RemotePropertiesMask = 0x00000020
	RemoteMaskEncryptionState        RemotePropertiesMask = 0x00000040
	RemoteMaskSniffState             RemotePropertiesMask = 0x00000080
	RemoteMaskServicesState          RemotePropertiesMask = 0x00000100
	RemoteMaskLERSSI                 RemotePropertiesMask = 0x00000200
	RemoteMaskLEPairingState         RemotePropertiesMask = 0x00000400
	RemoteMaskLEConnectionState      RemotePropertiesMask = 0x00000800
	RemoteMaskLEEncryptionState      RemotePropertiesMask = 0x00001000
	RemoteMaskPriorResolvableAddress RemotePropertiesMask = 0x00002000
	RemoteMaskAppearance             RemotePropertiesMask = 0x00004000
	RemoteMaskLEServicesState        RemotePropertiesMask = 0x00008000
	RemoteMaskApplicationData        RemotePropertiesMask = 0x00010000
	RemoteMaskLastObserved           RemotePropertiesMask = 0x00020000
	RemoteMaskTxPower                RemotePropertiesMask = 0x00040000
	RemoteMaskLETxPower              RemotePropertiesMask = 0x00080000
	RemoteMaskAdvertisingReport      RemotePropertiesMask = 0x00100000
)

// RemoteDevice is a record of the remote-device directory.
type RemoteDevice struct {
	Address                BDAddr
	ClassOfDevice          ClassOfDevice
	DeviceName             string
	Flags                  RemoteFlags
	RSSI                   int8
	TxPower                int8
	LERSSI                 int8
	LETxPower              int8
	LEAddressType          AddressType
	PriorResolvableAddress BDAddr
	Appearance             uint16
	// LastObserved is the time of the latest observation sighting in
	// milliseconds since the Unix epoch.
	LastObserved      int64
	AdvertisingReport []byte
	ApplicationData   []byte
	// Services is not part of the properties body; it is returned by
	// QueryRemoteDeviceServices.
	Services []uuid.UUID
}

// Clone returns a deep copy of d.
func (d *RemoteDevice) Clone() *RemoteDevice {
	c := *d
	c.AdvertisingReport = append([]byte(nil), d.AdvertisingReport...)
	c.ApplicationData = append([]byte(nil), d.ApplicationData...)
	c.Services = append([]uuid.UUID(nil), d.Services...)
	return &c
}

// encode writes the fixed part; ApplicationData is written by the
// enclosing message as its trailing array.
func (p *RemoteDevice) encode(e *encoder) {
	e.addr(p.Address)
	e.u32(uint32(p.ClassOfDevice))
	name := []byte(p.DeviceName)
	if len(name) > MaxDeviceNameLength {
		name = name[:MaxDeviceNameLength]
	}
	e.u32(uint32(len(name)))
	e.fixed(name, MaxDeviceNameLength)
	e.u32(uint32(p.Flags))
	e.u8(uint8(p.RSSI))
	e.u8(uint8(p.TxPower))
	e.u8(uint8(p.LERSSI))
	e.u8(uint8(p.LETxPower))
	e.u32(uint32(p.LEAddressType))
	e.addr(p.PriorResolvableAddress)
	e.u16(p.Appearance)
	e.pad(2)
	e.i64(p.LastObserved)
	report := p.AdvertisingReport
	if len(report) > MaxAdvertisingReportLength {
		report = report[:MaxAdvertisingReportLength]
	}
	e.u32(uint32(len(report)))
	e.fixed(report, MaxAdvertisingReportLength)
	e.pad(1)
}

func (p *RemoteDevice) decode(d *decoder) {
	p.Address = d.addr()
	p.ClassOfDevice = ClassOfDevice(d.u32())
	n := d.u32()
	p.DeviceName = string(d.fixedBytes(int(n), MaxDeviceNameLength))
	p.Flags = RemoteFlags(d.u32())
	p.RSSI = int8(d.u8())
	p.TxPower = int8(d.u8())
	p.LERSSI = int8(d.u8())
	p.LETxPower = int8(d.u8())
	p.LEAddressType = AddressType(d.u32())
	p.PriorResolvableAddress = d.addr()
	p.Appearance = d.u16()
	d.skip(2)
	p.LastObserved = d.i64()
	rn := d.u32()
	p.AdvertisingReport = d.fixedBytes(int(rn), MaxAdvertisingReportLength)
	if len(p.AdvertisingReport) == 0 {
		p.AdvertisingReport = nil
	}
	d.skip(1)
}

// DeviceFilter selects remote devices in list and bulk-delete commands.
// The low bits hold the base filter; the high bits exclude transports.
type DeviceFilter uint32

const (
	FilterAll                DeviceFilter = 0
	FilterCurrentlyConnected DeviceFilter = 1
	FilterCurrentlyPaired    DeviceFilter = 2
	FilterCurrentlyUnpaired  DeviceFilter = 3

	FilterExcludeLE      DeviceFilter = 0x40000000
	FilterExcludeClassic DeviceFilter = 0x80000000

	filterBaseMask = 0x0000FFFF
)

// Base returns the filter without exclusion bits.
func (f DeviceFilter) Base() DeviceFilter { return f & filterBaseMask }

// Valid reports whether f uses only known bits.
func (f DeviceFilter) Valid() bool {
	if f&^(filterBaseMask|FilterExcludeLE|FilterExcludeClassic) != 0 {
		return false
	}
	return f.Base() <= FilterCurrentlyUnpaired
}

// Match reports whether a device with the given flags passes the filter.
func (f DeviceFilter) Match(flags RemoteFlags) bool {
	if f&FilterExcludeLE != 0 && flags.IsLEOnly() {
		return false
	}
	if f&FilterExcludeClassic != 0 && flags.IsClassicOnly() {
		return false
	}
	switch f.Base() {
	case FilterCurrentlyConnected:
		return flags.AnyConnected()
	case FilterCurrentlyPaired:
		return flags.AnyPaired()
	case FilterCurrentlyUnpaired:
		return !flags.AnyPaired()
	default:
		return true
	}
}
