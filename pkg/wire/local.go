package wire

import "strings"

// MaxDeviceNameLength is the longest device name in bytes.
const MaxDeviceNameLength = 248

// DiscoverableMode controls inquiry scan.
type DiscoverableMode uint32

const (
	NonDiscoverable     DiscoverableMode = 0
	LimitedDiscoverable DiscoverableMode = 1
	GeneralDiscoverable DiscoverableMode = 2
)

// ConnectableMode controls page scan.
type ConnectableMode uint32

const (
	NonConnectable ConnectableMode = 0
	Connectable    ConnectableMode = 1
)

// PairableMode controls whether pairing requests are accepted.
type PairableMode uint32

const (
	NonPairable                 PairableMode = 0
	Pairable                    PairableMode = 1
	PairableSecureSimplePairing PairableMode = 2
)

// LocalFlags are the dynamic state bits of the local device.
type LocalFlags uint32

const (
	LocalFlagDiscoveryInProgress       LocalFlags = 0x00000001
	LocalFlagLEScanInProgress          LocalFlags = 0x00000002
	LocalFlagLEAdvertisingInProgress   LocalFlags = 0x00000004
	LocalFlagLERoleCentral             LocalFlags = 0x00000008
	LocalFlagSupportsLE                LocalFlags = 0x00000010
	LocalFlagSupportsANTPlus           LocalFlags = 0x00000020
	LocalFlagInterleavedScheduling     LocalFlags = 0x00000040
	LocalFlagObservationScanInProgress LocalFlags = 0x00000080
)

var localFlagNames = []struct {
	flag LocalFlags
	name string
}{
	{LocalFlagDiscoveryInProgress, "discovery"},
	{LocalFlagLEScanInProgress, "le-scan"},
	{LocalFlagLEAdvertisingInProgress, "advertising"},
	{LocalFlagLERoleCentral, "central"},
	{LocalFlagSupportsLE, "le"},
	{LocalFlagSupportsANTPlus, "ant+"},
	{LocalFlagInterleavedScheduling, "interleaved"},
	{LocalFlagObservationScanInProgress, "observation"},
}

// String returns the set flags separated by "|".
func (f LocalFlags) String() string {
	var parts []string
	for _, n := range localFlagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// LocalPropertiesMask selects fields of LocalProperties in updates and
// change events.
type LocalPropertiesMask uint32

const (
	LocalMaskClassOfDevice    LocalPropertiesMask = 0x00000001
	LocalMaskDeviceName       LocalPropertiesMask = 0x00000002
	LocalMaskDiscoverableMode LocalPropertiesMask = 0x00000004
	LocalMaskConnectableMode  LocalPropertiesMask = 0x00000008
	LocalMaskPairableMode     LocalPropertiesMask = 0x00000010
	LocalMaskDeviceFlags      LocalPropertiesMask = 0x00000020
	LocalMaskLEAddress        LocalPropertiesMask = 0x00000040
	LocalMaskAppearance       LocalPropertiesMask = 0x00000080
)

// LocalMaskUpdatable is the set of fields UpdateLocalProperties may change.
const LocalMaskUpdatable = LocalMaskClassOfDevice | LocalMaskDeviceName |
	LocalMaskDiscoverableMode | LocalMaskConnectableMode | LocalMaskPairableMode | LocalMaskAppearance

// LocalProperties describes the local radio.
type LocalProperties struct {
	Address             BDAddr
	ClassOfDevice       ClassOfDevice
	DeviceName          string
	DiscoverableMode    DiscoverableMode
	DiscoverableTimeout uint32
	ConnectableMode     ConnectableMode
	ConnectableTimeout  uint32
	PairableMode        PairableMode
	PairableTimeout     uint32
	LEAddressType       AddressType
	LEAddress           BDAddr
	Appearance          uint16
	Flags               LocalFlags
}

// localPropertiesSize is the encoded size of LocalProperties.
const localPropertiesSize = 8 + 4 + 4 + MaxDeviceNameLength + 6*4 + 4 + 8 + 4 + 4

func (p *LocalProperties) encode(e *encoder) {
	e.addr(p.Address)
	e.u32(uint32(p.ClassOfDevice))
	name := []byte(p.DeviceName)
	if len(name) > MaxDeviceNameLength {
		name = name[:MaxDeviceNameLength]
	}
	e.u32(uint32(len(name)))
	e.fixed(name, MaxDeviceNameLength)
	e.u32(uint32(p.DiscoverableMode))
	e.u32(p.DiscoverableTimeout)
	e.u32(uint32(p.ConnectableMode))
	e.u32(p.ConnectableTimeout)
	e.u32(uint32(p.PairableMode))
	e.u32(p.PairableTimeout)
	e.u32(uint32(p.LEAddressType))
	e.addr(p.LEAddress)
	e.u16(p.Appearance)
	e.pad(2)
	e.u32(uint32(p.Flags))
}

func (p *LocalProperties) decode(d *decoder) {
	p.Address = d.addr()
	p.ClassOfDevice = ClassOfDevice(d.u32())
	n := d.u32()
	p.DeviceName = string(d.fixedBytes(int(n), MaxDeviceNameLength))
	p.DiscoverableMode = DiscoverableMode(d.u32())
	p.DiscoverableTimeout = d.u32()
	p.ConnectableMode = ConnectableMode(d.u32())
	p.ConnectableTimeout = d.u32()
	p.PairableMode = PairableMode(d.u32())
	p.PairableTimeout = d.u32()
	p.LEAddressType = AddressType(d.u32())
	p.LEAddress = d.addr()
	p.Appearance = d.u16()
	d.skip(2)
	p.Flags = LocalFlags(d.u32())
}

// Feature is an optional radio capability toggled at runtime.
type Feature uint32

const (
	FeatureLowEnergy              Feature = 0x00000001
	FeatureANTPlus                Feature = 0x00000002
	FeatureInterleavedAdvertising Feature = 0x00000004
)

// AllFeatures is the set of features the manager knows about.
const AllFeatures = FeatureLowEnergy | FeatureANTPlus | FeatureInterleavedAdvertising

// String returns the feature name.
func (f Feature) String() string {
	switch f {
	case FeatureLowEnergy:
		return "low-energy"
	case FeatureANTPlus:
		return "ant+"
	case FeatureInterleavedAdvertising:
		return "interleaved-advertising"
	default:
		return "unknown"
	}
}

// LocalFlag returns the local property bit mirroring f.
func (f Feature) LocalFlag() LocalFlags {
	switch f {
	case FeatureLowEnergy:
		return LocalFlagSupportsLE
	case FeatureANTPlus:
		return LocalFlagSupportsANTPlus
	case FeatureInterleavedAdvertising:
		return LocalFlagInterleavedScheduling
	default:
		return 0
	}
}

// PowerState is the local device power state.
type PowerState uint32

const (
	PowerDisabled   PowerState = 0
	PowerEnabled    PowerState = 1
	PowerPreDisable PowerState = 2
)

// String returns the power state name.
func (s PowerState) String() string {
	switch s {
	case PowerDisabled:
		return "DISABLED"
	case PowerEnabled:
		return "ENABLED"
	case PowerPreDisable:
		return "PRE_DISABLE"
	default:
		return "UNKNOWN"
	}
}
