package wire

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// BDAddr is a 48-bit Bluetooth device address, stored most significant byte first.
type BDAddr [6]byte

// String returns the address as colon-separated hex, e.g. "00:1A:7D:DA:71:13".
func (a BDAddr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether a is the all-zero address.
func (a BDAddr) IsZero() bool { return a == BDAddr{} }

// ParseBDAddr parses "AA:BB:CC:DD:EE:FF" (colons optional, any case).
func ParseBDAddr(s string) (BDAddr, error) {
	var a BDAddr
	raw := strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if len(raw) != 12 {
		return a, fmt.Errorf("invalid bd address %q", s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return a, fmt.Errorf("invalid bd address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

// AddressType is the LE address type of a device.
type AddressType uint32

const (
	AddressTypePublic               AddressType = 0
	AddressTypeStatic               AddressType = 1
	AddressTypePrivateResolvable    AddressType = 2
	AddressTypePrivateNonResolvable AddressType = 3
)

// String returns the address type name.
func (t AddressType) String() string {
	switch t {
	case AddressTypePublic:
		return "public"
	case AddressTypeStatic:
		return "static"
	case AddressTypePrivateResolvable:
		return "rpa"
	case AddressTypePrivateNonResolvable:
		return "nrpa"
	default:
		return "unknown"
	}
}

// ClassOfDevice is the 24-bit classic class-of-device value.
type ClassOfDevice uint32

// Major returns the major device class bits.
func (c ClassOfDevice) Major() uint8 { return uint8((c >> 8) & 0x1F) }

// Minor returns the minor device class bits.
func (c ClassOfDevice) Minor() uint8 { return uint8((c >> 2) & 0x3F) }

// ServiceClasses returns the major service class bits.
func (c ClassOfDevice) ServiceClasses() uint16 { return uint16((c >> 13) & 0x7FF) }

// Valid reports whether c fits in 24 bits.
func (c ClassOfDevice) Valid() bool { return c <= 0xFFFFFF }

func (c ClassOfDevice) String() string { return fmt.Sprintf("0x%06X", uint32(c)) }
