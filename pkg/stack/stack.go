package stack

import (
	"errors"

	"github.com/google/uuid"

	"github.com/devm-project/devm-go/pkg/wire"
)

// ErrUnsupported is returned for operations the engine cannot perform.
var ErrUnsupported = errors.New("operation not supported by stack")

// ScanParams configure the LE scanner.
type ScanParams struct {
	Active     bool
	WindowMS   uint32
	IntervalMS uint32
}

// AdvertisingParams configure one advertising set.
type AdvertisingParams struct {
	// Address is the random address to advertise from. Zero selects
	// the local LE address.
	Address        wire.BDAddr
	Connectable    bool
	Scannable      bool
	Discoverable   bool
	IncludeTxPower bool
	Data           []byte
}

// InquiryResult is one classic discovery response.
type InquiryResult struct {
	Address       wire.BDAddr
	ClassOfDevice wire.ClassOfDevice
	Name          string
	RSSI          int8
	// EIR is true when the response carried extended inquiry data.
	EIR bool
}

// AdvertisingReport is one received LE advertisement.
type AdvertisingReport struct {
	Address     wire.BDAddr
	AddressType wire.AddressType
	RSSI        int8
	// TxPower is valid when TxPowerKnown is set.
	TxPower      int8
	TxPowerKnown bool
	Name         string
	Appearance   uint16
	Data         []byte
}

// PairingResult reports the end of a Pair, CancelPair or Unpair.
type PairingResult struct {
	Address wire.BDAddr
	LE      bool
	Success bool
	Paired  bool
	Status  wire.AuthStatus
}

// ConnectionEvent reports a link coming up or going down.
type ConnectionEvent struct {
	Address   wire.BDAddr
	LE        bool
	Connected bool
	Encrypted bool
}

// Handler receives asynchronous results from the engine.
type Handler interface {
	InquiryResult(r InquiryResult)
	AdvertisingReport(r AdvertisingReport)
	AuthenticationRequest(info wire.AuthenticationInformation)
	PairingComplete(r PairingResult)
	ConnectionChanged(e ConnectionEvent)
	ServicesDiscovered(addr wire.BDAddr, le bool, services []uuid.UUID)
}

// Power controls the radio itself.
type Power interface {
	PowerOn() error
	PowerOff() error
	ApplyLocalProperties(mask wire.LocalPropertiesMask, props wire.LocalProperties) error
	SetFeature(f wire.Feature, enabled bool) error
}

// Radio drives discovery, scanning and advertising.
type Radio interface {
	StartInquiry() error
	StopInquiry() error
	StartLEScan(p ScanParams) error
	StopLEScan() error
	StartAdvertising(p AdvertisingParams) error
	StopAdvertising() error
}

// Pairer drives bonding and links with remote devices.
type Pairer interface {
	Pair(addr wire.BDAddr, le bool) error
	CancelPair(addr wire.BDAddr) error
	Unpair(addr wire.BDAddr, le bool) error
	AuthenticationResponse(info wire.AuthenticationInformation) error
	Connect(addr wire.BDAddr, le bool) error
	Disconnect(addr wire.BDAddr, le bool) error
	QueryServices(addr wire.BDAddr, le bool) error
}

// ServiceDatabase is the local SDP server.
type ServiceDatabase interface {
	CreateRecord() (uint32, error)
	DeleteRecord(handle uint32) error
	SetAttribute(handle uint32, id uint16, value []byte) error
	DeleteAttribute(handle uint32, id uint16) error
}

// Stack is a complete protocol engine.
type Stack interface {
	Power
	Radio
	Pairer
	ServiceDatabase

	// SetHandler installs the receiver of asynchronous results.
	SetHandler(h Handler)
}
