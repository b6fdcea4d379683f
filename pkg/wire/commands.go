package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// MaxAdvertisingDataLength is the longest legacy advertising payload.
const MaxAdvertisingDataLength = 31

// OperationFlags qualify address-based commands.
type OperationFlags uint32

const (
	// OpFlagLE addresses the LE transport instead of BR/EDR.
	OpFlagLE OperationFlags = 0x00000001
	// OpFlagForceUpdate asks the stack to refresh cached data.
	OpFlagForceUpdate OperationFlags = 0x00000002
)

// AdvertisingFlags configure controller-driven advertising.
type AdvertisingFlags uint32

const (
	AdvFlagUsePublicAddress    AdvertisingFlags = 0x00000001
	AdvFlagDiscoverable        AdvertisingFlags = 0x00000002
	AdvFlagConnectable         AdvertisingFlags = 0x00000004
	AdvFlagAdvertiseName       AdvertisingFlags = 0x00000008
	AdvFlagAdvertiseTxPower    AdvertisingFlags = 0x00000010
	AdvFlagAdvertiseAppearance AdvertisingFlags = 0x00000020
)

// ObservationFlags configure an observation scan.
type ObservationFlags uint32

const (
	// ObsFlagActiveScanning requests scan responses.
	ObsFlagActiveScanning ObservationFlags = 0x00000001
	// ObsFlagFilterDuplicates lets the stack drop identical reports.
	ObsFlagFilterDuplicates ObservationFlags = 0x00000002
)

// JobFlags configure an interleaved advertisement job.
type JobFlags uint32

const (
	JobFlagIncludeTxPower JobFlags = 0x00000001
	JobFlagScannable      JobFlags = 0x00000002
)

// CallbackRequest carries a callback id.
type CallbackRequest struct {
	CallbackID uint32
}

func (r *CallbackRequest) encode(e *encoder) { e.u32(r.CallbackID) }
func (r *CallbackRequest) decode(d *decoder) error {
	r.CallbackID = d.u32()
	return d.finish()
}

// RegisterEventCallbackResponse returns the new callback id.
type RegisterEventCallbackResponse struct {
	Status     Status
	CallbackID uint32
}

func (r *RegisterEventCallbackResponse) ResponseStatus() Status { return r.Status }
func (r *RegisterEventCallbackResponse) encode(e *encoder) {
	e.i32(int32(r.Status))
	e.u32(r.CallbackID)
}
func (r *RegisterEventCallbackResponse) decode(d *decoder) error {
	r.Status = Status(d.i32())
	r.CallbackID = d.u32()
	return d.finish()
}

// PowerStateResponse reports the power state.
type PowerStateResponse struct {
	Status Status
	State  PowerState
}

func (r *PowerStateResponse) ResponseStatus() Status { return r.Status }
func (r *PowerStateResponse) encode(e *encoder) {
	e.i32(int32(r.Status))
	e.u32(uint32(r.State))
}
func (r *PowerStateResponse) decode(d *decoder) error {
	r.Status = Status(d.i32())
	r.State = PowerState(d.u32())
	return d.finish()
}

// LocalPropertiesResponse returns the local properties.
type LocalPropertiesResponse struct {
	Status     Status
	Properties LocalProperties
}

func (r *LocalPropertiesResponse) ResponseStatus() Status { return r.Status }
func (r *LocalPropertiesResponse) encode(e *encoder) {
	e.i32(int32(r.Status))
	r.Properties.encode(e)
}
func (r *LocalPropertiesResponse) decode(d *decoder) error {
	r.Status = Status(d.i32())
	r.Properties.decode(d)
	return d.finish()
}

// UpdateLocalPropertiesRequest applies the masked fields of Properties.
type UpdateLocalPropertiesRequest struct {
	Mask       LocalPropertiesMask
	Properties LocalProperties
}

func (r *UpdateLocalPropertiesRequest) encode(e *encoder) {
	e.u32(uint32(r.Mask))
	r.Properties.encode(e)
}
func (r *UpdateLocalPropertiesRequest) decode(d *decoder) error {
	r.Mask = LocalPropertiesMask(d.u32())
	r.Properties.decode(d)
	return d.finish()
}

// FeatureRequest names a feature to enable or disable.
type FeatureRequest struct {
	Feature Feature
}

func (r *FeatureRequest) encode(e *encoder) { e.u32(uint32(r.Feature)) }
func (r *FeatureRequest) decode(d *decoder) error {
	r.Feature = Feature(d.u32())
	return d.finish()
}

// FeaturesResponse returns the active feature set.
type FeaturesResponse struct {
	Status   Status
	Features Feature
}

func (r *FeaturesResponse) ResponseStatus() Status { return r.Status }
func (r *FeaturesResponse) encode(e *encoder) {
	e.i32(int32(r.Status))
	e.u32(uint32(r.Features))
}
func (r *FeaturesResponse) decode(d *decoder) error {
	r.Status = Status(d.i32())
	r.Features = Feature(d.u32())
	return d.finish()
}

// DurationRequest starts inquiry or LE scan. Zero means indefinite.
type DurationRequest struct {
	DurationSeconds uint32
}

func (r *DurationRequest) encode(e *encoder) { e.u32(r.DurationSeconds) }
func (r *DurationRequest) decode(d *decoder) error {
	r.DurationSeconds = d.u32()
	return d.finish()
}

// ObservationScanRequest starts an observation scan.
type ObservationScanRequest struct {
	Flags ObservationFlags
	// ReportingFrequencyMS is the per-device minimum interval between
	// change events.
	ReportingFrequencyMS uint32
	// ScanWindowMS and ScanIntervalMS are both zero for stack defaults.
	ScanWindowMS   uint32
	ScanIntervalMS uint32
}

func (r *ObservationScanRequest) encode(e *encoder) {
	e.u32(uint32(r.Flags))
	e.u32(r.ReportingFrequencyMS)
	e.u32(r.ScanWindowMS)
	e.u32(r.ScanIntervalMS)
}
func (r *ObservationScanRequest) decode(d *decoder) error {
	r.Flags = ObservationFlags(d.u32())
	r.ReportingFrequencyMS = d.u32()
	r.ScanWindowMS = d.u32()
	r.ScanIntervalMS = d.u32()
	return d.finish()
}

// StartAdvertisingRequest starts controller-driven advertising.
type StartAdvertisingRequest struct {
	Flags           AdvertisingFlags
	DurationSeconds uint32
	Data            []byte
}

func (r *StartAdvertisingRequest) encode(e *encoder) {
	e.u32(uint32(r.Flags))
	e.u32(r.DurationSeconds)
	e.u32(uint32(len(r.Data)))
	e.bytes(r.Data)
}
func (r *StartAdvertisingRequest) decode(d *decoder) error {
	r.Flags = AdvertisingFlags(d.u32())
	r.DurationSeconds = d.u32()
	n := d.u32()
	r.Data = d.trailing(n, 1)
	return d.finish()
}

// StopAdvertisingRequest stops advertising. Force also stops a scheduler
// job that owns the radio.
type StopAdvertisingRequest struct {
	Force bool
}

func (r *StopAdvertisingRequest) encode(e *encoder) { e.bool32(r.Force) }
func (r *StopAdvertisingRequest) decode(d *decoder) error {
	r.Force = d.bool32()
	return d.finish()
}

// RemoteDeviceListRequest queries device addresses. MaxDevices zero
// returns only the total count.
type RemoteDeviceListRequest struct {
	Filter DeviceFilter
	// ClassOfDevice restricts the result when non-zero.
	ClassOfDevice ClassOfDevice
	MaxDevices    uint32
}

func (r *RemoteDeviceListRequest) encode(e *encoder) {
	e.u32(uint32(r.Filter))
	e.u32(uint32(r.ClassOfDevice))
	e.u32(r.MaxDevices)
}
func (r *RemoteDeviceListRequest) decode(d *decoder) error {
	r.Filter = DeviceFilter(d.u32())
	r.ClassOfDevice = ClassOfDevice(d.u32())
	r.MaxDevices = d.u32()
	return d.finish()
}

// RemoteDeviceListResponse returns up to MaxDevices addresses and the
// total number of matches.
type RemoteDeviceListResponse struct {
	Status     Status
	TotalCount uint32
	Addresses  []BDAddr
}

func (r *RemoteDeviceListResponse) ResponseStatus() Status { return r.Status }
func (r *RemoteDeviceListResponse) encode(e *encoder) {
	e.i32(int32(r.Status))
	e.u32(r.TotalCount)
	e.u32(uint32(len(r.Addresses)))
	for _, a := range r.Addresses {
		e.bytes(a[:])
	}
}
func (r *RemoteDeviceListResponse) decode(d *decoder) error {
	r.Status = Status(d.i32())
	r.TotalCount = d.u32()
	n := d.u32()
	raw := d.trailing(n, 6)
	if err := d.finish(); err != nil {
		return err
	}
	r.Addresses = make([]BDAddr, n)
	for i := range r.Addresses {
		copy(r.Addresses[i][:], raw[i*6:])
	}
	return nil
}

// AddressRequest targets one remote device.
type AddressRequest struct {
	Address BDAddr
	Flags   OperationFlags
}

func (r *AddressRequest) encode(e *encoder) {
	e.addr(r.Address)
	e.u32(uint32(r.Flags))
}
func (r *AddressRequest) decode(d *decoder) error {
	r.Address = d.addr()
	r.Flags = OperationFlags(d.u32())
	return d.finish()
}

// RemoteDevicePropertiesResponse returns one device record. The
// application data is the trailing array.
type RemoteDevicePropertiesResponse struct {
	Status Status
	Device RemoteDevice
}

func (r *RemoteDevicePropertiesResponse) ResponseStatus() Status { return r.Status }
func (r *RemoteDevicePropertiesResponse) encode(e *encoder) {
	e.i32(int32(r.Status))
	encodeDeviceWithData(e, &r.Device)
}
func (r *RemoteDevicePropertiesResponse) decode(d *decoder) error {
	r.Status = Status(d.i32())
	decodeDeviceWithData(d, &r.Device)
	return d.finish()
}

func encodeDeviceWithData(e *encoder, dev *RemoteDevice) {
	dev.encode(e)
	e.u32(uint32(len(dev.ApplicationData)))
	e.bytes(dev.ApplicationData)
}

func decodeDeviceWithData(d *decoder, dev *RemoteDevice) {
	dev.decode(d)
	n := d.u32()
	if n > MaxApplicationDataLength {
		d.fail(fmt.Errorf("%w: application data length %d", ErrInvalidPayload, n))
		return
	}
	dev.ApplicationData = d.trailing(n, 1)
}

// RemoteDeviceServicesRequest queries the service class UUIDs of a device.
type RemoteDeviceServicesRequest struct {
	Address  BDAddr
	Flags    OperationFlags
	MaxUUIDs uint32
}

func (r *RemoteDeviceServicesRequest) encode(e *encoder) {
	e.addr(r.Address)
	e.u32(uint32(r.Flags))
	e.u32(r.MaxUUIDs)
}
func (r *RemoteDeviceServicesRequest) decode(d *decoder) error {
	r.Address = d.addr()
	r.Flags = OperationFlags(d.u32())
	r.MaxUUIDs = d.u32()
	return d.finish()
}

// UUIDListResponse returns a list of 128-bit UUIDs.
type UUIDListResponse struct {
	Status     Status
	TotalCount uint32
	UUIDs      []uuid.UUID
}

func (r *UUIDListResponse) ResponseStatus() Status { return r.Status }
func (r *UUIDListResponse) encode(e *encoder) {
	e.i32(int32(r.Status))
	e.u32(r.TotalCount)
	e.u32(uint32(len(r.UUIDs)))
	for _, u := range r.UUIDs {
		e.uuid(u)
	}
}
func (r *UUIDListResponse) decode(d *decoder) error {
	r.Status = Status(d.i32())
	r.TotalCount = d.u32()
	n := d.u32()
	raw := d.trailing(n, 16)
	if err := d.finish(); err != nil {
		return err
	}
	r.UUIDs = make([]uuid.UUID, n)
	for i := range r.UUIDs {
		copy(r.UUIDs[i][:], raw[i*16:])
	}
	return nil
}

// AddRemoteDeviceRequest adds a device record.
type AddRemoteDeviceRequest struct {
	Address         BDAddr
	ClassOfDevice   ClassOfDevice
	ApplicationData []byte
}

func (r *AddRemoteDeviceRequest) encode(e *encoder) {
	e.addr(r.Address)
	e.u32(uint32(r.ClassOfDevice))
	e.u32(uint32(len(r.ApplicationData)))
	e.bytes(r.ApplicationData)
}
func (r *AddRemoteDeviceRequest) decode(d *decoder) error {
	r.Address = d.addr()
	r.ClassOfDevice = ClassOfDevice(d.u32())
	n := d.u32()
	r.ApplicationData = d.trailing(n, 1)
	return d.finish()
}

// FilterRequest deletes every device matching Filter.
type FilterRequest struct {
	Filter DeviceFilter
}

func (r *FilterRequest) encode(e *encoder) { e.u32(uint32(r.Filter)) }
func (r *FilterRequest) decode(d *decoder) error {
	r.Filter = DeviceFilter(d.u32())
	return d.finish()
}

// ApplicationDataRequest replaces the application data of a device.
type ApplicationDataRequest struct {
	Address BDAddr
	Data    []byte
}

func (r *ApplicationDataRequest) encode(e *encoder) {
	e.addr(r.Address)
	e.u32(uint32(len(r.Data)))
	e.bytes(r.Data)
}
func (r *ApplicationDataRequest) decode(d *decoder) error {
	r.Address = d.addr()
	n := d.u32()
	r.Data = d.trailing(n, 1)
	return d.finish()
}

// AuthenticationResponseRequest answers an AuthenticationRequest event.
// Legacy is set when the message used the legacy payload layout.
type AuthenticationResponseRequest struct {
	Info   AuthenticationInformation
	Legacy bool
}

func (r *AuthenticationResponseRequest) encode(e *encoder) {
	if r.Legacy {
		encodeLegacyAuthInfo(e, &r.Info)
		return
	}
	encodeAuthInfo(e, &r.Info)
}
func (r *AuthenticationResponseRequest) decode(d *decoder) error {
	layout, err := authLayoutForBody(d.remaining())
	if err != nil {
		return err
	}
	r.Legacy = layout.legacy
	decodeAuthInfo(d, &r.Info, layout.flags)
	return d.finish()
}

// RegisterServiceRecordRequest creates an SDP record listing the given
// service classes.
type RegisterServiceRecordRequest struct {
	CallbackID     uint32
	Persistent     bool
	ServiceClasses []uuid.UUID
}

func (r *RegisterServiceRecordRequest) encode(e *encoder) {
	e.u32(r.CallbackID)
	e.bool32(r.Persistent)
	e.u32(uint32(len(r.ServiceClasses)))
	for _, u := range r.ServiceClasses {
		e.uuid(u)
	}
}
func (r *RegisterServiceRecordRequest) decode(d *decoder) error {
	r.CallbackID = d.u32()
	r.Persistent = d.bool32()
	n := d.u32()
	raw := d.trailing(n, 16)
	if err := d.finish(); err != nil {
		return err
	}
	r.ServiceClasses = make([]uuid.UUID, n)
	for i := range r.ServiceClasses {
		copy(r.ServiceClasses[i][:], raw[i*16:])
	}
	return nil
}

// ServiceRecordResponse returns a record handle.
type ServiceRecordResponse struct {
	Status Status
	Handle uint32
}

func (r *ServiceRecordResponse) ResponseStatus() Status { return r.Status }
func (r *ServiceRecordResponse) encode(e *encoder) {
	e.i32(int32(r.Status))
	e.u32(r.Handle)
}
func (r *ServiceRecordResponse) decode(d *decoder) error {
	r.Status = Status(d.i32())
	r.Handle = d.u32()
	return d.finish()
}

// RecordHandleRequest targets one service record.
type RecordHandleRequest struct {
	Handle uint32
}

func (r *RecordHandleRequest) encode(e *encoder) { e.u32(r.Handle) }
func (r *RecordHandleRequest) decode(d *decoder) error {
	r.Handle = d.u32()
	return d.finish()
}

// AddAttributeRequest adds or replaces an attribute. Value is an encoded
// SDP data element.
type AddAttributeRequest struct {
	Handle      uint32
	AttributeID uint16
	Value       []byte
}

func (r *AddAttributeRequest) encode(e *encoder) {
	e.u32(r.Handle)
	e.u16(r.AttributeID)
	e.pad(2)
	e.u32(uint32(len(r.Value)))
	e.bytes(r.Value)
}
func (r *AddAttributeRequest) decode(d *decoder) error {
	r.Handle = d.u32()
	r.AttributeID = d.u16()
	d.skip(2)
	n := d.u32()
	r.Value = d.trailing(n, 1)
	return d.finish()
}

// AttributeRequest targets one attribute of a record. MaxLength bounds
// the returned value of a query; zero returns only the length.
type AttributeRequest struct {
	Handle      uint32
	AttributeID uint16
	MaxLength   uint32
}

func (r *AttributeRequest) encode(e *encoder) {
	e.u32(r.Handle)
	e.u16(r.AttributeID)
	e.pad(2)
	e.u32(r.MaxLength)
}
func (r *AttributeRequest) decode(d *decoder) error {
	r.Handle = d.u32()
	r.AttributeID = d.u16()
	d.skip(2)
	r.MaxLength = d.u32()
	return d.finish()
}

// AttributeValueResponse returns an attribute value.
type AttributeValueResponse struct {
	Status      Status
	TotalLength uint32
	Value       []byte
}

func (r *AttributeValueResponse) ResponseStatus() Status { return r.Status }
func (r *AttributeValueResponse) encode(e *encoder) {
	e.i32(int32(r.Status))
	e.u32(r.TotalLength)
	e.u32(uint32(len(r.Value)))
	e.bytes(r.Value)
}
func (r *AttributeValueResponse) decode(d *decoder) error {
	r.Status = Status(d.i32())
	r.TotalLength = d.u32()
	n := d.u32()
	r.Value = d.trailing(n, 1)
	return d.finish()
}

// ScheduleAdvertisementRequest queues a one-shot advertisement.
type ScheduleAdvertisementRequest struct {
	CallbackID    uint32
	Flags         JobFlags
	DurationMS    uint32
	RandomAddress BDAddr
	Payload       []byte
}

func (r *ScheduleAdvertisementRequest) encode(e *encoder) {
	e.u32(r.CallbackID)
	e.u32(uint32(r.Flags))
	e.u32(r.DurationMS)
	e.addr(r.RandomAddress)
	e.u32(uint32(len(r.Payload)))
	e.bytes(r.Payload)
}
func (r *ScheduleAdvertisementRequest) decode(d *decoder) error {
	r.CallbackID = d.u32()
	r.Flags = JobFlags(d.u32())
	r.DurationMS = d.u32()
	r.RandomAddress = d.addr()
	n := d.u32()
	r.Payload = d.trailing(n, 1)
	return d.finish()
}

// ScheduleAdvertisementResponse carries the job id (>= 1) or a negative
// status.
type ScheduleAdvertisementResponse struct {
	Result int32
}

// ResponseStatus implements Statuser.
func (r *ScheduleAdvertisementResponse) ResponseStatus() Status {
	if r.Result < 0 {
		return Status(r.Result)
	}
	return StatusSuccess
}

// JobID returns the scheduled job id, or 0 on error.
func (r *ScheduleAdvertisementResponse) JobID() uint32 {
	if r.Result <= 0 {
		return 0
	}
	return uint32(r.Result)
}

func (r *ScheduleAdvertisementResponse) encode(e *encoder) { e.i32(r.Result) }
func (r *ScheduleAdvertisementResponse) decode(d *decoder) error {
	r.Result = d.i32()
	return d.finish()
}

// CancelScheduledAdvertisementRequest cancels a job of the caller.
type CancelScheduledAdvertisementRequest struct {
	CallbackID uint32
	JobID      uint32
}

func (r *CancelScheduledAdvertisementRequest) encode(e *encoder) {
	e.u32(r.CallbackID)
	e.u32(r.JobID)
}
func (r *CancelScheduledAdvertisementRequest) decode(d *decoder) error {
	r.CallbackID = d.u32()
	r.JobID = d.u32()
	return d.finish()
}

func newEmpty() Body { return &Empty{} }

func newStatus() Body { return &StatusResponse{} }

var requestBodies = map[Function]func() Body{
	FuncPowerOn:                           newEmpty,
	FuncPowerOff:                          newEmpty,
	FuncQueryPowerState:                   newEmpty,
	FuncAcknowledgePowerDown:              func() Body { return &CallbackRequest{} },
	FuncRegisterEventCallback:             newEmpty,
	FuncUnregisterEventCallback:           func() Body { return &CallbackRequest{} },
	FuncRegisterAuthentication:            func() Body { return &CallbackRequest{} },
	FuncUnregisterAuthentication:          func() Body { return &CallbackRequest{} },
	FuncQueryLocalProperties:              newEmpty,
	FuncUpdateLocalProperties:             func() Body { return &UpdateLocalPropertiesRequest{} },
	FuncEnableFeature:                     func() Body { return &FeatureRequest{} },
	FuncDisableFeature:                    func() Body { return &FeatureRequest{} },
	FuncQueryActiveFeatures:               newEmpty,
	FuncStartDeviceDiscovery:              func() Body { return &DurationRequest{} },
	FuncStopDeviceDiscovery:               newEmpty,
	FuncStartLEScan:                       func() Body { return &DurationRequest{} },
	FuncStopLEScan:                        newEmpty,
	FuncStartObservationScan:              func() Body { return &ObservationScanRequest{} },
	FuncStopObservationScan:               newEmpty,
	FuncStartAdvertising:                  func() Body { return &StartAdvertisingRequest{} },
	FuncStopAdvertising:                   func() Body { return &StopAdvertisingRequest{} },
	FuncQueryRemoteDeviceList:             func() Body { return &RemoteDeviceListRequest{} },
	FuncQueryRemoteDeviceProperties:       func() Body { return &AddressRequest{} },
	FuncAddRemoteDevice:                   func() Body { return &AddRemoteDeviceRequest{} },
	FuncDeleteRemoteDevice:                func() Body { return &AddressRequest{} },
	FuncDeleteRemoteDevices:               func() Body { return &FilterRequest{} },
	FuncUpdateRemoteDeviceApplicationData: func() Body { return &ApplicationDataRequest{} },
	FuncQueryRemoteDeviceServices:         func() Body { return &RemoteDeviceServicesRequest{} },
	FuncPairWithRemoteDevice:              func() Body { return &AddressRequest{} },
	FuncCancelPairWithRemoteDevice:        func() Body { return &AddressRequest{} },
	FuncUnpairRemoteDevice:                func() Body { return &AddressRequest{} },
	FuncAuthenticationResponse:            func() Body { return &AuthenticationResponseRequest{} },
	FuncConnectWithRemoteDevice:           func() Body { return &AddressRequest{} },
	FuncDisconnectRemoteDevice:            func() Body { return &AddressRequest{} },
	FuncRegisterServiceRecord:             func() Body { return &RegisterServiceRecordRequest{} },
	FuncDeleteServiceRecord:               func() Body { return &RecordHandleRequest{} },
	FuncQueryServiceRecordAttribute:       func() Body { return &AttributeRequest{} },
	FuncAddServiceRecordAttribute:         func() Body { return &AddAttributeRequest{} },
	FuncDeleteServiceRecordAttribute:      func() Body { return &AttributeRequest{} },
	FuncScheduleAdvertisement:             func() Body { return &ScheduleAdvertisementRequest{} },
	FuncCancelScheduledAdvertisement:      func() Body { return &CancelScheduledAdvertisementRequest{} },
	FuncSuspendScheduling:                 newEmpty,
	FuncResumeScheduling:                  newEmpty,
}

var responseBodies = map[Function]func() Body{
	FuncPowerOn:                           newStatus,
	FuncPowerOff:                          newStatus,
	FuncQueryPowerState:                   func() Body { return &PowerStateResponse{} },
	FuncAcknowledgePowerDown:              newStatus,
	FuncRegisterEventCallback:             func() Body { return &RegisterEventCallbackResponse{} },
	FuncUnregisterEventCallback:           newStatus,
	FuncRegisterAuthentication:            newStatus,
	FuncUnregisterAuthentication:          newStatus,
	FuncQueryLocalProperties:              func() Body { return &LocalPropertiesResponse{} },
	FuncUpdateLocalProperties:             newStatus,
	FuncEnableFeature:                     newStatus,
	FuncDisableFeature:                    newStatus,
	FuncQueryActiveFeatures:               func() Body { return &FeaturesResponse{} },
	FuncStartDeviceDiscovery:              newStatus,
	FuncStopDeviceDiscovery:               newStatus,
	FuncStartLEScan:                       newStatus,
	FuncStopLEScan:                        newStatus,
	FuncStartObservationScan:              newStatus,
	FuncStopObservationScan:               newStatus,
	FuncStartAdvertising:                  newStatus,
	FuncStopAdvertising:                   newStatus,
	FuncQueryRemoteDeviceList:             func() Body { return &RemoteDeviceListResponse{} },
	FuncQueryRemoteDeviceProperties:       func() Body { return &RemoteDevicePropertiesResponse{} },
	FuncAddRemoteDevice:                   newStatus,
	FuncDeleteRemoteDevice:                newStatus,
	FuncDeleteRemoteDevices:               newStatus,
	FuncUpdateRemoteDeviceApplicationData: newStatus,
	FuncQueryRemoteDeviceServices:         func() Body { return &UUIDListResponse{} },
	FuncPairWithRemoteDevice:              newStatus,
	FuncCancelPairWithRemoteDevice:        newStatus,
	FuncUnpairRemoteDevice:                newStatus,
	FuncAuthenticationResponse:            newStatus,
	FuncConnectWithRemoteDevice:           newStatus,
	FuncDisconnectRemoteDevice:            newStatus,
	FuncRegisterServiceRecord:             func() Body { return &ServiceRecordResponse{} },
	FuncDeleteServiceRecord:               newStatus,
	FuncQueryServiceRecordAttribute:       func() Body { return &AttributeValueResponse{} },
	FuncAddServiceRecordAttribute:         newStatus,
	FuncDeleteServiceRecordAttribute:      newStatus,
	FuncScheduleAdvertisement:             func() Body { return &ScheduleAdvertisementResponse{} },
	FuncCancelScheduledAdvertisement:      newStatus,
	FuncSuspendScheduling:                 newStatus,
	FuncResumeScheduling:                  newStatus,
}

// NewResponse returns an empty response body for fn, or nil if fn is not
// a known command.
func NewResponse(fn Function) Body {
	if f, ok := responseBodies[fn]; ok {
		return f()
	}
	return nil
}

// ErrorResponse returns the response body of fn carrying only a failure
// status.
func ErrorResponse(fn Function, s Status) Body {
	switch b := NewResponse(fn).(type) {
	case *StatusResponse:
		b.Status = s
		return b
	case *RegisterEventCallbackResponse:
		b.Status = s
		return b
	case *PowerStateResponse:
		b.Status = s
		return b
	case *LocalPropertiesResponse:
		b.Status = s
		return b
	case *FeaturesResponse:
		b.Status = s
		return b
	case *RemoteDeviceListResponse:
		b.Status = s
		return b
	case *RemoteDevicePropertiesResponse:
		b.Status = s
		return b
	case *UUIDListResponse:
		b.Status = s
		return b
	case *ServiceRecordResponse:
		b.Status = s
		return b
	case *AttributeValueResponse:
		b.Status = s
		return b
	case *ScheduleAdvertisementResponse:
		b.Result = int32(s)
		return b
	default:
		return &StatusResponse{Status: s}
	}
}
