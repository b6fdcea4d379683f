package wire

// JobStatus is the outcome of an interleaved advertisement job.
type JobStatus uint32

const (
	JobSuccess   JobStatus = 0
	JobCancelled JobStatus = 1
	JobFailed    JobStatus = 2
)

// String returns the job status name.
func (s JobStatus) String() string {
	switch s {
	case JobSuccess:
		return "success"
	case JobCancelled:
		return "cancelled"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PoweringOffEvent announces the PreDisable phase. Registered callbacks
// should acknowledge within AckTimeoutMS.
type PoweringOffEvent struct {
	AckTimeoutMS uint32
}

func (e *PoweringOffEvent) encode(enc *encoder) { enc.u32(e.AckTimeoutMS) }
func (e *PoweringOffEvent) decode(d *decoder) error {
	e.AckTimeoutMS = d.u32()
	return d.finish()
}

// LocalPropertiesChangedEvent carries the changed-field mask and the full
// snapshot after the change.
type LocalPropertiesChangedEvent struct {
	Mask       LocalPropertiesMask
	Properties LocalProperties
}

func (e *LocalPropertiesChangedEvent) encode(enc *encoder) {
	enc.u32(uint32(e.Mask))
	e.Properties.encode(enc)
}
func (e *LocalPropertiesChangedEvent) decode(d *decoder) error {
	e.Mask = LocalPropertiesMask(d.u32())
	e.Properties.decode(d)
	return d.finish()
}

// RemoteDeviceFoundEvent announces a new directory record.
type RemoteDeviceFoundEvent struct {
	Device RemoteDevice
}

func (e *RemoteDeviceFoundEvent) encode(enc *encoder) { encodeDeviceWithData(enc, &e.Device) }
func (e *RemoteDeviceFoundEvent) decode(d *decoder) error {
	decodeDeviceWithData(d, &e.Device)
	return d.finish()
}

// RemoteDeviceDeletedEvent announces a removed record.
type RemoteDeviceDeletedEvent struct {
	Address BDAddr
}

func (e *RemoteDeviceDeletedEvent) encode(enc *encoder) { enc.addr(e.Address) }
func (e *RemoteDeviceDeletedEvent) decode(d *decoder) error {
	e.Address = d.addr()
	return d.finish()
}

// RemotePropertiesChangedEvent carries the changed-field mask and the
// full record after the change.
type RemotePropertiesChangedEvent struct {
	Mask   RemotePropertiesMask
	Device RemoteDevice
}

func (e *RemotePropertiesChangedEvent) encode(enc *encoder) {
	enc.u32(uint32(e.Mask))
	encodeDeviceWithData(enc, &e.Device)
}
func (e *RemotePropertiesChangedEvent) decode(d *decoder) error {
	e.Mask = RemotePropertiesMask(d.u32())
	decodeDeviceWithData(d, &e.Device)
	return d.finish()
}

// PairingStatusEvent reports the outcome of Pair, CancelPair or Unpair.
type PairingStatusEvent struct {
	Address BDAddr
	// Success is true when the requested operation completed.
	Success bool
	// Paired is the resulting bond state.
	Paired bool
	LE     bool
	// AuthStatus is the stack's reason code, zero on success.
	AuthStatus AuthStatus
}

func (e *PairingStatusEvent) encode(enc *encoder) {
	enc.addr(e.Address)
	enc.bool32(e.Success)
	enc.bool32(e.Paired)
	enc.bool32(e.LE)
	enc.u32(uint32(e.AuthStatus))
}
func (e *PairingStatusEvent) decode(d *decoder) error {
	e.Address = d.addr()
	e.Success = d.bool32()
	e.Paired = d.bool32()
	e.LE = d.bool32()
	e.AuthStatus = AuthStatus(d.u32())
	return d.finish()
}

// AuthenticationRequestEvent forwards a stack request to the handler. It
// is always encoded in the current layout.
type AuthenticationRequestEvent struct {
	Info AuthenticationInformation
}

func (e *AuthenticationRequestEvent) encode(enc *encoder) { encodeAuthInfo(enc, &e.Info) }
func (e *AuthenticationRequestEvent) decode(d *decoder) error {
	layout, err := authLayoutForBody(d.remaining())
	if err != nil {
		return err
	}
	decodeAuthInfo(d, &e.Info, layout.flags)
	return d.finish()
}

// AdvertisementCompleteEvent is delivered only to the job owner.
type AdvertisementCompleteEvent struct {
	Status  JobStatus
	JobID   uint32
	OwnerID uint32
}

func (e *AdvertisementCompleteEvent) encode(enc *encoder) {
	enc.u32(uint32(e.Status))
	enc.u32(e.JobID)
	enc.u32(e.OwnerID)
}
func (e *AdvertisementCompleteEvent) decode(d *decoder) error {
	e.Status = JobStatus(d.u32())
	e.JobID = d.u32()
	e.OwnerID = d.u32()
	return d.finish()
}

var eventBodies = map[Function]func() Body{
	EventDevicePoweredOn:               newEmpty,
	EventDevicePoweringOff:             func() Body { return &PoweringOffEvent{} },
	EventDevicePoweredOff:              newEmpty,
	EventLocalPropertiesChanged:        func() Body { return &LocalPropertiesChangedEvent{} },
	EventDiscoveryStarted:              newEmpty,
	EventDiscoveryStopped:              newEmpty,
	EventLEScanStarted:                 newEmpty,
	EventLEScanStopped:                 newEmpty,
	EventObservationScanStarted:        newEmpty,
	EventObservationScanStopped:        newEmpty,
	EventAdvertisingStarted:            newEmpty,
	EventAdvertisingStopped:            newEmpty,
	EventRemoteDeviceFound:             func() Body { return &RemoteDeviceFoundEvent{} },
	EventRemoteDeviceDeleted:           func() Body { return &RemoteDeviceDeletedEvent{} },
	EventRemoteDevicePropertiesChanged: func() Body { return &RemotePropertiesChangedEvent{} },
	EventRemoteDevicePairingStatus:     func() Body { return &PairingStatusEvent{} },
	EventAuthenticationRequest:         func() Body { return &AuthenticationRequestEvent{} },
	EventAdvertisementComplete:         func() Body { return &AdvertisementCompleteEvent{} },
	EventSchedulingSuspended:           newEmpty,
	EventSchedulingResumed:             newEmpty,
}

// Event is an event ready for dispatch.
type Event struct {
	Function Function
	Body     Body
}

// Encode returns the wire form of the event.
func (ev Event) Encode() []byte {
	return Encode(ev.Function, NotificationTransactionID, ev.Body)
}
