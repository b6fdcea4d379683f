package wire

import "errors"

// Status is the result code of a DEVM command. Zero is success and
// negative values are errors. Status implements error so it can be
// wrapped and recovered with errors.As.
type Status int32

const (
	// StatusSuccess indicates the command was accepted or completed.
	StatusSuccess Status = 0

	// StatusInvalidParameter indicates a parameter is out of range or malformed.
	StatusInvalidParameter Status = -1

	// StatusNotInitialized indicates the manager or a required registration is missing.
	StatusNotInitialized Status = -2

	// StatusInvalidHandle indicates an unknown callback id, record handle or job id.
	StatusInvalidHandle Status = -3

	// StatusInsufficientResources indicates a table or queue is full.
	StatusInsufficientResources Status = -4

	// StatusOperationInProgress indicates the requested mode is already active.
	StatusOperationInProgress Status = -5

	// StatusRemoteRejected indicates the remote device refused the operation.
	StatusRemoteRejected Status = -6

	// StatusTimeout indicates the operation did not complete in time.
	StatusTimeout Status = -7

	// StatusNotConnected indicates the remote device has no link.
	StatusNotConnected Status = -8

	// StatusNotPoweredOn indicates the local device is not powered on.
	StatusNotPoweredOn Status = -9

	// StatusAlreadyRegistered indicates a single-holder slot is taken.
	StatusAlreadyRegistered Status = -10

	// StatusUnknownDevice indicates no record exists for the address.
	StatusUnknownDevice Status = -11

	// StatusRadioBusy indicates another claimant owns the radio.
	StatusRadioBusy Status = -12

	// StatusUnsupported indicates the feature is not enabled or not available.
	StatusUnsupported Status = -13

	// StatusInternal indicates an unexpected failure.
	StatusInternal Status = -14
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusNotInitialized:
		return "NOT_INITIALIZED"
	case StatusInvalidHandle:
		return "INVALID_HANDLE"
	case StatusInsufficientResources:
		return "INSUFFICIENT_RESOURCES"
	case StatusOperationInProgress:
		return "OPERATION_IN_PROGRESS"
	case StatusRemoteRejected:
		return "REMOTE_REJECTED"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusNotConnected:
		return "NOT_CONNECTED"
	case StatusNotPoweredOn:
		return "NOT_POWERED_ON"
	case StatusAlreadyRegistered:
		return "ALREADY_REGISTERED"
	case StatusUnknownDevice:
		return "UNKNOWN_DEVICE"
	case StatusRadioBusy:
		return "RADIO_BUSY"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error implements the error interface.
func (s Status) Error() string {
	return "devm: " + s.String()
}

// Err returns nil for StatusSuccess and s otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return s
}

// StatusOf maps an error to the status reported on the wire.
// Errors that do not wrap a Status map to StatusInternal.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusInternal
}
