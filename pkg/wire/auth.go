package wire

import "fmt"

// AuthAction is an authentication action code. The low 31 bits select the
// action; the top bit marks an LE operation.
type AuthAction uint32

// AuthActionLEFlag marks an action as belonging to LE pairing.
const AuthActionLEFlag AuthAction = 0x80000000

const (
	AuthPINCodeRequest           AuthAction = 1
	AuthPINCodeResponse          AuthAction = 2
	AuthUserConfirmationRequest  AuthAction = 3
	AuthUserConfirmationResponse AuthAction = 4
	AuthPasskeyRequest           AuthAction = 5
	AuthPasskeyResponse          AuthAction = 6
	AuthPasskeyIndication        AuthAction = 7
	AuthKeypressIndication       AuthAction = 8
	AuthOutOfBandDataRequest     AuthAction = 9
	AuthOutOfBandDataResponse    AuthAction = 10
	AuthIOCapabilitiesRequest    AuthAction = 11
	AuthIOCapabilitiesResponse   AuthAction = 12
	AuthStatusResult             AuthAction = 13
	AuthStart                    AuthAction = 14
	AuthEnd                      AuthAction = 15
)

// Code returns the action without the LE flag.
func (a AuthAction) Code() AuthAction { return a &^ AuthActionLEFlag }

// IsLE reports whether the LE flag is set.
func (a AuthAction) IsLE() bool { return a&AuthActionLEFlag != 0 }

// WithLE returns a with the LE flag set to le.
func (a AuthAction) WithLE(le bool) AuthAction {
	if le {
		return a | AuthActionLEFlag
	}
	return a.Code()
}

// IsResponse reports whether the action is sent by the handler.
func (a AuthAction) IsResponse() bool {
	switch a.Code() {
	case AuthPINCodeResponse, AuthUserConfirmationResponse, AuthPasskeyResponse,
		AuthOutOfBandDataResponse, AuthIOCapabilitiesResponse:
		return true
	}
	return false
}

// ResponseTo returns the response action answering a request action,
// preserving the LE flag. ok is false if a expects no response.
func (a AuthAction) ResponseTo() (AuthAction, bool) {
	var r AuthAction
	switch a.Code() {
	case AuthPINCodeRequest:
		r = AuthPINCodeResponse
	case AuthUserConfirmationRequest:
		r = AuthUserConfirmationResponse
	case AuthPasskeyRequest:
		r = AuthPasskeyResponse
	case AuthOutOfBandDataRequest:
		r = AuthOutOfBandDataResponse
	case AuthIOCapabilitiesRequest:
		r = AuthIOCapabilitiesResponse
	default:
		return 0, false
	}
	return r.WithLE(a.IsLE()), true
}

func (a AuthAction) String() string {
	var name string
	switch a.Code() {
	case AuthPINCodeRequest:
		name = "PINCodeRequest"
	case AuthPINCodeResponse:
		name = "PINCodeResponse"
	case AuthUserConfirmationRequest:
		name = "UserConfirmationRequest"
	case AuthUserConfirmationResponse:
		name = "UserConfirmationResponse"
	case AuthPasskeyRequest:
		name = "PasskeyRequest"
	case AuthPasskeyResponse:
		name = "PasskeyResponse"
	case AuthPasskeyIndication:
		name = "PasskeyIndication"
	case AuthKeypressIndication:
		name = "KeypressIndication"
	case AuthOutOfBandDataRequest:
		name = "OutOfBandDataRequest"
	case AuthOutOfBandDataResponse:
		name = "OutOfBandDataResponse"
	case AuthIOCapabilitiesRequest:
		name = "IOCapabilitiesRequest"
	case AuthIOCapabilitiesResponse:
		name = "IOCapabilitiesResponse"
	case AuthStatusResult:
		name = "AuthenticationStatus"
	case AuthStart:
		name = "AuthenticationStart"
	case AuthEnd:
		name = "AuthenticationEnd"
	default:
		name = fmt.Sprintf("Action(%d)", uint32(a.Code()))
	}
	if a.IsLE() {
		return "LE" + name
	}
	return name
}

// AuthFlags qualify an authentication exchange.
type AuthFlags uint32

const (
	AuthFlagSecureConnections AuthFlags = 0x00000001
	AuthFlagJustWorks         AuthFlags = 0x00000002
)

// MaxPINCodeLength is the longest classic PIN code.
const MaxPINCodeLength = 16

// AuthData is the payload union of AuthenticationInformation. The
// active member is selected by the action code.
type AuthData interface {
	authSize() int
	encode(e *encoder)
}

// PINCode is the payload of PINCodeResponse.
type PINCode []byte

// Passkey carries a numeric passkey or confirmation value.
type Passkey uint32

// Confirmation is the payload of UserConfirmationResponse.
type Confirmation bool

// KeypressType is the payload of KeypressIndication.
type KeypressType uint32

const (
	KeypressEntryStarted   KeypressType = 0
	KeypressDigitEntered   KeypressType = 1
	KeypressDigitErased    KeypressType = 2
	KeypressCleared        KeypressType = 3
	KeypressEntryCompleted KeypressType = 4
)

// AuthStatus is the payload of AuthenticationStatus.
type AuthStatus uint32

// OOBData is classic simple-pairing or LE secure-connections out-of-band data.
type OOBData struct {
	Hash       [16]byte
	Randomizer [16]byte
}

// IOCapability is the local input/output capability.
type IOCapability uint8

const (
	IODisplayOnly     IOCapability = 0
	IODisplayYesNo    IOCapability = 1
	IOKeyboardOnly    IOCapability = 2
	IONoInputNoOutput IOCapability = 3
	IOKeyboardDisplay IOCapability = 4
)

// IOCapabilities is the classic IO capability exchange payload.
type IOCapabilities struct {
	IOCapability   IOCapability
	OOBDataPresent bool
	MITMProtection bool
	Bonding        bool
}

// LEIOCapabilities is the LE IO capability exchange payload. It is not
// representable in the legacy payload layout.
type LEIOCapabilities struct {
	IOCapability             IOCapability
	OOBDataPresent           bool
	AuthRequirements         uint8
	MaxEncryptionKeySize     uint8
	InitiatorKeyDistribution uint8
	ResponderKeyDistribution uint8
}

// Sizes of the payload union members.
const (
	pinCodeSize          = 1 + MaxPINCodeLength
	passkeySize          = 4
	oobDataSize          = 32
	ioCapabilitiesSize   = 4
	leIOCapabilitiesSize = 8
	authDataUnionSize    = oobDataSize
)

func (p PINCode) authSize() int { return pinCodeSize }
func (p PINCode) encode(e *encoder) {
	e.u8(uint8(len(p)))
	e.fixed(p, MaxPINCodeLength)
}

func (p Passkey) authSize() int          { return passkeySize }
func (p Passkey) encode(e *encoder)      { e.u32(uint32(p)) }
func (c Confirmation) authSize() int     { return passkeySize }
func (c Confirmation) encode(e *encoder) { e.bool32(bool(c)) }
func (k KeypressType) authSize() int     { return passkeySize }
func (k KeypressType) encode(e *encoder) { e.u32(uint32(k)) }
func (s AuthStatus) authSize() int       { return passkeySize }
func (s AuthStatus) encode(e *encoder)   { e.u32(uint32(s)) }

func (o OOBData) authSize() int { return oobDataSize }
func (o OOBData) encode(e *encoder) {
	e.bytes(o.Hash[:])
	e.bytes(o.Randomizer[:])
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

func (c IOCapabilities) authSize() int { return ioCapabilitiesSize }
func (c IOCapabilities) encode(e *encoder) {
	e.u8(uint8(c.IOCapability))
	e.u8(boolByte(c.OOBDataPresent))
	e.u8(boolByte(c.MITMProtection))
	e.u8(boolByte(c.Bonding))
}

func (c LEIOCapabilities) authSize() int { return leIOCapabilitiesSize }
func (c LEIOCapabilities) encode(e *encoder) {
	e.u8(uint8(c.IOCapability))
	e.u8(boolByte(c.OOBDataPresent))
	e.u8(c.AuthRequirements)
	e.u8(c.MaxEncryptionKeySize)
	e.u8(c.InitiatorKeyDistribution)
	e.u8(c.ResponderKeyDistribution)
	e.pad(2)
}

// AuthenticationInformation is exchanged between the negotiator and the
// registered authentication handler. A nil Data means no payload; in a
// response action that is a rejection.
type AuthenticationInformation struct {
	Address BDAddr
	Action  AuthAction
	Data    AuthData
	Flags   AuthFlags
}

// Rejected reports whether the information is a response with no payload.
func (a *AuthenticationInformation) Rejected() bool {
	return a.Action.IsResponse() && a.Data == nil
}

// expectedAuthDataSize returns the union member size for an action, or 0
// if the action carries no payload.
func expectedAuthDataSize(a AuthAction, leIO bool) (int, error) {
	switch a.Code() {
	case AuthPINCodeResponse:
		return pinCodeSize, nil
	case AuthUserConfirmationRequest, AuthUserConfirmationResponse,
		AuthPasskeyResponse, AuthPasskeyIndication, AuthKeypressIndication, AuthStatusResult:
		return passkeySize, nil
	case AuthOutOfBandDataResponse:
		return oobDataSize, nil
	case AuthIOCapabilitiesResponse:
		if a.IsLE() {
			if !leIO {
				return 0, fmt.Errorf("%w: LE IO capabilities in legacy layout", ErrInvalidPayload)
			}
			return leIOCapabilitiesSize, nil
		}
		return ioCapabilitiesSize, nil
	case AuthPINCodeRequest, AuthPasskeyRequest, AuthOutOfBandDataRequest,
		AuthIOCapabilitiesRequest, AuthStart, AuthEnd:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: unknown action %d", ErrInvalidPayload, uint32(a.Code()))
	}
}

// ValidateAuthData checks that data is the member the action selects.
func ValidateAuthData(a AuthAction, data AuthData) error {
	want, err := expectedAuthDataSize(a, true)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	if want == 0 || data.authSize() != want {
		return fmt.Errorf("%w: %T does not match action %s", ErrInvalidPayload, data, a)
	}
	if pin, ok := data.(PINCode); ok && (len(pin) == 0 || len(pin) > MaxPINCodeLength) {
		return fmt.Errorf("%w: pin code length %d", ErrInvalidPayload, len(pin))
	}
	return nil
}

// decodeAuthData decodes the union member for action a from raw.
func decodeAuthData(a AuthAction, raw []byte) (AuthData, error) {
	d := &decoder{buf: raw}
	var out AuthData
	switch a.Code() {
	case AuthPINCodeResponse:
		n := d.u8()
		pin := d.fixedBytes(int(n), MaxPINCodeLength)
		if n == 0 {
			return nil, fmt.Errorf("%w: empty pin code", ErrInvalidPayload)
		}
		out = PINCode(pin)
	case AuthUserConfirmationResponse:
		out = Confirmation(d.bool32())
	case AuthUserConfirmationRequest, AuthPasskeyResponse, AuthPasskeyIndication:
		out = Passkey(d.u32())
	case AuthKeypressIndication:
		out = KeypressType(d.u32())
	case AuthStatusResult:
		out = AuthStatus(d.u32())
	case AuthOutOfBandDataResponse:
		var o OOBData
		copy(o.Hash[:], d.take(16))
		copy(o.Randomizer[:], d.take(16))
		out = o
	case AuthIOCapabilitiesResponse:
		if a.IsLE() {
			var c LEIOCapabilities
			c.IOCapability = IOCapability(d.u8())
			c.OOBDataPresent = d.u8() != 0
			c.AuthRequirements = d.u8()
			c.MaxEncryptionKeySize = d.u8()
			c.InitiatorKeyDistribution = d.u8()
			c.ResponderKeyDistribution = d.u8()
			d.skip(2)
			out = c
		} else {
			var c IOCapabilities
			c.IOCapability = IOCapability(d.u8())
			c.OOBDataPresent = d.u8() != 0
			c.MITMProtection = d.u8() != 0
			c.Bonding = d.u8() != 0
			out = c
		}
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return out, nil
}

// encodeAuthInfo writes the current layout.
func encodeAuthInfo(e *encoder, a *AuthenticationInformation) {
	e.addr(a.Address)
	e.u32(uint32(a.Action))
	if a.Data == nil {
		e.u32(0)
		e.pad(authDataUnionSize)
	} else {
		e.u32(uint32(a.Data.authSize()))
		start := len(e.buf)
		a.Data.encode(e)
		e.pad(authDataUnionSize - (len(e.buf) - start))
	}
	e.u32(uint32(a.Flags))
}

// decodeAuthInfo reads either layout; withFlags selects the current one.
func decodeAuthInfo(d *decoder, a *AuthenticationInformation, withFlags bool) {
	a.Address = d.addr()
	a.Action = AuthAction(d.u32())
	n := d.u32()
	union := d.take(authDataUnionSize)
	if withFlags {
		a.Flags = AuthFlags(d.u32())
	}
	if d.err != nil {
		return
	}
	want, err := expectedAuthDataSize(a.Action, withFlags)
	if err != nil {
		d.fail(err)
		return
	}
	if n == 0 {
		a.Data = nil
		return
	}
	if int(n) != want {
		d.fail(fmt.Errorf("%w: %s expects %d payload bytes, got %d", ErrInvalidPayload, a.Action, want, n))
		return
	}
	data, err := decodeAuthData(a.Action, union[:n])
	if err != nil {
		d.fail(err)
		return
	}
	a.Data = data
}
