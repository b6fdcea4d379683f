// Package auth implements the pairing and authentication negotiator.
//
// One authentication handler may be registered process-wide. Requests
// raised by the stack are forwarded to it as AuthenticationRequest
// events; its AuthenticationResponse commands are validated against the
// pending request of the session and passed back to the stack. A
// request nobody answers within the response timeout is rejected on
// the handler's behalf.
//
// Pair, CancelPair and Unpair only report whether the stack accepted
// the request. The outcome is announced later with a
// RemoteDevicePairingStatus event.
package auth
