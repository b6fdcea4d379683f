// Package registry holds the device manager's shared state: local device
// properties, power and feature state, the remote-device directory and
// the radio claim.
//
// # Locking
//
// One mutex serializes every mutation. Components that need several
// steps to be atomic call Acquire, use the *Locked methods and call
// Release. Methods without the suffix take the lock themselves and must
// not be called while holding it.
//
// # Events
//
// Changes are announced through the Emitter while the lock is held, so
// clients observe them in mutation order. Emitters queue and return; they
// never call back into the registry.
//
// # Radio claim
//
// The controller (advertising, LE scan) and the interleaved scheduler
// share one radio. A claimant may claim repeatedly; the radio is free
// again after the matching number of releases. Release hooks run under
// the lock so a waiting claimant can take over without a gap.
package registry
