// Package stack defines the boundary between the device manager and the
// Bluetooth protocol engine that drives the radio (HCI, L2CAP, SDP, GAP).
//
// The manager calls the engine through the narrow interfaces in this
// package, often while holding the registry lock. Implementations must
// therefore never invoke the Handler from inside one of those calls;
// results are reported later from the engine's own goroutine.
//
// Sim is a deterministic in-process engine used by the daemon when no
// hardware engine is configured and by tests.
package stack
