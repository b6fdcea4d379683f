// Package timer provides the millisecond timer facility used by the
// device manager for discovery, scan and advertising durations, job
// expiry, power-down acknowledgement and authentication timeouts.
//
// # Dispatch
//
// Expiry callbacks run one at a time on a single dispatch goroutine owned
// by the Facility, in expiry order. A callback must not block and must
// not wait for another timer.
//
// # Resolution
//
// Requested durations below the configured minimum resolution are raised
// to it. A zero duration therefore still defers the callback.
//
// # Cancellation
//
// Cancel returning true guarantees the callback will not run. A callback
// that already left the queue cannot be cancelled; callers that race with
// expiry record the ID they armed and ignore stale expiries.
package timer
