// Package sdp manages the service records the device manager publishes
// through the stack's SDP database.
//
// A record belongs to the event callback that registered it. Transient
// records go away with their owner; persistent ones stay until deleted
// or until the device powers off.
package sdp
