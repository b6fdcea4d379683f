// Package devm is the device manager service.
//
// A Manager owns the radio through a stack.Stack and serves the DEVM
// protocol to any number of client connections. It wires the registry,
// controller, scheduler, negotiator and service record manager together,
// runs the power state machine and routes events to the connections
// holding callback registrations.
//
// Every connection has one outbound queue drained by its own goroutine.
// Responses and events share that queue, so a client sees the events a
// command caused before the command's response, and emitting an event
// under the registry lock never blocks on a socket.
package devm
