// Package controller runs the discovery, LE scan, LE observation and LE
// advertising state machines of the device manager.
//
// Every mode moves Idle → Active → Idle and announces both edges with a
// Started/Stopped event and a DeviceFlags change of the local
// properties. All state lives behind the registry lock: exported
// methods acquire it, *Locked methods expect the caller to hold it.
//
// Durations are armed on the shared timer facility. An expiry that
// races a Stop is discarded by comparing the generation captured when
// the timer was armed.
package controller
