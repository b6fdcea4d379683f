// Package persistence stores the remote-device directory across daemon
// restarts.
//
// Only bonded devices and the user-set local properties are saved; scan
// results and link state are rebuilt at runtime. The file is CBOR with
// integer keys so new fields can be added without breaking older files.
package persistence
