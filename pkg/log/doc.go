// Package log provides protocol capture for DEVM.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, wire, manager).
// It is separate from operational logging (logrus): protocol capture is a
// machine-readable trace of every frame, decoded message and state change.
//
// # Basic Usage
//
//	// Development: mirror events into the operational log
//	cfg.ProtocolLogger = log.NewLogrusAdapter(logger)
//
//	// Production: binary capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/devm/devmd.dlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(adapter, fileLogger)
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys.
// "devmd log <file>" prints them.
package log
