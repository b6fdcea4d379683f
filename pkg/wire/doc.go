// Package wire defines the binary wire format of the DEVM protocol.
//
// Every message starts with a fixed 16-byte little-endian header:
//
//	+----------+-------------+----------------+--------------+
//	| group id | function id | transaction id | total length |
//	|  uint32  |   uint32    |     uint32     |    uint32    |
//	+----------+-------------+----------------+--------------+
//
// The header is followed by a fixed-layout body and, for some messages,
// a single trailing array. The total length always equals the offset of
// the trailing array plus count times element size; decoders reject any
// message where that does not hold.
//
// # Message Kinds
//
//   - Request: client to server, function id below FunctionEventBase
//   - Response: server to client, same function id and transaction id as the request
//   - Event: server to client, function id at or above FunctionEventBase, transaction id 0
//
// # Errors
//
// Status is both the on-wire result code and a Go error value, so
// components return it wrapped with context and the request handler
// recovers it with errors.As.
package wire
