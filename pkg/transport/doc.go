// Package transport carries DEVM messages over a stream socket.
//
// Every message starts with the 16-byte wire header whose length field
// covers the whole message, so the header alone delimits frames:
//
//	┌────────────────────────────────┐
//	│   DEVM request/response/event  │
//	├────────────────────────────────┤
//	│   16-byte header (length)      │
//	├────────────────────────────────┤
//	│   Unix domain socket / TCP     │
//	└────────────────────────────────┘
//
// Server accepts connections and hands complete messages to a callback.
// Client correlates each request with the response carrying the same
// transaction id and function id, and delivers events to registered
// listeners. Each listener has its own queue, so a slow listener never
// delays responses or other listeners.
package transport
