package log

import "time"

// Logger receives protocol capture events.
// Pass nil or NoopLogger to disable capture.
type Logger interface {
	// Log records a protocol event. Implementations must be safe for
	// concurrent use and must not block.
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop returns l, or NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// StateChange captures a manager state transition.
func StateChange(l Logger, entity StateEntity, oldState, newState, reason string) {
	if l == nil {
		return
	}
	l.Log(Event{
		Timestamp: time.Now(),
		Layer:     LayerManager,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
