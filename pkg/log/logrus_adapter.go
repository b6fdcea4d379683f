package log

import (
	"github.com/sirupsen/logrus"
)

// LogrusAdapter writes protocol events to a logrus logger at debug level.
type LogrusAdapter struct {
	logger logrus.FieldLogger
}

// NewLogrusAdapter creates a LogrusAdapter.
func NewLogrusAdapter(logger logrus.FieldLogger) *LogrusAdapter {
	return &LogrusAdapter{logger: logger}
}

// Log writes the event as one structured line.
func (a *LogrusAdapter) Log(event Event) {
	fields := logrus.Fields{
		"conn_id":   event.ConnectionID,
		"direction": event.Direction.String(),
		"layer":     event.Layer.String(),
		"category":  event.Category.String(),
	}
	if event.DeviceAddress != "" {
		fields["device"] = event.DeviceAddress
	}

	switch {
	case event.Frame != nil:
		fields["frame_size"] = event.Frame.Size
		fields["truncated"] = event.Frame.Truncated
	case event.Message != nil:
		fields["txn"] = event.Message.TransactionID
		fields["msg_type"] = event.Message.Type.String()
		fields["function"] = event.Message.Function.String()
		if event.Message.Status != nil {
			fields["status"] = event.Message.Status.String()
		}
		if event.Message.ProcessingTime != nil {
			fields["processing_time"] = event.Message.ProcessingTime.String()
		}
	case event.StateChange != nil:
		fields["entity"] = event.StateChange.Entity.String()
		fields["old_state"] = event.StateChange.OldState
		fields["new_state"] = event.StateChange.NewState
		if event.StateChange.Reason != "" {
			fields["reason"] = event.StateChange.Reason
		}
	case event.Error != nil:
		fields["error_layer"] = event.Error.Layer.String()
		fields["error_msg"] = event.Error.Message
		fields["error_context"] = event.Error.Context
		if event.Error.Code != nil {
			fields["error_code"] = *event.Error.Code
		}
	}

	a.logger.WithFields(fields).Debug("protocol")
}

// Compile-time interface satisfaction check.
var _ Logger = (*LogrusAdapter)(nil)
