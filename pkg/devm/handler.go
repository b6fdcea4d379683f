package devm

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/wire"
)

// HandleMessage decodes one request from c, runs it and queues the
// response on c's outbound queue.
func (m *Manager) HandleMessage(c Conn, data []byte) {
	connID := c.ConnID()
	h, err := wire.DecodeHeader(data)
	if err != nil {
		m.log.WithError(err).WithField("conn", connID).Warn("dropping malformed message")
		return
	}
	if h.Function.IsEvent() {
		m.log.WithFields(logrus.Fields{"conn": connID, "function": h.Function}).Warn("client sent an event")
		return
	}
	start := time.Now()
	m.logMessage(connID, log.DirectionIn, log.MessageTypeRequest, h, nil, nil)

	var resp wire.Body
	msg, err := wire.DecodeRequest(data)
	switch {
	case errors.Is(err, wire.ErrUnknownFunction):
		resp = &wire.StatusResponse{Status: wire.StatusUnsupported}
	case err != nil:
		m.log.WithError(err).WithField("conn", connID).Debug("rejecting undecodable request")
		resp = wire.ErrorResponse(h.Function, wire.StatusInvalidParameter)
	default:
		resp = m.handle(connID, msg)
	}

	m.dispatcher.Send(connID, wire.Encode(h.Function, h.TransactionID, resp))

	elapsed := time.Since(start)
	var status *wire.Status
	if s, ok := resp.(wire.Statuser); ok {
		st := s.ResponseStatus()
		status = &st
	}
	m.logMessage(connID, log.DirectionOut, log.MessageTypeResponse, h, status, &elapsed)
}

func (m *Manager) handle(connID string, msg *wire.Message) wire.Body {
	fn := msg.Header.Function
	fail := func(err error) wire.Body {
		s := wire.StatusOf(err)
		entry := m.log.WithError(err).WithFields(logrus.Fields{"conn": connID, "function": fn})
		if s == wire.StatusInternal {
			entry.Warn("request failed")
		} else {
			entry.Debug("request rejected")
		}
		return wire.ErrorResponse(fn, s)
	}
	status := func(err error) wire.Body {
		if err != nil {
			return fail(err)
		}
		return &wire.StatusResponse{}
	}
	owned := func(id uint32) error {
		if !m.dispatcher.Owns(connID, id) {
			return fmt.Errorf("%w: callback %d", wire.StatusInvalidHandle, id)
		}
		return nil
	}

	// Records are writable by the connection holding their owner. A
	// persistent record that outlived its owner is open to everyone.
	permit := func(owner uint32) bool {
		return m.dispatcher.Owns(connID, owner) || !m.dispatcher.Registered(owner)
	}

	switch req := msg.Body.(type) {
	case *wire.Empty:
		return m.handleEmpty(connID, fn, status, fail)

	case *wire.CallbackRequest:
		if fn == wire.FuncUnregisterEventCallback {
			if err := m.dispatcher.Unregister(connID, req.CallbackID); err != nil {
				return fail(err)
			}
			m.removeOwners(req.CallbackID)
			return &wire.StatusResponse{}
		}
		if err := owned(req.CallbackID); err != nil {
			return fail(err)
		}
		switch fn {
		case wire.FuncAcknowledgePowerDown:
			return status(m.AcknowledgePowerDown(req.CallbackID))
		case wire.FuncRegisterAuthentication:
			return status(m.auth.Register(req.CallbackID))
		case wire.FuncUnregisterAuthentication:
			return status(m.auth.Unregister(req.CallbackID))
		}

	case *wire.UpdateLocalPropertiesRequest:
		return status(m.reg.UpdateLocalProperties(req.Mask, req.Properties))

	case *wire.FeatureRequest:
		if fn == wire.FuncEnableFeature {
			return status(m.EnableFeature(req.Feature))
		}
		return status(m.DisableFeature(req.Feature))

	case *wire.DurationRequest:
		if fn == wire.FuncStartDeviceDiscovery {
			return status(m.ctl.StartDeviceDiscovery(req.DurationSeconds))
		}
		return status(m.ctl.StartLEScan(req.DurationSeconds))

	case *wire.ObservationScanRequest:
		return status(m.ctl.StartObservationScan(*req))

	case *wire.StartAdvertisingRequest:
		return status(m.ctl.StartAdvertising(*req))

	case *wire.StopAdvertisingRequest:
		return status(m.ctl.StopAdvertising(req.Force))

	case *wire.RemoteDeviceListRequest:
		total, addrs, err := m.reg.RemoteDeviceList(req.Filter, req.ClassOfDevice, req.MaxDevices)
		if err != nil {
			return fail(err)
		}
		return &wire.RemoteDeviceListResponse{TotalCount: total, Addresses: addrs}

	case *wire.AddressRequest:
		return m.handleAddress(fn, req, status, fail)

	case *wire.RemoteDeviceServicesRequest:
		if req.Flags&wire.OpFlagForceUpdate != 0 {
			if err := m.auth.QueryServices(req.Address, req.Flags); err != nil {
				return fail(err)
			}
		}
		total, uuids, err := m.reg.RemoteDeviceServices(req.Address, req.MaxUUIDs)
		if err != nil {
			return fail(err)
		}
		return &wire.UUIDListResponse{TotalCount: total, UUIDs: uuids}

	case *wire.AddRemoteDeviceRequest:
		return status(m.reg.AddRemoteDevice(req.Address, req.ClassOfDevice, req.ApplicationData))

	case *wire.FilterRequest:
		_, err := m.reg.DeleteRemoteDevices(req.Filter)
		return status(err)

	case *wire.ApplicationDataRequest:
		return status(m.reg.UpdateApplicationData(req.Address, req.Data))

	case *wire.AuthenticationResponseRequest:
		holder, ok := m.auth.Handler()
		if !ok {
			return fail(fmt.Errorf("%w: no authentication handler", wire.StatusInvalidHandle))
		}
		if err := owned(holder); err != nil {
			return fail(err)
		}
		return status(m.auth.Respond(holder, req.Info))

	case *wire.RegisterServiceRecordRequest:
		if err := owned(req.CallbackID); err != nil {
			return fail(err)
		}
		handle, err := m.sdp.Register(req.CallbackID, req.Persistent, req.ServiceClasses)
		if err != nil {
			return fail(err)
		}
		return &wire.ServiceRecordResponse{Handle: handle}

	case *wire.RecordHandleRequest:
		return status(m.sdp.Delete(req.Handle, permit))

	case *wire.AddAttributeRequest:
		return status(m.sdp.AddAttribute(req.Handle, req.AttributeID, req.Value, permit))

	case *wire.AttributeRequest:
		if fn == wire.FuncDeleteServiceRecordAttribute {
			return status(m.sdp.DeleteAttribute(req.Handle, req.AttributeID, permit))
		}
		total, value, err := m.sdp.QueryAttribute(req.Handle, req.AttributeID, req.MaxLength)
		if err != nil {
			return fail(err)
		}
		return &wire.AttributeValueResponse{TotalLength: total, Value: value}

	case *wire.ScheduleAdvertisementRequest:
		if err := owned(req.CallbackID); err != nil {
			return fail(err)
		}
		id, err := m.sched.Schedule(req.CallbackID, req.Flags, req.DurationMS, req.RandomAddress, req.Payload)
		if err != nil {
			return fail(err)
		}
		return &wire.ScheduleAdvertisementResponse{Result: int32(id)}

	case *wire.CancelScheduledAdvertisementRequest:
		if err := owned(req.CallbackID); err != nil {
			return fail(err)
		}
		return status(m.sched.Cancel(req.CallbackID, req.JobID))
	}

	return fail(fmt.Errorf("%w: no handler for %s", wire.StatusUnsupported, fn))
}

// handleEmpty runs the commands that carry no parameters.
func (m *Manager) handleEmpty(connID string, fn wire.Function, status func(error) wire.Body, fail func(error) wire.Body) wire.Body {
	switch fn {
	case wire.FuncPowerOn:
		return status(m.PowerOn())
	case wire.FuncPowerOff:
		return status(m.PowerOff())
	case wire.FuncQueryPowerState:
		return &wire.PowerStateResponse{State: m.QueryPowerState()}
	case wire.FuncRegisterEventCallback:
		id, err := m.dispatcher.Register(connID)
		if err != nil {
			return fail(err)
		}
		m.log.WithFields(logrus.Fields{"conn": connID, "callback": id}).Debug("event callback registered")
		return &wire.RegisterEventCallbackResponse{CallbackID: id}
	case wire.FuncQueryLocalProperties:
		return &wire.LocalPropertiesResponse{Properties: m.reg.LocalProperties()}
	case wire.FuncQueryActiveFeatures:
		return &wire.FeaturesResponse{Features: m.QueryActiveFeatures()}
	case wire.FuncStopDeviceDiscovery:
		return status(m.ctl.StopDeviceDiscovery())
	case wire.FuncStopLEScan:
		return status(m.ctl.StopLEScan())
	case wire.FuncStopObservationScan:
		return status(m.ctl.StopObservationScan())
	case wire.FuncSuspendScheduling:
		m.sched.Suspend()
		return &wire.StatusResponse{}
	case wire.FuncResumeScheduling:
		m.sched.Resume()
		return &wire.StatusResponse{}
	}
	return fail(fmt.Errorf("%w: no handler for %s", wire.StatusUnsupported, fn))
}

// handleAddress runs the commands addressed to one remote device.
func (m *Manager) handleAddress(fn wire.Function, req *wire.AddressRequest, status func(error) wire.Body, fail func(error) wire.Body) wire.Body {
	switch fn {
	case wire.FuncQueryRemoteDeviceProperties:
		d, err := m.reg.RemoteDevice(req.Address)
		if err != nil {
			return fail(err)
		}
		return &wire.RemoteDevicePropertiesResponse{Device: *d}
	case wire.FuncDeleteRemoteDevice:
		return status(m.reg.DeleteRemoteDevice(req.Address))
	case wire.FuncPairWithRemoteDevice:
		return status(m.auth.Pair(req.Address, req.Flags))
	case wire.FuncCancelPairWithRemoteDevice:
		return status(m.auth.CancelPair(req.Address))
	case wire.FuncUnpairRemoteDevice:
		return status(m.auth.Unpair(req.Address, req.Flags))
	case wire.FuncConnectWithRemoteDevice:
		return status(m.auth.Connect(req.Address, req.Flags))
	case wire.FuncDisconnectRemoteDevice:
		return status(m.auth.Disconnect(req.Address, req.Flags))
	}
	return fail(fmt.Errorf("%w: no handler for %s", wire.StatusUnsupported, fn))
}

func (m *Manager) logMessage(connID string, dir log.Direction, typ log.MessageType, h wire.Header, status *wire.Status, elapsed *time.Duration) {
	if m.logger == nil {
		return
	}
	m.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleServer,
		Message: &log.MessageEvent{
			Type:           typ,
			TransactionID:  h.TransactionID,
			Function:       h.Function,
			Status:         status,
			ProcessingTime: elapsed,
		},
	})
}
