// Package client is a typed Go API for the DEVM protocol.
//
// Each method sends one command and waits for its response. A non-zero
// response status is returned as a wire.Status error, so callers test
// outcomes with errors.Is(err, wire.StatusRadioBusy) and friends.
// Events are delivered to the handlers passed to RegisterEventCallback.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/devm-project/devm-go/pkg/transport"
	"github.com/devm-project/devm-go/pkg/wire"
)

// EventHandler receives events. Calls for one handler never overlap and
// keep arrival order. A handler must not block on a command of the same
// client; events for it queue up until it returns.
type EventHandler func(ev wire.Event)

// Client issues DEVM commands over one connection.
type Client struct {
	conn transport.RequestSender

	mu        sync.Mutex
	listeners map[uint32]transport.ListenerID

	// authHandler is the callback holding the authentication slot, or 0.
	authHandler uint32
}

// New wraps an established connection.
func New(conn transport.RequestSender) *Client {
	return &Client{conn: conn, listeners: make(map[uint32]transport.ListenerID)}
}

// Dial connects to the daemon, retrying with backoff until ctx ends.
func Dial(ctx context.Context, config transport.ClientConfig, retry transport.BackoffConfig) (*Client, error) {
	conn, err := transport.DialWithRetry(ctx, config, retry)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// Close closes the connection. The daemon drops every callback of the
// connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, fn wire.Function, body wire.Body) (wire.Body, error) {
	if body == nil {
		body = &wire.Empty{}
	}
	msg, err := c.conn.Send(ctx, fn, body)
	if err != nil {
		return nil, err
	}
	s, ok := msg.Body.(wire.Statuser)
	if !ok {
		return nil, fmt.Errorf("%w: %s response has no status", wire.ErrInvalidPayload, fn)
	}
	if err := s.ResponseStatus().Err(); err != nil {
		return msg.Body, fmt.Errorf("%s: %w", fn, err)
	}
	return msg.Body, nil
}

func (c *Client) status(ctx context.Context, fn wire.Function, body wire.Body) error {
	_, err := c.call(ctx, fn, body)
	return err
}

// RegisterEventCallback registers h and returns the callback id, which
// is also the owner id for jobs, records and the authentication slot.
// Events the daemon addresses to one owner reach only that owner's
// handler, even when several callbacks share the connection.
func (c *Client) RegisterEventCallback(ctx context.Context, h EventHandler) (uint32, error) {
	var owner atomic.Uint32
	lid := c.conn.RegisterEventListener(func(msg *wire.Message) {
		ev := wire.Event{Function: msg.Header.Function, Body: msg.Body}
		if c.deliverable(owner.Load(), ev) {
			h(ev)
		}
	})
	body, err := c.call(ctx, wire.FuncRegisterEventCallback, nil)
	if err != nil {
		c.conn.UnregisterEventListener(lid)
		return 0, err
	}
	id := body.(*wire.RegisterEventCallbackResponse).CallbackID
	owner.Store(id)

	c.mu.Lock()
	c.listeners[id] = lid
	c.mu.Unlock()
	return id, nil
}

// deliverable reports whether ev is meant for callback id. Job
// completions go to the job's owner and authentication requests to the
// handler slot holder; everything else is broadcast.
func (c *Client) deliverable(id uint32, ev wire.Event) bool {
	switch b := ev.Body.(type) {
	case *wire.AdvertisementCompleteEvent:
		return id != 0 && b.OwnerID == id
	case *wire.AuthenticationRequestEvent:
		c.mu.Lock()
		defer c.mu.Unlock()
		return id != 0 && c.authHandler == id
	}
	return true
}

// UnregisterEventCallback releases id and stops its handler.
func (c *Client) UnregisterEventCallback(ctx context.Context, id uint32) error {
	err := c.status(ctx, wire.FuncUnregisterEventCallback, &wire.CallbackRequest{CallbackID: id})

	c.mu.Lock()
	lid, ok := c.listeners[id]
	delete(c.listeners, id)
	if err == nil && c.authHandler == id {
		c.authHandler = 0
	}
	c.mu.Unlock()
	if ok {
		c.conn.UnregisterEventListener(lid)
	}
	return err
}

// PowerOn brings the radio up.
func (c *Client) PowerOn(ctx context.Context) error {
	return c.status(ctx, wire.FuncPowerOn, nil)
}

// PowerOff starts the power-down handshake.
func (c *Client) PowerOff(ctx context.Context) error {
	return c.status(ctx, wire.FuncPowerOff, nil)
}

// QueryPowerState returns the power state.
func (c *Client) QueryPowerState(ctx context.Context) (wire.PowerState, error) {
	body, err := c.call(ctx, wire.FuncQueryPowerState, nil)
	if err != nil {
		return 0, err
	}
	return body.(*wire.PowerStateResponse).State, nil
}

// AcknowledgePowerDown tells the daemon callback id is ready for
// power-off.
func (c *Client) AcknowledgePowerDown(ctx context.Context, id uint32) error {
	return c.status(ctx, wire.FuncAcknowledgePowerDown, &wire.CallbackRequest{CallbackID: id})
}

// QueryLocalProperties returns the local device properties.
func (c *Client) QueryLocalProperties(ctx context.Context) (wire.LocalProperties, error) {
	body, err := c.call(ctx, wire.FuncQueryLocalProperties, nil)
	if err != nil {
		return wire.LocalProperties{}, err
	}
	return body.(*wire.LocalPropertiesResponse).Properties, nil
}

// UpdateLocalProperties applies the masked fields of props.
func (c *Client) UpdateLocalProperties(ctx context.Context, mask wire.LocalPropertiesMask, props wire.LocalProperties) error {
	return c.status(ctx, wire.FuncUpdateLocalProperties, &wire.UpdateLocalPropertiesRequest{Mask: mask, Properties: props})
}

// EnableFeature turns on f.
func (c *Client) EnableFeature(ctx context.Context, f wire.Feature) error {
	return c.status(ctx, wire.FuncEnableFeature, &wire.FeatureRequest{Feature: f})
}

// DisableFeature turns off f.
func (c *Client) DisableFeature(ctx context.Context, f wire.Feature) error {
	return c.status(ctx, wire.FuncDisableFeature, &wire.FeatureRequest{Feature: f})
}

// QueryActiveFeatures returns the active feature set.
func (c *Client) QueryActiveFeatures(ctx context.Context) (wire.Feature, error) {
	body, err := c.call(ctx, wire.FuncQueryActiveFeatures, nil)
	if err != nil {
		return 0, err
	}
	return body.(*wire.FeaturesResponse).Features, nil
}

// StartDeviceDiscovery starts an inquiry. Zero seconds runs until
// stopped.
func (c *Client) StartDeviceDiscovery(ctx context.Context, seconds uint32) error {
	return c.status(ctx, wire.FuncStartDeviceDiscovery, &wire.DurationRequest{DurationSeconds: seconds})
}

// StopDeviceDiscovery stops the inquiry.
func (c *Client) StopDeviceDiscovery(ctx context.Context) error {
	return c.status(ctx, wire.FuncStopDeviceDiscovery, nil)
}

// StartLEScan starts an LE scan.
func (c *Client) StartLEScan(ctx context.Context, seconds uint32) error {
	return c.status(ctx, wire.FuncStartLEScan, &wire.DurationRequest{DurationSeconds: seconds})
}

// StopLEScan stops the LE scan.
func (c *Client) StopLEScan(ctx context.Context) error {
	return c.status(ctx, wire.FuncStopLEScan, nil)
}

// StartObservationScan starts a rate-limited observation scan.
func (c *Client) StartObservationScan(ctx context.Context, req wire.ObservationScanRequest) error {
	return c.status(ctx, wire.FuncStartObservationScan, &req)
}

// StopObservationScan stops the observation scan.
func (c *Client) StopObservationScan(ctx context.Context) error {
	return c.status(ctx, wire.FuncStopObservationScan, nil)
}

// StartAdvertising starts controller advertising.
func (c *Client) StartAdvertising(ctx context.Context, req wire.StartAdvertisingRequest) error {
	return c.status(ctx, wire.FuncStartAdvertising, &req)
}

// StopAdvertising stops controller advertising. force also stops a
// scheduled job holding the radio.
func (c *Client) StopAdvertising(ctx context.Context, force bool) error {
	return c.status(ctx, wire.FuncStopAdvertising, &wire.StopAdvertisingRequest{Force: force})
}

// QueryRemoteDeviceList returns the number of matching devices and up to
// max of their addresses.
func (c *Client) QueryRemoteDeviceList(ctx context.Context, filter wire.DeviceFilter, cod wire.ClassOfDevice, max uint32) (uint32, []wire.BDAddr, error) {
	body, err := c.call(ctx, wire.FuncQueryRemoteDeviceList, &wire.RemoteDeviceListRequest{
		Filter:        filter,
		ClassOfDevice: cod,
		MaxDevices:    max,
	})
	if err != nil {
		return 0, nil, err
	}
	r := body.(*wire.RemoteDeviceListResponse)
	return r.TotalCount, r.Addresses, nil
}

// QueryRemoteDeviceProperties returns the record of addr.
func (c *Client) QueryRemoteDeviceProperties(ctx context.Context, addr wire.BDAddr) (wire.RemoteDevice, error) {
	body, err := c.call(ctx, wire.FuncQueryRemoteDeviceProperties, &wire.AddressRequest{Address: addr})
	if err != nil {
		return wire.RemoteDevice{}, err
	}
	return body.(*wire.RemoteDevicePropertiesResponse).Device, nil
}

// QueryRemoteDeviceServices returns the number of known service classes
// of addr and up to max of them. OpFlagForceUpdate starts a fresh
// service discovery first.
func (c *Client) QueryRemoteDeviceServices(ctx context.Context, addr wire.BDAddr, flags wire.OperationFlags, max uint32) (uint32, []uuid.UUID, error) {
	body, err := c.call(ctx, wire.FuncQueryRemoteDeviceServices, &wire.RemoteDeviceServicesRequest{
		Address:  addr,
		Flags:    flags,
		MaxUUIDs: max,
	})
	if err != nil {
		return 0, nil, err
	}
	r := body.(*wire.UUIDListResponse)
	return r.TotalCount, r.UUIDs, nil
}

// AddRemoteDevice creates a record.
func (c *Client) AddRemoteDevice(ctx context.Context, addr wire.BDAddr, cod wire.ClassOfDevice, appData []byte) error {
	return c.status(ctx, wire.FuncAddRemoteDevice, &wire.AddRemoteDeviceRequest{
		Address:         addr,
		ClassOfDevice:   cod,
		ApplicationData: appData,
	})
}

// DeleteRemoteDevice removes a record.
func (c *Client) DeleteRemoteDevice(ctx context.Context, addr wire.BDAddr) error {
	return c.status(ctx, wire.FuncDeleteRemoteDevice, &wire.AddressRequest{Address: addr})
}

// DeleteRemoteDevices removes every record matching filter.
func (c *Client) DeleteRemoteDevices(ctx context.Context, filter wire.DeviceFilter) error {
	return c.status(ctx, wire.FuncDeleteRemoteDevices, &wire.FilterRequest{Filter: filter})
}

// UpdateRemoteDeviceApplicationData replaces the application blob of addr.
func (c *Client) UpdateRemoteDeviceApplicationData(ctx context.Context, addr wire.BDAddr, data []byte) error {
	return c.status(ctx, wire.FuncUpdateRemoteDeviceApplicationData, &wire.ApplicationDataRequest{Address: addr, Data: data})
}

// PairWithRemoteDevice starts bonding. The outcome arrives as a
// RemoteDevicePairingStatus event.
func (c *Client) PairWithRemoteDevice(ctx context.Context, addr wire.BDAddr, flags wire.OperationFlags) error {
	return c.status(ctx, wire.FuncPairWithRemoteDevice, &wire.AddressRequest{Address: addr, Flags: flags})
}

// CancelPairWithRemoteDevice aborts bonding in progress.
func (c *Client) CancelPairWithRemoteDevice(ctx context.Context, addr wire.BDAddr) error {
	return c.status(ctx, wire.FuncCancelPairWithRemoteDevice, &wire.AddressRequest{Address: addr})
}

// UnpairRemoteDevice removes a bond.
func (c *Client) UnpairRemoteDevice(ctx context.Context, addr wire.BDAddr, flags wire.OperationFlags) error {
	return c.status(ctx, wire.FuncUnpairRemoteDevice, &wire.AddressRequest{Address: addr, Flags: flags})
}

// ConnectWithRemoteDevice opens a link.
func (c *Client) ConnectWithRemoteDevice(ctx context.Context, addr wire.BDAddr, flags wire.OperationFlags) error {
	return c.status(ctx, wire.FuncConnectWithRemoteDevice, &wire.AddressRequest{Address: addr, Flags: flags})
}

// DisconnectRemoteDevice closes a link.
func (c *Client) DisconnectRemoteDevice(ctx context.Context, addr wire.BDAddr, flags wire.OperationFlags) error {
	return c.status(ctx, wire.FuncDisconnectRemoteDevice, &wire.AddressRequest{Address: addr, Flags: flags})
}

// RegisterAuthentication claims the authentication handler slot for
// callback id. Authentication requests are then delivered to id's
// handler only.
func (c *Client) RegisterAuthentication(ctx context.Context, id uint32) error {
	// Requests may overtake the response, so a free slot is recorded
	// before sending.
	c.mu.Lock()
	early := c.authHandler == 0
	if early {
		c.authHandler = id
	}
	c.mu.Unlock()

	err := c.status(ctx, wire.FuncRegisterAuthentication, &wire.CallbackRequest{CallbackID: id})
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil:
		c.authHandler = id
	case early && c.authHandler == id:
		c.authHandler = 0
	}
	return err
}

// UnregisterAuthentication releases the handler slot.
func (c *Client) UnregisterAuthentication(ctx context.Context, id uint32) error {
	err := c.status(ctx, wire.FuncUnregisterAuthentication, &wire.CallbackRequest{CallbackID: id})
	if err == nil {
		c.mu.Lock()
		if c.authHandler == id {
			c.authHandler = 0
		}
		c.mu.Unlock()
	}
	return err
}

// AuthenticationResponse answers a pending authentication request.
func (c *Client) AuthenticationResponse(ctx context.Context, info wire.AuthenticationInformation) error {
	return c.status(ctx, wire.FuncAuthenticationResponse, &wire.AuthenticationResponseRequest{Info: info})
}

// RegisterServiceRecord publishes a record listing classes.
func (c *Client) RegisterServiceRecord(ctx context.Context, owner uint32, persistent bool, classes []uuid.UUID) (uint32, error) {
	body, err := c.call(ctx, wire.FuncRegisterServiceRecord, &wire.RegisterServiceRecordRequest{
		CallbackID:     owner,
		Persistent:     persistent,
		ServiceClasses: classes,
	})
	if err != nil {
		return 0, err
	}
	return body.(*wire.ServiceRecordResponse).Handle, nil
}

// DeleteServiceRecord removes a record.
func (c *Client) DeleteServiceRecord(ctx context.Context, handle uint32) error {
	return c.status(ctx, wire.FuncDeleteServiceRecord, &wire.RecordHandleRequest{Handle: handle})
}

// AddServiceRecordAttribute sets an attribute to one encoded data
// element.
func (c *Client) AddServiceRecordAttribute(ctx context.Context, handle uint32, id uint16, value []byte) error {
	return c.status(ctx, wire.FuncAddServiceRecordAttribute, &wire.AddAttributeRequest{
		Handle:      handle,
		AttributeID: id,
		Value:       value,
	})
}

// DeleteServiceRecordAttribute removes an attribute.
func (c *Client) DeleteServiceRecordAttribute(ctx context.Context, handle uint32, id uint16) error {
	return c.status(ctx, wire.FuncDeleteServiceRecordAttribute, &wire.AttributeRequest{Handle: handle, AttributeID: id})
}

// QueryServiceRecordAttribute returns the full length of an attribute
// and up to max bytes of it.
func (c *Client) QueryServiceRecordAttribute(ctx context.Context, handle uint32, id uint16, max uint32) (uint32, []byte, error) {
	body, err := c.call(ctx, wire.FuncQueryServiceRecordAttribute, &wire.AttributeRequest{
		Handle:      handle,
		AttributeID: id,
		MaxLength:   max,
	})
	if err != nil {
		return 0, nil, err
	}
	r := body.(*wire.AttributeValueResponse)
	return r.TotalLength, r.Value, nil
}

// ScheduleAdvertisement queues a one-shot advertisement for owner and
// returns the job id.
func (c *Client) ScheduleAdvertisement(ctx context.Context, req wire.ScheduleAdvertisementRequest) (uint32, error) {
	body, err := c.call(ctx, wire.FuncScheduleAdvertisement, &req)
	if err != nil {
		return 0, err
	}
	return body.(*wire.ScheduleAdvertisementResponse).JobID(), nil
}

// CancelScheduledAdvertisement cancels a job of owner.
func (c *Client) CancelScheduledAdvertisement(ctx context.Context, owner, jobID uint32) error {
	return c.status(ctx, wire.FuncCancelScheduledAdvertisement, &wire.CancelScheduledAdvertisementRequest{
		CallbackID: owner,
		JobID:      jobID,
	})
}

// SuspendScheduling stops new jobs from starting.
func (c *Client) SuspendScheduling(ctx context.Context) error {
	return c.status(ctx, wire.FuncSuspendScheduling, nil)
}

// ResumeScheduling lets queued jobs start again.
func (c *Client) ResumeScheduling(ctx context.Context) error {
	return c.status(ctx, wire.FuncResumeScheduling, nil)
}
