package devm

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/wire"
)

var (
	peer       = wire.BDAddr{0x00, 0x1B, 0xDC, 0x06, 0x5E, 0x21}
	serialPort = uuid.MustParse("00001101-0000-1000-8000-00805F9B34FB")
)

// recordingConn collects the frames queued for one client.
type recordingConn struct {
	id     string
	frames chan []byte
	events []*wire.Message
}

func newRecordingConn(id string) *recordingConn {
	return &recordingConn{id: id, frames: make(chan []byte, 256)}
}

func (c *recordingConn) ConnID() string { return c.id }

func (c *recordingConn) Send(data []byte) error {
	c.frames <- append([]byte(nil), data...)
	return nil
}

func (c *recordingConn) raw(t *testing.T) []byte {
	t.Helper()
	select {
	case b := <-c.frames:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timed out waiting for a frame", c.id)
		return nil
	}
}

func (c *recordingConn) next(t *testing.T) *wire.Message {
	t.Helper()
	b := c.raw(t)
	h, err := wire.DecodeHeader(b)
	require.NoError(t, err)
	var msg *wire.Message
	if h.Function.IsEvent() {
		msg, err = wire.DecodeEvent(b)
	} else {
		msg, err = wire.DecodeResponse(b)
	}
	require.NoError(t, err)
	return msg
}

// waitEvent returns the first event fn, reading ahead as needed.
func (c *recordingConn) waitEvent(t *testing.T, fn wire.Function) *wire.Message {
	t.Helper()
	for i, ev := range c.events {
		if ev.Header.Function == fn {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return ev
		}
	}
	for {
		msg := c.next(t)
		if msg.Header.Function == fn {
			return msg
		}
		c.events = append(c.events, msg)
	}
}

// assertNoEvent drains the queue for d and fails when fn shows up.
func (c *recordingConn) assertNoEvent(t *testing.T, fn wire.Function, d time.Duration) {
	t.Helper()
	for _, ev := range c.events {
		assert.NotEqual(t, fn, ev.Header.Function)
	}
	deadline := time.After(d)
	for {
		select {
		case b := <-c.frames:
			h, err := wire.DecodeHeader(b)
			require.NoError(t, err)
			assert.NotEqual(t, fn, h.Function, "%s: unexpected %s", c.id, fn)
		case <-deadline:
			return
		}
	}
}

type harness struct {
	t   *testing.T
	m   *Manager
	sim *stack.Sim
	txn uint32
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	sim := stack.NewSim(stack.SimConfig{
		Devices: []stack.SimDevice{{
			Address:       peer,
			Name:          "headset",
			ClassOfDevice: 0x240404,
			Classic:       true,
		}},
		Log: logger,
	})
	t.Cleanup(sim.Close)

	config := Config{
		Stack:    sim,
		Local:    wire.LocalProperties{DeviceName: "devm", ClassOfDevice: 0x1F00},
		Features: wire.FeatureLowEnergy | wire.FeatureInterleavedAdvertising,
		Log:      logger,
	}
	if configure != nil {
		configure(&config)
	}
	m, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return &harness{t: t, m: m, sim: sim}
}

func (h *harness) connect(id string) *recordingConn {
	c := newRecordingConn(id)
	h.m.Connect(c)
	return c
}

func (h *harness) call(c *recordingConn, fn wire.Function, body wire.Body) wire.Body {
	h.t.Helper()
	if body == nil {
		body = &wire.Empty{}
	}
	h.txn++
	h.m.HandleMessage(c, wire.Encode(fn, h.txn, body))
	for {
		msg := c.next(h.t)
		if msg.Header.Function.IsEvent() {
			c.events = append(c.events, msg)
			continue
		}
		require.Equal(h.t, fn, msg.Header.Function)
		require.Equal(h.t, h.txn, msg.Header.TransactionID)
		return msg.Body
	}
}

func (h *harness) status(c *recordingConn, fn wire.Function, body wire.Body) wire.Status {
	h.t.Helper()
	return h.call(c, fn, body).(wire.Statuser).ResponseStatus()
}

func (h *harness) register(c *recordingConn) uint32 {
	h.t.Helper()
	resp := h.call(c, wire.FuncRegisterEventCallback, nil).(*wire.RegisterEventCallbackResponse)
	require.Equal(h.t, wire.StatusSuccess, resp.Status)
	require.NotZero(h.t, resp.CallbackID)
	return resp.CallbackID
}

func (h *harness) powerState(c *recordingConn) wire.PowerState {
	h.t.Helper()
	return h.call(c, wire.FuncQueryPowerState, nil).(*wire.PowerStateResponse).State
}

func (h *harness) powerOn(c *recordingConn) {
	h.t.Helper()
	require.Equal(h.t, wire.StatusSuccess, h.status(c, wire.FuncPowerOn, nil))
}

func TestNewRequiresStack(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestPowerOnOffWithoutCallbacks(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1")

	assert.Equal(t, wire.PowerDisabled, h.powerState(c))
	h.powerOn(c)
	assert.Equal(t, wire.PowerEnabled, h.powerState(c))

	// Repeating is a no-op.
	assert.Equal(t, wire.StatusSuccess, h.status(c, wire.FuncPowerOn, nil))

	assert.Equal(t, wire.StatusSuccess, h.status(c, wire.FuncPowerOff, nil))
	assert.Equal(t, wire.PowerDisabled, h.powerState(c))
	assert.Equal(t, wire.StatusSuccess, h.status(c, wire.FuncPowerOff, nil))

	assert.Contains(t, h.sim.Calls(), "PowerOn")
	assert.Contains(t, h.sim.Calls(), "PowerOff")
	assert.Empty(t, c.events, "connections without callbacks get no events")
}

func TestEventsPrecedeResponse(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1")
	h.register(c)

	h.txn++
	h.m.HandleMessage(c, wire.Encode(wire.FuncPowerOn, h.txn, &wire.Empty{}))

	first := c.next(t)
	assert.Equal(t, wire.EventDevicePoweredOn, first.Header.Function)
	second := c.next(t)
	assert.Equal(t, wire.FuncPowerOn, second.Header.Function)
	assert.Equal(t, h.txn, second.Header.TransactionID)
}

func TestPowerOffWaitsForAcknowledgements(t *testing.T) {
	h := newHarness(t, nil)
	c1 := h.connect("c1")
	c2 := h.connect("c2")
	id1 := h.register(c1)
	id2 := h.register(c2)
	h.powerOn(c1)

	require.Equal(t, wire.StatusSuccess, h.status(c1, wire.FuncPowerOff, nil))
	ev := c1.waitEvent(t, wire.EventDevicePoweringOff)
	assert.Equal(t, uint32(DefaultAckTimeout.Milliseconds()), ev.Body.(*wire.PoweringOffEvent).AckTimeoutMS)
	c2.waitEvent(t, wire.EventDevicePoweringOff)
	assert.Equal(t, wire.PowerPreDisable, h.powerState(c1))

	assert.Equal(t, wire.StatusOperationInProgress, h.status(c1, wire.FuncPowerOn, nil))
	assert.Equal(t, wire.StatusOperationInProgress, h.status(c1, wire.FuncPowerOff, nil))

	// Acknowledging for a callback of another connection is refused.
	assert.Equal(t, wire.StatusInvalidHandle,
		h.status(c1, wire.FuncAcknowledgePowerDown, &wire.CallbackRequest{CallbackID: id2}))

	require.Equal(t, wire.StatusSuccess,
		h.status(c1, wire.FuncAcknowledgePowerDown, &wire.CallbackRequest{CallbackID: id1}))
	assert.Equal(t, wire.PowerPreDisable, h.powerState(c1))

	require.Equal(t, wire.StatusSuccess,
		h.status(c2, wire.FuncAcknowledgePowerDown, &wire.CallbackRequest{CallbackID: id2}))
	assert.Equal(t, wire.PowerDisabled, h.powerState(c1))
	c1.waitEvent(t, wire.EventDevicePoweredOff)
	c2.waitEvent(t, wire.EventDevicePoweredOff)
}

func TestPowerOffAckTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AckTimeout = 50 * time.Millisecond })
	c := h.connect("c1")
	h.register(c)
	h.powerOn(c)

	require.Equal(t, wire.StatusSuccess, h.status(c, wire.FuncPowerOff, nil))
	c.waitEvent(t, wire.EventDevicePoweredOff)
	assert.Equal(t, wire.PowerDisabled, h.powerState(c))
}

func TestAcknowledgeOutsidePowerDown(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1")
	id := h.register(c)

	assert.Equal(t, wire.StatusInvalidParameter,
		h.status(c, wire.FuncAcknowledgePowerDown, &wire.CallbackRequest{CallbackID: id}))
}

func TestUnregisterReleasesPowerDown(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1")
	id := h.register(c)
	h.powerOn(c)

	require.Equal(t, wire.StatusSuccess, h.status(c, wire.FuncPowerOff, nil))
	require.Equal(t, wire.PowerPreDisable, h.powerState(c))

	require.Equal(t, wire.StatusSuccess,
		h.status(c, wire.FuncUnregisterEventCallback, &wire.CallbackRequest{CallbackID: id}))
	assert.Equal(t, wire.PowerDisabled, h.powerState(c))

	assert.Equal(t, wire.StatusInvalidHandle,
		h.status(c, wire.FuncUnregisterEventCallback, &wire.CallbackRequest{CallbackID: id}))
}

func TestDisconnectReleasesOwnership(t *testing.T) {
	h := newHarness(t, nil)
	c1 := h.connect("c1")
	c2 := h.connect("c2")
	id1 := h.register(c1)
	id2 := h.register(c2)

	require.Equal(t, wire.StatusSuccess,
		h.status(c1, wire.FuncRegisterAuthentication, &wire.CallbackRequest{CallbackID: id1}))
	assert.NotEqual(t, wire.StatusSuccess,
		h.status(c2, wire.FuncRegisterAuthentication, &wire.CallbackRequest{CallbackID: id2}))

	h.m.Disconnect(c1.ConnID())

	assert.Equal(t, wire.StatusSuccess,
		h.status(c2, wire.FuncRegisterAuthentication, &wire.CallbackRequest{CallbackID: id2}))
	holder, ok := h.m.Negotiator().Handler()
	require.True(t, ok)
	assert.Equal(t, id2, holder)
}

func TestScheduledAdvertisementCompletesToOwner(t *testing.T) {
	h := newHarness(t, nil)
	c1 := h.connect("c1")
	c2 := h.connect("c2")
	owner := h.register(c1)
	h.register(c2)
	h.powerOn(c1)

	resp := h.call(c1, wire.FuncScheduleAdvertisement, &wire.ScheduleAdvertisementRequest{
		CallbackID: owner,
		DurationMS: 50,
		Payload:    []byte{0x02, 0x01, 0x06},
	}).(*wire.ScheduleAdvertisementResponse)
	require.Equal(t, wire.StatusSuccess, resp.ResponseStatus())
	jobID := resp.JobID()
	require.NotZero(t, jobID)

	ev := c1.waitEvent(t, wire.EventAdvertisementComplete).Body.(*wire.AdvertisementCompleteEvent)
	assert.Equal(t, wire.JobSuccess, ev.Status)
	assert.Equal(t, jobID, ev.JobID)
	assert.Equal(t, owner, ev.OwnerID)

	c2.assertNoEvent(t, wire.EventAdvertisementComplete, 100*time.Millisecond)
}

func TestScheduleRequiresOwnedCallback(t *testing.T) {
	h := newHarness(t, nil)
	c1 := h.connect("c1")
	c2 := h.connect("c2")
	owner := h.register(c1)
	h.powerOn(c1)

	resp := h.call(c2, wire.FuncScheduleAdvertisement, &wire.ScheduleAdvertisementRequest{
		CallbackID: owner,
		DurationMS: 50,
	}).(*wire.ScheduleAdvertisementResponse)
	assert.Equal(t, wire.StatusInvalidHandle, resp.ResponseStatus())
	assert.Zero(t, resp.JobID())
}

func TestDisableInterleavedCancelsJobs(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1")
	owner := h.register(c)
	h.powerOn(c)

	resp := h.call(c, wire.FuncScheduleAdvertisement, &wire.ScheduleAdvertisementRequest{
		CallbackID: owner,
		DurationMS: 5000,
	}).(*wire.ScheduleAdvertisementResponse)
	require.Equal(t, wire.StatusSuccess, resp.ResponseStatus())

	require.Equal(t, wire.StatusSuccess,
		h.status(c, wire.FuncDisableFeature, &wire.FeatureRequest{Feature: wire.FeatureInterleavedAdvertising}))
	ev := c.waitEvent(t, wire.EventAdvertisementComplete).Body.(*wire.AdvertisementCompleteEvent)
	assert.Equal(t, wire.JobCancelled, ev.Status)

	features := h.call(c, wire.FuncQueryActiveFeatures, nil).(*wire.FeaturesResponse).Features
	assert.Equal(t, wire.FeatureLowEnergy, features)

	resp = h.call(c, wire.FuncScheduleAdvertisement, &wire.ScheduleAdvertisementRequest{
		CallbackID: owner,
		DurationMS: 50,
	}).(*wire.ScheduleAdvertisementResponse)
	assert.Equal(t, wire.StatusUnsupported, resp.ResponseStatus())
}

func TestPairingThroughHandler(t *testing.T) {
	h := newHarness(t, nil)
	c1 := h.connect("c1")
	c2 := h.connect("c2")
	handler := h.register(c1)
	h.register(c2)
	h.powerOn(c1)

	require.Equal(t, wire.StatusSuccess,
		h.status(c1, wire.FuncRegisterAuthentication, &wire.CallbackRequest{CallbackID: handler}))
	require.Equal(t, wire.StatusSuccess,
		h.status(c1, wire.FuncAddRemoteDevice, &wire.AddRemoteDeviceRequest{Address: peer, ClassOfDevice: 0x240404}))
	require.Equal(t, wire.StatusSuccess,
		h.status(c1, wire.FuncPairWithRemoteDevice, &wire.AddressRequest{Address: peer}))

	req := c1.waitEvent(t, wire.EventAuthenticationRequest).Body.(*wire.AuthenticationRequestEvent)
	assert.Equal(t, peer, req.Info.Address)
	assert.Equal(t, wire.AuthUserConfirmationRequest, req.Info.Action)

	answer := &wire.AuthenticationResponseRequest{Info: wire.AuthenticationInformation{
		Address: peer,
		Action:  wire.AuthUserConfirmationResponse,
		Data:    wire.Confirmation(true),
	}}
	assert.Equal(t, wire.StatusInvalidHandle, h.status(c2, wire.FuncAuthenticationResponse, answer))
	require.Equal(t, wire.StatusSuccess, h.status(c1, wire.FuncAuthenticationResponse, answer))

	ev := c2.waitEvent(t, wire.EventRemoteDevicePairingStatus).Body.(*wire.PairingStatusEvent)
	assert.Equal(t, peer, ev.Address)
	assert.True(t, ev.Success)
	assert.True(t, ev.Paired)

	props := h.call(c1, wire.FuncQueryRemoteDeviceProperties, &wire.AddressRequest{Address: peer}).(*wire.RemoteDevicePropertiesResponse)
	require.Equal(t, wire.StatusSuccess, props.Status)
	assert.NotZero(t, props.Device.Flags&wire.RemoteFlagPaired)
}

func TestServiceRecordsFollowOwner(t *testing.T) {
	h := newHarness(t, nil)
	c1 := h.connect("c1")
	c2 := h.connect("c2")
	owner := h.register(c1)
	h.powerOn(c1)

	resp := h.call(c2, wire.FuncRegisterServiceRecord, &wire.RegisterServiceRecordRequest{
		CallbackID:     owner,
		ServiceClasses: []uuid.UUID{serialPort},
	}).(*wire.ServiceRecordResponse)
	assert.Equal(t, wire.StatusInvalidHandle, resp.Status)

	resp = h.call(c1, wire.FuncRegisterServiceRecord, &wire.RegisterServiceRecordRequest{
		CallbackID:     owner,
		ServiceClasses: []uuid.UUID{serialPort},
	}).(*wire.ServiceRecordResponse)
	require.Equal(t, wire.StatusSuccess, resp.Status)
	assert.Equal(t, 1, h.m.Records().Count())

	h.m.Disconnect(c1.ConnID())
	assert.Zero(t, h.m.Records().Count())
}

func TestServiceRecordWritesRequireOwner(t *testing.T) {
	h := newHarness(t, nil)
	c1 := h.connect("c1")
	c2 := h.connect("c2")
	owner := h.register(c1)
	h.register(c2)
	h.powerOn(c1)

	register := func(persistent bool) uint32 {
		resp := h.call(c1, wire.FuncRegisterServiceRecord, &wire.RegisterServiceRecordRequest{
			CallbackID:     owner,
			Persistent:     persistent,
			ServiceClasses: []uuid.UUID{serialPort},
		}).(*wire.ServiceRecordResponse)
		require.Equal(t, wire.StatusSuccess, resp.Status)
		return resp.Handle
	}
	transient := register(false)
	persistent := register(true)

	name := []byte{0x25, 0x02, 'o', 'k'}
	add := func(handle uint32) *wire.AddAttributeRequest {
		return &wire.AddAttributeRequest{Handle: handle, AttributeID: 0x0100, Value: name}
	}
	assert.Equal(t, wire.StatusInvalidHandle, h.status(c2, wire.FuncAddServiceRecordAttribute, add(transient)))
	assert.Equal(t, wire.StatusInvalidHandle, h.status(c2, wire.FuncDeleteServiceRecordAttribute,
		&wire.AttributeRequest{Handle: transient, AttributeID: 0x0001}))
	assert.Equal(t, wire.StatusInvalidHandle, h.status(c2, wire.FuncDeleteServiceRecord, &wire.RecordHandleRequest{Handle: transient}))
	assert.Equal(t, 2, h.m.Records().Count())

	require.Equal(t, wire.StatusSuccess, h.status(c1, wire.FuncAddServiceRecordAttribute, add(transient)))
	require.Equal(t, wire.StatusSuccess, h.status(c1, wire.FuncDeleteServiceRecord, &wire.RecordHandleRequest{Handle: transient}))

	// Once its owner is gone a persistent record can be managed by anyone.
	require.Equal(t, wire.StatusSuccess, h.status(c1, wire.FuncUnregisterEventCallback, &wire.CallbackRequest{CallbackID: owner}))
	require.Equal(t, wire.StatusSuccess, h.status(c2, wire.FuncAddServiceRecordAttribute, add(persistent)))
	require.Equal(t, wire.StatusSuccess, h.status(c2, wire.FuncDeleteServiceRecord, &wire.RecordHandleRequest{Handle: persistent}))
	assert.Zero(t, h.m.Records().Count())
}

func TestUnknownFunction(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1")

	h.m.HandleMessage(c, wire.Encode(wire.Function(0x7777), 9, &wire.Empty{}))
	b := c.raw(t)
	hdr, err := wire.DecodeHeader(b)
	require.NoError(t, err)
	assert.Equal(t, wire.Function(0x7777), hdr.Function)
	assert.Equal(t, uint32(9), hdr.TransactionID)
	require.Len(t, b, wire.HeaderSize+4)
	assert.Equal(t, wire.StatusUnsupported, wire.Status(int32(binary.LittleEndian.Uint32(b[wire.HeaderSize:]))))
}

func TestMalformedRequest(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1")

	// AcknowledgePowerDown without its callback id.
	assert.Equal(t, wire.StatusInvalidParameter, h.status(c, wire.FuncAcknowledgePowerDown, &wire.Empty{}))

	// A truncated header is dropped without a response.
	h.m.HandleMessage(c, []byte{0x01, 0x02})
	select {
	case b := <-c.frames:
		t.Fatalf("unexpected frame of %d bytes", len(b))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientEventsAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect("c1")

	h.m.HandleMessage(c, wire.Encode(wire.EventDevicePoweredOn, wire.NotificationTransactionID, &wire.Empty{}))
	select {
	case b := <-c.frames:
		t.Fatalf("unexpected frame of %d bytes", len(b))
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, wire.PowerDisabled, h.powerState(c))
}
