package stack

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devm-project/devm-go/pkg/wire"
)

var (
	headset = wire.BDAddr{0x00, 0x1B, 0xDC, 0x01, 0x02, 0x03}
	sensor  = wire.BDAddr{0xC0, 0x11, 0x22, 0x33, 0x44, 0x55}
)

type captured struct {
	inquiry  chan InquiryResult
	reports  chan AdvertisingReport
	auth     chan wire.AuthenticationInformation
	pairing  chan PairingResult
	links    chan ConnectionEvent
	services chan []uuid.UUID
}

func newCaptured() *captured {
	return &captured{
		inquiry:  make(chan InquiryResult, 16),
		reports:  make(chan AdvertisingReport, 64),
		auth:     make(chan wire.AuthenticationInformation, 4),
		pairing:  make(chan PairingResult, 4),
		links:    make(chan ConnectionEvent, 4),
		services: make(chan []uuid.UUID, 4),
	}
}

func (c *captured) InquiryResult(r InquiryResult)                          { c.inquiry <- r }
func (c *captured) AuthenticationRequest(i wire.AuthenticationInformation) { c.auth <- i }
func (c *captured) PairingComplete(r PairingResult)                        { c.pairing <- r }
func (c *captured) ConnectionChanged(e ConnectionEvent)                    { c.links <- e }
func (c *captured) ServicesDiscovered(_ wire.BDAddr, _ bool, s []uuid.UUID) {
	c.services <- s
}
func (c *captured) AdvertisingReport(r AdvertisingReport) {
	select {
	case c.reports <- r:
	default:
	}
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func newTestSim(t *testing.T, mutate func(*SimConfig)) (*Sim, *captured) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	cfg := SimConfig{
		Devices: []SimDevice{
			{Address: headset, Name: "headset", ClassOfDevice: 0x240404, Classic: true, RSSI: -40,
				Services: []uuid.UUID{uuid.MustParse("0000111E-0000-1000-8000-00805F9B34FB")}},
			{Address: sensor, AddressType: wire.AddressTypeStatic, Name: "sensor", LE: true, AdvData: []byte{0x02, 0x01, 0x06}},
		},
		ReportInterval: 5 * time.Millisecond,
		Log:            logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewSim(cfg)
	t.Cleanup(s.Close)
	c := newCaptured()
	s.SetHandler(c)
	return s, c
}

func TestSimRequiresPower(t *testing.T) {
	s, _ := newTestSim(t, nil)

	assert.ErrorIs(t, s.StartInquiry(), ErrNotPowered)
	assert.ErrorIs(t, s.StartLEScan(ScanParams{}), ErrNotPowered)
	assert.ErrorIs(t, s.Pair(headset, false), ErrNotPowered)
	assert.ErrorIs(t, s.Connect(headset, false), ErrNotPowered)

	require.NoError(t, s.PowerOn())
	require.NoError(t, s.PowerOff())
	assert.Equal(t, []string{"StartInquiry", "StartLEScan", "Pair", "Connect", "PowerOn", "PowerOff"}, s.Calls())
}

func TestSimInquiryReportsClassicPeers(t *testing.T) {
	s, c := newTestSim(t, nil)
	require.NoError(t, s.PowerOn())
	require.NoError(t, s.StartInquiry())

	r := receive(t, c.inquiry)
	assert.Equal(t, headset, r.Address)
	assert.Equal(t, wire.ClassOfDevice(0x240404), r.ClassOfDevice)
	assert.True(t, r.EIR)
	require.NoError(t, s.StopInquiry())
}

func TestSimLEScanRepeats(t *testing.T) {
	s, c := newTestSim(t, nil)
	require.NoError(t, s.PowerOn())
	require.NoError(t, s.StartLEScan(ScanParams{Active: true}))

	first := receive(t, c.reports)
	second := receive(t, c.reports)
	assert.Equal(t, sensor, first.Address)
	assert.Equal(t, first, second)
	assert.Equal(t, []byte{0x02, 0x01, 0x06}, first.Data)

	require.NoError(t, s.StopLEScan())
}

func TestSimPairing(t *testing.T) {
	tests := []struct {
		name       string
		reject     bool
		answer     wire.AuthData
		wantPaired bool
	}{
		{name: "confirmed", answer: wire.Confirmation(true), wantPaired: true},
		{name: "declined", answer: wire.Confirmation(false)},
		{name: "no payload", answer: nil},
		{name: "peer rejects", reject: true, answer: wire.Confirmation(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newTestSim(t, func(cfg *SimConfig) { cfg.Devices[0].RejectPairing = tt.reject })
			require.NoError(t, s.PowerOn())
			require.NoError(t, s.Pair(headset, false))

			req := receive(t, c.auth)
			assert.Equal(t, wire.AuthUserConfirmationRequest, req.Action)
			assert.Equal(t, wire.Passkey(123456), req.Data)

			require.NoError(t, s.AuthenticationResponse(wire.AuthenticationInformation{
				Address: headset,
				Action:  wire.AuthUserConfirmationResponse,
				Data:    tt.answer,
			}))
			r := receive(t, c.pairing)
			assert.Equal(t, tt.wantPaired, r.Paired)
			assert.Equal(t, tt.wantPaired, r.Success)
			if !tt.wantPaired {
				assert.Equal(t, SimStatusAuthFailure, r.Status)
			}
		})
	}
}

func TestSimCancelPair(t *testing.T) {
	s, c := newTestSim(t, nil)
	require.NoError(t, s.PowerOn())

	assert.ErrorIs(t, s.CancelPair(headset), ErrNoSession)
	require.NoError(t, s.Pair(headset, true))
	req := receive(t, c.auth)
	assert.True(t, req.Action.IsLE())

	require.NoError(t, s.CancelPair(headset))
	r := receive(t, c.pairing)
	assert.True(t, r.LE)
	assert.False(t, r.Success)
	assert.Equal(t, SimStatusCancelled, r.Status)
}

func TestSimUnknownPeer(t *testing.T) {
	s, _ := newTestSim(t, nil)
	require.NoError(t, s.PowerOn())
	other := wire.BDAddr{1, 2, 3, 4, 5, 6}

	assert.ErrorIs(t, s.Pair(other, false), ErrUnknownPeer)
	assert.ErrorIs(t, s.Connect(other, false), ErrUnknownPeer)
	assert.ErrorIs(t, s.QueryServices(other, false), ErrUnknownPeer)
}

func TestSimLinksAndServices(t *testing.T) {
	s, c := newTestSim(t, nil)
	require.NoError(t, s.PowerOn())

	require.NoError(t, s.Connect(headset, false))
	assert.Equal(t, ConnectionEvent{Address: headset, Connected: true}, receive(t, c.links))
	require.NoError(t, s.Disconnect(headset, false))
	assert.False(t, receive(t, c.links).Connected)

	require.NoError(t, s.QueryServices(headset, false))
	services := receive(t, c.services)
	require.Len(t, services, 1)
	assert.Equal(t, "0000111e-0000-1000-8000-00805f9b34fb", services[0].String())
}

func TestSimAdvertising(t *testing.T) {
	s, _ := newTestSim(t, nil)
	require.NoError(t, s.PowerOn())

	assert.Error(t, s.StartAdvertising(AdvertisingParams{Data: make([]byte, wire.MaxAdvertisingDataLength+1)}))
	assert.Nil(t, s.Advertising())

	require.NoError(t, s.StartAdvertising(AdvertisingParams{Connectable: true, Data: []byte{0x02, 0x01, 0x06}}))
	adv := s.Advertising()
	require.NotNil(t, adv)
	assert.True(t, adv.Connectable)

	require.NoError(t, s.StopAdvertising())
	assert.Nil(t, s.Advertising())
}

func TestSimServiceDatabase(t *testing.T) {
	s, _ := newTestSim(t, nil)

	h1, err := s.CreateRecord()
	require.NoError(t, err)
	h2, err := s.CreateRecord()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00010000), h1)
	assert.Equal(t, h1+1, h2)

	require.NoError(t, s.SetAttribute(h1, 0x0100, []byte{0x08, 0x01}))
	v, ok := s.Attribute(h1, 0x0100)
	require.True(t, ok)
	assert.Equal(t, []byte{0x08, 0x01}, v)

	require.NoError(t, s.DeleteAttribute(h1, 0x0100))
	_, ok = s.Attribute(h1, 0x0100)
	assert.False(t, ok)

	require.NoError(t, s.DeleteRecord(h1))
	assert.ErrorIs(t, s.DeleteRecord(h1), ErrUnknownRecord)
	assert.ErrorIs(t, s.SetAttribute(h1, 1, nil), ErrUnknownRecord)
}

func TestSimUnsupportedFeature(t *testing.T) {
	s, _ := newTestSim(t, func(cfg *SimConfig) { cfg.Unsupported = wire.FeatureANTPlus })

	assert.ErrorIs(t, s.SetFeature(wire.FeatureANTPlus, true), ErrUnsupported)
	assert.NoError(t, s.SetFeature(wire.FeatureANTPlus, false))
	assert.NoError(t, s.SetFeature(wire.FeatureLowEnergy, true))
}

func TestSimFlushOrdersInjections(t *testing.T) {
	s, _ := newTestSim(t, nil)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.Inject(func(Handler) { order = append(order, i) })
	}
	s.Flush()
	assert.Equal(t, []int{0, 1, 2}, order)
}
