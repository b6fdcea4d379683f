package controller

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devm-project/devm-go/internal/testharness/recorder"
	"github.com/devm-project/devm-go/pkg/registry"
	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/timer"
	"github.com/devm-project/devm-go/pkg/wire"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingRadio fails the operations named in fail.
type failingRadio struct {
	*stack.Sim
	fail map[string]error
}

func (f *failingRadio) StartInquiry() error {
	if err := f.fail["StartInquiry"]; err != nil {
		return err
	}
	return f.Sim.StartInquiry()
}

func (f *failingRadio) StartAdvertising(p stack.AdvertisingParams) error {
	if err := f.fail["StartAdvertising"]; err != nil {
		return err
	}
	return f.Sim.StartAdvertising(p)
}

type fixture struct {
	reg    *registry.Registry
	rec    *recorder.Recorder
	sim    *stack.Sim
	ctrl   *Controller
	clock  *fakeClock
	timers *timer.Facility
}

func newFixture(t *testing.T, radio func(*stack.Sim) stack.Radio) *fixture {
	t.Helper()

	reg := registry.New(registry.Config{
		Features: wire.FeatureLowEnergy,
		Local: wire.LocalProperties{
			Address:    wire.BDAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			LEAddress:  wire.BDAddr{0xC0, 0x11, 0x22, 0x33, 0x44, 0x55},
			DeviceName: "devm",
			Appearance: 0x0341,
		},
	})
	rec := recorder.New()
	reg.SetEmitter(rec)

	sim := stack.NewSim(stack.SimConfig{ReportInterval: time.Hour})
	require.NoError(t, sim.PowerOn())
	timers := timer.New(timer.Config{MinResolution: time.Millisecond})
	t.Cleanup(func() {
		timers.Stop()
		sim.Close()
	})

	var r stack.Radio = sim
	if radio != nil {
		r = radio(sim)
	}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	reg.Acquire()
	require.NoError(t, reg.SetPowerStateLocked(wire.PowerEnabled))
	reg.Release()

	return &fixture{
		reg:    reg,
		rec:    rec,
		sim:    sim,
		clock:  clock,
		timers: timers,
		ctrl: New(Config{
			Registry: reg,
			Radio:    r,
			Timers:   timers,
			Now:      clock.Now,
		}),
	}
}

func addr(b byte) wire.BDAddr {
	return wire.BDAddr{0x00, 0x1A, 0x7D, 0xDA, 0x71, b}
}

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeInquiry, "inquiry"},
		{ModeLEScan, "le-scan"},
		{ModeObservation, "observation"},
		{ModeAdvertising, "advertising"},
		{Mode(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.mode.String())
	}
}

func TestDeviceDiscoveryLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.ctrl.StartDeviceDiscovery(0))
	assert.True(t, f.ctrl.Active(ModeInquiry))
	assert.Equal(t, 1, f.rec.Count(wire.EventDiscoveryStarted))
	assert.NotZero(t, f.reg.LocalProperties().Flags&wire.LocalFlagDiscoveryInProgress)

	err := f.ctrl.StartDeviceDiscovery(5)
	assert.ErrorIs(t, err, wire.StatusOperationInProgress)

	require.NoError(t, f.ctrl.StopDeviceDiscovery())
	assert.False(t, f.ctrl.Active(ModeInquiry))
	assert.Equal(t, 1, f.rec.Count(wire.EventDiscoveryStopped))
	assert.Zero(t, f.reg.LocalProperties().Flags&wire.LocalFlagDiscoveryInProgress)
	assert.Contains(t, f.sim.Calls(), "StopInquiry")

	// Stopping an idle mode is a silent success.
	require.NoError(t, f.ctrl.StopDeviceDiscovery())
	assert.Equal(t, 1, f.rec.Count(wire.EventDiscoveryStopped))
}

func TestDeviceDiscoveryTimeout(t *testing.T) {
	f := newFixture(t, nil)

	f.reg.Acquire()
	f.ctrl.activateLocked(ModeInquiry, 20*time.Millisecond)
	f.reg.Release()

	require.True(t, f.rec.WaitFor(wire.EventDiscoveryStopped, 1, time.Second))
	assert.False(t, f.ctrl.Active(ModeInquiry))
}

func TestStaleExpiryIgnored(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.ctrl.StartDeviceDiscovery(0))
	f.reg.Acquire()
	gen := f.ctrl.modes[ModeInquiry].gen
	f.reg.Release()

	require.NoError(t, f.ctrl.StopDeviceDiscovery())
	require.NoError(t, f.ctrl.StartDeviceDiscovery(0))

	// An expiry armed by the first session must not end the second.
	f.ctrl.expire(ModeInquiry, gen)
	assert.True(t, f.ctrl.Active(ModeInquiry))
	assert.Equal(t, 1, f.rec.Count(wire.EventDiscoveryStopped))
}

func TestStartRequiresPower(t *testing.T) {
	reg := registry.New(registry.Config{Features: wire.FeatureLowEnergy})
	sim := stack.NewSim(stack.SimConfig{})
	defer sim.Close()
	timers := timer.New(timer.Config{})
	defer timers.Stop()
	ctrl := New(Config{Registry: reg, Radio: sim, Timers: timers})

	assert.ErrorIs(t, ctrl.StartDeviceDiscovery(0), wire.StatusNotPoweredOn)
	assert.ErrorIs(t, ctrl.StartLEScan(0), wire.StatusNotPoweredOn)
	assert.ErrorIs(t, ctrl.StartObservationScan(wire.ObservationScanRequest{}), wire.StatusNotPoweredOn)
	assert.ErrorIs(t, ctrl.StartAdvertising(wire.StartAdvertisingRequest{}), wire.StatusNotPoweredOn)
}

func TestLEModesRequireFeature(t *testing.T) {
	f := newFixture(t, nil)
	f.reg.Acquire()
	f.reg.SetFeatureLocked(wire.FeatureLowEnergy, false)
	f.reg.Release()

	assert.ErrorIs(t, f.ctrl.StartLEScan(0), wire.StatusUnsupported)
	assert.ErrorIs(t, f.ctrl.StartObservationScan(wire.ObservationScanRequest{}), wire.StatusUnsupported)
	assert.ErrorIs(t, f.ctrl.StartAdvertising(wire.StartAdvertisingRequest{}), wire.StatusUnsupported)
	require.NoError(t, f.ctrl.StartDeviceDiscovery(0))
}

func TestStackFailureMapsToStatus(t *testing.T) {
	f := newFixture(t, func(s *stack.Sim) stack.Radio {
		return &failingRadio{Sim: s, fail: map[string]error{
			"StartInquiry":     errors.New("hci timeout"),
			"StartAdvertising": stack.ErrUnsupported,
		}}
	})

	assert.ErrorIs(t, f.ctrl.StartDeviceDiscovery(0), wire.StatusInternal)
	assert.False(t, f.ctrl.Active(ModeInquiry))

	assert.ErrorIs(t, f.ctrl.StartAdvertising(wire.StartAdvertisingRequest{}), wire.StatusUnsupported)
	f.reg.Acquire()
	assert.Equal(t, registry.RadioFree, f.reg.RadioOwnerLocked())
	f.reg.Release()
	assert.Zero(t, f.rec.Count(wire.EventAdvertisingStarted))
}

func TestLEScanClaimsRadio(t *testing.T) {
	f := newFixture(t, nil)

	f.reg.Acquire()
	require.NoError(t, f.reg.ClaimRadioLocked(registry.RadioScheduler))
	f.reg.Release()

	assert.ErrorIs(t, f.ctrl.StartLEScan(0), wire.StatusRadioBusy)

	f.reg.Acquire()
	f.reg.ReleaseRadioLocked(registry.RadioScheduler)
	f.reg.Release()

	require.NoError(t, f.ctrl.StartLEScan(0))
	f.reg.Acquire()
	assert.Equal(t, registry.RadioController, f.reg.RadioOwnerLocked())
	f.reg.Release()

	require.NoError(t, f.ctrl.StopLEScan())
	f.reg.Acquire()
	assert.Equal(t, registry.RadioFree, f.reg.RadioOwnerLocked())
	f.reg.Release()
}

func TestScannerSharedBetweenScanAndObservation(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.ctrl.StartLEScan(0))
	require.NoError(t, f.ctrl.StartObservationScan(wire.ObservationScanRequest{}))
	require.NoError(t, f.ctrl.StopLEScan())
	assert.NotContains(t, f.sim.Calls(), "StopLEScan")

	require.NoError(t, f.ctrl.StopObservationScan())
	count := 0
	for _, c := range f.sim.Calls() {
		if c == "StartLEScan" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Contains(t, f.sim.Calls(), "StopLEScan")
}

func TestValidateObservation(t *testing.T) {
	tests := []struct {
		name    string
		req     wire.ObservationScanRequest
		wantErr bool
	}{
		{"Defaults", wire.ObservationScanRequest{}, false},
		{"Bounds", wire.ObservationScanRequest{ScanWindowMS: 3, ScanIntervalMS: 10240}, false},
		{"Equal", wire.ObservationScanRequest{ScanWindowMS: 100, ScanIntervalMS: 100}, false},
		{"WindowTooSmall", wire.ObservationScanRequest{ScanWindowMS: 2, ScanIntervalMS: 100}, true},
		{"IntervalTooLarge", wire.ObservationScanRequest{ScanWindowMS: 100, ScanIntervalMS: 10241}, true},
		{"WindowExceedsInterval", wire.ObservationScanRequest{ScanWindowMS: 200, ScanIntervalMS: 100}, true},
		{"OnlyWindow", wire.ObservationScanRequest{ScanWindowMS: 100}, true},
		{"UnknownFlags", wire.ObservationScanRequest{Flags: 0x80}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateObservation(tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, wire.StatusInvalidParameter)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func report(a wire.BDAddr, rssi int8) stack.AdvertisingReport {
	return stack.AdvertisingReport{Address: a, AddressType: wire.AddressTypeStatic, RSSI: rssi, Data: []byte{0x02, 0x01, 0x06}}
}

func TestObservationRateLimiting(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctrl.StartObservationScan(wire.ObservationScanRequest{ReportingFrequencyMS: 1000}))

	a := addr(1)
	f.ctrl.HandleAdvertisingReport(report(a, -40))
	require.Equal(t, 1, f.rec.Count(wire.EventRemoteDeviceFound))

	// Inside the window: stored, not announced.
	f.clock.Advance(400 * time.Millisecond)
	f.ctrl.HandleAdvertisingReport(report(a, -50))
	assert.Zero(t, f.rec.Count(wire.EventRemoteDevicePropertiesChanged))

	dev, err := f.reg.RemoteDevice(a)
	require.NoError(t, err)
	assert.Equal(t, int8(-50), dev.LERSSI)
	assert.Equal(t, f.clock.Now().UnixMilli(), dev.LastObserved)

	// After the window: exactly one event carrying the accumulated mask.
	f.clock.Advance(700 * time.Millisecond)
	f.ctrl.HandleAdvertisingReport(report(a, -50))
	changed := f.rec.Of(wire.EventRemoteDevicePropertiesChanged)
	require.Len(t, changed, 1)
	ev := changed[0].Event.Body.(*wire.RemotePropertiesChangedEvent)
	assert.NotZero(t, ev.Mask&wire.RemoteMaskLastObserved)
	assert.NotZero(t, ev.Mask&wire.RemoteMaskLERSSI)
	assert.NotZero(t, ev.Device.Flags&wire.RemoteFlagLastObservedKnown)

	// Each sighting separated by more than the window yields one event.
	f.clock.Advance(1100 * time.Millisecond)
	f.ctrl.HandleAdvertisingReport(report(a, -50))
	f.clock.Advance(1100 * time.Millisecond)
	f.ctrl.HandleAdvertisingReport(report(a, -50))
	assert.Equal(t, 3, f.rec.Count(wire.EventRemoteDevicePropertiesChanged))
}

func TestObservationZeroFrequencyReportsEverySighting(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctrl.StartObservationScan(wire.ObservationScanRequest{}))

	a := addr(2)
	for i := 0; i < 4; i++ {
		f.ctrl.HandleAdvertisingReport(report(a, -40))
	}
	assert.Equal(t, 1, f.rec.Count(wire.EventRemoteDeviceFound))
	assert.Equal(t, 3, f.rec.Count(wire.EventRemoteDevicePropertiesChanged))
}

func TestObservationFirstSightingOfKnownDevice(t *testing.T) {
	f := newFixture(t, nil)
	a := addr(3)
	require.NoError(t, f.reg.AddRemoteDevice(a, 0, nil))
	f.rec.Reset()

	require.NoError(t, f.ctrl.StartObservationScan(wire.ObservationScanRequest{ReportingFrequencyMS: 500}))
	f.ctrl.HandleAdvertisingReport(report(a, -60))
	assert.Equal(t, 1, f.rec.Count(wire.EventRemoteDeviceFound))
	assert.Zero(t, f.rec.Count(wire.EventRemoteDevicePropertiesChanged))

	// A new session starts over.
	require.NoError(t, f.ctrl.StopObservationScan())
	require.NoError(t, f.ctrl.StartObservationScan(wire.ObservationScanRequest{ReportingFrequencyMS: 500}))
	f.ctrl.HandleAdvertisingReport(report(a, -60))
	assert.Equal(t, 2, f.rec.Count(wire.EventRemoteDeviceFound))
}

func TestReportsIgnoredWhenNotScanning(t *testing.T) {
	f := newFixture(t, nil)

	f.ctrl.HandleAdvertisingReport(report(addr(4), -40))
	f.ctrl.HandleInquiryResult(stack.InquiryResult{Address: addr(5)})
	assert.Empty(t, f.rec.All())
	assert.Zero(t, f.reg.RemoteDeviceCount())
}

func TestLEScanReportsEveryChange(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctrl.StartLEScan(0))

	a := addr(6)
	f.ctrl.HandleAdvertisingReport(report(a, -40))
	f.ctrl.HandleAdvertisingReport(report(a, -40))
	f.ctrl.HandleAdvertisingReport(report(a, -45))

	assert.Equal(t, 1, f.rec.Count(wire.EventRemoteDeviceFound))
	changed := f.rec.Of(wire.EventRemoteDevicePropertiesChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, wire.RemoteMaskLERSSI, changed[0].Event.Body.(*wire.RemotePropertiesChangedEvent).Mask)

	dev, err := f.reg.RemoteDevice(a)
	require.NoError(t, err)
	assert.NotZero(t, dev.Flags&wire.RemoteFlagSupportsLE)
	assert.Zero(t, dev.Flags&wire.RemoteFlagLastObservedKnown)
	assert.Equal(t, []byte{0x02, 0x01, 0x06}, dev.AdvertisingReport)
}

func TestInquiryResults(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctrl.StartDeviceDiscovery(0))

	a := addr(7)
	f.ctrl.HandleInquiryResult(stack.InquiryResult{Address: a, ClassOfDevice: 0x240404, RSSI: -70})
	f.ctrl.HandleInquiryResult(stack.InquiryResult{Address: a, ClassOfDevice: 0x240404, Name: "Speaker", RSSI: -70, EIR: true})

	assert.Equal(t, 1, f.rec.Count(wire.EventRemoteDeviceFound))
	changed := f.rec.Of(wire.EventRemoteDevicePropertiesChanged)
	require.Len(t, changed, 1)
	ev := changed[0].Event.Body.(*wire.RemotePropertiesChangedEvent)
	assert.Equal(t, wire.RemoteMaskDeviceName|wire.RemoteMaskDeviceFlags, ev.Mask)
	assert.Equal(t, "Speaker", ev.Device.DeviceName)
	assert.NotZero(t, ev.Device.Flags&wire.RemoteFlagEIRDataKnown)
}

func TestAdvertising(t *testing.T) {
	t.Run("BuildsData", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.ctrl.StartAdvertising(wire.StartAdvertisingRequest{
			Flags: wire.AdvFlagDiscoverable | wire.AdvFlagConnectable | wire.AdvFlagAdvertiseName |
				wire.AdvFlagAdvertiseAppearance | wire.AdvFlagUsePublicAddress,
			Data: []byte{0x03, 0xFF, 0xAB, 0xCD},
		})
		require.NoError(t, err)

		p := f.sim.Advertising()
		require.NotNil(t, p)
		assert.True(t, p.Connectable)
		assert.True(t, p.Discoverable)
		assert.Equal(t, wire.BDAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}, p.Address)
		want := []byte{
			0x02, 0x01, 0x06,
			0x05, 0x09, 'd', 'e', 'v', 'm',
			0x03, 0x19, 0x41, 0x03,
			0x03, 0xFF, 0xAB, 0xCD,
		}
		assert.Equal(t, want, p.Data)
		assert.Equal(t, 1, f.rec.Count(wire.EventAdvertisingStarted))
		assert.NotZero(t, f.reg.LocalProperties().Flags&wire.LocalFlagLEAdvertisingInProgress)
	})

	t.Run("DataTooLong", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.ctrl.StartAdvertising(wire.StartAdvertisingRequest{
			Flags: wire.AdvFlagDiscoverable,
			Data:  make([]byte, 30),
		})
		assert.ErrorIs(t, err, wire.StatusInvalidParameter)
		assert.Nil(t, f.sim.Advertising())
	})

	t.Run("RadioBusy", func(t *testing.T) {
		f := newFixture(t, nil)
		f.reg.Acquire()
		require.NoError(t, f.reg.ClaimRadioLocked(registry.RadioScheduler))
		f.reg.Release()

		assert.ErrorIs(t, f.ctrl.StartAdvertising(wire.StartAdvertisingRequest{}), wire.StatusRadioBusy)
	})

	t.Run("StopReleasesRadio", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.ctrl.StartAdvertising(wire.StartAdvertisingRequest{}))
		require.NoError(t, f.ctrl.StopAdvertising(false))

		assert.Nil(t, f.sim.Advertising())
		assert.Equal(t, 1, f.rec.Count(wire.EventAdvertisingStopped))
		f.reg.Acquire()
		assert.Equal(t, registry.RadioFree, f.reg.RadioOwnerLocked())
		f.reg.Release()
	})

	t.Run("ForcePreemptsScheduler", func(t *testing.T) {
		f := newFixture(t, nil)
		preempted := 0
		f.ctrl.SetPreemptHook(func() bool {
			preempted++
			f.reg.ReleaseRadioLocked(registry.RadioScheduler)
			return true
		})
		f.reg.Acquire()
		require.NoError(t, f.reg.ClaimRadioLocked(registry.RadioScheduler))
		f.reg.Release()

		require.NoError(t, f.ctrl.StopAdvertising(false))
		assert.Zero(t, preempted)

		require.NoError(t, f.ctrl.StopAdvertising(true))
		assert.Equal(t, 1, preempted)
		f.reg.Acquire()
		assert.Equal(t, registry.RadioFree, f.reg.RadioOwnerLocked())
		f.reg.Release()
		assert.Zero(t, f.rec.Count(wire.EventAdvertisingStopped))
	})
}

func TestStopAllLocked(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ctrl.StartDeviceDiscovery(0))
	require.NoError(t, f.ctrl.StartLEScan(0))
	require.NoError(t, f.ctrl.StartObservationScan(wire.ObservationScanRequest{}))

	f.reg.Acquire()
	f.ctrl.StopAllLocked("power-off")
	f.reg.Release()

	for m := Mode(0); m < modeCount; m++ {
		assert.False(t, f.ctrl.Active(m), m.String())
	}
	assert.Equal(t, 1, f.rec.Count(wire.EventDiscoveryStopped))
	assert.Equal(t, 1, f.rec.Count(wire.EventLEScanStopped))
	assert.Equal(t, 1, f.rec.Count(wire.EventObservationScanStopped))
	assert.Zero(t, f.rec.Count(wire.EventAdvertisingStopped))
	assert.Zero(t, f.reg.LocalProperties().Flags&(wire.LocalFlagDiscoveryInProgress|wire.LocalFlagLEScanInProgress|wire.LocalFlagObservationScanInProgress))
}
