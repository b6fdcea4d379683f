package registry

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devm-project/devm-go/internal/testharness/recorder"
	"github.com/devm-project/devm-go/pkg/persistence"
	"github.com/devm-project/devm-go/pkg/wire"
)

func newRegistry(t *testing.T, cfg Config) (*Registry, *recorder.Recorder) {
	t.Helper()
	r := New(cfg)
	rec := recorder.New()
	r.SetEmitter(rec)
	return r, rec
}

func addr(b byte) wire.BDAddr {
	return wire.BDAddr{0x00, 0x1A, 0x7D, 0xDA, 0x71, b}
}

func TestNewMirrorsFeaturesIntoFlags(t *testing.T) {
	r, _ := newRegistry(t, Config{Features: wire.FeatureLowEnergy | wire.FeatureInterleavedAdvertising})

	flags := r.LocalProperties().Flags
	assert.NotZero(t, flags&wire.LocalFlagSupportsLE)
	assert.NotZero(t, flags&wire.LocalFlagInterleavedScheduling)
	assert.Zero(t, flags&wire.LocalFlagSupportsANTPlus)
	assert.Equal(t, wire.PowerDisabled, r.PowerState())
}

func TestUpdateLocalProperties(t *testing.T) {
	t.Run("DeviceNameRoundTrip", func(t *testing.T) {
		r, rec := newRegistry(t, Config{})

		require.NoError(t, r.UpdateLocalProperties(wire.LocalMaskDeviceName, wire.LocalProperties{DeviceName: "X"}))
		assert.Equal(t, "X", r.LocalProperties().DeviceName)

		events := rec.Of(wire.EventLocalPropertiesChanged)
		require.Len(t, events, 1)
		ev := events[0].Event.Body.(*wire.LocalPropertiesChangedEvent)
		assert.Equal(t, wire.LocalMaskDeviceName, ev.Mask)
		assert.Equal(t, "X", ev.Properties.DeviceName)
		assert.True(t, events[0].Broadcast)
	})

	t.Run("OnlyMaskedFieldsApplied", func(t *testing.T) {
		r, _ := newRegistry(t, Config{Local: wire.LocalProperties{DeviceName: "keep", ClassOfDevice: 0x1F00}})

		err := r.UpdateLocalProperties(wire.LocalMaskClassOfDevice, wire.LocalProperties{
			DeviceName:    "ignored",
			ClassOfDevice: 0x240404,
		})
		require.NoError(t, err)

		p := r.LocalProperties()
		assert.Equal(t, "keep", p.DeviceName)
		assert.Equal(t, wire.ClassOfDevice(0x240404), p.ClassOfDevice)
	})

	tests := []struct {
		name  string
		mask  wire.LocalPropertiesMask
		props wire.LocalProperties
	}{
		{"empty mask", 0, wire.LocalProperties{}},
		{"flags not updatable", wire.LocalMaskDeviceFlags, wire.LocalProperties{}},
		{"le address not updatable", wire.LocalMaskLEAddress, wire.LocalProperties{}},
		{"name too long", wire.LocalMaskDeviceName, wire.LocalProperties{DeviceName: strings.Repeat("n", wire.MaxDeviceNameLength+1)}},
		{"class out of range", wire.LocalMaskClassOfDevice, wire.LocalProperties{ClassOfDevice: 0x1000000}},
		{"bad discoverable mode", wire.LocalMaskDiscoverableMode, wire.LocalProperties{DiscoverableMode: 9}},
		{"bad connectable mode", wire.LocalMaskConnectableMode, wire.LocalProperties{ConnectableMode: 2}},
		{"bad pairable mode", wire.LocalMaskPairableMode, wire.LocalProperties{PairableMode: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rec := newRegistry(t, Config{})
			err := r.UpdateLocalProperties(tt.mask, tt.props)
			assert.Equal(t, wire.StatusInvalidParameter, wire.StatusOf(err))
			assert.Empty(t, rec.All())
		})
	}

	t.Run("ApplierFailureLeavesStateUntouched", func(t *testing.T) {
		r, rec := newRegistry(t, Config{Local: wire.LocalProperties{DeviceName: "old"}})
		r.SetLocalApplier(func(wire.LocalPropertiesMask, wire.LocalProperties) error {
			return wire.StatusInternal
		})

		err := r.UpdateLocalProperties(wire.LocalMaskDeviceName, wire.LocalProperties{DeviceName: "new"})
		assert.Equal(t, wire.StatusInternal, wire.StatusOf(err))
		assert.Equal(t, "old", r.LocalProperties().DeviceName)
		assert.Empty(t, rec.All())
	})
}

func TestSetLocalFlagsEmitsOnlyOnChange(t *testing.T) {
	r, rec := newRegistry(t, Config{})

	r.Acquire()
	r.SetLocalFlagsLocked(wire.LocalFlagDiscoveryInProgress, 0)
	r.SetLocalFlagsLocked(wire.LocalFlagDiscoveryInProgress, 0)
	r.SetLocalFlagsLocked(0, wire.LocalFlagDiscoveryInProgress)
	r.Release()

	events := rec.Of(wire.EventLocalPropertiesChanged)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, wire.LocalMaskDeviceFlags, e.Event.Body.(*wire.LocalPropertiesChangedEvent).Mask)
	}
}

func TestPowerTransitions(t *testing.T) {
	r, _ := newRegistry(t, Config{})
	r.Acquire()
	defer r.Release()

	assert.Error(t, r.SetPowerStateLocked(wire.PowerPreDisable))
	assert.Equal(t, wire.StatusNotPoweredOn, wire.StatusOf(r.RequirePoweredLocked()))

	require.NoError(t, r.SetPowerStateLocked(wire.PowerEnabled))
	assert.True(t, r.PoweredLocked())
	assert.Error(t, r.SetPowerStateLocked(wire.PowerDisabled), "power-off must pass through PreDisable")

	require.NoError(t, r.SetPowerStateLocked(wire.PowerPreDisable))
	assert.False(t, r.PoweredLocked())
	require.NoError(t, r.SetPowerStateLocked(wire.PowerDisabled))
}

func TestSetFeature(t *testing.T) {
	r, rec := newRegistry(t, Config{})
	r.Acquire()
	defer r.Release()

	assert.True(t, r.SetFeatureLocked(wire.FeatureANTPlus, true))
	assert.False(t, r.SetFeatureLocked(wire.FeatureANTPlus, true))
	assert.True(t, r.FeatureActiveLocked(wire.FeatureANTPlus))
	assert.NotZero(t, r.LocalFlagsLocked()&wire.LocalFlagSupportsANTPlus)

	assert.True(t, r.SetFeatureLocked(wire.FeatureANTPlus, false))
	assert.Zero(t, r.LocalFlagsLocked()&wire.LocalFlagSupportsANTPlus)
	assert.Equal(t, 2, rec.Count(wire.EventLocalPropertiesChanged))
}

func TestAddRemoteDevice(t *testing.T) {
	r, rec := newRegistry(t, Config{MaxRemoteDevices: 2})

	require.NoError(t, r.AddRemoteDevice(addr(1), 0x240404, []byte{1, 2}))
	found := rec.Of(wire.EventRemoteDeviceFound)
	require.Len(t, found, 1)
	dev := found[0].Event.Body.(*wire.RemoteDeviceFoundEvent).Device
	assert.Equal(t, addr(1), dev.Address)
	assert.Equal(t, []byte{1, 2}, dev.ApplicationData)

	err := r.AddRemoteDevice(addr(1), 0, nil)
	assert.Equal(t, wire.StatusInvalidParameter, wire.StatusOf(err), "duplicate address")

	assert.Equal(t, wire.StatusInvalidParameter, wire.StatusOf(r.AddRemoteDevice(wire.BDAddr{}, 0, nil)))
	assert.Equal(t, wire.StatusInvalidParameter,
		wire.StatusOf(r.AddRemoteDevice(addr(9), 0, make([]byte, wire.MaxApplicationDataLength+1))))

	require.NoError(t, r.AddRemoteDevice(addr(2), 0, nil))
	assert.Equal(t, wire.StatusInsufficientResources, wire.StatusOf(r.AddRemoteDevice(addr(3), 0, nil)))
	assert.Equal(t, 2, r.RemoteDeviceCount())
}

func seed(t *testing.T, r *Registry, flags ...wire.RemoteFlags) {
	t.Helper()
	r.Acquire()
	defer r.Release()
	for i, f := range flags {
		require.NoError(t, r.InsertLocked(&wire.RemoteDevice{Address: addr(byte(i + 1)), Flags: f}))
	}
}

func TestRemoteDeviceListFilters(t *testing.T) {
	r, _ := newRegistry(t, Config{})
	seed(t, r,
		wire.RemoteFlagSupportsClassic|wire.RemoteFlagPaired|wire.RemoteFlagConnected,
		wire.RemoteFlagSupportsLE|wire.RemoteFlagLEPaired,
		wire.RemoteFlagSupportsLE,
		wire.RemoteFlagSupportsClassic,
		wire.RemoteFlagSupportsLE|wire.RemoteFlagSupportsClassic|wire.RemoteFlagLEConnected,
	)

	tests := []struct {
		name   string
		filter wire.DeviceFilter
		want   []wire.BDAddr
	}{
		{"all in insertion order", wire.FilterAll, []wire.BDAddr{addr(1), addr(2), addr(3), addr(4), addr(5)}},
		{"connected", wire.FilterCurrentlyConnected, []wire.BDAddr{addr(1), addr(5)}},
		{"paired", wire.FilterCurrentlyPaired, []wire.BDAddr{addr(1), addr(2)}},
		{"unpaired", wire.FilterCurrentlyUnpaired, []wire.BDAddr{addr(3), addr(4), addr(5)}},
		{"exclude le-only", wire.FilterAll | wire.FilterExcludeLE, []wire.BDAddr{addr(1), addr(4), addr(5)}},
		{"exclude classic-only", wire.FilterAll | wire.FilterExcludeClassic, []wire.BDAddr{addr(2), addr(3), addr(5)}},
		{"paired classic", wire.FilterCurrentlyPaired | wire.FilterExcludeLE, []wire.BDAddr{addr(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, got, err := r.RemoteDeviceList(tt.filter, 0, 16)
			require.NoError(t, err)
			assert.Equal(t, uint32(len(tt.want)), total)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("zero capacity returns count only", func(t *testing.T) {
		total, got, err := r.RemoteDeviceList(wire.FilterAll, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, uint32(5), total)
		assert.Empty(t, got)
	})

	t.Run("truncated to capacity", func(t *testing.T) {
		total, got, err := r.RemoteDeviceList(wire.FilterAll, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, uint32(5), total)
		assert.Equal(t, []wire.BDAddr{addr(1), addr(2)}, got)
	})

	t.Run("paired subset of all", func(t *testing.T) {
		_, all, err := r.RemoteDeviceList(wire.FilterAll, 0, 16)
		require.NoError(t, err)
		_, paired, err := r.RemoteDeviceList(wire.FilterCurrentlyPaired, 0, 16)
		require.NoError(t, err)
		assert.Subset(t, all, paired)
	})

	t.Run("invalid filter", func(t *testing.T) {
		_, _, err := r.RemoteDeviceList(7, 0, 1)
		assert.Equal(t, wire.StatusInvalidParameter, wire.StatusOf(err))
	})
}

func TestRemoteDeviceListClassFilter(t *testing.T) {
	r, _ := newRegistry(t, Config{})
	r.Acquire()
	require.NoError(t, r.InsertLocked(&wire.RemoteDevice{Address: addr(1), ClassOfDevice: 0x240404}))
	require.NoError(t, r.InsertLocked(&wire.RemoteDevice{Address: addr(2), ClassOfDevice: 0x5A020C}))
	r.Release()

	total, got, err := r.RemoteDeviceList(wire.FilterAll, 0x000400, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), total)
	assert.Equal(t, []wire.BDAddr{addr(1)}, got)
}

func TestDeleteRemoteDevices(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		r, rec := newRegistry(t, Config{})
		seed(t, r, 0)
		rec.Reset()

		require.NoError(t, r.DeleteRemoteDevice(addr(1)))
		assert.Equal(t, 1, rec.Count(wire.EventRemoteDeviceDeleted))
		assert.Equal(t, wire.StatusUnknownDevice, wire.StatusOf(r.DeleteRemoteDevice(addr(1))))
	})

	t.Run("all empties the table", func(t *testing.T) {
		r, rec := newRegistry(t, Config{})
		seed(t, r, 0, wire.RemoteFlagPaired, wire.RemoteFlagLEConnected)
		rec.Reset()

		n, err := r.DeleteRemoteDevices(wire.FilterAll)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 3, rec.Count(wire.EventRemoteDeviceDeleted))

		total, _, err := r.RemoteDeviceList(wire.FilterAll, 0, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("filtered", func(t *testing.T) {
		r, _ := newRegistry(t, Config{})
		seed(t, r, 0, wire.RemoteFlagPaired, 0)

		n, err := r.DeleteRemoteDevices(wire.FilterCurrentlyUnpaired)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, left, err := r.RemoteDeviceList(wire.FilterAll, 0, 8)
		require.NoError(t, err)
		assert.Equal(t, []wire.BDAddr{addr(2)}, left)
	})
}

func TestUpdateApplicationData(t *testing.T) {
	r, rec := newRegistry(t, Config{})
	seed(t, r, wire.RemoteFlagSupportsLE|wire.RemoteFlagLastObservedKnown)
	rec.Reset()

	require.NoError(t, r.UpdateApplicationData(addr(1), []byte("hello")))

	d, err := r.RemoteDevice(addr(1))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), d.ApplicationData)
	assert.Equal(t, wire.RemoteFlagSupportsLE|wire.RemoteFlagLastObservedKnown, d.Flags, "discovery state untouched")

	changed := rec.Of(wire.EventRemoteDevicePropertiesChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, wire.RemoteMaskApplicationData, changed[0].Event.Body.(*wire.RemotePropertiesChangedEvent).Mask)

	assert.Equal(t, wire.StatusUnknownDevice, wire.StatusOf(r.UpdateApplicationData(addr(9), nil)))
	assert.Equal(t, wire.StatusInvalidParameter,
		wire.StatusOf(r.UpdateApplicationData(addr(1), make([]byte, wire.MaxApplicationDataLength+1))))
}

func TestRemoteDeviceReturnsCopy(t *testing.T) {
	r, _ := newRegistry(t, Config{})
	require.NoError(t, r.AddRemoteDevice(addr(1), 0, []byte{1}))

	d, err := r.RemoteDevice(addr(1))
	require.NoError(t, err)
	d.ApplicationData[0] = 99

	again, err := r.RemoteDevice(addr(1))
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, again.ApplicationData)
}

func TestRemoteDeviceServices(t *testing.T) {
	r, _ := newRegistry(t, Config{})
	svcs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	r.Acquire()
	require.NoError(t, r.InsertLocked(&wire.RemoteDevice{Address: addr(1), Services: svcs}))
	r.Release()

	total, got, err := r.RemoteDeviceServices(addr(1), 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), total)
	assert.Empty(t, got)

	total, got, err = r.RemoteDeviceServices(addr(1), 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), total)
	assert.Equal(t, svcs[:2], got)

	_, _, err = r.RemoteDeviceServices(addr(2), 1)
	assert.True(t, errors.Is(err, wire.StatusUnknownDevice))
}

func TestSetServices(t *testing.T) {
	r, rec := newRegistry(t, Config{})
	a, b := uuid.New(), uuid.New()

	r.Acquire()
	require.NoError(t, r.SetServicesLocked(addr(1), true, []uuid.UUID{a}))
	r.Release()
	require.Equal(t, 1, rec.Count(wire.EventRemoteDeviceFound))
	d, err := r.RemoteDevice(addr(1))
	require.NoError(t, err)
	assert.NotZero(t, d.Flags&wire.RemoteFlagLEServicesKnown)
	assert.NotZero(t, d.Flags&wire.RemoteFlagSupportsLE)

	r.Acquire()
	require.NoError(t, r.SetServicesLocked(addr(1), false, []uuid.UUID{a, b}))
	require.NoError(t, r.SetServicesLocked(addr(1), false, []uuid.UUID{b}))
	r.Release()

	changed := rec.Of(wire.EventRemoteDevicePropertiesChanged)
	require.Len(t, changed, 1)
	ev := changed[0].Event.Body.(*wire.RemotePropertiesChangedEvent)
	assert.Equal(t, wire.RemoteMaskServicesState, ev.Mask)
	assert.Equal(t, []uuid.UUID{a, b}, ev.Device.Services)
	assert.NotZero(t, ev.Device.Flags&wire.RemoteFlagServicesKnown)
}

func TestPowerOff(t *testing.T) {
	t.Run("clears link state", func(t *testing.T) {
		r, rec := newRegistry(t, Config{})
		seed(t, r, wire.RemoteFlagPaired|wire.RemoteFlagConnected|wire.RemoteFlagEncrypted, wire.RemoteFlagPaired)
		rec.Reset()

		r.Acquire()
		r.PowerOffLocked()
		r.Release()

		d, err := r.RemoteDevice(addr(1))
		require.NoError(t, err)
		assert.Equal(t, wire.RemoteFlagPaired, d.Flags)

		changed := rec.Of(wire.EventRemoteDevicePropertiesChanged)
		require.Len(t, changed, 1)
		assert.Equal(t, wire.RemoteMaskConnectionState|wire.RemoteMaskEncryptionState,
			changed[0].Event.Body.(*wire.RemotePropertiesChangedEvent).Mask)
	})

	t.Run("deletes when configured", func(t *testing.T) {
		r, rec := newRegistry(t, Config{DeleteOnPowerOff: true})
		seed(t, r, 0, wire.RemoteFlagPaired)
		rec.Reset()

		r.Acquire()
		r.PowerOffLocked()
		r.Release()

		assert.Zero(t, r.RemoteDeviceCount())
		assert.Equal(t, 2, rec.Count(wire.EventRemoteDeviceDeleted))
	})
}

func TestRadioClaim(t *testing.T) {
	r, _ := newRegistry(t, Config{})
	r.Acquire()
	defer r.Release()

	released := 0
	r.OnRadioReleasedLocked(func() { released++ })

	require.NoError(t, r.ClaimRadioLocked(RadioController))
	require.NoError(t, r.ClaimRadioLocked(RadioController))
	assert.Equal(t, wire.StatusRadioBusy, wire.StatusOf(r.ClaimRadioLocked(RadioScheduler)))

	r.ReleaseRadioLocked(RadioScheduler)
	assert.Equal(t, RadioController, r.RadioOwnerLocked(), "foreign release ignored")

	r.ReleaseRadioLocked(RadioController)
	assert.Equal(t, RadioController, r.RadioOwnerLocked())
	assert.Zero(t, released)

	r.ReleaseRadioLocked(RadioController)
	assert.Equal(t, RadioFree, r.RadioOwnerLocked())
	assert.Equal(t, 1, released)

	require.NoError(t, r.ClaimRadioLocked(RadioScheduler))
	assert.Equal(t, wire.StatusRadioBusy, wire.StatusOf(r.ClaimRadioLocked(RadioController)))
}

func TestSaveRestore(t *testing.T) {
	store := persistence.NewRegistryStore(filepath.Join(t.TempDir(), "registry.cbor"))

	r, _ := newRegistry(t, Config{Store: store})
	require.NoError(t, r.UpdateLocalProperties(wire.LocalMaskDeviceName, wire.LocalProperties{DeviceName: "hub"}))
	seed(t, r,
		wire.RemoteFlagPaired|wire.RemoteFlagConnected|wire.RemoteFlagSupportsClassic,
		wire.RemoteFlagSupportsLE,
		wire.RemoteFlagLEPaired|wire.RemoteFlagSupportsLE,
	)
	require.NoError(t, r.Save())

	restored, rec := newRegistry(t, Config{Store: store})
	require.NoError(t, restored.Restore())
	assert.Empty(t, rec.All())

	assert.Equal(t, "hub", restored.LocalProperties().DeviceName)
	_, addrs, err := restored.RemoteDeviceList(wire.FilterAll, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []wire.BDAddr{addr(1), addr(3)}, addrs)

	d, err := restored.RemoteDevice(addr(1))
	require.NoError(t, err)
	assert.Equal(t, wire.RemoteFlagPaired|wire.RemoteFlagSupportsClassic, d.Flags, "link state not persisted")
}

func TestSaveRestoreWithoutStore(t *testing.T) {
	r, _ := newRegistry(t, Config{})
	assert.NoError(t, r.Save())
	assert.NoError(t, r.Restore())
}

func TestRadioClaimantString(t *testing.T) {
	assert.Equal(t, "scheduler", RadioScheduler.String())
	assert.Equal(t, "unknown", RadioClaimant(9).String())
}
