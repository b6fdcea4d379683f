package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devm-project/devm-go/pkg/wire"
)

func TestRegistryStore(t *testing.T) {
	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewRegistryStore(filepath.Join(t.TempDir(), "registry.cbor"))

		got, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		store := NewRegistryStore(filepath.Join(t.TempDir(), "nested", "registry.cbor"))

		svc := uuid.MustParse("0000110b-0000-1000-8000-00805f9b34fb")
		state := &RegistryState{
			Local: LocalState{DeviceName: "kitchen", ClassOfDevice: 0x240404},
			Devices: []DeviceRecord{
				{
					Address:         wire.BDAddr{1, 2, 3, 4, 5, 6},
					DeviceName:      "headset",
					Flags:           wire.RemoteFlagPaired | wire.RemoteFlagSupportsClassic,
					ApplicationData: []byte{0xAA},
					Services:        []uuid.UUID{svc},
				},
				{
					Address:       wire.BDAddr{6, 5, 4, 3, 2, 1},
					Flags:         wire.RemoteFlagLEPaired | wire.RemoteFlagSupportsLE,
					LEAddressType: wire.AddressTypeStatic,
					Appearance:    0x03C1,
				},
			},
		}
		require.NoError(t, store.Save(state))

		got, err := store.Load()
		require.NoError(t, err)
		require.NotNil(t, got)

		assert.Equal(t, StateVersion, got.Version)
		assert.False(t, got.SavedAt.IsZero())
		assert.Equal(t, state.Local, got.Local)
		assert.Equal(t, state.Devices, got.Devices)
	})

	t.Run("SavedAtPreserved", func(t *testing.T) {
		store := NewRegistryStore(filepath.Join(t.TempDir(), "registry.cbor"))
		at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, store.Save(&RegistryState{SavedAt: at}))
		got, err := store.Load()
		require.NoError(t, err)
		assert.True(t, at.Equal(got.SavedAt))
	})

	t.Run("RejectsNewerVersion", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "registry.cbor")
		data, err := cbor.Marshal(&RegistryState{Version: StateVersion + 1})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0644))

		_, err = NewRegistryStore(path).Load()
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("CorruptFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "registry.cbor")
		require.NoError(t, os.WriteFile(path, []byte{0xFF, 0x00}, 0644))

		_, err := NewRegistryStore(path).Load()
		assert.Error(t, err)
	})

	t.Run("Clear", func(t *testing.T) {
		store := NewRegistryStore(filepath.Join(t.TempDir(), "registry.cbor"))
		require.NoError(t, store.Save(&RegistryState{}))
		require.NoError(t, store.Clear())
		require.NoError(t, store.Clear())

		got, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
