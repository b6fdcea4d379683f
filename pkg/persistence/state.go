package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/devm-project/devm-go/pkg/wire"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ErrUnsupportedVersion is returned for files written by a newer format.
var ErrUnsupportedVersion = errors.New("unsupported state file version")

// RegistryState is the persisted part of the device registry.
type RegistryState struct {
	// Version is the state file format version.
	Version int `cbor:"1,keyasint"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `cbor:"2,keyasint"`

	// Local holds the user-configurable local properties.
	Local LocalState `cbor:"3,keyasint"`

	// Devices are the bonded remote devices in directory order.
	Devices []DeviceRecord `cbor:"4,keyasint,omitempty"`
}

// LocalState mirrors the updatable local properties.
type LocalState struct {
	DeviceName    string             `cbor:"1,keyasint,omitempty"`
	ClassOfDevice wire.ClassOfDevice `cbor:"2,keyasint,omitempty"`
	Appearance    uint16             `cbor:"3,keyasint,omitempty"`
}

// DeviceRecord is one persisted remote device.
type DeviceRecord struct {
	Address         wire.BDAddr        `cbor:"1,keyasint"`
	ClassOfDevice   wire.ClassOfDevice `cbor:"2,keyasint,omitempty"`
	DeviceName      string             `cbor:"3,keyasint,omitempty"`
	Flags           wire.RemoteFlags   `cbor:"4,keyasint"`
	LEAddressType   wire.AddressType   `cbor:"5,keyasint,omitempty"`
	Appearance      uint16             `cbor:"6,keyasint,omitempty"`
	ApplicationData []byte             `cbor:"7,keyasint,omitempty"`
	Services        []uuid.UUID        `cbor:"8,keyasint,omitempty"`
}

// RegistryStore manages the registry state file.
type RegistryStore struct {
	mu   sync.Mutex
	path string
}

// NewRegistryStore creates a store for path.
func NewRegistryStore(path string) *RegistryStore {
	return &RegistryStore{path: path}
}

// Path returns the state file location.
func (s *RegistryStore) Path() string {
	return s.path
}

// Save writes the state atomically.
func (s *RegistryStore) Save(state *RegistryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := cbor.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the state. It returns nil, nil if the file does not exist.
func (s *RegistryStore) Load() (*RegistryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &RegistryState{}
	if err := cbor.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, state.Version)
	}
	return state, nil
}

// Clear removes the state file.
func (s *RegistryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
