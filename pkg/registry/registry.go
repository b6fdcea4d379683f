package registry

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/persistence"
	"github.com/devm-project/devm-go/pkg/wire"
)

// DefaultMaxRemoteDevices is the default directory size limit.
const DefaultMaxRemoteDevices = 256

// Emitter delivers events to connected clients. Owners are event
// callback ids.
type Emitter interface {
	Broadcast(ev wire.Event)
	Unicast(owner uint32, ev wire.Event)
}

type nopEmitter struct{}

func (nopEmitter) Broadcast(wire.Event)       {}
func (nopEmitter) Unicast(uint32, wire.Event) {}

// LocalApplier pushes local property changes to the radio. It is called
// under the registry lock before the change is committed.
type LocalApplier func(mask wire.LocalPropertiesMask, props wire.LocalProperties) error

// Config configures a Registry.
type Config struct {
	// MaxRemoteDevices bounds the directory (default: 256).
	MaxRemoteDevices int

	// DeleteOnPowerOff empties the directory on power-off instead of
	// only clearing link state.
	DeleteOnPowerOff bool

	// Local is the initial local device description.
	Local wire.LocalProperties

	// Features is the initially active feature set.
	Features wire.Feature

	// Store persists bonded devices (optional).
	Store *persistence.RegistryStore

	// Logger for protocol capture (optional).
	Logger log.Logger

	// Log is the operational logger (optional).
	Log logrus.FieldLogger
}

// Registry is the single source of truth of the device manager.
type Registry struct {
	mu sync.Mutex

	config   Config
	emitter  Emitter
	applier  LocalApplier
	local    wire.LocalProperties
	power    wire.PowerState
	features wire.Feature
	devices  *orderedmap.OrderedMap[wire.BDAddr, *wire.RemoteDevice]

	radio      RadioClaimant
	radioDepth int
	radioHooks []func()

	log logrus.FieldLogger
}

// New creates a registry in the Disabled power state.
func New(config Config) *Registry {
	if config.MaxRemoteDevices <= 0 {
		config.MaxRemoteDevices = DefaultMaxRemoteDevices
	}
	if config.Log == nil {
		config.Log = logrus.StandardLogger()
	}

	r := &Registry{
		config:  config,
		emitter: nopEmitter{},
		local:   config.Local,
		power:   wire.PowerDisabled,
		devices: orderedmap.New[wire.BDAddr, *wire.RemoteDevice](),
		log:     config.Log.WithField("component", "registry"),
	}
	r.features = config.Features & wire.AllFeatures
	r.local.Flags &^= featureFlags
	for _, f := range []wire.Feature{wire.FeatureLowEnergy, wire.FeatureANTPlus, wire.FeatureInterleavedAdvertising} {
		if r.features&f != 0 {
			r.local.Flags |= f.LocalFlag()
		}
	}
	return r
}

const featureFlags = wire.LocalFlagSupportsLE | wire.LocalFlagSupportsANTPlus | wire.LocalFlagInterleavedScheduling

// Acquire takes the registry lock.
func (r *Registry) Acquire() { r.mu.Lock() }

// Release drops the registry lock.
func (r *Registry) Release() { r.mu.Unlock() }

// SetEmitter installs the event sink.
func (r *Registry) SetEmitter(e Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e == nil {
		e = nopEmitter{}
	}
	r.emitter = e
}

// SetLocalApplier installs the hook that pushes local property updates
// to the radio.
func (r *Registry) SetLocalApplier(a LocalApplier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applier = a
}

// BroadcastLocked emits ev to every client with a registered callback.
func (r *Registry) BroadcastLocked(ev wire.Event) {
	r.emitter.Broadcast(ev)
}

// UnicastLocked emits ev to the client owning callback id owner.
func (r *Registry) UnicastLocked(owner uint32, ev wire.Event) {
	r.emitter.Unicast(owner, ev)
}

// CaptureState records a manager state transition in the protocol log.
func (r *Registry) CaptureState(entity log.StateEntity, oldState, newState, reason string) {
	log.StateChange(r.config.Logger, entity, oldState, newState, reason)
}

// PowerState returns the current power state.
func (r *Registry) PowerState() wire.PowerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power
}

// PowerStateLocked returns the current power state.
func (r *Registry) PowerStateLocked() wire.PowerState {
	return r.power
}

// PoweredLocked reports whether the device is Enabled. PreDisable counts
// as not powered: no new activity may start while powering down.
func (r *Registry) PoweredLocked() bool {
	return r.power == wire.PowerEnabled
}

// RequirePoweredLocked returns NotPoweredOn unless the device is Enabled.
func (r *Registry) RequirePoweredLocked() error {
	if r.power != wire.PowerEnabled {
		return fmt.Errorf("%w: power state %s", wire.StatusNotPoweredOn, r.power)
	}
	return nil
}

// SetPowerStateLocked records a power transition. Only
// Disabled→Enabled→PreDisable→Disabled is accepted.
func (r *Registry) SetPowerStateLocked(s wire.PowerState) error {
	if !validPowerTransition(r.power, s) {
		return fmt.Errorf("%w: power %s -> %s", wire.StatusInvalidParameter, r.power, s)
	}
	old := r.power
	r.power = s
	r.log.WithFields(logrus.Fields{"from": old, "to": s}).Info("power state changed")
	r.CaptureState(log.StateEntityPower, old.String(), s.String(), "")
	return nil
}

func validPowerTransition(from, to wire.PowerState) bool {
	switch from {
	case wire.PowerDisabled:
		return to == wire.PowerEnabled
	case wire.PowerEnabled:
		return to == wire.PowerPreDisable
	case wire.PowerPreDisable:
		return to == wire.PowerDisabled
	}
	return false
}

// Features returns the active feature set.
func (r *Registry) Features() wire.Feature {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.features
}

// FeaturesLocked returns the active feature set.
func (r *Registry) FeaturesLocked() wire.Feature {
	return r.features
}

// FeatureActiveLocked reports whether f is active.
func (r *Registry) FeatureActiveLocked(f wire.Feature) bool {
	return r.features&f == f
}

// SetFeatureLocked toggles f and mirrors it into the local flags. It
// reports whether anything changed.
func (r *Registry) SetFeatureLocked(f wire.Feature, active bool) bool {
	old := r.features
	if active {
		r.features |= f
	} else {
		r.features &^= f
	}
	if old == r.features {
		return false
	}
	if active {
		r.SetLocalFlagsLocked(f.LocalFlag(), 0)
	} else {
		r.SetLocalFlagsLocked(0, f.LocalFlag())
	}
	return true
}
