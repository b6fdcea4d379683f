package devm

import (
	"fmt"

	"github.com/devm-project/devm-go/pkg/wire"
)

func validFeature(f wire.Feature) bool {
	switch f {
	case wire.FeatureLowEnergy, wire.FeatureANTPlus, wire.FeatureInterleavedAdvertising:
		return true
	}
	return false
}

// EnableFeature turns on one feature.
func (m *Manager) EnableFeature(f wire.Feature) error {
	if !validFeature(f) {
		return fmt.Errorf("%w: feature 0x%X", wire.StatusInvalidParameter, uint32(f))
	}

	m.reg.Acquire()
	defer m.reg.Release()

	if m.reg.FeatureActiveLocked(f) {
		return nil
	}
	if err := m.stack.SetFeature(f, true); err != nil {
		return stackError("enable "+f.String(), err)
	}
	m.reg.SetFeatureLocked(f, true)
	m.log.WithField("feature", f).Info("feature enabled")
	return nil
}

// DisableFeature turns off one feature and stops whatever depends on
// it.
func (m *Manager) DisableFeature(f wire.Feature) error {
	if !validFeature(f) {
		return fmt.Errorf("%w: feature 0x%X", wire.StatusInvalidParameter, uint32(f))
	}

	m.reg.Acquire()
	defer m.reg.Release()

	if !m.reg.FeatureActiveLocked(f) {
		return nil
	}
	switch f {
	case wire.FeatureLowEnergy:
		m.ctl.StopLELocked("feature disabled")
	case wire.FeatureInterleavedAdvertising:
		m.sched.CancelAllLocked("feature disabled")
	}
	if err := m.stack.SetFeature(f, false); err != nil {
		m.log.WithError(err).WithField("feature", f).Warn("stack refused to disable feature")
	}
	m.reg.SetFeatureLocked(f, false)
	m.log.WithField("feature", f).Info("feature disabled")
	return nil
}

// QueryActiveFeatures returns the active feature set.
func (m *Manager) QueryActiveFeatures() wire.Feature {
	return m.reg.Features()
}
