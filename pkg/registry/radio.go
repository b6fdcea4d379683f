package registry

import (
	"fmt"

	"github.com/devm-project/devm-go/pkg/wire"
)

// RadioClaimant identifies who is transmitting on the radio.
type RadioClaimant uint8

const (
	RadioFree RadioClaimant = iota
	RadioController
	RadioScheduler
)

// String returns the claimant name.
func (c RadioClaimant) String() string {
	switch c {
	case RadioFree:
		return "free"
	case RadioController:
		return "controller"
	case RadioScheduler:
		return "scheduler"
	default:
		return "unknown"
	}
}

// ClaimRadioLocked claims the radio for c. It fails with RadioBusy while
// another claimant holds it.
func (r *Registry) ClaimRadioLocked(c RadioClaimant) error {
	if r.radio != RadioFree && r.radio != c {
		return fmt.Errorf("%w: radio held by %s", wire.StatusRadioBusy, r.radio)
	}
	r.radio = c
	r.radioDepth++
	return nil
}

// ReleaseRadioLocked drops one claim of c. When the last claim goes, the
// release hooks run.
func (r *Registry) ReleaseRadioLocked(c RadioClaimant) {
	if r.radio != c || r.radioDepth == 0 {
		return
	}
	r.radioDepth--
	if r.radioDepth > 0 {
		return
	}
	r.radio = RadioFree
	for _, hook := range r.radioHooks {
		hook()
	}
}

// RadioOwnerLocked returns the current claimant.
func (r *Registry) RadioOwnerLocked() RadioClaimant {
	return r.radio
}

// OnRadioReleasedLocked registers a hook run under the lock whenever the
// radio becomes free.
func (r *Registry) OnRadioReleasedLocked(hook func()) {
	r.radioHooks = append(r.radioHooks, hook)
}
