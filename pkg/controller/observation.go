package controller

import (
	"fmt"
	"time"

	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/wire"
)

// Scan window and interval bounds of an observation scan.
const (
	MinScanParameterMS = 3
	MaxScanParameterMS = 10240
)

const knownObservationFlags = wire.ObsFlagActiveScanning | wire.ObsFlagFilterDuplicates

// observation is the per-session state of an observation scan.
type observation struct {
	frequency time.Duration
	seen      map[wire.BDAddr]struct{}
	reported  map[wire.BDAddr]time.Time
	pending   map[wire.BDAddr]wire.RemotePropertiesMask
}

func (o *observation) start(frequency time.Duration) {
	o.frequency = frequency
	o.seen = make(map[wire.BDAddr]struct{})
	o.reported = make(map[wire.BDAddr]time.Time)
	o.pending = make(map[wire.BDAddr]wire.RemotePropertiesMask)
}

func (o *observation) reset() {
	o.seen = nil
	o.reported = nil
	o.pending = nil
}

// sighting records a sighting of addr at now and returns the mask to
// announce. first is true for the first sighting of the session; a zero
// mask means the sighting falls inside the reporting window.
func (o *observation) sighting(addr wire.BDAddr, changed wire.RemotePropertiesMask, now time.Time) (first bool, mask wire.RemotePropertiesMask) {
	if _, ok := o.seen[addr]; !ok {
		o.seen[addr] = struct{}{}
		o.reported[addr] = now
		delete(o.pending, addr)
		return true, 0
	}

	acc := o.pending[addr] | changed | wire.RemoteMaskLastObserved
	if last, ok := o.reported[addr]; ok && o.frequency > 0 && now.Sub(last) < o.frequency {
		o.pending[addr] = acc
		return false, 0
	}
	o.reported[addr] = now
	delete(o.pending, addr)
	return false, acc
}

func validateObservation(req wire.ObservationScanRequest) error {
	if req.Flags&^knownObservationFlags != 0 {
		return fmt.Errorf("%w: observation flags 0x%X", wire.StatusInvalidParameter, uint32(req.Flags))
	}
	w, i := req.ScanWindowMS, req.ScanIntervalMS
	if w == 0 && i == 0 {
		return nil
	}
	if w < MinScanParameterMS || w > MaxScanParameterMS || i < MinScanParameterMS || i > MaxScanParameterMS {
		return fmt.Errorf("%w: scan window %d ms, interval %d ms out of range", wire.StatusInvalidParameter, w, i)
	}
	if w > i {
		return fmt.Errorf("%w: scan window %d ms exceeds interval %d ms", wire.StatusInvalidParameter, w, i)
	}
	return nil
}

// StartObservationScan starts an observation scan. It shares the
// stack's LE scanner with StartLEScan and does not claim the radio.
func (c *Controller) StartObservationScan(req wire.ObservationScanRequest) error {
	c.reg.Acquire()
	defer c.reg.Release()

	if err := c.checkStartLocked(ModeObservation, true); err != nil {
		return err
	}
	if err := validateObservation(req); err != nil {
		return err
	}
	params := stack.ScanParams{
		Active:     req.Flags&wire.ObsFlagActiveScanning != 0,
		WindowMS:   req.ScanWindowMS,
		IntervalMS: req.ScanIntervalMS,
	}
	if err := c.acquireScannerLocked(params); err != nil {
		return err
	}
	c.obs.start(time.Duration(req.ReportingFrequencyMS) * time.Millisecond)
	c.activateLocked(ModeObservation, 0)
	return nil
}

// StopObservationScan ends a running observation scan.
func (c *Controller) StopObservationScan() error {
	return c.stop(ModeObservation)
}

// HandleAdvertisingReport merges an advertising report into the
// directory. During an observation scan announcements are rate limited
// per device; otherwise every change is announced. Reports arriving
// while neither scan runs are dropped.
func (c *Controller) HandleAdvertisingReport(r stack.AdvertisingReport) {
	c.reg.Acquire()
	defer c.reg.Release()

	observing := c.modes[ModeObservation].active
	if !observing && !c.modes[ModeLEScan].active {
		return
	}
	now := c.now()

	d, ok := c.reg.DeviceLocked(r.Address)
	if !ok {
		d = &wire.RemoteDevice{
			Address: r.Address,
			Flags:   wire.RemoteFlagSupportsLE,
		}
		applyReport(d, r)
		if observing {
			d.LastObserved = now.UnixMilli()
			d.Flags |= wire.RemoteFlagLastObservedKnown
			c.obs.sighting(r.Address, 0, now)
		}
		if err := c.reg.InsertLocked(d); err != nil {
			c.log.WithError(err).WithField("device", r.Address).Debug("advertising report dropped")
		}
		return
	}

	mask := applyReport(d, r)
	if !observing {
		c.reg.ChangedLocked(d, mask)
		return
	}

	d.LastObserved = now.UnixMilli()
	d.Flags |= wire.RemoteFlagLastObservedKnown
	first, emit := c.obs.sighting(r.Address, mask, now)
	if first {
		c.reg.BroadcastLocked(wire.Event{
			Function: wire.EventRemoteDeviceFound,
			Body:     &wire.RemoteDeviceFoundEvent{Device: *d.Clone()},
		})
		return
	}
	c.reg.ChangedLocked(d, emit)
}

// applyReport copies the report into d and returns the changed fields.
func applyReport(d *wire.RemoteDevice, r stack.AdvertisingReport) wire.RemotePropertiesMask {
	var mask wire.RemotePropertiesMask
	flags := d.Flags | wire.RemoteFlagSupportsLE | wire.RemoteFlagLEAdvDataKnown

	if d.LERSSI != r.RSSI {
		d.LERSSI = r.RSSI
		mask |= wire.RemoteMaskLERSSI
	}
	if r.TxPowerKnown {
		flags |= wire.RemoteFlagLETxPowerKnown
		if d.LETxPower != r.TxPower {
			d.LETxPower = r.TxPower
			mask |= wire.RemoteMaskLETxPower
		}
	}
	if r.Name != "" && d.DeviceName != r.Name {
		d.DeviceName = r.Name
		mask |= wire.RemoteMaskDeviceName
	}
	if r.Appearance != 0 && d.Appearance != r.Appearance {
		d.Appearance = r.Appearance
		mask |= wire.RemoteMaskAppearance
	}
	d.LEAddressType = r.AddressType

	data := r.Data
	if len(data) > wire.MaxAdvertisingReportLength {
		data = data[:wire.MaxAdvertisingReportLength]
	}
	if string(d.AdvertisingReport) != string(data) {
		d.AdvertisingReport = append([]byte(nil), data...)
		mask |= wire.RemoteMaskAdvertisingReport
	}
	if flags != d.Flags {
		d.Flags = flags
		mask |= wire.RemoteMaskDeviceFlags
	}
	return mask
}
