package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/devm-project/devm-go/pkg/log"
	"github.com/devm-project/devm-go/pkg/registry"
	"github.com/devm-project/devm-go/pkg/stack"
	"github.com/devm-project/devm-go/pkg/timer"
	"github.com/devm-project/devm-go/pkg/wire"
)

// Job limits.
const (
	DefaultMaxPending = 32
	MaxDuration       = 10 * time.Second

	// MaxJobID is the largest job id. Ids travel as a signed result
	// where negative values are error statuses, so the counter wraps
	// back to 1 past it.
	MaxJobID = math.MaxInt32
)

const knownJobFlags = wire.JobFlagIncludeTxPower | wire.JobFlagScannable

// Config configures a Scheduler.
type Config struct {
	// Registry holds the lock and the radio claim.
	Registry *registry.Registry

	// Radio programs the advertising set.
	Radio stack.Radio

	// Timers arms job durations.
	Timers *timer.Facility

	// MaxPending bounds the queue (default: 32).
	MaxPending int

	// Log is the operational logger (optional).
	Log logrus.FieldLogger
}

// Scheduler runs interleaved advertisement jobs.
type Scheduler struct {
	reg    *registry.Registry
	radio  stack.Radio
	timers *timer.Facility
	log    logrus.FieldLogger

	maxPending int
	nextID     uint32
	pending    *orderedmap.OrderedMap[uint32, *Job]
	active     *Job
	timer      timer.ID
	hasTimer   bool
	gen        uint64
	suspended  bool
	activating bool
}

// New creates a scheduler and hooks it to radio releases so that a
// waiting job starts as soon as the radio frees up.
func New(config Config) *Scheduler {
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultMaxPending
	}
	if config.Log == nil {
		config.Log = logrus.StandardLogger()
	}
	s := &Scheduler{
		reg:        config.Registry,
		radio:      config.Radio,
		timers:     config.Timers,
		log:        config.Log.WithField("component", "scheduler"),
		maxPending: config.MaxPending,
		pending:    orderedmap.New[uint32, *Job](),
	}

	s.reg.Acquire()
	s.reg.OnRadioReleasedLocked(s.tryActivateLocked)
	s.reg.Release()
	return s
}

// Schedule queues a job for owner and returns its id.
func (s *Scheduler) Schedule(owner uint32, flags wire.JobFlags, durationMS uint32, addr wire.BDAddr, payload []byte) (uint32, error) {
	s.reg.Acquire()
	defer s.reg.Release()

	if err := s.reg.RequirePoweredLocked(); err != nil {
		return 0, err
	}
	if !s.reg.FeatureActiveLocked(wire.FeatureInterleavedAdvertising) {
		return 0, fmt.Errorf("%w: interleaved advertising disabled", wire.StatusUnsupported)
	}
	d := time.Duration(durationMS) * time.Millisecond
	if d <= 0 || d > MaxDuration {
		return 0, fmt.Errorf("%w: duration %d ms", wire.StatusInvalidParameter, durationMS)
	}
	if len(payload) > wire.MaxAdvertisingDataLength {
		return 0, fmt.Errorf("%w: payload is %d bytes", wire.StatusInvalidParameter, len(payload))
	}
	if flags&^knownJobFlags != 0 {
		return 0, fmt.Errorf("%w: job flags 0x%X", wire.StatusInvalidParameter, uint32(flags))
	}
	if s.pending.Len() >= s.maxPending {
		return 0, fmt.Errorf("%w: %d jobs pending", wire.StatusInsufficientResources, s.pending.Len())
	}

	job := &Job{
		ID:       s.allocateIDLocked(),
		Owner:    owner,
		Flags:    flags,
		Duration: d,
		Address:  addr,
		Payload:  append([]byte(nil), payload...),
		State:    JobScheduled,
	}
	s.pending.Set(job.ID, job)
	s.log.WithFields(logrus.Fields{"job": job.ID, "owner": owner, "duration": d}).Debug("job scheduled")

	s.tryActivateLocked()
	return job.ID, nil
}

// allocateIDLocked returns the next free id in 1..MaxJobID.
func (s *Scheduler) allocateIDLocked() uint32 {
	for {
		s.nextID++
		if s.nextID > MaxJobID {
			s.nextID = 1
		}
		if _, taken := s.pending.Get(s.nextID); taken {
			continue
		}
		if s.active != nil && s.active.ID == s.nextID {
			continue
		}
		return s.nextID
	}
}

// Cancel removes a pending job or stops the running one. The owner gets
// Complete(Cancelled) either way.
func (s *Scheduler) Cancel(owner, jobID uint32) error {
	s.reg.Acquire()
	defer s.reg.Release()

	if s.active != nil && s.active.ID == jobID {
		if s.active.Owner != owner {
			return fmt.Errorf("%w: job %d not owned by %d", wire.StatusInvalidParameter, jobID, owner)
		}
		s.finishLocked(wire.JobCancelled, true)
		return nil
	}

	job, ok := s.pending.Get(jobID)
	if !ok || job.Owner != owner {
		return fmt.Errorf("%w: no job %d for owner %d", wire.StatusInvalidParameter, jobID, owner)
	}
	s.pending.Delete(jobID)
	s.dropLocked(job, true)
	return nil
}

// Suspend closes the activation gate. The running job completes
// normally. Suspending a suspended scheduler does nothing.
func (s *Scheduler) Suspend() {
	s.reg.Acquire()
	defer s.reg.Release()

	if s.suspended {
		return
	}
	s.suspended = true
	s.log.Info("scheduling suspended")
	s.reg.BroadcastLocked(wire.Event{Function: wire.EventSchedulingSuspended, Body: &wire.Empty{}})
}

// Resume opens the activation gate and starts the head job if the radio
// is free.
func (s *Scheduler) Resume() {
	s.reg.Acquire()
	defer s.reg.Release()

	if !s.suspended {
		return
	}
	s.suspended = false
	s.log.Info("scheduling resumed")
	s.reg.BroadcastLocked(wire.Event{Function: wire.EventSchedulingResumed, Body: &wire.Empty{}})
	s.tryActivateLocked()
}

// Suspended reports whether the gate is closed.
func (s *Scheduler) Suspended() bool {
	s.reg.Acquire()
	defer s.reg.Release()
	return s.suspended
}

// Active returns a copy of the running job.
func (s *Scheduler) Active() (Job, bool) {
	s.reg.Acquire()
	defer s.reg.Release()
	if s.active == nil {
		return Job{}, false
	}
	return s.active.clone(), true
}

// Pending returns copies of the queued jobs in activation order.
func (s *Scheduler) Pending() []Job {
	s.reg.Acquire()
	defer s.reg.Release()

	jobs := make([]Job, 0, s.pending.Len())
	for pair := s.pending.Oldest(); pair != nil; pair = pair.Next() {
		jobs = append(jobs, pair.Value.clone())
	}
	return jobs
}

// PreemptLocked stops the running job with Complete(Cancelled) to its
// owner. It reports whether a job was running.
func (s *Scheduler) PreemptLocked() bool {
	if s.active == nil {
		return false
	}
	s.finishLocked(wire.JobCancelled, true)
	return true
}

// RemoveOwnerLocked drops every job of owner without events.
func (s *Scheduler) RemoveOwnerLocked(owner uint32) {
	var victims []*Job
	for pair := s.pending.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Owner == owner {
			victims = append(victims, pair.Value)
		}
	}
	for _, job := range victims {
		s.pending.Delete(job.ID)
		s.dropLocked(job, false)
	}
	if s.active != nil && s.active.Owner == owner {
		s.finishLocked(wire.JobCancelled, false)
	}
}

// CancelAllLocked cancels the running job and every queued job, each
// owner receiving Complete(Cancelled). Used on power-off and when the
// feature is disabled.
func (s *Scheduler) CancelAllLocked(reason string) {
	if s.active == nil && s.pending.Len() == 0 {
		return
	}
	s.log.WithField("reason", reason).Info("cancelling all jobs")

	// Empty the queue first so the radio release cannot start a job.
	var queued []*Job
	for pair := s.pending.Oldest(); pair != nil; pair = pair.Next() {
		queued = append(queued, pair.Value)
	}
	s.pending = orderedmap.New[uint32, *Job]()

	if s.active != nil {
		s.finishLocked(wire.JobCancelled, true)
	}
	for _, job := range queued {
		s.dropLocked(job, true)
	}
}

// tryActivateLocked starts queued jobs until one runs or none can.
func (s *Scheduler) tryActivateLocked() {
	if s.activating {
		return
	}
	s.activating = true
	defer func() { s.activating = false }()

	for s.active == nil && !s.suspended && s.pending.Len() > 0 {
		if !s.reg.PoweredLocked() || s.reg.RadioOwnerLocked() != registry.RadioFree {
			return
		}
		head := s.pending.Oldest()
		job := head.Value
		s.pending.Delete(job.ID)
		if err := s.startLocked(job); err != nil {
			s.log.WithError(err).WithField("job", job.ID).Warn("job failed to start")
			job.State = JobCompleted
			s.completeLocked(job, wire.JobFailed)
		}
	}
}

func (s *Scheduler) startLocked(job *Job) error {
	if err := s.reg.ClaimRadioLocked(registry.RadioScheduler); err != nil {
		return err
	}
	err := s.radio.StartAdvertising(stack.AdvertisingParams{
		Address:        job.Address,
		Scannable:      job.Flags&wire.JobFlagScannable != 0,
		IncludeTxPower: job.Flags&wire.JobFlagIncludeTxPower != 0,
		Data:           job.Payload,
	})
	if err != nil {
		s.reg.ReleaseRadioLocked(registry.RadioScheduler)
		return err
	}

	s.gen++
	gen := s.gen
	id, err := s.timers.AfterFunc(job.Duration, func() { s.expire(gen) })
	if err != nil {
		if stopErr := s.radio.StopAdvertising(); stopErr != nil {
			s.log.WithError(stopErr).Warn("stack stop advertising failed")
		}
		s.reg.ReleaseRadioLocked(registry.RadioScheduler)
		return err
	}

	s.timer = id
	s.hasTimer = true
	s.active = job
	job.State = JobActive
	s.captureLocked(job, JobScheduled, "")
	s.log.WithFields(logrus.Fields{"job": job.ID, "owner": job.Owner}).Debug("job active")
	return nil
}

func (s *Scheduler) expire(gen uint64) {
	s.reg.Acquire()
	defer s.reg.Release()

	if s.active == nil || s.gen != gen {
		return
	}
	s.hasTimer = false
	s.finishLocked(wire.JobSuccess, true)
}

// finishLocked ends the running job, frees the radio and lets the next
// job start.
func (s *Scheduler) finishLocked(status wire.JobStatus, notify bool) {
	job := s.active
	s.active = nil
	s.gen++
	if s.hasTimer {
		s.timers.Cancel(s.timer)
		s.hasTimer = false
	}
	if err := s.radio.StopAdvertising(); err != nil {
		s.log.WithError(err).Warn("stack stop advertising failed")
	}

	if status == wire.JobSuccess {
		job.State = JobCompleted
	} else {
		job.State = JobCancelled
	}
	s.captureLocked(job, JobActive, status.String())
	if notify {
		s.completeLocked(job, status)
	}
	s.reg.ReleaseRadioLocked(registry.RadioScheduler)
}

// dropLocked marks a queued job cancelled.
func (s *Scheduler) dropLocked(job *Job, notify bool) {
	job.State = JobCancelled
	s.captureLocked(job, JobScheduled, "cancelled")
	if notify {
		s.completeLocked(job, wire.JobCancelled)
	}
}

func (s *Scheduler) completeLocked(job *Job, status wire.JobStatus) {
	s.reg.UnicastLocked(job.Owner, wire.Event{
		Function: wire.EventAdvertisementComplete,
		Body: &wire.AdvertisementCompleteEvent{
			Status:  status,
			JobID:   job.ID,
			OwnerID: job.Owner,
		},
	})
}

func (s *Scheduler) captureLocked(job *Job, from JobState, reason string) {
	s.reg.CaptureState(log.StateEntityJob,
		fmt.Sprintf("job %d %s", job.ID, from),
		fmt.Sprintf("job %d %s", job.ID, job.State),
		reason)
}
