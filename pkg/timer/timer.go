package timer

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMinResolution is the default minimum timer duration.
const DefaultMinResolution = 10 * time.Millisecond

// ErrStopped is returned when arming a timer on a stopped facility.
var ErrStopped = errors.New("timer facility stopped")

// ID identifies an armed timer. Zero is never assigned.
type ID uint64

// Config configures a Facility.
type Config struct {
	// MinResolution is the floor applied to every duration.
	MinResolution time.Duration

	// QueueSize bounds expiries waiting for dispatch (default: 256).
	QueueSize int

	// Log is the operational logger (optional).
	Log logrus.FieldLogger
}

type entry struct {
	id       ID
	deadline time.Time
	timer    *time.Timer
	fn       func()
}

// Facility arms timers and runs their callbacks on one goroutine.
type Facility struct {
	mu      sync.Mutex
	minRes  time.Duration
	timers  map[ID]*entry
	nextID  ID
	stopped bool

	expired chan ID
	stopCh  chan struct{}
	done    chan struct{}
	log     logrus.FieldLogger
}

// New creates a facility and starts its dispatch goroutine.
func New(cfg Config) *Facility {
	if cfg.MinResolution <= 0 {
		cfg.MinResolution = DefaultMinResolution
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}

	f := &Facility{
		minRes:  cfg.MinResolution,
		timers:  make(map[ID]*entry),
		expired: make(chan ID, cfg.QueueSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		log:     cfg.Log.WithField("component", "timer"),
	}
	go f.dispatch()
	return f
}

// MinResolution returns the configured floor.
func (f *Facility) MinResolution() time.Duration {
	return f.minRes
}

// AfterFunc arms a timer that runs fn after d on the dispatch goroutine.
func (f *Facility) AfterFunc(d time.Duration, fn func()) (ID, error) {
	if d < f.minRes {
		d = f.minRes
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return 0, ErrStopped
	}

	f.nextID++
	id := f.nextID
	e := &entry{id: id, deadline: time.Now().Add(d), fn: fn}
	e.timer = time.AfterFunc(d, func() { f.fire(id) })
	f.timers[id] = e
	return id, nil
}

// Cancel disarms a timer. It returns false if the timer is unknown or has
// already been handed to the dispatch goroutine.
func (f *Facility) Cancel(id ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.timers[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(f.timers, id)
	return true
}

// Remaining returns the time left on a timer, or false if it is not armed.
func (f *Facility) Remaining(id ID) (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.timers[id]
	if !ok {
		return 0, false
	}
	r := time.Until(e.deadline)
	if r < 0 {
		r = 0
	}
	return r, true
}

// Pending returns the number of armed timers.
func (f *Facility) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Stop disarms every timer and ends the dispatch goroutine. Callbacks
// already running complete first.
func (f *Facility) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		<-f.done
		return
	}
	f.stopped = true
	for id, e := range f.timers {
		e.timer.Stop()
		delete(f.timers, id)
	}
	f.mu.Unlock()

	close(f.stopCh)
	<-f.done
}

func (f *Facility) fire(id ID) {
	select {
	case f.expired <- id:
	case <-f.stopCh:
	}
}

func (f *Facility) dispatch() {
	defer close(f.done)

	for {
		select {
		case <-f.stopCh:
			return
		case id := <-f.expired:
			f.mu.Lock()
			e, ok := f.timers[id]
			delete(f.timers, id)
			f.mu.Unlock()

			if ok {
				f.run(e)
			}
		}
	}
}

func (f *Facility) run(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			f.log.WithField("timer", e.id).Errorf("timer callback panicked: %v", r)
		}
	}()
	e.fn()
}
