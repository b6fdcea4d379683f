// Package recorder provides an event sink that records everything the
// device manager components emit, for use in tests.
package recorder

import (
	"sync"
	"time"

	"github.com/devm-project/devm-go/pkg/wire"
)

// Delivery is one recorded event.
type Delivery struct {
	// Broadcast is true for events sent to every client.
	Broadcast bool

	// Owner is the target callback id of a unicast event.
	Owner uint32

	Event wire.Event
}

// Recorder records broadcast and unicast events.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	notify     chan struct{}
}

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Broadcast records ev as sent to every client.
func (r *Recorder) Broadcast(ev wire.Event) {
	r.add(Delivery{Broadcast: true, Event: ev})
}

// Unicast records ev as sent to owner.
func (r *Recorder) Unicast(owner uint32, ev wire.Event) {
	r.add(Delivery{Owner: owner, Event: ev})
}

func (r *Recorder) add(d Delivery) {
	r.mu.Lock()
	r.deliveries = append(r.deliveries, d)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// All returns every recorded delivery in order.
func (r *Recorder) All() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// Functions returns the function id of every recorded event in order.
func (r *Recorder) Functions() []wire.Function {
	var out []wire.Function
	for _, d := range r.All() {
		out = append(out, d.Event.Function)
	}
	return out
}

// Of returns the deliveries of events with function fn.
func (r *Recorder) Of(fn wire.Function) []Delivery {
	var out []Delivery
	for _, d := range r.All() {
		if d.Event.Function == fn {
			out = append(out, d)
		}
	}
	return out
}

// Count returns how many events with function fn were recorded.
func (r *Recorder) Count(fn wire.Function) int {
	return len(r.Of(fn))
}

// ToOwner returns the unicast deliveries addressed to owner.
func (r *Recorder) ToOwner(owner uint32) []Delivery {
	var out []Delivery
	for _, d := range r.All() {
		if !d.Broadcast && d.Owner == owner {
			out = append(out, d)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}

// WaitFor blocks until at least n events with function fn were recorded
// or timeout elapses. It reports whether the count was reached.
func (r *Recorder) WaitFor(fn wire.Function, n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if r.Count(fn) >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-time.After(5 * time.Millisecond):
		case <-deadline.C:
			return r.Count(fn) >= n
		}
	}
}
