package scheduler

import (
	"time"

	"github.com/devm-project/devm-go/pkg/wire"
)

// JobState is the lifecycle state of a job.
type JobState uint8

const (
	JobScheduled JobState = iota
	JobActive
	JobCompleted
	JobCancelled
)

// String returns the state name.
func (s JobState) String() string {
	switch s {
	case JobScheduled:
		return "scheduled"
	case JobActive:
		return "active"
	case JobCompleted:
		return "completed"
	case JobCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Job is one interleaved advertisement.
type Job struct {
	ID       uint32
	Owner    uint32
	Flags    wire.JobFlags
	Duration time.Duration
	Address  wire.BDAddr
	Payload  []byte
	State    JobState
}

func (j *Job) clone() Job {
	c := *j
	c.Payload = append([]byte(nil), j.Payload...)
	return c
}
