package dispatch

import (
	"fmt"
	"time"
)

type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Snapshot is a read-only view of a job's counters.
// Sent+Failed <= Processed <= Total always holds.
type Snapshot struct {
	JobID     string        `json:"job_id"`
	Tenant    int64         `json:"tenant"`
	Policy    Policy        `json:"policy"`
	State     State         `json:"state"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Rejected  int           `json:"rejected"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

func (s Snapshot) Terminal() bool { return s.State == StateCompleted || s.State == StateCancelled }

// Throughput is delivered messages per second of wall time.
func (s Snapshot) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Sent) / s.Elapsed.Seconds()
}

func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Processed) * 100 / float64(s.Total)
}

// SuccessRate is Sent as a percentage of the recipients attempted so far.
func (s Snapshot) SuccessRate() float64 {
	if s.Processed <= 0 {
		return 0
	}
	return float64(s.Sent) * 100 / float64(s.Processed)
}

// Remaining estimates the time left at the configured policy.
func (s Snapshot) Remaining() time.Duration {
	return EstimatedDuration(s.Total-s.Processed, s.Policy)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s %d/%d sent=%d failed=%d elapsed=%s", s.State, s.Processed, s.Total, s.Sent, s.Failed, s.Elapsed.Round(time.Millisecond))
}
