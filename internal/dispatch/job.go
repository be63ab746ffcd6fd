package dispatch

import (
	"sync"
	"time"
)

type job struct {
	id         string
	tenant     int64
	recipients []RecipientID
	payload    Payload
	policy     Policy
	reporter   Reporter
	startedAt  time.Time

	mu        sync.Mutex
	processed int
	sent      int
	failed    int
	rejected  int

	cancelOnce sync.Once
	cancelCh   chan struct{}

	done  chan struct{}
	final Snapshot
}

func newJob(id string, tenant int64, recipients []RecipientID, p Payload, pol Policy, r Reporter, now time.Time) *job {
	return &job{
		id:         id,
		tenant:     tenant,
		recipients: append([]RecipientID(nil), recipients...),
		payload:    p,
		policy:     pol,
		reporter:   r,
		startedAt:  now,
		cancelCh:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (j *job) requestCancel() { j.cancelOnce.Do(func() { close(j.cancelCh) }) }

func (j *job) cancelled() bool {
	select {
	case <-j.cancelCh:
		return true
	default:
		return false
	}
}

// record counts a batch of outcomes atomically and returns the processed
// count before and after.
func (j *job) record(outcomes ...Outcome) (before, after int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	before = j.processed
	for _, o := range outcomes {
		j.processed++
		switch o {
		case Delivered:
			j.sent++
		case Rejected:
			j.failed++
			j.rejected++
		default:
			j.failed++
		}
	}
	return before, j.processed
}

func (j *job) snapshot(now time.Time, state State) Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		JobID:     j.id,
		Tenant:    j.tenant,
		Policy:    j.policy,
		State:     state,
		Total:     len(j.recipients),
		Processed: j.processed,
		Sent:      j.sent,
		Failed:    j.failed,
		Rejected:  j.rejected,
		StartedAt: j.startedAt,
		Elapsed:   now.Sub(j.startedAt),
	}
}

// Handle observes a started job.
type Handle struct{ j *job }

func (h *Handle) ID() string { return h.j.id }

// Done is closed once the job has left the tenant table.
func (h *Handle) Done() <-chan struct{} { return h.j.done }

// Result is the terminal snapshot. Only valid after Done is closed.
func (h *Handle) Result() Snapshot {
	<-h.j.done
	return h.j.final
}
