package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"massdm/internal/eventbus"
)

const tenantID int64 = -100123

// fakeClock advances virtual time on every After call and fires immediately.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	afters  int
	onAfter func(n int)
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.afters++
	n, now, hook := f.afters, f.now, f.onAfter
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (f *fakeClock) Afters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.afters
}

type recordingReporter struct {
	mu    sync.Mutex
	snaps []Snapshot
	err   error
	panic bool
}

func (r *recordingReporter) Report(_ context.Context, s Snapshot) error {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
	if r.panic {
		panic("render exploded")
	}
	return r.err
}

func (r *recordingReporter) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

type journalEntry struct {
	snap Snapshot
	kind PayloadKind
}

type memJournal struct {
	mu      sync.Mutex
	entries []journalEntry
}

func (m *memJournal) RecordJob(_ context.Context, s Snapshot, kind PayloadKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, journalEntry{s, kind})
	return nil
}

func okClient() DeliveryClient {
	return DeliveryFunc(func(context.Context, RecipientID, Payload) error { return nil })
}

func recipients(n int) []RecipientID {
	out := make([]RecipientID, n)
	for i := range out {
		out[i] = RecipientID(1000 + i)
	}
	return out
}

func newTestController(t *testing.T, client DeliveryClient, clk Clock, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithClock(clk)}, opts...)
	c := NewController(client, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func waitDone(t *testing.T, h *Handle) Snapshot {
	t.Helper()
	select {
	case <-h.Done():
		return h.Result()
	case <-time.After(10 * time.Second):
		t.Fatalf("job %s did not finish", h.ID())
		return Snapshot{}
	}
}

func checkInvariant(t *testing.T, s Snapshot) {
	t.Helper()
	if s.Sent+s.Failed > s.Processed || s.Processed > s.Total {
		t.Fatalf("counter invariant violated: %+v", s)
	}
}

func TestSafeModeAllDelivered(t *testing.T) {
	clk := newFakeClock()
	rep := &recordingReporter{}
	c := newTestController(t, okClient(), clk)
	c.SetPayload(tenantID, TextPayload("hello"))

	h, err := c.StartJob(tenantID, recipients(100), rep)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	final := waitDone(t, h)

	if final.State != StateCompleted || final.Sent != 100 || final.Failed != 0 || final.Processed != 100 {
		t.Fatalf("unexpected final snapshot: %+v", final)
	}
	if final.Elapsed < 99*1500*time.Millisecond {
		t.Fatalf("elapsed %s shorter than 99 delays", final.Elapsed)
	}
	if final.Throughput() <= 0 {
		t.Fatalf("throughput should be positive")
	}
	snaps := rep.all()
	if last := snaps[len(snaps)-1]; last.State != StateCompleted {
		t.Fatalf("last report should be terminal, got %s", last.State)
	}
	for _, s := range snaps {
		checkInvariant(t, s)
	}
}

func TestSequentialReportCadence(t *testing.T) {
	clk := newFakeClock()
	rep := &recordingReporter{}
	c := newTestController(t, okClient(), clk)
	c.SetPayload(tenantID, TextPayload("hello"))

	h, err := c.StartJob(tenantID, recipients(25), rep)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitDone(t, h)

	var got []int
	for _, s := range rep.all() {
		if s.State == StateRunning {
			got = append(got, s.Processed)
		}
	}
	want := []int{0, 10, 20, 25}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("running reports at %v want %v", got, want)
	}
	if clk.Afters() != 25 {
		t.Fatalf("pauses=%d want 25", clk.Afters())
	}
}

func TestUltraFastHalfRejected(t *testing.T) {
	clk := newFakeClock()
	rep := &recordingReporter{}
	client := DeliveryFunc(func(_ context.Context, to RecipientID, _ Payload) error {
		if to < 1050 {
			return fmt.Errorf("blocked: %w", ErrRecipientRejected)
		}
		return nil
	})
	c := newTestController(t, client, clk)
	c.SetPayload(tenantID, TextPayload("hello"))
	if _, err := c.SetMode(tenantID, "ultrafast"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	h, err := c.StartJob(tenantID, recipients(100), rep)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	final := waitDone(t, h)

	if final.Sent != 50 || final.Failed != 50 || final.Rejected != 50 || final.State != StateCompleted {
		t.Fatalf("unexpected final: %+v", final)
	}
	if final.Elapsed != 200*time.Millisecond {
		t.Fatalf("elapsed=%s want 2 chunk delays", final.Elapsed)
	}
	progress := 0
	for _, s := range rep.all() {
		if s.State == StateRunning && s.Processed > 0 {
			progress++
		}
	}
	if progress < 1 {
		t.Fatalf("expected at least one progress report")
	}
}

func TestBatchedReportCadence(t *testing.T) {
	clk := newFakeClock()
	rep := &recordingReporter{}
	c := newTestController(t, okClient(), clk)
	c.SetPayload(tenantID, TextPayload("hello"))
	c.SetMode(tenantID, "fast")

	h, _ := c.StartJob(tenantID, recipients(260), rep)
	waitDone(t, h)

	var got []int
	for _, s := range rep.all() {
		if s.State == StateRunning {
			got = append(got, s.Processed)
		}
	}
	want := []int{0, 100, 200, 260}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("running reports at %v want %v", got, want)
	}
}

func TestBatchedConcurrencyAndBarrier(t *testing.T) {
	const batch, total = 5, 23

	var inflight, peak, finished atomic.Int32
	var violations atomic.Int32
	client := DeliveryFunc(func(_ context.Context, to RecipientID, _ Payload) error {
		idx := int32(to - 1000)
		chunk := idx / batch
		// Every recipient of earlier chunks must be done before this one starts.
		if finished.Load() < chunk*batch {
			violations.Add(1)
		}
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inflight.Add(-1)
		finished.Add(1)
		return nil
	})

	ps := DefaultPresets()
	ps.UltraFast.BatchSize = batch
	c := newTestController(t, client, newFakeClock(), WithPresets(ps), WithDefaultMode(ModeUltraFast))
	c.SetPayload(tenantID, TextPayload("hello"))

	h, err := c.StartJob(tenantID, recipients(total), nil)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	final := waitDone(t, h)

	if final.Sent != total {
		t.Fatalf("sent=%d want %d", final.Sent, total)
	}
	if p := peak.Load(); p > batch {
		t.Fatalf("peak concurrency %d exceeds batch size %d", p, batch)
	}
	if v := violations.Load(); v != 0 {
		t.Fatalf("%d sends started before the previous chunk finished", v)
	}
}

func TestOutcomeClassification(t *testing.T) {
	client := DeliveryFunc(func(_ context.Context, to RecipientID, _ Payload) error {
		switch to % 4 {
		case 0:
			return nil
		case 1:
			return fmt.Errorf("wrapped: %w", ErrRecipientRejected)
		case 2:
			return errors.New("something unexpected")
		default:
			panic("client bug")
		}
	})
	c := newTestController(t, client, newFakeClock())
	c.SetPayload(tenantID, TextPayload("hello"))

	h, _ := c.StartJob(tenantID, recipients(8), nil)
	final := waitDone(t, h)

	if final.Processed != 8 || final.Sent != 2 || final.Failed != 6 || final.Rejected != 2 {
		t.Fatalf("unexpected final: %+v", final)
	}
	if final.State != StateCompleted {
		t.Fatalf("job must complete despite client failures: %s", final.State)
	}
}

func TestStartJobValidation(t *testing.T) {
	c := newTestController(t, okClient(), newFakeClock())

	if _, err := c.StartJob(tenantID, recipients(3), nil); !errors.Is(err, ErrNoPayload) || !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrNoPayload, got %v", err)
	}
	c.SetPayload(tenantID, TextPayload("hello"))
	if _, err := c.StartJob(tenantID, nil, nil); !errors.Is(err, ErrEmptyRecipientSet) {
		t.Fatalf("expected ErrEmptyRecipientSet, got %v", err)
	}
	if st := c.Status(tenantID, 0); st.Running {
		t.Fatalf("no job should have been created")
	}
}

func TestAlreadyRunning(t *testing.T) {
	release := make(chan struct{})
	client := DeliveryFunc(func(ctx context.Context, _ RecipientID, _ Payload) error {
		<-release
		return nil
	})
	c := newTestController(t, client, newFakeClock())
	c.SetPayload(tenantID, TextPayload("hello"))

	h, err := c.StartJob(tenantID, recipients(2), nil)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	_, err = c.StartJob(tenantID, recipients(2), nil)
	if !errors.Is(err, ErrAlreadyRunning) || !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	// Other tenants are independent.
	c.SetPayload(tenantID+1, TextPayload("other"))
	h2, err := c.StartJob(tenantID+1, recipients(1), nil)
	if err != nil {
		t.Fatalf("other tenant StartJob: %v", err)
	}
	close(release)

	if final := waitDone(t, h); final.Sent != 2 {
		t.Fatalf("first job sent=%d want 2", final.Sent)
	}
	waitDone(t, h2)

	if _, err := c.StartJob(tenantID, recipients(1), nil); err != nil {
		t.Fatalf("tenant should be free again: %v", err)
	}
}

func TestSetModeInvalidKeepsPolicy(t *testing.T) {
	c := newTestController(t, okClient(), newFakeClock())
	if _, err := c.SetMode(tenantID, "ultrafast"); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if _, err := c.SetMode(tenantID, "warp"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
	if got := c.Policy(tenantID).Mode; got != ModeUltraFast {
		t.Fatalf("policy changed to %s", got)
	}
}

func TestStopSequentialAfterK(t *testing.T) {
	const k = 7
	clk := newFakeClock()
	rep := &recordingReporter{}
	c := newTestController(t, okClient(), clk)
	c.SetPayload(tenantID, TextPayload("hello"))

	var stopSnap Snapshot
	var stopErr error
	clk.onAfter = func(n int) {
		if n == k {
			stopSnap, stopErr = c.StopJob(tenantID)
		}
	}

	h, err := c.StartJob(tenantID, recipients(50), rep)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	final := waitDone(t, h)

	if stopErr != nil {
		t.Fatalf("StopJob: %v", stopErr)
	}
	if stopSnap.Processed != k {
		t.Fatalf("stop snapshot processed=%d want %d", stopSnap.Processed, k)
	}
	if final.State != StateCancelled || final.Sent+final.Failed != k || final.Processed != k {
		t.Fatalf("unexpected final: %+v", final)
	}
	snaps := rep.all()
	if snaps[len(snaps)-1].State != StateCancelled {
		t.Fatalf("last report should be the cancelled snapshot")
	}
	if _, err := c.StopJob(tenantID); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestStopBatchedAtChunkBoundary(t *testing.T) {
	clk := newFakeClock()
	ps := DefaultPresets()
	ps.UltraFast.BatchSize = 10
	c := newTestController(t, okClient(), clk, WithPresets(ps), WithDefaultMode(ModeUltraFast))
	c.SetPayload(tenantID, TextPayload("hello"))
	clk.onAfter = func(n int) {
		if n == 2 {
			_, _ = c.StopJob(tenantID)
		}
	}

	h, _ := c.StartJob(tenantID, recipients(35), nil)
	final := waitDone(t, h)
	if final.State != StateCancelled || final.Processed != 20 || final.Sent != 20 {
		t.Fatalf("unexpected final: %+v", final)
	}
}

func TestStopWhenIdle(t *testing.T) {
	c := newTestController(t, okClient(), newFakeClock())
	if _, err := c.StopJob(tenantID); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestReporterFailuresAreIgnored(t *testing.T) {
	for _, rep := range []*recordingReporter{
		{err: errors.New("message deleted")},
		{panic: true},
	} {
		c := newTestController(t, okClient(), newFakeClock())
		c.SetPayload(tenantID, TextPayload("hello"))
		h, _ := c.StartJob(tenantID, recipients(30), rep)
		final := waitDone(t, h)
		if final.State != StateCompleted || final.Sent != 30 {
			t.Fatalf("reporter failure affected the job: %+v", final)
		}
		if len(rep.all()) == 0 {
			t.Fatalf("reporter was never called")
		}
	}
}

func TestStatusIdleView(t *testing.T) {
	c := newTestController(t, okClient(), newFakeClock())
	c.SetPayload(tenantID, TextPayload("hello"))
	c.SetMode(tenantID, "fast")

	st := c.Status(tenantID, 120)
	if st.Running {
		t.Fatalf("should be idle")
	}
	if st.PayloadKind != KindText || st.PayloadLen != 5 {
		t.Fatalf("unexpected payload info: %+v", st)
	}
	if st.Policy.Mode != ModeUltraFast || st.Estimated != 300*time.Millisecond {
		t.Fatalf("unexpected estimate: %+v", st)
	}
	if st.Last != nil {
		t.Fatalf("no job has run yet")
	}
}

func TestStatusWhileRunningKeepsInvariant(t *testing.T) {
	ps := DefaultPresets()
	ps.UltraFast.BatchSize = 3
	ps.UltraFast.Delay = 0
	client := DeliveryFunc(func(_ context.Context, to RecipientID, _ Payload) error {
		time.Sleep(100 * time.Microsecond)
		if to%5 == 0 {
			return errors.New("flaky")
		}
		return nil
	})
	c := newTestController(t, client, newFakeClock(), WithPresets(ps), WithDefaultMode(ModeUltraFast))
	c.SetPayload(tenantID, TextPayload("hello"))

	h, _ := c.StartJob(tenantID, recipients(300), nil)
	for {
		select {
		case <-h.Done():
			st := c.Status(tenantID, 0)
			if st.Running || st.Last == nil || st.Last.Processed != 300 {
				t.Fatalf("unexpected status after finish: %+v", st)
			}
			if st.Totals.Jobs != 1 || st.Totals.Sent+st.Totals.Failed != 300 {
				t.Fatalf("unexpected totals: %+v", st.Totals)
			}
			return
		default:
		}
		if st := c.Status(tenantID, 0); st.Running {
			checkInvariant(t, st.Progress)
		}
	}
}

func TestPayloadChangeDoesNotAffectRunningJob(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	release := make(chan struct{})
	var once sync.Once
	client := DeliveryFunc(func(_ context.Context, _ RecipientID, p Payload) error {
		once.Do(func() { <-release })
		mu.Lock()
		seen[p.Text]++
		mu.Unlock()
		return nil
	})
	c := newTestController(t, client, newFakeClock())
	c.SetPayload(tenantID, TextPayload("v1"))
	h, _ := c.StartJob(tenantID, recipients(5), nil)
	c.SetPayload(tenantID, TextPayload("v2"))
	close(release)
	waitDone(t, h)

	if seen["v1"] != 5 || seen["v2"] != 0 {
		t.Fatalf("running job saw the new payload: %v", seen)
	}
	if got := c.Payload(tenantID).Text; got != "v2" {
		t.Fatalf("stored payload=%q want v2", got)
	}
}

func TestJournalAndEvents(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe("dispatch.", 64)
	defer unsub()
	j := &memJournal{}

	c := newTestController(t, okClient(), newFakeClock(), WithBus(bus), WithJournal(j), WithIDGenerator(func() string { return "job-1" }))
	c.SetPayload(tenantID, Payload{Embed: &Embed{Title: "hi"}})
	h, _ := c.StartJob(tenantID, recipients(3), nil)
	final := waitDone(t, h)

	j.mu.Lock()
	entries := append([]journalEntry(nil), j.entries...)
	j.mu.Unlock()
	if len(entries) != 1 || entries[0].snap.JobID != "job-1" || entries[0].kind != KindEmbed || entries[0].snap.Sent != final.Sent {
		t.Fatalf("unexpected journal entries: %+v", entries)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if len(types) < 2 || types[0] != EventStarted || types[len(types)-1] != EventFinished {
		t.Fatalf("unexpected event sequence: %v", types)
	}
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	ps := DefaultPresets()
	ps.Safe.Delay = time.Hour
	sent := make(chan struct{}, 10)
	client := DeliveryFunc(func(context.Context, RecipientID, Payload) error {
		sent <- struct{}{}
		return nil
	})
	c := NewController(client, WithPresets(ps))
	c.SetPayload(tenantID, TextPayload("hello"))
	h, err := c.StartJob(tenantID, recipients(5), nil)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	<-sent

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	final := waitDone(t, h)
	if final.State != StateCancelled || final.Processed != 1 {
		t.Fatalf("unexpected final: %+v", final)
	}
	if _, err := c.StartJob(tenantID, recipients(1), nil); !errors.Is(err, ErrControllerShutdown) {
		t.Fatalf("expected ErrControllerShutdown, got %v", err)
	}
}

func TestRateLimitCapsThroughput(t *testing.T) {
	ps := DefaultPresets()
	ps.UltraFast.Delay = 0
	c := newTestController(t, okClient(), newFakeClock(), WithPresets(ps), WithDefaultMode(ModeUltraFast), WithRateLimit(100))
	c.SetPayload(tenantID, TextPayload("hello"))

	start := time.Now()
	h, _ := c.StartJob(tenantID, recipients(150), nil)
	final := waitDone(t, h)
	if final.Sent != 150 {
		t.Fatalf("sent=%d", final.Sent)
	}
	// Burst of 100, then 50 more at 100/s.
	if el := time.Since(start); el < 400*time.Millisecond {
		t.Fatalf("rate limit not applied, finished in %s", el)
	}
}

func countingClient(n *atomic.Int64) DeliveryClient {
	return DeliveryFunc(func(context.Context, RecipientID, Payload) error {
		n.Add(1)
		return nil
	})
}

func waitContacted(t *testing.T, n *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for n.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("contacted=%d, want %d", n.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopDuringRateLimitWaitSequential(t *testing.T) {
	var contacted atomic.Int64
	ps := DefaultPresets()
	ps.Safe.Delay = 0
	c := newTestController(t, countingClient(&contacted), newFakeClock(), WithPresets(ps), WithRateLimit(1))
	c.SetPayload(tenantID, TextPayload("hello"))

	h, err := c.StartJob(tenantID, recipients(10), nil)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitContacted(t, &contacted, 1)
	// The second recipient is now waiting for a token.
	time.Sleep(100 * time.Millisecond)

	stopAt := time.Now()
	snap, err := c.StopJob(tenantID)
	if err != nil {
		t.Fatalf("StopJob: %v", err)
	}
	final := waitDone(t, h)
	if el := time.Since(stopAt); el > 700*time.Millisecond {
		t.Fatalf("stop did not interrupt the limiter wait (took %s)", el)
	}

	if snap.Processed != 1 {
		t.Fatalf("stop snapshot processed=%d want 1", snap.Processed)
	}
	if final.State != StateCancelled || final.Processed != 1 || final.Sent != 1 {
		t.Fatalf("unexpected final: %+v", final)
	}
	if got := contacted.Load(); got != 1 {
		t.Fatalf("recipients contacted after stop: contacted=%d", got)
	}
}

func TestStopDuringRateLimitWaitBatched(t *testing.T) {
	var contacted atomic.Int64
	ps := DefaultPresets()
	ps.UltraFast.Delay = 0
	c := newTestController(t, countingClient(&contacted), newFakeClock(),
		WithPresets(ps), WithDefaultMode(ModeUltraFast), WithRateLimit(5))
	c.SetPayload(tenantID, TextPayload("hello"))

	h, err := c.StartJob(tenantID, recipients(40), nil)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	// Burst of 5, then the rest of the chunk queues on the limiter.
	waitContacted(t, &contacted, 5)
	if _, err := c.StopJob(tenantID); err != nil {
		t.Fatalf("StopJob: %v", err)
	}
	final := waitDone(t, h)
	checkInvariant(t, final)

	if final.State != StateCancelled {
		t.Fatalf("state=%s want cancelled", final.State)
	}
	if got := contacted.Load(); int64(final.Processed) != got {
		t.Fatalf("processed=%d but contacted=%d", final.Processed, got)
	}
	if final.Processed >= 40 {
		t.Fatalf("stop ignored: processed=%d", final.Processed)
	}
}
