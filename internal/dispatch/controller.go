package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"massdm/internal/eventbus"
	"massdm/internal/metrics"
	"massdm/internal/runtime/supervisor"
	logx "massdm/pkg/logx"
)

// Journal persists terminal job snapshots. Failures are logged only.
type Journal interface {
	RecordJob(ctx context.Context, s Snapshot, kind PayloadKind) error
}

// Totals accumulates finished jobs for one tenant since process start.
type Totals struct {
	Jobs   int `json:"jobs"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Status is the controller's view of one tenant.
type Status struct {
	Tenant  int64 `json:"tenant"`
	Running bool  `json:"running"`
	// Progress is valid when Running.
	Progress Snapshot `json:"progress"`

	PayloadKind PayloadKind   `json:"payload_kind"`
	PayloadLen  int           `json:"payload_len"`
	Policy      Policy        `json:"policy"`
	Recipients  int           `json:"recipients"`
	Estimated   time.Duration `json:"estimated"`

	Last   *Snapshot `json:"last,omitempty"`
	Totals Totals    `json:"totals"`
}

type tenantState struct {
	payload Payload
	mode    Mode
	active  *job
	last    *Snapshot
	totals  Totals
}

// Controller owns the per-tenant dispatch state. All methods are safe for
// concurrent use; only StartJob launches work.
type Controller struct {
	mu       sync.Mutex
	tenants  map[int64]*tenantState
	presets  Presets
	defMode  Mode
	lim      *rate.Limiter
	shutdown bool

	client      DeliveryClient
	sendTimeout time.Duration
	clock       Clock
	newID       func() string
	log         logx.Logger
	bus         eventbus.Bus
	metrics     metrics.Sink
	journal     Journal
	sup         *supervisor.Supervisor
}

type Option func(*Controller)

func WithLogger(log logx.Logger) Option { return func(c *Controller) { c.log = log } }
func WithBus(b eventbus.Bus) Option     { return func(c *Controller) { c.bus = b } }
func WithMetrics(m metrics.Sink) Option { return func(c *Controller) { c.metrics = m } }
func WithJournal(j Journal) Option      { return func(c *Controller) { c.journal = j } }
func WithClock(clk Clock) Option        { return func(c *Controller) { c.clock = clk } }
func WithPresets(p Presets) Option      { return func(c *Controller) { c.presets = p } }
func WithDefaultMode(m Mode) Option     { return func(c *Controller) { c.defMode = m } }

// WithSendTimeout bounds each DeliveryClient.Send call; 0 disables it.
func WithSendTimeout(d time.Duration) Option { return func(c *Controller) { c.sendTimeout = d } }

// WithRateLimit caps sends per second across all tenants; <= 0 disables it.
func WithRateLimit(perSec float64) Option {
	return func(c *Controller) { c.lim = newLimiter(perSec) }
}

func WithIDGenerator(fn func() string) Option { return func(c *Controller) { c.newID = fn } }

func NewController(client DeliveryClient, opts ...Option) *Controller {
	c := &Controller{
		tenants: map[int64]*tenantState{},
		presets: DefaultPresets(),
		defMode: ModeSafe,
		client:  client,
		clock:   realClock{},
		newID:   uuid.NewString,
		bus:     eventbus.New(),
		metrics: metrics.NewNoopSink(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(logx.String("comp", "dispatch"))
	c.sup = supervisor.New(context.Background(), supervisor.WithLogger(c.log))
	return c
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec)))
}

func (c *Controller) limiter() *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lim
}

func (c *Controller) tenantLocked(id int64) *tenantState {
	t := c.tenants[id]
	if t == nil {
		t = &tenantState{mode: c.defMode}
		c.tenants[id] = t
	}
	return t
}

// SetPayload replaces the tenant's payload. A running job keeps its copy.
func (c *Controller) SetPayload(tenant int64, p Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenantLocked(tenant).payload = p
}

func (c *Controller) Payload(tenant int64) Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t := c.tenants[tenant]; t != nil {
		return t.payload
	}
	return Payload{}
}

// SetMode selects the tenant's policy for future jobs. An unknown name
// returns ErrInvalidMode and leaves the previous policy in place.
func (c *Controller) SetMode(tenant int64, name string) (Policy, error) {
	m, err := ParseMode(name)
	if err != nil {
		return Policy{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenantLocked(tenant).mode = m
	return c.presets.Policy(m), nil
}

func (c *Controller) Policy(tenant int64) Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t := c.tenants[tenant]; t != nil {
		return c.presets.Policy(t.mode)
	}
	return c.presets.Policy(c.defMode)
}

func (c *Controller) Presets() Presets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presets
}

// Reconfigure applies reloadable settings. Running jobs keep the policy
// they started with.
func (c *Controller) Reconfigure(p Presets, ratePerSec float64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presets = p
	c.lim = newLimiter(ratePerSec)
	return nil
}

// StartJob validates and launches a job, returning immediately.
func (c *Controller) StartJob(tenant int64, recipients []RecipientID, r Reporter) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return nil, ErrControllerShutdown
	}
	t := c.tenantLocked(tenant)
	if t.active != nil {
		return nil, ErrAlreadyRunning
	}
	if t.payload.Empty() {
		return nil, ErrNoPayload
	}
	if len(recipients) == 0 {
		return nil, ErrEmptyRecipientSet
	}

	pol := c.presets.Policy(t.mode)
	j := newJob(c.newID(), tenant, recipients, t.payload, pol, r, c.clock.Now())
	t.active = j

	c.metrics.JobStarted(string(pol.Mode))
	c.log.Info("dispatch job started",
		logx.String("job", j.id),
		logx.Int64("tenant", tenant),
		logx.String("mode", string(pol.Mode)),
		logx.Int("recipients", len(j.recipients)),
		logx.Duration("estimate", EstimatedDuration(len(j.recipients), pol)),
	)

	c.sup.Go("dispatch.job", func(ctx context.Context) error {
		final := c.run(ctx, j)
		c.finish(ctx, j, final)
		return nil
	})
	return &Handle{j: j}, nil
}

func (c *Controller) finish(ctx context.Context, j *job, final Snapshot) {
	c.mu.Lock()
	t := c.tenantLocked(j.tenant)
	if t.active == j {
		t.active = nil
	}
	t.last = &final
	t.totals.Jobs++
	t.totals.Sent += final.Sent
	t.totals.Failed += final.Failed
	c.mu.Unlock()

	c.metrics.JobFinished(string(final.Policy.Mode), string(final.State), final.Elapsed)

	fields := []logx.Field{
		logx.String("job", j.id),
		logx.Int64("tenant", j.tenant),
		logx.String("state", string(final.State)),
		logx.Int("total", final.Total),
		logx.Int("sent", final.Sent),
		logx.Int("failed", final.Failed),
		logx.Duration("dur", final.Elapsed),
	}
	if final.Failed > 0 {
		c.log.Warn("dispatch job finished with failures", fields...)
	} else {
		c.log.Info("dispatch job finished", fields...)
	}

	if c.journal != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		if err := c.journal.RecordJob(jctx, final, j.payload.Kind()); err != nil {
			c.log.Warn("journal job failed", logx.String("job", j.id), logx.Err(err))
		}
		cancel()
	}

	j.final = final
	close(j.done)
}

// StopJob requests cancellation and returns the counters at request time.
// The job observes the request at its next step boundary.
func (c *Controller) StopJob(tenant int64) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.tenants[tenant]
	if t == nil || t.active == nil {
		return Snapshot{}, ErrNotRunning
	}
	t.active.requestCancel()
	snap := t.active.snapshot(c.clock.Now(), StateRunning)
	c.log.Info("dispatch job stop requested",
		logx.String("job", snap.JobID),
		logx.Int64("tenant", tenant),
		logx.Int("processed", snap.Processed),
	)
	return snap, nil
}

// Status reports the running job, or the idle setup view estimated for
// recipientCount recipients.
func (c *Controller) Status(tenant int64, recipientCount int) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.tenants[tenant]
	if t == nil {
		t = &tenantState{mode: c.defMode}
	}
	pol := c.presets.Policy(t.mode)
	st := Status{
		Tenant:      tenant,
		PayloadKind: t.payload.Kind(),
		PayloadLen:  t.payload.Len(),
		Policy:      pol,
		Recipients:  recipientCount,
		Estimated:   EstimatedDuration(recipientCount, pol),
		Totals:      t.totals,
	}
	if t.last != nil {
		last := *t.last
		st.Last = &last
	}
	if t.active != nil {
		st.Running = true
		st.Progress = t.active.snapshot(c.clock.Now(), StateRunning)
	}
	return st
}

// Active lists tenants with a running job.
func (c *Controller) Active() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.tenants))
	for id, t := range c.tenants {
		if t.active != nil {
			out = append(out, id)
		}
	}
	return out
}

// Shutdown refuses new jobs, asks running jobs to stop and waits for them.
// If ctx expires first, in-flight sends are cancelled.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shutdown = true
	for _, t := range c.tenants {
		if t.active != nil {
			t.active.requestCancel()
		}
	}
	c.mu.Unlock()

	err := c.sup.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		c.sup.Cancel()
	}
	return err
}
