package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"massdm/internal/dispatch"
	"massdm/internal/storage"
	logx "massdm/pkg/logx"
)

const housekeepingTimeout = 30 * time.Second

// housekeeper runs periodic maintenance on a cron schedule: journal
// retention, command menu refresh and a summary log line.
type housekeeper struct {
	log    logx.Logger
	store  storage.Store // may be nil
	ctrl   *dispatch.Controller
	menu   func(ctx context.Context) error // may be nil
	now    func() time.Time
	parser cron.Parser

	mu        sync.Mutex
	c         *cron.Cron
	ctx       context.Context
	retention time.Duration
	runs      uint64
}

func newHousekeeper(log logx.Logger, store storage.Store, ctrl *dispatch.Controller, menu func(context.Context) error, retention time.Duration) *housekeeper {
	return &housekeeper{
		log:       log.With(logx.String("comp", "housekeeping")),
		store:     store,
		ctrl:      ctrl,
		menu:      menu,
		now:       time.Now,
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		retention: retention,
	}
}

// Start schedules the maintenance job. Calling it again replaces the schedule.
func (h *housekeeper) Start(ctx context.Context, spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return errors.New("housekeeping: empty schedule")
	}
	sched, err := h.parser.Parse(spec)
	if err != nil {
		return err
	}
	h.Stop(ctx)

	c := cron.New(cron.WithParser(h.parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		h.mu.Lock()
		base := h.ctx
		h.mu.Unlock()
		if base == nil || base.Err() != nil {
			return
		}
		rctx, cancel := context.WithTimeout(base, housekeepingTimeout)
		defer cancel()
		h.RunOnce(rctx)
	}))

	h.mu.Lock()
	h.c = c
	h.ctx = ctx
	h.mu.Unlock()
	c.Start()
	h.log.Info("housekeeping scheduled", logx.String("schedule", spec), logx.Duration("job_retention", h.retention))
	return nil
}

// Stop halts the schedule and waits for a running pass, bounded by ctx.
func (h *housekeeper) Stop(ctx context.Context) {
	h.mu.Lock()
	c := h.c
	h.c = nil
	h.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (h *housekeeper) SetRetention(d time.Duration) {
	h.mu.Lock()
	h.retention = d
	h.mu.Unlock()
}

// RunOnce performs a single maintenance pass. Step failures are logged.
func (h *housekeeper) RunOnce(ctx context.Context) {
	h.mu.Lock()
	retention := h.retention
	h.runs++
	run := h.runs
	h.mu.Unlock()

	pruned := 0
	if h.store != nil && retention > 0 {
		n, err := h.store.PruneJobs(ctx, h.now().Add(-retention))
		if err != nil {
			h.log.Warn("job journal prune failed", logx.Err(err))
		}
		pruned = n
	}
	if h.menu != nil {
		if err := h.menu(ctx); err != nil {
			h.log.Warn("command menu refresh failed", logx.Err(err))
		}
	}
	fields := []logx.Field{
		logx.Uint64("run", run),
		logx.Int("jobs_pruned", pruned),
		logx.Int("jobs_active", len(h.ctrl.Active())),
	}
	if pruned > 0 {
		h.log.Info("housekeeping pass", fields...)
	} else {
		h.log.Debug("housekeeping pass", fields...)
	}
}
