package dispatch

import (
	"context"
	"fmt"
	"time"

	"massdm/internal/eventbus"
	logx "massdm/pkg/logx"
)

// Reporter renders snapshots somewhere visible. It is called at job start,
// on the progress cadence and once with the terminal snapshot. Errors and
// panics are logged and otherwise ignored.
type Reporter interface {
	Report(ctx context.Context, s Snapshot) error
}

type ReporterFunc func(ctx context.Context, s Snapshot) error

func (f ReporterFunc) Report(ctx context.Context, s Snapshot) error { return f(ctx, s) }

const (
	// Progress cadence in processed recipients.
	sequentialReportEvery = 10
	batchedReportEvery    = 100

	reportTimeout = 10 * time.Second
)

const (
	EventStarted  = "dispatch.started"
	EventProgress = "dispatch.progress"
	EventFinished = "dispatch.finished"
)

func (c *Controller) report(ctx context.Context, j *job, s Snapshot) {
	typ := EventProgress
	switch {
	case s.Terminal():
		typ = EventFinished
	case s.Processed == 0:
		typ = EventStarted
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: s})

	if j.reporter == nil {
		return
	}
	// The terminal report must still go out after a shutdown cancelled ctx.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	if err := safeReport(rctx, j.reporter, s); err != nil {
		c.metrics.ReportFailed()
		c.log.Debug("progress report failed",
			logx.String("job", j.id),
			logx.Int("processed", s.Processed),
			logx.Err(err),
		)
	}
}

func safeReport(ctx context.Context, r Reporter, s Snapshot) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reporter panic: %v", p)
		}
	}()
	return r.Report(ctx, s)
}
