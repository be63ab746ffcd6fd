package dispatch

import (
	"context"
	"sync"

	logx "massdm/pkg/logx"
)

func (c *Controller) run(ctx context.Context, j *job) Snapshot {
	c.report(ctx, j, j.snapshot(c.clock.Now(), StateRunning))

	var state State
	if j.policy.Sequential() {
		state = c.runSequential(ctx, j)
	} else {
		state = c.runBatched(ctx, j)
	}

	final := j.snapshot(c.clock.Now(), state)
	c.report(ctx, j, final)
	return final
}

func (c *Controller) runSequential(ctx context.Context, j *job) State {
	total := len(j.recipients)
	for _, r := range j.recipients {
		if j.cancelled() || ctx.Err() != nil {
			return StateCancelled
		}
		out, ok := c.attempt(ctx, j, r)
		if !ok {
			return StateCancelled
		}
		_, processed := j.record(out)
		if processed%sequentialReportEvery == 0 || processed == total {
			c.report(ctx, j, j.snapshot(c.clock.Now(), StateRunning))
		}
		c.pause(ctx, j)
	}
	return StateCompleted
}

func (c *Controller) runBatched(ctx context.Context, j *job) State {
	total := len(j.recipients)
	size := j.policy.BatchSize
	outcomes := make([]Outcome, size)
	attempted := make([]bool, size)

	for start := 0; start < total; start += size {
		if j.cancelled() || ctx.Err() != nil {
			return StateCancelled
		}
		chunk := j.recipients[start:min(start+size, total)]
		began := c.clock.Now()

		var wg sync.WaitGroup
		for i, r := range chunk {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes[i], attempted[i] = c.attempt(ctx, j, r)
			}()
		}
		wg.Wait()

		done := make([]Outcome, 0, len(chunk))
		for i := range chunk {
			if attempted[i] {
				done = append(done, outcomes[i])
			}
		}
		before, after := j.record(done...)
		c.metrics.ChunkCompleted(len(done), c.clock.Now().Sub(began))
		if before/batchedReportEvery != after/batchedReportEvery || after == total {
			c.report(ctx, j, j.snapshot(c.clock.Now(), StateRunning))
		}
		if len(done) < len(chunk) {
			return StateCancelled
		}
		c.pause(ctx, j)
	}
	return StateCompleted
}

// attempt performs one delivery and never fails the job. ok is false when
// the job was stopped before the recipient was contacted; the recipient is
// then not processed.
func (c *Controller) attempt(ctx context.Context, j *job, to RecipientID) (out Outcome, ok bool) {
	if !c.admit(ctx, j) {
		return TransientFailure, false
	}
	ok = true
	defer func() {
		if p := recover(); p != nil {
			c.log.Warn("delivery panicked",
				logx.String("job", j.id),
				logx.Int64("recipient", int64(to)),
				logx.Any("panic", p),
			)
			out = TransientFailure
		}
		c.metrics.DeliveryOutcome(string(j.policy.Mode), out.String())
	}()

	sctx := ctx
	if c.sendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, c.sendTimeout)
		defer cancel()
	}

	err := c.client.Send(sctx, to, j.payload)
	out = Classify(err)
	if err != nil {
		c.log.Debug("delivery failed",
			logx.String("job", j.id),
			logx.Int64("recipient", int64(to)),
			logx.String("outcome", out.String()),
			logx.Err(err),
		)
	}
	return out, true
}

// admit takes a token from the global limiter. The wait ends early on stop
// or shutdown, and admit then reports false.
func (c *Controller) admit(ctx context.Context, j *job) bool {
	lim := c.limiter()
	if lim == nil {
		return true
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-j.cancelCh:
			cancel()
		case <-wctx.Done():
		}
	}()
	if err := lim.Wait(wctx); err != nil {
		return false
	}
	return !j.cancelled()
}

// pause waits the policy delay. A stop request or shutdown wakes it early.
func (c *Controller) pause(ctx context.Context, j *job) {
	if j.policy.Delay <= 0 {
		return
	}
	select {
	case <-c.clock.After(j.policy.Delay):
	case <-j.cancelCh:
	case <-ctx.Done():
	}
}
