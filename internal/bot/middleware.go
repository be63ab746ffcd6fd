package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "massdm/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// slowRequest promotes the per-request log line from debug to info.
const slowRequest = 750 * time.Millisecond

// serve runs h for req under timeout. A panic in h becomes an error, and
// every request ends with one log line.
func (b *Bot) serve(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) {
	log := req.Logger
	if log.IsZero() {
		log = b.log
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return h(ctx, req)
	}()
	took := time.Since(start)

	fields := []logx.Field{
		logx.String("kind", string(req.Update.Kind)),
		logx.Int("thread_id", req.Chat.ThreadID),
		logx.Duration("dur", took),
	}
	switch {
	case err != nil:
		log.Warn("request failed", append(fields, logx.Err(err))...)
	case took >= slowRequest:
		log.Info("request ok", fields...)
	default:
		log.Debug("request ok", fields...)
	}
}
