package metrics

import "time"

// Sink records dispatch metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	JobStarted(mode string)
	JobFinished(mode, state string, duration time.Duration)
	DeliveryOutcome(mode, outcome string)
	ChunkCompleted(size int, duration time.Duration)
	ReportFailed()
}
