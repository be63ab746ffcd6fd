package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) JobStarted(mode string)                                 {}
func (NoopSink) JobFinished(mode, state string, duration time.Duration) {}
func (NoopSink) DeliveryOutcome(mode, outcome string)                   {}
func (NoopSink) ChunkCompleted(size int, duration time.Duration)        {}
func (NoopSink) ReportFailed()                                          {}
