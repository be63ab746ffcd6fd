package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "massdm/pkg/logx"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log logx.Logger

	jobsStarted   *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsActive    prometheus.Gauge
	deliveries    *prometheus.CounterVec
	chunkSize     prometheus.Histogram
	chunkDuration prometheus.Histogram
	reportsFailed prometheus.Counter
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log.With(logx.String("comp", "metrics"))}

	s.jobsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "massdm_dispatch_jobs_started_total",
		Help: "Total number of dispatch jobs started.",
	}, []string{"mode"})
	s.jobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "massdm_dispatch_jobs_finished_total",
		Help: "Total number of dispatch jobs that reached a terminal state.",
	}, []string{"mode", "state"})
	s.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "massdm_dispatch_job_duration_seconds",
		Help:    "Wall time of dispatch jobs in seconds.",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"mode"})
	s.jobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "massdm_dispatch_jobs_active",
		Help: "Number of dispatch jobs currently running.",
	})
	s.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "massdm_dispatch_deliveries_total",
		Help: "Total number of per-recipient delivery outcomes.",
	}, []string{"mode", "outcome"})
	s.chunkSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "massdm_dispatch_chunk_size",
		Help:    "Recipients per concurrently sent chunk.",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	})
	s.chunkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "massdm_dispatch_chunk_duration_seconds",
		Help:    "Time from chunk launch to barrier release in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	s.reportsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "massdm_dispatch_progress_reports_failed_total",
		Help: "Total number of progress reports that failed to render.",
	})

	s.register(reg, s.jobsStarted, "massdm_dispatch_jobs_started_total")
	s.register(reg, s.jobsFinished, "massdm_dispatch_jobs_finished_total")
	s.register(reg, s.jobDuration, "massdm_dispatch_job_duration_seconds")
	s.register(reg, s.jobsActive, "massdm_dispatch_jobs_active")
	s.register(reg, s.deliveries, "massdm_dispatch_deliveries_total")
	s.register(reg, s.chunkSize, "massdm_dispatch_chunk_size")
	s.register(reg, s.chunkDuration, "massdm_dispatch_chunk_duration_seconds")
	s.register(reg, s.reportsFailed, "massdm_dispatch_progress_reports_failed_total")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn("failed to register collector", logx.String("name", name), logx.Err(err))
	}
}

func (s *PrometheusSink) JobStarted(mode string) {
	s.jobsStarted.WithLabelValues(mode).Inc()
	s.jobsActive.Inc()
}

func (s *PrometheusSink) JobFinished(mode, state string, duration time.Duration) {
	s.jobsFinished.WithLabelValues(mode, state).Inc()
	s.jobDuration.WithLabelValues(mode).Observe(duration.Seconds())
	s.jobsActive.Dec()
}

func (s *PrometheusSink) DeliveryOutcome(mode, outcome string) {
	s.deliveries.WithLabelValues(mode, outcome).Inc()
}

func (s *PrometheusSink) ChunkCompleted(size int, duration time.Duration) {
	s.chunkSize.Observe(float64(size))
	s.chunkDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ReportFailed() { s.reportsFailed.Inc() }
