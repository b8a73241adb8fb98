package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestrator collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobsTotal      *prometheus.CounterVec
	JobsInFlight   *prometheus.GaugeVec
	PolicyRetries  *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	TaskPollsTotal *prometheus.CounterVec
}

// NewMetrics registers the collectors against reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "narrasync",
			Subsystem: "orchestrator",
			Name:      "jobs_total",
			Help:      "Jobs reaching a terminal state, labelled by backend and outcome.",
		}, []string{"backend", "outcome"}),

		JobsInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "narrasync",
			Subsystem: "orchestrator",
			Name:      "jobs_inflight",
			Help:      "Jobs currently admitted by the worker pool.",
		}, []string{"backend"}),

		PolicyRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "narrasync",
			Subsystem: "orchestrator",
			Name:      "policy_retries_total",
			Help:      "Resubmissions after a content-policy rejection.",
		}, []string{"backend"}),

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "narrasync",
			Subsystem: "orchestrator",
			Name:      "job_duration_seconds",
			Help:      "Time from admission by the worker pool to terminal state, excluding queue time.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"backend"}),

		TaskPollsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "narrasync",
			Subsystem: "task",
			Name:      "polls_total",
			Help:      "Status queries issued by two-phase task state machines.",
		}, []string{"backend", "phase"}),
	}
}

// JobFinished counts a terminal job. took is measured from admission; a job
// that was never admitted passes zero and is counted without an observation.
func (m *Metrics) JobFinished(backend, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(backend, outcome).Inc()
	if took > 0 {
		m.JobDuration.WithLabelValues(backend).Observe(took.Seconds())
	}
}

func (m *Metrics) Admitted(backend string) {
	if m == nil {
		return
	}
	m.JobsInFlight.WithLabelValues(backend).Inc()
}

func (m *Metrics) Released(backend string) {
	if m == nil {
		return
	}
	m.JobsInFlight.WithLabelValues(backend).Dec()
}

func (m *Metrics) PolicyRetry(backend string) {
	if m == nil {
		return
	}
	m.PolicyRetries.WithLabelValues(backend).Inc()
}

func (m *Metrics) Polled(backend, phase string) {
	if m == nil {
		return
	}
	m.TaskPollsTotal.WithLabelValues(backend, phase).Inc()
}
