package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crate_validator_jobs_enqueued_total",
		Help: "Validation jobs accepted by the queue.",
	}, []string{"kind"})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crate_validator_jobs_finished_total",
		Help: "Validation job runs by outcome.",
	}, []string{"kind", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crate_validator_job_duration_seconds",
		Help:    "Time spent running validation tasks.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"kind"})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crate_validator_jobs_in_flight",
		Help: "Validation tasks currently running in this process.",
	})
)

// ObserveEnqueued counts an accepted job.
func ObserveEnqueued(kind JobKind) {
	jobsEnqueued.WithLabelValues(string(kind)).Inc()
}
