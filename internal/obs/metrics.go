// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_enqueued_total",
		Help: "Total number of jobs enqueued, by queue and status (queued/deferred)",
	}, []string{"queue", "status"})
	JobsDequeued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_dequeued_total",
		Help: "Total number of jobs dequeued by workers, by queue",
	}, []string{"queue"})
	JobsReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_released_total",
		Help: "Total number of deferred jobs released onto their origin queue",
	})
	JobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_finished_total",
		Help: "Total number of jobs finished successfully, by queue",
	}, []string{"queue"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of jobs that ended in the failure queue, by queue",
	}, []string{"queue"})
	JobsRequeued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_requeued_total",
		Help: "Total number of failed jobs returned to their origin queue",
	}, []string{"queue"})
	JobsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "Total number of in-process job retries before exhaustion",
	})
	JobProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "job_processing_duration_seconds",
		Help:    "Histogram of job processing durations",
		Buckets: prometheus.DefBuckets,
	})
	JobAgeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "job_age_seconds",
		Help:    "Age of a job (enqueued_at to started_at) at the moment a worker claims it",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_length",
		Help: "Current length of a queue's list",
	}, []string{"queue"})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times the circuit breaker transitioned to Open",
	})
	ReaperRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reaper_recovered_total",
		Help: "Total number of stale started jobs the reaper returned from wip registries to their origin queue",
	})
	WorkersAlive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "workers_alive",
		Help: "Number of worker goroutines currently running in this process",
	})
)

func init() {
	prometheus.MustRegister(
		JobsEnqueued, JobsDequeued, JobsReleased, JobsFinished, JobsFailed, JobsRequeued,
		JobsRetried, JobProcessingDuration, JobAgeSeconds, QueueLength,
		CircuitBreakerState, CircuitBreakerTrips, ReaperRecovered, WorkersAlive,
	)
}
