package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
	"github.com/anuvgupta/worker-comfyui/internal/model"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_total",
			Help: "Total number of finished jobs by final status.",
		},
		[]string{"status"},
	)

	jobFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_job_failures_total",
			Help: "Total number of failed or timed out jobs by failure kind.",
		},
		[]string{"kind"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_job_duration_seconds",
			Help:    "Job execution time from start to outcome, in seconds.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 180, 300},
		},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_jobs_in_flight",
			Help: "Number of jobs currently executing on the engine.",
		},
	)

	jobsWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_jobs_waiting",
			Help: "Number of jobs waiting for the worker to become free.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(jobFailures)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(jobsInFlight)
	prometheus.MustRegister(jobsWaiting)

	for _, status := range []string{model.StatusCompleted, model.StatusFailed, model.StatusTimedOut} {
		jobsTotal.WithLabelValues(status)
	}
	for _, kind := range []string{
		backend.KindEngineUnavailable,
		backend.KindSubmissionRejected,
		backend.KindExecutionFailure,
		backend.KindConnectionAborted,
		backend.KindTimeout,
		backend.KindInvalidRequest,
	} {
		jobFailures.WithLabelValues(kind)
	}
}
