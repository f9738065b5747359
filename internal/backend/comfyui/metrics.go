package comfyui

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for submission results.
const (
	submitAccepted    = "accepted"
	submitRejected    = "rejected"
	submitUnavailable = "unavailable"
)

var (
	engineStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_comfyui_engine_starts_total",
			Help: "Total number of engine processes launched by the worker.",
		},
	)

	engineReadyWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_comfyui_engine_ready_wait_seconds",
			Help:    "Time spent waiting for the engine to report healthy, in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_comfyui_submissions_total",
			Help: "Total number of prompt submissions by result.",
		},
		[]string{"result"},
	)

	submitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_comfyui_submit_retries_total",
			Help: "Total number of retried prompt submission attempts.",
		},
	)

	engineEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_comfyui_engine_events_total",
			Help: "Total number of event-stream events for watched prompts, by type.",
		},
		[]string{"type"},
	)

	openEventStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_comfyui_open_event_streams",
			Help: "Number of currently open engine event-stream connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(engineStarts)
	prometheus.MustRegister(engineReadyWait)
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(submitRetries)
	prometheus.MustRegister(engineEvents)
	prometheus.MustRegister(openEventStreams)

	for _, result := range []string{submitAccepted, submitRejected, submitUnavailable} {
		submissionsTotal.WithLabelValues(result)
	}
	for _, typ := range eventTypes {
		engineEvents.WithLabelValues(typ)
	}
}
