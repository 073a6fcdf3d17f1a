package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "render",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "render",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	JobsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "render",
		Name:      "jobs_submitted_total",
		Help:      "Total number of render jobs accepted.",
	})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "render",
		Name:      "jobs_completed_total",
		Help:      "Total number of terminal jobs by disposition.",
	}, []string{"status"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "render",
		Name:      "jobs_in_flight",
		Help:      "Number of jobs currently leased by the coordinator.",
	})

	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "render",
		Name:      "job_duration_seconds",
		Help:      "End-to-end wallclock duration of completed jobs in seconds.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	})

	SegmentRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "render",
		Name:      "segment_retries_total",
		Help:      "Total number of segment render retries.",
	})

	SegmentFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "render",
		Name:      "segment_failures_total",
		Help:      "Total number of failed segment renders by error kind.",
	}, []string{"kind"})

	FramesRenderedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "render",
		Name:      "frames_rendered_total",
		Help:      "Total number of frames delivered to the encoder.",
	})

	FramesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "render",
		Name:      "frames_dropped_total",
		Help:      "Total number of frames dropped under queue pressure.",
	})

	WorkersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "render",
		Name:      "workers_busy",
		Help:      "Number of worker pool slots currently in use.",
	})

	CallbackFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "render",
		Name:      "callback_failures_total",
		Help:      "Total number of callbacks that exhausted their retries.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		JobsSubmittedTotal,
		JobsCompletedTotal,
		JobsInFlight,
		JobDuration,
		SegmentRetriesTotal,
		SegmentFailuresTotal,
		FramesRenderedTotal,
		FramesDroppedTotal,
		WorkersBusy,
		CallbackFailuresTotal,
	)
}
