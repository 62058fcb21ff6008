package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// Controller and monitoring-system HTTP calls
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricpulse_requests_total",
			Help: "Total number of HTTP requests issued by controller, operation and result",
		},
		[]string{"controller", "op", "result"},
	)

	StatJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricpulse_stat_jobs_total",
			Help: "Total number of interface statistics jobs attempted by controller and result",
		},
		[]string{"controller", "result"},
	)

	StatJobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabricpulse_stat_jobs_inflight",
			Help: "Interface statistics requests currently in flight per controller",
		},
		[]string{"controller"},
	)

	EventsForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricpulse_events_forwarded_total",
			Help: "Total number of fault events sent downstream by result",
		},
		[]string{"result"},
	)

	OutputFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricpulse_output_files_total",
			Help: "Total number of output documents by kind and result",
		},
		[]string{"kind", "result"},
	)

	RunDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabricpulse_run_duration_seconds",
			Help:    "Duration of a complete poll cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordRequest records the outcome of one HTTP call
func RecordRequest(controller, op string, err error) {
	RequestsTotal.WithLabelValues(controller, op, result(err)).Inc()
}

// RecordStatJob records the outcome of one interface statistics job
func RecordStatJob(controller string, err error) {
	StatJobsTotal.WithLabelValues(controller, result(err)).Inc()
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement
func TrackInFlight(controller string) func() {
	g := StatJobsInFlight.WithLabelValues(controller)
	g.Inc()
	return g.Dec
}

// RecordEvent records one forwarded fault event
func RecordEvent(err error) {
	EventsForwardedTotal.WithLabelValues(result(err)).Inc()
}

// RecordOutputFile records one output document write
func RecordOutputFile(kind string, err error) {
	OutputFilesTotal.WithLabelValues(kind, result(err)).Inc()
}

// ObserveRun records a poll cycle duration
func ObserveRun(d time.Duration) {
	RunDurationSeconds.Observe(d.Seconds())
}
