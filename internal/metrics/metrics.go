package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediafetch_jobs_submitted_total",
		Help: "Total number of jobs accepted by Submit",
	})

	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediafetch_jobs_finished_total",
		Help: "Total number of jobs that reached a terminal status",
	}, []string{"status", "kind"})

	jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediafetch_job_duration_seconds",
		Help:    "Processing time of a job from claim to terminal status",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"status"})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediafetch_executor_attempts_total",
		Help: "Extraction attempts per option profile and outcome",
	}, []string{"profile", "outcome"})

	attemptDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediafetch_executor_attempt_duration_seconds",
		Help:    "Duration of one extraction attempt",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"profile"})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediafetch_jobs_in_flight",
		Help: "Jobs currently being processed by this process",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediafetch_http_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)

// IncJobsSubmitted counts an accepted submission
func IncJobsSubmitted() {
	jobsSubmittedTotal.Inc()
}

// JobStarted marks a job as in flight
func JobStarted() {
	jobsInFlight.Inc()
}

// ObserveJobFinished records a terminal job. kind is empty for completed jobs.
func ObserveJobFinished(status, kind string, d time.Duration) {
	jobsInFlight.Dec()
	jobsFinishedTotal.WithLabelValues(status, kind).Inc()
	jobDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// JobAbandoned drops a job this process could not finish
func JobAbandoned() {
	jobsInFlight.Dec()
}

// ObserveAttempt records one executor attempt
func ObserveAttempt(profile string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attemptsTotal.WithLabelValues(profile, outcome).Inc()
	attemptDurationSeconds.WithLabelValues(profile).Observe(d.Seconds())
}

// IncRateLimited counts a rejected request
func IncRateLimited() {
	rateLimitedTotal.Inc()
}
