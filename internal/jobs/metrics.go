package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for planning runs and background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	shortfalls *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetShortfalls records how many materials of a workspace are short after the
// latest planning run.
func (m *Metrics) SetShortfalls(workspaceID string, count int) {
	if m == nil {
		return
	}
	if workspaceID == "" {
		workspaceID = "unknown"
	}
	m.shortfalls.WithLabelValues(workspaceID).Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mrp_jobs_total",
		Help: "Total planning runs and job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mrp_jobs_failures_total",
		Help: "Total failures observed for planning runs and jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mrp_job_duration_seconds",
		Help:    "Duration in seconds of planning runs and jobs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	shortfalls := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mrp_materials_short",
		Help: "Materials with a shortfall in the latest plan per workspace.",
	}, []string{"workspace"})
	registerer.MustRegister(runs, failures, duration, shortfalls)
	return &Metrics{runs: runs, failures: failures, duration: duration, shortfalls: shortfalls}
}
