package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	alerts   *prometheus.CounterVec
	rebuilt  *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
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

// Tracker provides lifecycle instrumentation helpers for a single job run.
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

// AddExpiryAlerts increments the expiry alert counter for a level and organisation.
func (m *Metrics) AddExpiryAlerts(level string, orgID int64, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.alerts.WithLabelValues(level, formatOrg(orgID)).Add(float64(count))
}

// AddRebuilt counts batch projections recomputed from the ledger.
func (m *Metrics) AddRebuilt(orgID int64, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rebuilt.WithLabelValues(formatOrg(orgID)).Add(float64(count))
}

func formatOrg(orgID int64) string {
	if orgID <= 0 {
		return "0"
	}
	return strconv.FormatInt(orgID, 10)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmaledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmaledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pharmaledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmaledger_expiry_alerts_total",
		Help: "Expiry alerts raised by scans grouped by level and organisation.",
	}, []string{"level", "org"})
	rebuilt := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmaledger_status_rebuilt_total",
		Help: "Batch status projections recomputed from the ledger.",
	}, []string{"org"})
	registerer.MustRegister(runs, failures, duration, alerts, rebuilt)
	return &Metrics{runs: runs, failures: failures, duration: duration, alerts: alerts, rebuilt: rebuilt}
}
