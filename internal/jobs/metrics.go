package jobmetrics

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	drift      *prometheus.CounterVec
	rebalanced prometheus.Counter
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

// AddBalanceDrift counts accounts whose cached balance disagreed with their entries.
// A nil outlet is reported as "all".
func (m *Metrics) AddBalanceDrift(outletID uuid.UUID, count int) {
	if m == nil || count <= 0 {
		return
	}
	outlet := "all"
	if outletID != uuid.Nil {
		outlet = outletID.String()
	}
	m.drift.WithLabelValues(outlet).Add(float64(count))
}

// AddRebalancedMovements counts movement running balances rewritten by a replay.
func (m *Metrics) AddRebalancedMovements(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rebalanced.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dealerledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	drift := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dealerledger_balance_drift_total",
		Help: "Accounts found with a cached balance that disagrees with their entries.",
	}, []string{"outlet"})
	rebalanced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dealerledger_movements_rebalanced_total",
		Help: "Inventory movement running balances rewritten by stock replays.",
	})
	registerer.MustRegister(runs, failures, duration, drift, rebalanced)
	return &Metrics{runs: runs, failures: failures, duration: duration, drift: drift, rebalanced: rebalanced}
}
