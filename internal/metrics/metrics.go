package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"

	// Time-series query outcomes.
	QueryHit   = "hit"
	QueryEmpty = "empty"
	QueryError = "error"
)

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chargewatch",
			Name:      "job_runs_total",
			Help:      "Batch job runs, partitioned by job and outcome.",
		},
		[]string{"job", "outcome"},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chargewatch",
			Name:      "job_duration_seconds",
			Help:      "Batch job duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"job"},
	)

	jobRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chargewatch",
			Name:      "job_rows",
			Help:      "Rows produced by the last successful run of a job.",
		},
		[]string{"job"},
	)

	recordsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chargewatch",
			Name:      "records_dropped_total",
			Help:      "Source records dropped for data-quality reasons.",
		},
		[]string{"job", "reason"},
	)

	timeseriesQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chargewatch",
			Name:      "timeseries_queries_total",
			Help:      "Time-series queries issued, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches the chargewatch collectors to reg. Collectors already
// registered are skipped.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		jobRunsTotal,
		jobDurationSeconds,
		jobRows,
		recordsDroppedTotal,
		timeseriesQueriesTotal,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records one job run.
func ObserveRun(job string, duration time.Duration, outcome string, rows int) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	jobRunsTotal.WithLabelValues(job, label).Inc()
	if duration < 0 {
		duration = 0
	}
	jobDurationSeconds.WithLabelValues(job).Observe(duration.Seconds())
	if label == OutcomeSuccess {
		jobRows.WithLabelValues(job).Set(float64(rows))
	}
}

func AddDropped(job, reason string, n int) {
	if n <= 0 {
		return
	}
	recordsDroppedTotal.WithLabelValues(job, reason).Add(float64(n))
}

func ObserveQuery(outcome string) {
	timeseriesQueriesTotal.WithLabelValues(outcome).Inc()
}
