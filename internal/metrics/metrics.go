package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterbill_requests_total",
			Help: "Total number of API requests per route and method",
		},
		[]string{"route", "method"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meterbill_request_duration_seconds",
			Help:    "Request duration in seconds per route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterbill_request_errors_total",
			Help: "Total number of error responses per route and status code",
		},
		[]string{"route", "code"},
	)
)

// ObserveRequest records a finished API request. Statuses >= 400 count as errors.
func ObserveRequest(route, method string, status int, startedAt time.Time) {
	RequestsTotal.WithLabelValues(route, method).Inc()
	RequestDurationSeconds.WithLabelValues(route, method).Observe(time.Since(startedAt).Seconds())
	if status >= 400 {
		RequestErrorsTotal.WithLabelValues(route, statusClass(status)).Inc()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status == 404:
		return "404"
	case status == 401, status == 403:
		return "auth"
	default:
		return "4xx"
	}
}

var (
	ReadingsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterbill_readings_processed_total",
			Help: "Readings run through the charge accumulator, by outcome",
		},
		[]string{"outcome"},
	)

	ChargedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterbill_charged_amount_total",
			Help: "Sum of amounts added to monthly charges, by resource type",
		},
		[]string{"resource_type"},
	)

	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterbill_ingest_messages_total",
			Help: "MQTT reading messages received, by result",
		},
		[]string{"result"},
	)
)

var (
	DBPoolOpenConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterbill_db_pool_open_conns",
			Help: "Open connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterbill_db_pool_idle_conns",
			Help: "Idle connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolInUseConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterbill_db_pool_in_use_conns",
			Help: "Connections currently in use per driver",
		},
		[]string{"driver"},
	)

	DBPoolWaitCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterbill_db_pool_wait_count",
			Help: "Total number of connections waited for per driver",
		},
		[]string{"driver"},
	)
)

func UpdateDBPoolMetrics(driver string, st sql.DBStats) {
	DBPoolOpenConns.WithLabelValues(driver).Set(float64(st.OpenConnections))
	DBPoolIdleConns.WithLabelValues(driver).Set(float64(st.Idle))
	DBPoolInUseConns.WithLabelValues(driver).Set(float64(st.InUse))
	DBPoolWaitCount.WithLabelValues(driver).Set(float64(st.WaitCount))
}

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterbill_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterbill_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterbill_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(time.Since(startedAt).Seconds())
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}
