package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for SLA jobs and classification
var (
	SyncRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sla_sync_rows_total",
			Help: "Source rows handled by the ETL synchronizer, by outcome",
		},
		[]string{"table", "outcome"},
	)

	SyncTablesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sla_sync_tables_total",
			Help: "Source tables synchronized, by outcome",
		},
		[]string{"outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sla_job_duration_seconds",
			Help:    "Duration of sync, summary and cleanup jobs",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"job", "status"},
	)

	SummaryRowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sla_summary_rows_written_total",
			Help: "Daily summary rows written by the aggregator",
		},
		[]string{"table"},
	)

	OrphanSummariesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sla_orphan_summaries_deleted_total",
			Help: "Daily summary rows removed because their order table no longer exists",
		},
	)

	ClassifiedOrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sla_classified_orders_total",
			Help: "Orders classified by read paths, by SLA status",
		},
		[]string{"status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sla_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	UnbalancedSummaries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sla_unbalanced_summaries",
			Help: "Summary rows where on_time + on_risk + breached != total at the last integrity check",
		},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(SyncRowsTotal)
		prometheus.MustRegister(SyncTablesTotal)
		prometheus.MustRegister(JobDuration)
		prometheus.MustRegister(SummaryRowsWritten)
		prometheus.MustRegister(OrphanSummariesDeleted)
		prometheus.MustRegister(ClassifiedOrdersTotal)
		prometheus.MustRegister(UnbalancedSummaries)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}
