package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dataplane_build_info",
			Help: "Build information of the dataplane service",
		},
		[]string{"version", "commit", "date"},
	)

	SyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_dataset_sync_total",
			Help: "Total number of dataset sync attempts",
		},
		[]string{"source_kind", "status"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataplane_dataset_sync_duration_seconds",
			Help:    "Duration of dataset sync cycles",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
		},
		[]string{"source_kind"},
	)

	RowsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_rows_ingested_total",
			Help: "Total number of rows materialized by ingest and resync",
		},
		[]string{"source_kind"},
	)

	SchedulerSweepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_scheduler_sweep_total",
			Help: "Total number of scheduler sweeps",
		},
		[]string{"status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataplane_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"method", "route"},
	)
)
