package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Record processing metrics
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barrow_archiver_records_total",
			Help: "Total number of change records processed, by outcome",
		},
		[]string{"source", "status"},
	)

	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barrow_archiver_failures_total",
			Help: "Total number of failed records, by failure reason",
		},
		[]string{"reason"},
	)

	BatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "barrow_archiver_batches_total",
			Help: "Total number of batches processed",
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "barrow_archiver_batch_size",
			Help:    "Number of records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	BatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "barrow_archiver_batches_in_flight",
			Help: "Number of batches currently being processed",
		},
	)

	// Archive storage metrics
	ArchiveBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "barrow_archiver_archive_bytes_total",
			Help: "Total bytes of archive documents written",
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "barrow_archiver_batch_duration_seconds",
			Help:    "Duration of batch processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dead letter metrics
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barrow_archiver_dead_letters_total",
			Help: "Total number of records routed to the dead letter queue",
		},
		[]string{"reason"},
	)

	// Catalog metrics
	CatalogIndexedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "barrow_archiver_catalog_indexed_total",
			Help: "Total number of archive summaries indexed in the catalog",
		},
	)

	CatalogErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "barrow_archiver_catalog_errors_total",
			Help: "Total number of catalog indexing errors",
		},
	)
)
