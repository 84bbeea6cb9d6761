// Package metrics holds the Prometheus collectors shared across the
// service. Everything is registered on the default registry and exposed
// by the API server under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesFetched counts raw log entries downloaded from CT logs.
	EntriesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctmon_entries_fetched_total",
		Help: "Log entries downloaded, per log.",
	}, []string{"log"})

	// CertsStored counts certificates durably written to the database.
	CertsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctmon_certs_stored_total",
		Help: "Certificates stored, per log.",
	}, []string{"log"})

	// BatchesWritten counts batches the background writer handed to the store.
	BatchesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctmon_batches_written_total",
		Help: "Scan batches written by the background writer.",
	})

	// WriterQueueDepth tracks batches sitting in the bounded hand-off buffer.
	WriterQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ctmon_writer_queue_depth",
		Help: "Batches enqueued but not yet stored.",
	})

	// StoreBatchSeconds observes the duration of one StoreBatch transaction.
	StoreBatchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ctmon_store_batch_seconds",
		Help:    "Duration of a single batch store transaction.",
		Buckets: prometheus.DefBuckets,
	})

	// CheckObservations counts analysis findings, per check name.
	CheckObservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctmon_check_observations_total",
		Help: "Analysis check observations, per check.",
	}, []string{"check"})
)
