package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations by backend, operation and result.
	// Labels: backend (qdrant, chromem), operation (create_collection,
	// list_collections, drop_collection, insert, search), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vectord",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// RecordsInserted counts records written, by backend.
	RecordsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "vectorstore",
			Name:      "records_inserted_total",
			Help:      "Total number of records inserted",
		},
		[]string{"backend"},
	)

	// SearchHitsReturned tracks the number of hits returned per search call.
	SearchHitsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vectord",
			Subsystem: "vectorstore",
			Name:      "search_hits_returned",
			Help:      "Number of hits returned per search call",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"backend"},
	)
)

// RecordOperation records the outcome and duration of one store operation.
func RecordOperation(backend, operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(backend, operation, result).Inc()
	OperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
