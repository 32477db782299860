// Package metrics exposes Prometheus instruments for the sync engine. All
// metrics are global with bounded label sets.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeWatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "possync_remote_watches_active",
		Help: "Remote watches currently open in the listener registry",
	})
	watchesClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_remote_watches_closed_total",
		Help: "Remote watches closed, by reason (released, failed)",
	}, []string{"reason"})
	snapshotsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "possync_snapshots_published_total",
		Help: "Snapshots forwarded from remote watches to the change publisher",
	})
	writes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_writes_total",
		Help: "Write operations by op and result",
	}, []string{"op", "result"})
	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "possync_batch_writes",
		Help:    "Distribution of writes per batch submission",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 500},
	})
	txRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "possync_transaction_retries_total",
		Help: "Optimistic transaction attempts that hit a conflict and retried",
	})
	skippedDocuments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "possync_documents_skipped_total",
		Help: "Documents dropped from reads because they failed to decode",
	})
)

func init() {
	prometheus.MustRegister(activeWatches, watchesClosed, snapshotsPublished, writes, batchSize, txRetries, skippedDocuments)
}

func WatchOpened() { activeWatches.Inc() }

func WatchClosed(reason string) {
	activeWatches.Dec()
	watchesClosed.WithLabelValues(reason).Inc()
}

func SnapshotPublished() { snapshotsPublished.Inc() }

func Write(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	writes.WithLabelValues(op, result).Inc()
}

func Batch(n int) { batchSize.Observe(float64(n)) }

func TransactionRetry() { txRetries.Inc() }

func DocumentSkipped() { skippedDocuments.Inc() }

// Handler serves the default registry on /metrics.
func Handler() http.Handler { return promhttp.Handler() }
