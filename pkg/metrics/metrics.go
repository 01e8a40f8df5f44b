package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DirectionDownload = "download"
	DirectionUpload   = "upload"
)

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	FilesCopiedCounter = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "sftpmirror_files_copied_total",
			Help: "The total of files copied from source to destination",
		})
	FilesFailedCounter = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "sftpmirror_files_failed_total",
			Help: "The total of files whose transfer failed",
		})
	FilesSkippedCounter = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "sftpmirror_files_skipped_total",
			Help: "The total of source files already present at the destination",
		})
	BytesTransferredCounter = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpmirror_bytes_transferred_total",
			Help: "The total number of bytes moved, by direction",
		}, []string{"direction"})
	RunsCounter = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sftpmirror_runs_total",
			Help: "The total of mirror runs, by final status",
		}, []string{"status"})
	RunDurationHistogram = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sftpmirror_run_duration_seconds",
			Help:    "Wall time of mirror runs",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		})
)

// Handler serves the mirror metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Registry exposes the registry for tests.
func Registry() *prometheus.Registry {
	return registry
}

func ReportRun(status string, seconds float64) {
	RunsCounter.WithLabelValues(status).Inc()
	RunDurationHistogram.Observe(seconds)
}

func ReportBytes(direction string, n int64) {
	BytesTransferredCounter.WithLabelValues(direction).Add(float64(n))
}
