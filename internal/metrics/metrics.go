// Package metrics exposes Prometheus collectors for the document crawler.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsExaminedTotal *prometheus.CounterVec
	documentsSkippedTotal  *prometheus.CounterVec
	documentsReusedTotal   *prometheus.CounterVec
	documentsFetchedTotal  prometheus.Counter
	documentBytesTotal     prometheus.Counter
	fieldErrorsTotal       *prometheus.CounterVec
	crawlsTotal            *prometheus.CounterVec
	crawlDurationSeconds   prometheus.Histogram
	lastCrawlTimestamp     prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		documentsExaminedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funddocs_documents_examined_total",
				Help: "Documents counted against the entry budget, labeled by category.",
			},
			[]string{"category"},
		)

		documentsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funddocs_documents_skipped_total",
				Help: "Documents already present in the record log, labeled by category.",
			},
			[]string{"category"},
		)

		documentsReusedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funddocs_documents_reused_total",
				Help: "Records pointing at an existing file, labeled by dedup reason.",
			},
			[]string{"reason"},
		)

		documentsFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "funddocs_documents_fetched_total",
				Help: "Documents downloaded and written to disk.",
			},
		)

		documentBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "funddocs_document_bytes_total",
				Help: "Bytes written for downloaded documents.",
			},
		)

		fieldErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funddocs_field_errors_total",
				Help: "Catalog cells whose link or date could not be read, labeled by category.",
			},
			[]string{"category"},
		)

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funddocs_crawls_total",
				Help: "Completed crawls, labeled by status.",
			},
			[]string{"status"},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "funddocs_crawl_duration_seconds",
				Help:    "Histogram of crawl durations.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1800},
			},
		)

		lastCrawlTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "funddocs_last_crawl_timestamp_seconds",
				Help: "Unix time the last crawl finished.",
			},
		)
	})
}

// ObserveExamined counts one document against the budget.
func ObserveExamined(category string) {
	Init()
	documentsExaminedTotal.WithLabelValues(category).Inc()
}

// ObserveSkipped counts one already recorded document.
func ObserveSkipped(category string) {
	Init()
	documentsSkippedTotal.WithLabelValues(category).Inc()
}

// ObserveReused counts a record that points at an existing file.
func ObserveReused(reason string) {
	Init()
	documentsReusedTotal.WithLabelValues(reason).Inc()
}

// ObserveDownload counts one written document.
func ObserveDownload(size int64) {
	Init()
	documentsFetchedTotal.Inc()
	if size > 0 {
		documentBytesTotal.Add(float64(size))
	}
}

// ObserveFieldError counts an unreadable catalog cell.
func ObserveFieldError(category string) {
	Init()
	fieldErrorsTotal.WithLabelValues(category).Inc()
}

// ObserveCrawlFinished records the outcome of one crawl.
func ObserveCrawlFinished(status string, duration time.Duration, finished time.Time) {
	Init()
	crawlsTotal.WithLabelValues(status).Inc()
	crawlDurationSeconds.Observe(duration.Seconds())
	lastCrawlTimestamp.Set(float64(finished.Unix()))
}

// WriteTextfile writes the default registry in the node-exporter textfile
// format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
