package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/damian-krychowski/plikshare-sub002/pkg/reader"
	"github.com/damian-krychowski/plikshare-sub002/pkg/upload"
)

// transferDurationBuckets covers everything from a tiny direct upload to
// a multi-gigabyte part on a slow link.
var transferDurationBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0,
}

// uploadMetrics is the Prometheus implementation of the upload.Metrics
// interface.
type uploadMetrics struct {
	initiated    *prometheus.CounterVec
	parts        prometheus.Counter
	bytes        prometheus.Counter
	partDuration prometheus.Histogram
	finalized    prometheus.Counter
	aborted      prometheus.Counter
}

// NewUploadMetrics creates a new Prometheus-backed upload.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the upload orchestrator to use its built-in no-op implementation.
func NewUploadMetrics() upload.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &uploadMetrics{
		initiated: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "plikshare_uploads_initiated_total",
				Help: "Total number of initiated uploads by resolved algorithm",
			},
			[]string{"algorithm"},
		),
		parts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "plikshare_upload_parts_total",
				Help: "Total number of physically written upload parts",
			},
		),
		bytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "plikshare_upload_bytes_total",
				Help: "Total bytes written to storage backends by uploads",
			},
		),
		partDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plikshare_upload_part_duration_seconds",
				Help:    "Duration of part writes to storage backends in seconds",
				Buckets: transferDurationBuckets,
			},
		),
		finalized: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "plikshare_uploads_finalized_total",
				Help: "Total number of uploads converted into file records",
			},
		),
		aborted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "plikshare_uploads_aborted_total",
				Help: "Total number of aborted uploads",
			},
		),
	}
}

func (m *uploadMetrics) RecordInitiated(algorithm string) {
	m.initiated.WithLabelValues(algorithm).Inc()
}

func (m *uploadMetrics) RecordPartUploaded(sizeInBytes int64, duration time.Duration) {
	m.parts.Inc()
	m.bytes.Add(float64(sizeInBytes))
	m.partDuration.Observe(duration.Seconds())
}

func (m *uploadMetrics) RecordFinalized() {
	m.finalized.Inc()
}

func (m *uploadMetrics) RecordAborted() {
	m.aborted.Inc()
}

// readerMetrics is the Prometheus implementation of the reader.Metrics
// interface.
type readerMetrics struct {
	downloads     prometheus.Counter
	bytes         prometheus.Counter
	duration      prometheus.Histogram
	invalidRanges prometheus.Counter
}

// NewReaderMetrics creates a new Prometheus-backed reader.Metrics instance.
//
// Returns nil if metrics are not enabled, which causes the file reader
// to use its built-in no-op implementation.
func NewReaderMetrics() reader.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &readerMetrics{
		downloads: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "plikshare_downloads_total",
				Help: "Total number of served full and ranged downloads",
			},
		),
		bytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "plikshare_download_bytes_total",
				Help: "Total plaintext bytes streamed to clients",
			},
		),
		duration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plikshare_download_duration_seconds",
				Help:    "Duration of downloads in seconds",
				Buckets: transferDurationBuckets,
			},
		),
		invalidRanges: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "plikshare_invalid_ranges_total",
				Help: "Total number of rejected range requests",
			},
		),
	}
}

func (m *readerMetrics) RecordDownload(sizeInBytes int64, duration time.Duration) {
	m.downloads.Inc()
	m.bytes.Add(float64(sizeInBytes))
	m.duration.Observe(duration.Seconds())
}

func (m *readerMetrics) RecordInvalidRange() {
	m.invalidRanges.Inc()
}
