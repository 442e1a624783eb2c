package reader

import "time"

// Metrics is the interface for collecting download metrics.
//
// Implementations must be safe for concurrent use. A Prometheus-backed
// implementation lives in pkg/metrics; passing nil to New selects the
// built-in no-op implementation.
type Metrics interface {
	// RecordDownload records one served read with the plaintext byte
	// count that reached the client.
	RecordDownload(sizeInBytes int64, duration time.Duration)

	// RecordInvalidRange counts a rejected range request.
	RecordInvalidRange()
}

type noopMetrics struct{}

func (noopMetrics) RecordDownload(int64, time.Duration) {}
func (noopMetrics) RecordInvalidRange()                 {}
