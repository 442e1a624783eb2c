package upload

import "time"

// Metrics is the interface for collecting upload metrics.
//
// Implementations must be safe for concurrent use. A Prometheus-backed
// implementation lives in pkg/metrics; passing nil to New selects the
// built-in no-op implementation.
type Metrics interface {
	// RecordInitiated counts an upload initiation by resolved algorithm.
	RecordInitiated(algorithm string)

	// RecordPartUploaded records one physically written part.
	RecordPartUploaded(sizeInBytes int64, duration time.Duration)

	// RecordFinalized counts a successful upload-to-file conversion.
	RecordFinalized()

	// RecordAborted counts an aborted upload.
	RecordAborted()
}

type noopMetrics struct{}

func (noopMetrics) RecordInitiated(string)                  {}
func (noopMetrics) RecordPartUploaded(int64, time.Duration) {}
func (noopMetrics) RecordFinalized()                        {}
func (noopMetrics) RecordAborted()                          {}
