package storage

import (
	"errors"
	"fmt"
)

// ErrFileNotFound indicates the backend object is missing even though
// metadata for it exists. Callers surface this as a 404-equivalent and log
// it as a warning (possible external tampering or backend data loss); the
// condition is distinct from "not found in metadata".
var ErrFileNotFound = errors.New("file not found in storage")

// ErrUploadSessionNotFound indicates the multipart session an operation
// referenced no longer exists in the backend: something already completed
// or aborted it. Finalization relies on this to tell a lost completion
// race from a genuine backend failure.
var ErrUploadSessionNotFound = errors.New("upload session not found in storage")

// ErrUnsupportedAlgorithm indicates an upload algorithm the backend does
// not implement. This is a programming or configuration error, not an
// expected runtime condition.
var ErrUnsupportedAlgorithm = errors.New("unsupported upload algorithm")

// ConnectivityError wraps a backend failure detected while validating a
// storage configuration (credentials, endpoint, bucket round-trip).
//
// Storage registration fails fast with this error so that broken
// configurations never surface later as mysterious upload failures.
type ConnectivityError struct {
	Storage string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("storage %q is not reachable: %v", e.Storage, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}
