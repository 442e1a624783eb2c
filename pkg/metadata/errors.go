package metadata

import (
	"errors"
	"fmt"
)

// ErrorCode classifies expected domain conditions at the store boundary.
type ErrorCode int

const (
	// ErrNotFound means the addressed file or upload does not exist in
	// metadata. Distinct from storage.ErrFileNotFound, which means the
	// metadata exists but the backend object is gone.
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists means a record with the same external id exists.
	ErrAlreadyExists

	// ErrUploadNotYetCompleted means finalize was requested before every
	// expected part was accounted for.
	ErrUploadNotYetCompleted

	// ErrPartNotAllowed means a part-completion event referenced a part
	// number outside the upload's fixed layout, or a duplicate
	// completion for a part already recorded with a different tag.
	ErrPartNotAllowed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not_found"
	case ErrAlreadyExists:
		return "already_exists"
	case ErrUploadNotYetCompleted:
		return "upload_not_yet_completed"
	case ErrPartNotAllowed:
		return "part_not_allowed"
	default:
		return "unknown"
	}
}

// StoreError is the typed error returned for every expected domain
// condition. Truly unexpected conditions (I/O failures, serialization
// bugs) propagate as plain wrapped errors instead.
type StoreError struct {
	Code    ErrorCode
	Message string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is, or wraps, a StoreError carrying the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		return false
	}
	return storeErr.Code == code
}
