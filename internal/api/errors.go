package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/damian-krychowski/plikshare-sub002/internal/logger"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
	"github.com/damian-krychowski/plikshare-sub002/pkg/token"
	"github.com/damian-krychowski/plikshare-sub002/pkg/upload"
)

// Error codes returned in response bodies.
const (
	CodeTokenInvalid          = "token-invalid"
	CodeTokenExpired          = "token-expired"
	CodeFileNotFound          = "file-not-found"
	CodeMissingRequestHeader  = "missing-request-header"
	CodeMissingFileName       = "missing-file-name"
	CodeBadRequest            = "bad-request"
	CodePayloadTooBig         = "payload-too-big"
	CodePartNotAllowed        = "part-not-allowed"
	CodeTooManyRequests       = "too-many-requests"
	CodeUploadNotYetCompleted = "upload-not-yet-completed"
	CodeInternalError         = "internal-error"
)

// apiError is the JSON error body every route responds with.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logger.Debug("Failed to encode response body: %v", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, apiError{Code: code, Message: message})
}

// respondTokenStatus maps a failed token verification to a response.
// Invalid tokens get a 404 so the route does not confirm what exists.
func respondTokenStatus(w http.ResponseWriter, status token.Status) {
	switch status {
	case token.StatusExpired:
		respondError(w, http.StatusGone, CodeTokenExpired, "the transfer token has expired")
	default:
		respondError(w, http.StatusNotFound, CodeTokenInvalid, "")
	}
}

// logStreamFailure records an error that happened after the response
// headers were already written, when no error body can be sent anymore.
func logStreamFailure(err error) {
	logger.Warn("Stream aborted after headers were sent: %v", err)
}

// respondDomainError translates the typed domain errors into HTTP
// responses. Everything unrecognized is a 500 with a generic body.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case metadata.IsCode(err, metadata.ErrNotFound):
		respondError(w, http.StatusNotFound, CodeFileNotFound, "")

	case metadata.IsCode(err, metadata.ErrPartNotAllowed):
		respondError(w, http.StatusBadRequest, CodePartNotAllowed, err.Error())

	case metadata.IsCode(err, metadata.ErrUploadNotYetCompleted):
		respondError(w, http.StatusBadRequest, CodeUploadNotYetCompleted, err.Error())

	case errors.Is(err, upload.ErrPayloadTooBig):
		respondError(w, http.StatusRequestEntityTooLarge, CodePayloadTooBig, err.Error())

	case errors.Is(err, upload.ErrMissingFileName):
		respondError(w, http.StatusBadRequest, CodeMissingFileName, err.Error())

	case errors.Is(err, upload.ErrBodySizeMismatch), errors.Is(err, upload.ErrFileCountMismatch):
		respondError(w, http.StatusBadRequest, CodeBadRequest, err.Error())

	case errors.Is(err, storage.ErrFileNotFound):
		// Metadata exists but the backend object is gone. Worth a
		// warning: it points at external tampering or backend data loss.
		logger.Warn("Object missing in storage: %v", err)
		respondError(w, http.StatusNotFound, CodeFileNotFound, "")

	default:
		logger.Error("Request failed: %v", err)
		respondError(w, http.StatusInternalServerError, CodeInternalError, "")
	}
}
