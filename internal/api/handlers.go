package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/damian-krychowski/plikshare-sub002/pkg/token"
	"github.com/damian-krychowski/plikshare-sub002/pkg/upload"
)

// Headers the batched upload route requires.
const (
	headerTotalSize = "x-total-size-in-bytes"
	headerFileCount = "x-number-of-files"
)

type handlers struct {
	deps Deps
}

// uploadPart handles PUT /api/files/{token}: one part body, size given
// by Content-Length.
func (h *handlers) uploadPart(w http.ResponseWriter, r *http.Request) {
	var payload token.UploadPayload
	if status := h.deps.Tokens.Open(token.PurposeUpload, chi.URLParam(r, "token"), &payload); status != token.StatusValid {
		respondTokenStatus(w, status)
		return
	}

	if r.ContentLength < 0 {
		respondError(w, http.StatusBadRequest, CodeMissingRequestHeader, "Content-Length is required")
		return
	}

	etag, err := h.deps.Uploader.TransferPart(r.Context(), payload.UploadExternalID, payload.PartNumber, r.Body, r.ContentLength)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"etag": etag})
}

// uploadMultiFile handles POST /api/files/multi-file/{token}: a
// multipart-form body carrying many small files at once.
func (h *handlers) uploadMultiFile(w http.ResponseWriter, r *http.Request) {
	var payload token.MultiFileDirectUploadPayload
	if status := h.deps.Tokens.Open(token.PurposeMultiFileDirectUpload, chi.URLParam(r, "token"), &payload); status != token.StatusValid {
		respondTokenStatus(w, status)
		return
	}

	totalSize, err := requiredInt64Header(r, headerTotalSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeMissingRequestHeader, err.Error())
		return
	}
	fileCount, err := requiredInt64Header(r, headerFileCount)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeMissingRequestHeader, err.Error())
		return
	}

	form, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "a multipart-form body is required")
		return
	}

	results, err := h.deps.Uploader.DirectUploadMany(r.Context(), upload.MultiFileRequest{
		WorkspaceID:       payload.WorkspaceID,
		StorageExternalID: payload.StorageExternalID,
		Bucket:            payload.Bucket,
		RequesterID:       payload.RequesterID,
		TotalSizeInBytes:  totalSize,
		FileCount:         int(fileCount),
	}, form)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, results)
}

// download handles GET /api/files/{token} with optional Range support.
func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	var payload token.DownloadPayload
	if status := h.deps.Tokens.Open(token.PurposeDownload, chi.URLParam(r, "token"), &payload); status != token.StatusValid {
		respondTokenStatus(w, status)
		return
	}
	if !redemptionConsistent(r, payload.ContentType) {
		respondError(w, http.StatusNotFound, CodeTokenInvalid, "")
		return
	}

	file, err := h.deps.Store.GetFile(r.Context(), payload.FileExternalID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	client, err := h.deps.Storages.Get(file.StorageExternalID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	setDownloadHeaders(w, payload.ContentType, payload.ContentDisposition)

	requested, satisfiable := parseRange(r.Header.Get("Range"), file.SizeInBytes)
	if !satisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", file.SizeInBytes))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if requested == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(file.SizeInBytes, 10))
		w.WriteHeader(http.StatusOK)
		if err := h.deps.Reader.ReadFull(r.Context(), client, file, w); err != nil {
			// Headers are gone; all that is left is to cut the stream.
			logStreamFailure(err)
		}
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", requested.start, requested.end, file.SizeInBytes))
	w.Header().Set("Content-Length", strconv.FormatInt(requested.end-requested.start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	if err := h.deps.Reader.ReadRange(r.Context(), client, file, requested.start, requested.end, w); err != nil {
		logStreamFailure(err)
	}
}

// downloadZipEntry handles GET /api/zip-files/{token}: one entry inside
// a stored zip archive, with the same range semantics applied to the
// entry's uncompressed content.
func (h *handlers) downloadZipEntry(w http.ResponseWriter, r *http.Request) {
	var payload token.ZipContentDownloadPayload
	if status := h.deps.Tokens.Open(token.PurposeZipContentDownload, chi.URLParam(r, "token"), &payload); status != token.StatusValid {
		respondTokenStatus(w, status)
		return
	}
	if !redemptionConsistent(r, payload.ContentType) {
		respondError(w, http.StatusNotFound, CodeTokenInvalid, "")
		return
	}

	file, err := h.deps.Store.GetFile(r.Context(), payload.FileExternalID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	client, err := h.deps.Storages.Get(file.StorageExternalID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	entry := payload.Entry
	setDownloadHeaders(w, payload.ContentType, fmt.Sprintf("attachment; filename=%q", entry.FileName))

	requested, satisfiable := parseRange(r.Header.Get("Range"), entry.SizeInBytes)
	if !satisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", entry.SizeInBytes))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if requested == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(entry.SizeInBytes, 10))
		w.WriteHeader(http.StatusOK)
		if err := h.deps.Reader.ReadZipEntry(r.Context(), client, file, entry, w); err != nil {
			logStreamFailure(err)
		}
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", requested.start, requested.end, entry.SizeInBytes))
	w.Header().Set("Content-Length", strconv.FormatInt(requested.end-requested.start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	if err := h.deps.Reader.ReadZipEntryRange(r.Context(), client, file, entry, requested.start, requested.end, w); err != nil {
		logStreamFailure(err)
	}
}

// redemptionConsistent checks a redemption request against what the
/// token was issued for. The content type is part of the grant: asking
// for a different one invalidates the token rather than overriding it.
func redemptionConsistent(r *http.Request, issuedContentType string) bool {
	requested := r.URL.Query().Get("contentType")
	return requested == "" || requested == issuedContentType
}

func setDownloadHeaders(w http.ResponseWriter, contentType, contentDisposition string) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)
	if contentDisposition != "" {
		w.Header().Set("Content-Disposition", contentDisposition)
	}
}

func requiredInt64Header(r *http.Request, name string) (int64, error) {
	raw := r.Header.Get(name)
	if raw == "" {
		return 0, fmt.Errorf("header %q is required", name)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("header %q must be a non-negative integer", name)
	}
	return value, nil
}
