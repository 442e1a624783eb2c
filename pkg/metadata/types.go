// Package metadata defines the file and upload records the data-plane
// keeps consistent, and the store contract for persisting them.
//
// The package is deliberately narrow: workspace, box and user records
// belong to outer collaborators. The data-plane only ever reads file/part
// records and mutates them through the write queue (pkg/queue), which is
// the single path to the store's transactions.
package metadata

import (
	"time"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// FileRecord is a finalized file.
//
// Immutable once created except for explicit size/metadata corrections;
// destroyed only by explicit delete. Exactly one FileRecord exists per
// completed upload.
type FileRecord struct {
	// ExternalID is the public identifier, safe to expose in URLs.
	ExternalID string `json:"externalId"`

	// WorkspaceID names the owning workspace.
	WorkspaceID string `json:"workspaceId"`

	// StorageExternalID identifies the storage backend holding the bytes.
	StorageExternalID string `json:"storageExternalId"`

	// Bucket is the backend bucket the object lives in.
	Bucket string `json:"bucket"`

	// Key is the physical object name (external id + secret suffix).
	Key storage.FileKey `json:"key"`

	// SizeInBytes is the plaintext size of the file.
	SizeInBytes int64 `json:"sizeInBytes"`

	// Encryption is the descriptor fixed at creation. Every read must
	// use exactly this descriptor.
	Encryption filecrypt.Encryption `json:"encryption"`

	CreatedAt time.Time `json:"createdAt"`
}

// FileUpload is an in-progress upload.
//
// Created when an upload is initiated, mutated by part-completion events,
// and destroyed when conversion to a FileRecord succeeds or the upload is
// aborted.
type FileUpload struct {
	ExternalID string `json:"externalId"`

	// FileExternalID is the external id the finalized file will carry.
	// It is also the first half of Key.
	FileExternalID string `json:"fileExternalId"`

	WorkspaceID       string `json:"workspaceId"`
	StorageExternalID string `json:"storageExternalId"`
	Bucket            string `json:"bucket"`

	// Key is the target object name the finalized file will keep.
	Key storage.FileKey `json:"key"`

	// SizeInBytes is the size declared at initiation.
	SizeInBytes int64 `json:"sizeInBytes"`

	// Algorithm and the part layout are fixed at initiation by
	// ResolveUploadAlgorithm and never change afterwards.
	Algorithm         storage.UploadAlgorithm `json:"algorithm"`
	PartSize          int64                   `json:"partSize"`
	ExpectedPartCount int                     `json:"expectedPartCount"`

	// BackendUploadID is the backend's multipart session identifier.
	// Empty for direct uploads and for backends that confirm writes
	// synchronously.
	BackendUploadID string `json:"backendUploadId,omitempty"`

	// CompletedParts maps completed part numbers to the transport tag
	// (ETag) the backend returned for them.
	CompletedParts map[int]string `json:"completedParts"`

	Encryption filecrypt.Encryption `json:"encryption"`

	CreatedAt time.Time `json:"createdAt"`
}

// IsComplete reports whether every expected part has been accounted for.
func (u *FileUpload) IsComplete() bool {
	return len(u.CompletedParts) >= u.ExpectedPartCount
}

// ToFileRecord converts a completed upload into its file record.
func (u *FileUpload) ToFileRecord(now time.Time) *FileRecord {
	return &FileRecord{
		ExternalID:        u.FileExternalID,
		WorkspaceID:       u.WorkspaceID,
		StorageExternalID: u.StorageExternalID,
		Bucket:            u.Bucket,
		Key:               u.Key,
		SizeInBytes:       u.SizeInBytes,
		Encryption:        u.Encryption,
		CreatedAt:         now,
	}
}
