// Package storage defines the uniform client contract over heterogeneous
// object stores (S3-compatible services, Google Cloud Storage, local
// filesystem).
//
// Every backend variant implements the same capability set so that upload
// orchestration, file reading and administrative bucket management never
// need to know which vendor actually holds the bytes. Backends are selected
// at runtime through the registry (pkg/storage/registry), keyed by the
// storage external identifier.
package storage

import (
	"context"
	"io"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
)

// UploadAlgorithm identifies how a file's bytes travel to the backend.
type UploadAlgorithm string

const (
	// DirectUpload transfers the whole file as a single part. Used for
	// files below the backend's direct-upload threshold.
	DirectUpload UploadAlgorithm = "direct-upload"

	// MultiStepChunkUpload splits the file into fixed-size parts that are
	// uploaded (and possibly encrypted) independently, each confirmed
	// individually, then assembled by a backend-specific completion call.
	MultiStepChunkUpload UploadAlgorithm = "multi-step-chunk-upload"
)

// UploadAlgorithmResolution is the outcome of ResolveUploadAlgorithm: the
// algorithm to use for a file of a given size, the number of parts, and the
// size of every part except possibly the last one.
type UploadAlgorithmResolution struct {
	Algorithm UploadAlgorithm
	PartCount int
	PartSize  int64
}

// PreSignedUploadLink is a client-usable upload URL for a single part.
//
// CompletionCallbackRequired reports whether the client must confirm the
// part transfer through a part-completion call after the physical write.
// Object-storage backends confirm multipart writes via ETag and need the
// callback; direct local writes are confirmed synchronously and do not.
type PreSignedUploadLink struct {
	URL                        string
	CompletionCallbackRequired bool
}

// CompletedPart records the transport tag returned by the backend for one
// uploaded part of a multi-step chunk upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// Client is the capability set implemented by every storage backend variant.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines;
// a single client instance serves every request that targets its storage.
type Client interface {
	// EncryptionMode reports the encryption the backend mandates (or
	// forbids) for files it stores. Fixed per storage configuration.
	EncryptionMode() filecrypt.EncryptionType

	// ResolveUploadAlgorithm picks the upload algorithm and part layout
	// for a file of the given size. Encapsulates backend-specific size
	// thresholds. Returns an error for negative sizes.
	ResolveUploadAlgorithm(fileSizeInBytes int64) (UploadAlgorithmResolution, error)

	// GenerateFileS3KeySecretPart returns a fresh random secret suffix
	// for a storage key. The result must come from a cryptographically
	// random source.
	GenerateFileS3KeySecretPart() string

	// GetPreSignedUploadFilePartLink builds the client-usable URL for
	// uploading one part under the given sealed transfer token.
	GetPreSignedUploadFilePartLink(ctx context.Context, token string) (*PreSignedUploadLink, error)

	// GetPreSignedDownloadFileLink builds the client-usable URL for
	// downloading the file addressed by the given sealed transfer token.
	// Backends that can serve unencrypted bytes directly may return a
	// vendor pre-signed URL instead of the application route.
	GetPreSignedDownloadFileLink(ctx context.Context, bucket string, key FileKey, encryption filecrypt.EncryptionType, token string) (string, error)

	// PutObject writes a complete object in one shot (direct upload).
	PutObject(ctx context.Context, bucket string, key FileKey, body io.Reader, sizeInBytes int64) error

	// InitiateMultiPartUpload starts a multi-step chunk upload session
	// and returns the backend upload identifier.
	InitiateMultiPartUpload(ctx context.Context, bucket string, key FileKey) (string, error)

	// UploadPart writes one part of a multi-step chunk upload and
	// returns the transport tag (ETag) the backend assigned to it.
	UploadPart(ctx context.Context, bucket string, key FileKey, uploadID string, partNumber int, body io.Reader, sizeInBytes int64) (string, error)

	// CompleteMultiPartUpload assembles previously uploaded parts into
	// the final object.
	CompleteMultiPartUpload(ctx context.Context, bucket string, key FileKey, uploadID string, parts []CompletedPart) error

	// AbortMultiPartUpload cancels an in-progress multi-step chunk
	// upload and discards any parts already written. Idempotent.
	AbortMultiPartUpload(ctx context.Context, bucket string, key FileKey, uploadID string) error

	// GetObject streams the whole object. Returns ErrFileNotFound if the
	// object is missing despite metadata existing.
	GetObject(ctx context.Context, bucket string, key FileKey) (io.ReadCloser, error)

	// GetObjectRange streams the byte range [start, end] (inclusive) of
	// the object. Returns ErrFileNotFound if the object is missing.
	GetObjectRange(ctx context.Context, bucket string, key FileKey, start, end int64) (io.ReadCloser, error)

	// DeleteFile removes a single object. Missing objects are not an
	// error (delete is idempotent).
	DeleteFile(ctx context.Context, bucket string, key FileKey) error

	// DeleteFiles removes a batch of objects, using the backend's bulk
	// delete call where one exists.
	DeleteFiles(ctx context.Context, bucket string, keys []FileKey) error

	// CreateBucketIfDoesntExist ensures the bucket exists. Used both at
	// workspace creation and as the storage-configuration connectivity
	// probe; failures surface as *ConnectivityError.
	CreateBucketIfDoesntExist(ctx context.Context, bucket string) error

	// DeleteBucket removes an empty bucket.
	DeleteBucket(ctx context.Context, bucket string) error
}
