// Package upload orchestrates the upload state machine.
//
// Every upload moves through Initiated, PartsInFlight, AllPartsComplete
// and ends in Finalized or Aborted. The orchestrator owns the transitions:
// it resolves the upload algorithm against the target storage, mints the
// transfer tokens parts are uploaded under, stages and encrypts part
// bytes, and converts completed uploads into file records through the
// metadata write queue. The queue linearizes every metadata mutation, so
// the conversion is atomic and at most one file record exists per upload
// no matter how often finalize is retried.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/damian-krychowski/plikshare-sub002/internal/logger"
	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
	"github.com/damian-krychowski/plikshare-sub002/pkg/queue"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/registry"
	"github.com/damian-krychowski/plikshare-sub002/pkg/token"
)

// DefaultTokenTTL is how long minted part-upload tokens stay valid.
const DefaultTokenTTL = 6 * time.Hour

// Orchestrator drives uploads from initiation to finalization.
//
// Thread Safety: safe for concurrent use.
type Orchestrator struct {
	store    metadata.Store
	queue    *queue.WriteQueue
	storages *registry.Registry
	tokens   *token.Service
	cipher   *filecrypt.Cipher
	metrics  Metrics
	buffers  *bufferPool
	tokenTTL time.Duration
}

// New creates an upload orchestrator.
//
// A nil metrics selects the no-op implementation.
func New(store metadata.Store, q *queue.WriteQueue, storages *registry.Registry, tokens *token.Service, cipher *filecrypt.Cipher, m Metrics) *Orchestrator {
	if m == nil {
		m = noopMetrics{}
	}
	return &Orchestrator{
		store:    store,
		queue:    q,
		storages: storages,
		tokens:   tokens,
		cipher:   cipher,
		metrics:  m,
		buffers:  newBufferPool(),
		tokenTTL: DefaultTokenTTL,
	}
}

// InitiateRequest describes a new upload.
type InitiateRequest struct {
	WorkspaceID       string
	StorageExternalID string
	Bucket            string
	SizeInBytes       int64
	RequesterID       string
}

// Initiation is the outcome of a successful upload initiation.
type Initiation struct {
	UploadExternalID  string
	FileExternalID    string
	Algorithm         storage.UploadAlgorithm
	ExpectedPartCount int
	PartSize          int64
}

// Initiate fixes an upload's algorithm and part layout against the
// target storage and creates its metadata record.
//
// The layout never changes after this point: part tokens, completion
// checks and finalize all validate against what is decided here.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	client, err := o.storages.Get(req.StorageExternalID)
	if err != nil {
		return nil, err
	}

	resolution, err := client.ResolveUploadAlgorithm(req.SizeInBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload algorithm: %w", err)
	}

	fileExternalID := uuid.NewString()
	key := storage.FileKey{
		ExternalID: fileExternalID,
		SecretPart: client.GenerateFileS3KeySecretPart(),
	}

	encryption := filecrypt.None()
	if client.EncryptionMode() == filecrypt.EncryptionManaged {
		encryption, err = o.cipher.NewEncryption()
		if err != nil {
			return nil, fmt.Errorf("failed to create encryption descriptor: %w", err)
		}
	}

	backendUploadID := ""
	if resolution.Algorithm == storage.MultiStepChunkUpload {
		backendUploadID, err = client.InitiateMultiPartUpload(ctx, req.Bucket, key)
		if err != nil {
			return nil, fmt.Errorf("failed to initiate multipart upload: %w", err)
		}
	}

	fileUpload := &metadata.FileUpload{
		ExternalID:        uuid.NewString(),
		FileExternalID:    fileExternalID,
		WorkspaceID:       req.WorkspaceID,
		StorageExternalID: req.StorageExternalID,
		Bucket:            req.Bucket,
		Key:               key,
		SizeInBytes:       req.SizeInBytes,
		Algorithm:         resolution.Algorithm,
		PartSize:          resolution.PartSize,
		ExpectedPartCount: resolution.PartCount,
		BackendUploadID:   backendUploadID,
		CompletedParts:    make(map[int]string),
		Encryption:        encryption,
		CreatedAt:         time.Now().UTC(),
	}

	err = o.queue.Execute(ctx, "create-upload", func(tx metadata.WriteTx) error {
		return tx.CreateUpload(fileUpload)
	})
	if err != nil {
		// Roll the backend session back so nothing dangles without metadata.
		if backendUploadID != "" {
			if abortErr := client.AbortMultiPartUpload(ctx, req.Bucket, key, backendUploadID); abortErr != nil {
				logger.Warn("Failed to abort backend upload after initiation failure: %v", abortErr)
			}
		}
		return nil, fmt.Errorf("failed to create upload record: %w", err)
	}

	o.metrics.RecordInitiated(string(resolution.Algorithm))

	return &Initiation{
		UploadExternalID:  fileUpload.ExternalID,
		FileExternalID:    fileExternalID,
		Algorithm:         resolution.Algorithm,
		ExpectedPartCount: resolution.PartCount,
		PartSize:          resolution.PartSize,
	}, nil
}

// MintPartUploadLink returns the pre-signed link one part should be
// uploaded through.
func (o *Orchestrator) MintPartUploadLink(ctx context.Context, uploadExternalID string, partNumber int, requesterID string) (*storage.PreSignedUploadLink, error) {
	fileUpload, err := o.store.GetUpload(ctx, uploadExternalID)
	if err != nil {
		return nil, err
	}
	if partNumber < 1 || partNumber > fileUpload.ExpectedPartCount {
		return nil, &metadata.StoreError{
			Code:    metadata.ErrPartNotAllowed,
			Message: fmt.Sprintf("part %d is outside the upload's layout of %d parts", partNumber, fileUpload.ExpectedPartCount),
		}
	}

	client, err := o.storages.Get(fileUpload.StorageExternalID)
	if err != nil {
		return nil, err
	}

	sealed, err := o.tokens.Seal(token.PurposeUpload, time.Now().Add(o.tokenTTL), token.UploadPayload{
		UploadExternalID: uploadExternalID,
		PartNumber:       partNumber,
		RequesterID:      requesterID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seal upload token: %w", err)
	}

	return client.GetPreSignedUploadFilePartLink(ctx, sealed)
}

// CompletePart records the transport tag a backend returned for one
// uploaded part. Used by clients whose upload link required a
// completion callback.
func (o *Orchestrator) CompletePart(ctx context.Context, uploadExternalID string, partNumber int, etag string) error {
	return o.queue.Execute(ctx, "record-completed-part", func(tx metadata.WriteTx) error {
		return tx.RecordCompletedPart(uploadExternalID, partNumber, etag)
	})
}

// Finalize converts a completed upload into a file record.
//
// The conversion is one write-queue operation that re-verifies
// completeness, creates the file record and deletes the upload row in a
// single transaction. Finalize is idempotent: a retry, or the loser of a
// concurrent race, observes the already-created file record and reports
// success.
func (o *Orchestrator) Finalize(ctx context.Context, uploadExternalID string) (*metadata.FileRecord, error) {
	fileUpload, err := o.store.GetUpload(ctx, uploadExternalID)
	if err != nil {
		return nil, err
	}
	if !fileUpload.IsComplete() {
		return nil, &metadata.StoreError{
			Code:    metadata.ErrUploadNotYetCompleted,
			Message: fmt.Sprintf("upload %q has %d of %d parts", uploadExternalID, len(fileUpload.CompletedParts), fileUpload.ExpectedPartCount),
		}
	}

	client, err := o.storages.Get(fileUpload.StorageExternalID)
	if err != nil {
		return nil, err
	}

	// Assemble the object before touching metadata: a file record must
	// never exist for an object the backend has not finished. A raced
	// session (another finalize consumed it) is not decided here; the
	// queued transaction below observes the winner's outcome, because the
	// queue orders it behind the winner's own metadata write.
	var assembleErr error
	if fileUpload.Algorithm == storage.MultiStepChunkUpload {
		parts := make([]storage.CompletedPart, 0, len(fileUpload.CompletedParts))
		for partNumber, etag := range fileUpload.CompletedParts {
			parts = append(parts, storage.CompletedPart{PartNumber: partNumber, ETag: etag})
		}
		if err := client.CompleteMultiPartUpload(ctx, fileUpload.Bucket, fileUpload.Key, fileUpload.BackendUploadID, parts); err != nil {
			assembleErr = fmt.Errorf("failed to complete multipart upload: %w", err)
		}
	}

	var record *metadata.FileRecord
	err = o.queue.Execute(ctx, "finalize-upload", func(tx metadata.WriteTx) error {
		current, err := tx.GetUpload(uploadExternalID)
		if metadata.IsCode(err, metadata.ErrNotFound) {
			// A concurrent finalize already converted the upload; report
			// its file record as this call's own success.
			existing, getErr := tx.GetFile(fileUpload.FileExternalID)
			if getErr != nil {
				if assembleErr != nil {
					return assembleErr
				}
				return err
			}
			record = existing
			return nil
		}
		if err != nil {
			return err
		}
		if !current.IsComplete() {
			return &metadata.StoreError{
				Code:    metadata.ErrUploadNotYetCompleted,
				Message: fmt.Sprintf("upload %q has %d of %d parts", uploadExternalID, len(current.CompletedParts), current.ExpectedPartCount),
			}
		}
		if assembleErr != nil {
			// The session vanished under this call but the upload row is
			// still here: a concurrent finalize completed the assembly
			// and has not committed its metadata yet. The object exists,
			// so converting the upload here keeps both callers succeeding
			// in either commit order. Any other backend failure is real.
			if !errors.Is(assembleErr, storage.ErrUploadSessionNotFound) {
				return assembleErr
			}
		}

		record = current.ToFileRecord(time.Now().UTC())
		if err := tx.CreateFile(record); err != nil {
			return err
		}
		return tx.DeleteUpload(current.ExternalID)
	})
	if err != nil {
		return nil, err
	}

	o.metrics.RecordFinalized()
	return record, nil
}

// Abort cancels an upload: backend parts and sessions are cleaned up and
// the upload row is deleted. Aborting an unknown or already aborted
// upload is a no-op.
func (o *Orchestrator) Abort(ctx context.Context, uploadExternalID string) error {
	fileUpload, err := o.store.GetUpload(ctx, uploadExternalID)
	if metadata.IsCode(err, metadata.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	client, err := o.storages.Get(fileUpload.StorageExternalID)
	if err != nil {
		return err
	}

	if fileUpload.Algorithm == storage.MultiStepChunkUpload && fileUpload.BackendUploadID != "" {
		if err := client.AbortMultiPartUpload(ctx, fileUpload.Bucket, fileUpload.Key, fileUpload.BackendUploadID); err != nil {
			return fmt.Errorf("failed to abort backend upload: %w", err)
		}
	}
	// Direct uploads may already have written the final object.
	if err := client.DeleteFile(ctx, fileUpload.Bucket, fileUpload.Key); err != nil {
		return fmt.Errorf("failed to delete uploaded object: %w", err)
	}

	err = o.queue.Execute(ctx, "abort-upload", func(tx metadata.WriteTx) error {
		err := tx.DeleteUpload(uploadExternalID)
		if metadata.IsCode(err, metadata.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	o.metrics.RecordAborted()
	return nil
}

// expectedPartPlaintextSize returns the plaintext size the upload's
// layout assigns to one part.
func expectedPartPlaintextSize(u *metadata.FileUpload, partNumber int) int64 {
	if u.Algorithm == storage.DirectUpload || u.ExpectedPartCount == 1 {
		return u.SizeInBytes
	}
	if partNumber < u.ExpectedPartCount {
		return u.PartSize
	}
	return u.SizeInBytes - int64(u.ExpectedPartCount-1)*u.PartSize
}
