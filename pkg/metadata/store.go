package metadata

import "context"

// Store persists file and upload records.
//
// Reads may run concurrently from any goroutine. Mutations happen only
// inside Update transactions, and the embedded store rejects concurrent
// writers: Update must only ever be called by the write queue's single
// consumer (pkg/queue), never directly by request handlers.
//
// Thread Safety: implementations must be safe for concurrent readers
// alongside the one writer.
type Store interface {
	// GetFile returns a finalized file record by external id.
	// Returns *StoreError with ErrNotFound if it does not exist.
	GetFile(ctx context.Context, externalID string) (*FileRecord, error)

	// GetUpload returns an in-progress upload by external id.
	// Returns *StoreError with ErrNotFound if it does not exist.
	GetUpload(ctx context.Context, externalID string) (*FileUpload, error)

	// Update runs fn inside one read-write transaction. The transaction
	// commits when fn returns nil and rolls back when it returns an
	// error; partial mutations are never visible either way.
	Update(ctx context.Context, fn func(tx WriteTx) error) error

	// Close releases the underlying database.
	Close() error
}

// WriteTx is the mutation surface available inside an Update transaction.
//
// Every method reads and writes through the same transaction, so a
// sequence like "get upload, verify parts, create file, delete upload" is
// atomic: either all of it commits or none of it does.
type WriteTx interface {
	GetFile(externalID string) (*FileRecord, error)
	CreateFile(file *FileRecord) error
	CorrectFileSize(externalID string, sizeInBytes int64) error
	DeleteFile(externalID string) error

	GetUpload(externalID string) (*FileUpload, error)
	CreateUpload(upload *FileUpload) error

	// RecordCompletedPart stores the transport tag of one finished part.
	// Returns ErrPartNotAllowed for part numbers outside the upload's
	// layout or for a re-delivery that disagrees with the recorded tag.
	RecordCompletedPart(uploadExternalID string, partNumber int, etag string) error

	DeleteUpload(externalID string) error
}
