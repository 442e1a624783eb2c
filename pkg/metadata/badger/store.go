// Package badger implements metadata.Store using BadgerDB for persistence.
//
// BadgerDB gives the data-plane an embedded transactional store: file and
// upload records survive restarts, and every mutation happens inside one
// ACID transaction. The store itself does not serialize writers; that is
// the write queue's job (pkg/queue). Concurrent readers are always safe.
//
// Key Namespace:
//
//	Data Type     Prefix   Key Format        Value Type
//	=====================================================
//	File records  "f:"     f:<externalId>    FileRecord (JSON)
//	File uploads  "u:"     u:<externalId>    FileUpload (JSON)
//
// JSON values keep the database debuggable (badger's CLI can dump readable
// records) and tolerate schema evolution; record volume is metadata-scale,
// so the size overhead over binary encoding does not matter.
package badger

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/damian-krychowski/plikshare-sub002/internal/logger"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
)

// Store is the BadgerDB-backed metadata store.
type Store struct {
	db *badger.DB
}

// Options configures the badger store.
type Options struct {
	// Path is the database directory. Created if missing.
	Path string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool
}

// New opens (or creates) the database at the configured path.
func New(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithInMemory(opts.InMemory)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Info("Metadata store opened (path=%q, in-memory=%v)", opts.Path, opts.InMemory)

	return &Store{db: db}, nil
}

// Close releases the database. Pending writes are flushed first.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}
	return nil
}

// GetFile returns a finalized file record by external id.
func (s *Store) GetFile(ctx context.Context, externalID string) (*metadata.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var file *metadata.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		file, err = getFile(txn, externalID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// GetUpload returns an in-progress upload by external id.
func (s *Store) GetUpload(ctx context.Context, externalID string) (*metadata.FileUpload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var upload *metadata.FileUpload
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		upload, err = getUpload(txn, externalID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return upload, nil
}

// Update runs fn inside one read-write transaction.
//
// Badger commits the transaction when fn returns nil and discards it on
// error, so fn's mutations are all-or-nothing. Must only be called from
// the write queue's consumer.
func (s *Store) Update(ctx context.Context, fn func(tx metadata.WriteTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&writeTx{txn: txn})
	})
}
