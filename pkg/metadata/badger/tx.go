package badger

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
)

const (
	filePrefix   = "f:"
	uploadPrefix = "u:"
)

func keyFile(externalID string) []byte {
	return []byte(filePrefix + externalID)
}

func keyUpload(externalID string) []byte {
	return []byte(uploadPrefix + externalID)
}

// writeTx adapts a badger transaction to metadata.WriteTx.
type writeTx struct {
	txn *badger.Txn
}

func getFile(txn *badger.Txn, externalID string) (*metadata.FileRecord, error) {
	item, err := txn.Get(keyFile(externalID))
	if err == badger.ErrKeyNotFound {
		return nil, &metadata.StoreError{
			Code:    metadata.ErrNotFound,
			Message: fmt.Sprintf("file %q not found", externalID),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", externalID, err)
	}

	var file metadata.FileRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &file)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode file %q: %w", externalID, err)
	}
	return &file, nil
}

func getUpload(txn *badger.Txn, externalID string) (*metadata.FileUpload, error) {
	item, err := txn.Get(keyUpload(externalID))
	if err == badger.ErrKeyNotFound {
		return nil, &metadata.StoreError{
			Code:    metadata.ErrNotFound,
			Message: fmt.Sprintf("upload %q not found", externalID),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %q: %w", externalID, err)
	}

	var upload metadata.FileUpload
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &upload)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode upload %q: %w", externalID, err)
	}
	if upload.CompletedParts == nil {
		upload.CompletedParts = make(map[int]string)
	}
	return &upload, nil
}

func (tx *writeTx) GetFile(externalID string) (*metadata.FileRecord, error) {
	return getFile(tx.txn, externalID)
}

func (tx *writeTx) CreateFile(file *metadata.FileRecord) error {
	key := keyFile(file.ExternalID)

	if _, err := tx.txn.Get(key); err == nil {
		return &metadata.StoreError{
			Code:    metadata.ErrAlreadyExists,
			Message: fmt.Sprintf("file %q already exists", file.ExternalID),
		}
	} else if err != badger.ErrKeyNotFound {
		return fmt.Errorf("failed to check file %q: %w", file.ExternalID, err)
	}

	return tx.set(key, file)
}

func (tx *writeTx) CorrectFileSize(externalID string, sizeInBytes int64) error {
	file, err := getFile(tx.txn, externalID)
	if err != nil {
		return err
	}
	file.SizeInBytes = sizeInBytes
	return tx.set(keyFile(externalID), file)
}

func (tx *writeTx) DeleteFile(externalID string) error {
	if _, err := getFile(tx.txn, externalID); err != nil {
		return err
	}
	if err := tx.txn.Delete(keyFile(externalID)); err != nil {
		return fmt.Errorf("failed to delete file %q: %w", externalID, err)
	}
	return nil
}

func (tx *writeTx) GetUpload(externalID string) (*metadata.FileUpload, error) {
	return getUpload(tx.txn, externalID)
}

func (tx *writeTx) CreateUpload(upload *metadata.FileUpload) error {
	key := keyUpload(upload.ExternalID)

	if _, err := tx.txn.Get(key); err == nil {
		return &metadata.StoreError{
			Code:    metadata.ErrAlreadyExists,
			Message: fmt.Sprintf("upload %q already exists", upload.ExternalID),
		}
	} else if err != badger.ErrKeyNotFound {
		return fmt.Errorf("failed to check upload %q: %w", upload.ExternalID, err)
	}

	return tx.set(key, upload)
}

func (tx *writeTx) RecordCompletedPart(uploadExternalID string, partNumber int, etag string) error {
	upload, err := getUpload(tx.txn, uploadExternalID)
	if err != nil {
		return err
	}

	if partNumber < 1 || partNumber > upload.ExpectedPartCount {
		return &metadata.StoreError{
			Code: metadata.ErrPartNotAllowed,
			Message: fmt.Sprintf("part %d is outside upload %q layout of %d parts",
				partNumber, uploadExternalID, upload.ExpectedPartCount),
		}
	}

	// A re-delivered completion with the same tag is idempotent; a
	// different tag for an already recorded part means two distinct
	// writes raced for one part number.
	if recorded, ok := upload.CompletedParts[partNumber]; ok && recorded != etag {
		return &metadata.StoreError{
			Code: metadata.ErrPartNotAllowed,
			Message: fmt.Sprintf("part %d of upload %q was already completed with a different tag",
				partNumber, uploadExternalID),
		}
	}

	upload.CompletedParts[partNumber] = etag
	return tx.set(keyUpload(uploadExternalID), upload)
}

func (tx *writeTx) DeleteUpload(externalID string) error {
	if _, err := getUpload(tx.txn, externalID); err != nil {
		return err
	}
	if err := tx.txn.Delete(keyUpload(externalID)); err != nil {
		return fmt.Errorf("failed to delete upload %q: %w", externalID, err)
	}
	return nil
}

// set JSON-encodes a record and writes it at key.
func (tx *writeTx) set(key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode record for key %q: %w", key, err)
	}
	if err := tx.txn.Set(key, raw); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}
