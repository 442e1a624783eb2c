package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// TransferPart stages one part body, encrypts it when the upload's
// storage mandates managed encryption, writes it to the backend and
// records its completion.
//
// declaredSize is the plaintext size the client announced. A body that
// ends early or keeps going past it fails with ErrBodySizeMismatch and
// nothing is recorded.
func (o *Orchestrator) TransferPart(ctx context.Context, uploadExternalID string, partNumber int, body io.Reader, declaredSize int64) (string, error) {
	fileUpload, err := o.store.GetUpload(ctx, uploadExternalID)
	if err != nil {
		return "", err
	}
	if partNumber < 1 || partNumber > fileUpload.ExpectedPartCount {
		return "", &metadata.StoreError{
			Code:    metadata.ErrPartNotAllowed,
			Message: fmt.Sprintf("part %d is outside the upload's layout of %d parts", partNumber, fileUpload.ExpectedPartCount),
		}
	}
	if declaredSize != expectedPartPlaintextSize(fileUpload, partNumber) {
		return "", fmt.Errorf("%w: part %d expects %d bytes, got %d declared",
			ErrBodySizeMismatch, partNumber, expectedPartPlaintextSize(fileUpload, partNumber), declaredSize)
	}
	if declaredSize > filecrypt.MaxPartPlaintextSize {
		return "", ErrPayloadTooBig
	}

	client, err := o.storages.Get(fileUpload.StorageExternalID)
	if err != nil {
		return "", err
	}

	managed := fileUpload.Encryption.Type == filecrypt.EncryptionManaged

	bufSize := declaredSize
	if managed {
		bufSize = filecrypt.EncryptedSize(declaredSize)
	}
	buf := o.buffers.Get(int(bufSize))
	defer o.buffers.Put(buf)

	if err := readExact(body, buf[:declaredSize]); err != nil {
		return "", err
	}

	payload := buf[:declaredSize]
	if managed {
		n, err := o.cipher.EncryptPartInPlace(fileUpload.Encryption, partNumber, buf, int(declaredSize))
		if err != nil {
			return "", fmt.Errorf("failed to encrypt part %d: %w", partNumber, err)
		}
		payload = buf[:n]
	}

	started := time.Now()
	etag := ""
	if fileUpload.Algorithm == storage.DirectUpload {
		err = client.PutObject(ctx, fileUpload.Bucket, fileUpload.Key, bytes.NewReader(payload), int64(len(payload)))
	} else {
		etag, err = client.UploadPart(ctx, fileUpload.Bucket, fileUpload.Key, fileUpload.BackendUploadID, partNumber, bytes.NewReader(payload), int64(len(payload)))
	}
	if err != nil {
		return "", fmt.Errorf("failed to write part %d: %w", partNumber, err)
	}

	if err := o.CompletePart(ctx, uploadExternalID, partNumber, etag); err != nil {
		return "", err
	}

	o.metrics.RecordPartUploaded(int64(len(payload)), time.Since(started))
	return etag, nil
}

// readExact fills dst from body and verifies the body carries not a
// single byte more.
func readExact(body io.Reader, dst []byte) error {
	if _, err := io.ReadFull(body, dst); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return fmt.Errorf("%w: body ended early", ErrBodySizeMismatch)
		}
		return fmt.Errorf("failed to read request body: %w", err)
	}

	var probe [1]byte
	if n, _ := body.Read(probe[:]); n > 0 {
		return fmt.Errorf("%w: body continues past the declared size", ErrBodySizeMismatch)
	}
	return nil
}
