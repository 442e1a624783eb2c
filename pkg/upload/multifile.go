package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/damian-krychowski/plikshare-sub002/internal/logger"
	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// MultiFileRequest describes a batched direct upload: many small files
// in one multipart-form body.
type MultiFileRequest struct {
	WorkspaceID       string
	StorageExternalID string
	Bucket            string
	RequesterID       string

	// TotalSizeInBytes is the declared sum of all file sizes. It sizes
	// the staging buffer, so lying about it fails the request.
	TotalSizeInBytes int64

	// FileCount is the declared number of files in the body.
	FileCount int
}

// MultiFileResult names one successfully stored file of a batch.
type MultiFileResult struct {
	FileName         string `json:"fileName"`
	FileExternalID   string `json:"fileExternalId"`
	UploadExternalID string `json:"uploadExternalId"`
}

// stagedFile is one file of a batch after it has been copied into the
// shared staging buffer.
type stagedFile struct {
	name       string
	offset     int64
	size       int64
	reserved   int64
	key        storage.FileKey
	encryption filecrypt.Encryption
	fileID     string
	uploadID   string
	err        error
}

// DirectUploadMany stores every file of a multipart-form body.
//
// The whole body is staged into one pooled buffer sized from the
// declared total (plus encryption overhead when the storage mandates
// it), sliced per file, and the slices are uploaded concurrently. One
// batched metadata write then creates the file records for every file
// whose upload succeeded; failed files are reported in the log and left
// out, so no orphaned metadata survives a partial failure.
func (o *Orchestrator) DirectUploadMany(ctx context.Context, req MultiFileRequest, form *multipart.Reader) ([]MultiFileResult, error) {
	client, err := o.storages.Get(req.StorageExternalID)
	if err != nil {
		return nil, err
	}
	managed := client.EncryptionMode() == filecrypt.EncryptionManaged

	bufSize := req.TotalSizeInBytes
	if managed {
		// Worst-case growth: one tag per full block plus one per file
		// for its trailing partial block.
		blocks := req.TotalSizeInBytes/filecrypt.BlockSize + int64(req.FileCount)
		bufSize += blocks * filecrypt.TagSize
	}
	buf := o.buffers.Get(int(bufSize))
	defer o.buffers.Put(buf)

	staged, err := o.stageFiles(client, req, form, buf, managed)
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	for i := range staged {
		wg.Add(1)
		go func(f *stagedFile) {
			defer wg.Done()
			f.err = o.storeStagedFile(ctx, client, req.Bucket, f, buf, managed)
		}(&staged[i])
	}
	wg.Wait()

	succeeded := make([]*stagedFile, 0, len(staged))
	for i := range staged {
		if staged[i].err != nil {
			logger.Warn("Batched upload of %q failed: %v", staged[i].name, staged[i].err)
			continue
		}
		succeeded = append(succeeded, &staged[i])
	}

	if len(succeeded) > 0 {
		now := time.Now().UTC()
		err = o.queue.Execute(ctx, "finalize-batched-upload", func(tx metadata.WriteTx) error {
			for _, f := range succeeded {
				record := &metadata.FileRecord{
					ExternalID:        f.fileID,
					WorkspaceID:       req.WorkspaceID,
					StorageExternalID: req.StorageExternalID,
					Bucket:            req.Bucket,
					Key:               f.key,
					SizeInBytes:       f.size,
					Encryption:        f.encryption,
					CreatedAt:         now,
				}
				if err := tx.CreateFile(record); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to finalize batched upload: %w", err)
		}
		o.metrics.RecordFinalized()
	}

	results := make([]MultiFileResult, 0, len(succeeded))
	for _, f := range succeeded {
		results = append(results, MultiFileResult{
			FileName:         f.name,
			FileExternalID:   f.fileID,
			UploadExternalID: f.uploadID,
		})
	}
	return results, nil
}

// stageFiles copies every form file into buf sequentially and fixes the
// per-file slice layout. Encrypted batches reserve each file's encrypted
// size so the in-place transform cannot collide with its neighbour.
func (o *Orchestrator) stageFiles(client storage.Client, req MultiFileRequest, form *multipart.Reader, buf []byte, managed bool) ([]stagedFile, error) {
	staged := make([]stagedFile, 0, req.FileCount)

	var cursor, totalRead int64
	for {
		part, err := form.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read multipart body: %w", err)
		}
		if part.FileName() == "" {
			return nil, ErrMissingFileName
		}
		if len(staged) >= req.FileCount {
			return nil, fmt.Errorf("%w: more than %d files", ErrFileCountMismatch, req.FileCount)
		}

		// Read straight into the staging buffer. Allow one byte past the
		// declared total so an oversized body is detected instead of
		// silently truncated; when the buffer has no spare byte for that,
		// a probe read after a full window catches the overrun.
		limit := req.TotalSizeInBytes - totalRead + 1
		window := buf[cursor:]
		if int64(len(window)) > limit {
			window = window[:limit]
		}
		size, err := readInto(window, part)
		if err != nil {
			return nil, fmt.Errorf("failed to stage %q: %w", part.FileName(), err)
		}
		if size >= limit {
			return nil, fmt.Errorf("%w: body continues past the declared total", ErrBodySizeMismatch)
		}
		if size == int64(len(window)) {
			var probe [1]byte
			if _, err := io.ReadFull(part, probe[:]); err == nil {
				return nil, fmt.Errorf("%w: body continues past the declared total", ErrBodySizeMismatch)
			} else if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("failed to stage %q: %w", part.FileName(), err)
			}
		}
		totalRead += size

		resolution, err := client.ResolveUploadAlgorithm(size)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve upload algorithm for %q: %w", part.FileName(), err)
		}
		if resolution.Algorithm != storage.DirectUpload {
			return nil, fmt.Errorf("%w: %q is too large for a batched direct upload", ErrPayloadTooBig, part.FileName())
		}

		encryption := filecrypt.None()
		if managed {
			encryption, err = o.cipher.NewEncryption()
			if err != nil {
				return nil, fmt.Errorf("failed to create encryption descriptor: %w", err)
			}
		}

		fileID := uuid.NewString()
		reserved := size
		if managed {
			reserved = filecrypt.EncryptedSize(size)
		}
		staged = append(staged, stagedFile{
			name:     part.FileName(),
			offset:   cursor,
			size:     size,
			reserved: reserved,
			key: storage.FileKey{
				ExternalID: fileID,
				SecretPart: client.GenerateFileS3KeySecretPart(),
			},
			encryption: encryption,
			fileID:     fileID,
			uploadID:   uuid.NewString(),
		})
		cursor += reserved
	}

	if len(staged) != req.FileCount {
		return nil, fmt.Errorf("%w: declared %d files, got %d", ErrFileCountMismatch, req.FileCount, len(staged))
	}
	if totalRead != req.TotalSizeInBytes {
		return nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrBodySizeMismatch, req.TotalSizeInBytes, totalRead)
	}
	return staged, nil
}

// readInto fills dst from r until dst is full or r is exhausted. Unlike
// a bytes.Buffer copy this never reallocates, so the bytes are
// guaranteed to land inside the caller's staging buffer.
func readInto(dst []byte, r io.Reader) (int64, error) {
	var n int
	for n < len(dst) {
		read, err := r.Read(dst[n:])
		n += read
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return int64(n), err
		}
	}
	return int64(n), nil
}

// storeStagedFile encrypts one staged slice in place if needed and
// writes it to the backend.
func (o *Orchestrator) storeStagedFile(ctx context.Context, client storage.Client, bucket string, f *stagedFile, buf []byte, managed bool) error {
	slice := buf[f.offset : f.offset+f.reserved]

	payload := slice[:f.size]
	if managed {
		n, err := o.cipher.EncryptPartInPlace(f.encryption, 1, slice, int(f.size))
		if err != nil {
			return fmt.Errorf("failed to encrypt %q: %w", f.name, err)
		}
		payload = slice[:n]
	}

	started := time.Now()
	if err := client.PutObject(ctx, bucket, f.key, bytes.NewReader(payload), int64(len(payload))); err != nil {
		return fmt.Errorf("failed to store %q: %w", f.name, err)
	}
	o.metrics.RecordPartUploaded(int64(len(payload)), time.Since(started))
	return nil
}
