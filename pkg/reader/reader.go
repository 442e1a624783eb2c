// Package reader streams file bytes from a storage backend to an output
// sink, transparently decrypting managed-encrypted files.
//
// Because block nonces are a deterministic function of part number and
// block index, a ranged read fetches only the encrypted blocks that
// overlap the requested plaintext range and decrypts exactly those, no
// matter where in the file the range lands.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// InvalidRangeError reports a range that does not overlap the file.
// HTTP handlers translate it into 416 with the file's size.
type InvalidRangeError struct {
	SizeInBytes int64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("requested range is not satisfiable for size %d", e.SizeInBytes)
}

// Reader streams plaintext file bytes.
//
// Thread Safety: safe for concurrent use.
type Reader struct {
	cipher  *filecrypt.Cipher
	metrics Metrics
}

// New creates a file reader. A nil metrics selects the no-op
// implementation.
func New(cipher *filecrypt.Cipher, m Metrics) *Reader {
	if m == nil {
		m = noopMetrics{}
	}
	return &Reader{cipher: cipher, metrics: m}
}

// ReadFull streams the whole file to output.
func (r *Reader) ReadFull(ctx context.Context, client storage.Client, file *metadata.FileRecord, output io.Writer) error {
	if file.SizeInBytes == 0 {
		return nil
	}
	return r.read(ctx, client, file, 0, file.SizeInBytes-1, output)
}

// ReadRange streams the inclusive plaintext byte range [start, end] to
// output. A range that does not overlap the file returns
// *InvalidRangeError without touching the backend.
func (r *Reader) ReadRange(ctx context.Context, client storage.Client, file *metadata.FileRecord, start, end int64, output io.Writer) error {
	if start < 0 || end < start || start >= file.SizeInBytes {
		r.metrics.RecordInvalidRange()
		return &InvalidRangeError{SizeInBytes: file.SizeInBytes}
	}
	if end >= file.SizeInBytes {
		end = file.SizeInBytes - 1
	}
	return r.read(ctx, client, file, start, end, output)
}

func (r *Reader) read(ctx context.Context, client storage.Client, file *metadata.FileRecord, start, end int64, output io.Writer) error {
	started := time.Now()

	var err error
	if file.Encryption.Type == filecrypt.EncryptionManaged {
		err = r.readEncrypted(ctx, client, file, start, end, output)
	} else {
		err = r.readPlain(ctx, client, file, start, end, output)
	}

	// A peer that walks away mid-transfer abandoned the bytes on
	// purpose; the stream completes silently.
	if isClientDisconnect(err) {
		err = nil
	}
	if err != nil {
		return err
	}

	r.metrics.RecordDownload(end-start+1, time.Since(started))
	return nil
}

func (r *Reader) readPlain(ctx context.Context, client storage.Client, file *metadata.FileRecord, start, end int64, output io.Writer) error {
	var (
		body io.ReadCloser
		err  error
	)
	if start == 0 && end == file.SizeInBytes-1 {
		body, err = client.GetObject(ctx, file.Bucket, file.Key)
	} else {
		body, err = client.GetObjectRange(ctx, file.Bucket, file.Key, start, end)
	}
	if err != nil {
		return err
	}
	defer body.Close()

	if _, err := io.Copy(output, body); err != nil {
		return fmt.Errorf("failed to stream object %q: %w", file.Key, err)
	}
	return nil
}

// readEncrypted fetches and decrypts exactly the blocks overlapping the
// requested plaintext range, part by part.
func (r *Reader) readEncrypted(ctx context.Context, client storage.Client, file *metadata.FileRecord, start, end int64, output io.Writer) error {
	decrypter, err := r.cipher.NewDecrypter(file.Encryption)
	if err != nil {
		return err
	}

	// The stored layout is the one the upload used, which is a pure
	// function of the file size on a given backend.
	resolution, err := client.ResolveUploadAlgorithm(file.SizeInBytes)
	if err != nil {
		return err
	}
	partSize := resolution.PartSize
	encryptedFullPartSize := filecrypt.EncryptedSize(partSize)

	sealed := make([]byte, filecrypt.EncryptedBlockSize)

	for partIndex := start / partSize; partIndex <= end/partSize; partIndex++ {
		partPlainStart := partIndex * partSize
		partPlainLen := min(partSize, file.SizeInBytes-partPlainStart)

		localStart := max(start-partPlainStart, 0)
		localEnd := min(end-partPlainStart, partPlainLen-1)
		firstBlock := localStart / filecrypt.BlockSize
		lastBlock := localEnd / filecrypt.BlockSize

		// Needed blocks are contiguous within the part, so one ranged
		// backend read covers them all.
		encStart := partIndex*encryptedFullPartSize + firstBlock*filecrypt.EncryptedBlockSize
		var encLen int64
		for block := firstBlock; block <= lastBlock; block++ {
			encLen += blockPlaintextLen(partPlainLen, block) + filecrypt.TagSize
		}

		body, err := client.GetObjectRange(ctx, file.Bucket, file.Key, encStart, encStart+encLen-1)
		if err != nil {
			return err
		}

		err = r.decryptBlocks(decrypter, body, output, int(partIndex)+1, partPlainLen, localStart, localEnd, firstBlock, lastBlock, sealed)
		body.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) decryptBlocks(decrypter *filecrypt.Decrypter, body io.Reader, output io.Writer, partNumber int, partPlainLen, localStart, localEnd, firstBlock, lastBlock int64, sealed []byte) error {
	for block := firstBlock; block <= lastBlock; block++ {
		plainLen := blockPlaintextLen(partPlainLen, block)
		chunk := sealed[:plainLen+filecrypt.TagSize]
		if _, err := io.ReadFull(body, chunk); err != nil {
			return fmt.Errorf("failed to read encrypted block %d of part %d: %w", block, partNumber, err)
		}

		plain, err := decrypter.OpenBlock(partNumber, int(block), chunk)
		if err != nil {
			// Tag mismatch is fatal for the stream: no partial or
			// garbled plaintext ever reaches the client.
			return fmt.Errorf("failed to decrypt block %d of part %d: %w", block, partNumber, err)
		}

		from := max(localStart-block*filecrypt.BlockSize, 0)
		to := min(localEnd-block*filecrypt.BlockSize, plainLen-1)
		if _, err := output.Write(plain[from : to+1]); err != nil {
			return err
		}
	}
	return nil
}

// blockPlaintextLen returns the plaintext length of one block inside a
// part of the given plaintext length.
func blockPlaintextLen(partPlainLen, blockIndex int64) int64 {
	return min(filecrypt.BlockSize, partPlainLen-blockIndex*filecrypt.BlockSize)
}

// isClientDisconnect reports whether err is the peer abandoning the
// transfer rather than a real failure.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
