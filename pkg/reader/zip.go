package reader

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
	"github.com/damian-krychowski/plikshare-sub002/pkg/token"
)

// Zip compression methods as recorded in local file headers.
const (
	zipMethodStore   = 0
	zipMethodDeflate = 8
)

// ReadZipEntry streams the uncompressed content of one entry of a
// stored zip archive to output.
//
// The entry's data offset and compressed size come from the transfer
// token, so only the entry's own bytes are ever fetched from the
// backend, never the whole archive.
func (r *Reader) ReadZipEntry(ctx context.Context, client storage.Client, file *metadata.FileRecord, entry token.ZipEntry, output io.Writer) error {
	if entry.SizeInBytes == 0 {
		return nil
	}
	return r.readZipEntryRange(ctx, client, file, entry, 0, entry.SizeInBytes-1, output)
}

// ReadZipEntryRange streams the inclusive range [start, end] of the
// entry's uncompressed content. Ranges are validated against the
// entry's uncompressed size, not the archive's.
func (r *Reader) ReadZipEntryRange(ctx context.Context, client storage.Client, file *metadata.FileRecord, entry token.ZipEntry, start, end int64, output io.Writer) error {
	if start < 0 || end < start || start >= entry.SizeInBytes {
		r.metrics.RecordInvalidRange()
		return &InvalidRangeError{SizeInBytes: entry.SizeInBytes}
	}
	if end >= entry.SizeInBytes {
		end = entry.SizeInBytes - 1
	}
	return r.readZipEntryRange(ctx, client, file, entry, start, end, output)
}

func (r *Reader) readZipEntryRange(ctx context.Context, client storage.Client, file *metadata.FileRecord, entry token.ZipEntry, start, end int64, output io.Writer) error {
	dataStart := entry.DataOffset
	dataEnd := dataStart + entry.CompressedSizeInBytes - 1

	switch entry.CompressionMethod {
	case zipMethodStore:
		// Stored entries map byte for byte onto the archive.
		return r.ReadRange(ctx, client, file, dataStart+start, dataStart+end, output)

	case zipMethodDeflate:
		pipeReader, pipeWriter := io.Pipe()
		go func() {
			pipeWriter.CloseWithError(r.ReadRange(ctx, client, file, dataStart, dataEnd, pipeWriter))
		}()
		// Closing the read end unblocks the producer when the consumer
		// stops before the entry's compressed bytes are exhausted.
		defer pipeReader.Close()

		inflater := flate.NewReader(pipeReader)
		defer inflater.Close()

		if start > 0 {
			if _, err := io.CopyN(io.Discard, inflater, start); err != nil {
				return fmt.Errorf("failed to skip to offset %d of zip entry %q: %w", start, entry.FileName, err)
			}
		}
		if _, err := io.CopyN(output, inflater, end-start+1); err != nil {
			if isClientDisconnect(err) {
				return nil
			}
			return fmt.Errorf("failed to inflate zip entry %q: %w", entry.FileName, err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported compression method %d for zip entry %q", entry.CompressionMethod, entry.FileName)
	}
}
