package reader_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
	"github.com/damian-krychowski/plikshare-sub002/pkg/reader"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/storagetest"
	"github.com/damian-krychowski/plikshare-sub002/pkg/token"
)

// zipFixture builds a fake archive: header junk, then the entry's data
// at a known offset, then trailing junk standing in for the central
// directory.
type zipFixture struct {
	client  *storagetest.Client
	file    *metadata.FileRecord
	entry   token.ZipEntry
	content []byte
}

func newZipFixture(t *testing.T, method uint16, content []byte) *zipFixture {
	t.Helper()

	entryData := content
	if method == 8 {
		var compressed bytes.Buffer
		writer, err := flate.NewWriter(&compressed, flate.DefaultCompression)
		require.NoError(t, err)
		_, err = writer.Write(content)
		require.NoError(t, err)
		require.NoError(t, writer.Close())
		entryData = compressed.Bytes()
	}

	var archive bytes.Buffer
	archive.Write(bytes.Repeat([]byte{0xAA}, 123))
	dataOffset := int64(archive.Len())
	archive.Write(entryData)
	archive.Write(bytes.Repeat([]byte{0xBB}, 57))

	client := storagetest.New(1<<20, 1<<20, filecrypt.EncryptionNone)
	file := storePlain(t, client, archive.Bytes())

	return &zipFixture{
		client: client,
		file:   file,
		entry: token.ZipEntry{
			FileName:              "doc.txt",
			CompressionMethod:     method,
			CompressedSizeInBytes: int64(len(entryData)),
			SizeInBytes:           int64(len(content)),
			DataOffset:            dataOffset,
		},
		content: content,
	}
}

func TestReadZipEntryStored(t *testing.T) {
	content := randomPayload(t, 5000)
	f := newZipFixture(t, 0, content)
	r := reader.New(testCipher(t), nil)

	var out bytes.Buffer
	require.NoError(t, r.ReadZipEntry(context.Background(), f.client, f.file, f.entry, &out))
	assert.Equal(t, content, out.Bytes())
}

func TestReadZipEntryDeflated(t *testing.T) {
	content := bytes.Repeat([]byte("the same line over and over\n"), 300)
	f := newZipFixture(t, 8, content)
	r := reader.New(testCipher(t), nil)

	var out bytes.Buffer
	require.NoError(t, r.ReadZipEntry(context.Background(), f.client, f.file, f.entry, &out))
	assert.Equal(t, content, out.Bytes())
}

func TestReadZipEntryRange(t *testing.T) {
	content := randomPayload(t, 5000)

	for _, method := range []uint16{0, 8} {
		f := newZipFixture(t, method, content)
		r := reader.New(testCipher(t), nil)

		cases := []struct {
			name       string
			start, end int64
		}{
			{"head", 0, 99},
			{"middle", 1000, 3000},
			{"tail", 4999, 4999},
			{"clamped end", 4000, 1 << 30},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				end := min(tc.end, int64(len(content))-1)
				var out bytes.Buffer
				require.NoError(t, r.ReadZipEntryRange(context.Background(), f.client, f.file, f.entry, tc.start, tc.end, &out))
				assert.Equal(t, content[tc.start:end+1], out.Bytes())
			})
		}
	}
}

func TestReadZipEntryRangeRejectsInvalidRanges(t *testing.T) {
	f := newZipFixture(t, 0, randomPayload(t, 100))
	r := reader.New(testCipher(t), nil)

	var out bytes.Buffer
	err := r.ReadZipEntryRange(context.Background(), f.client, f.file, f.entry, 100, 200, &out)
	var invalidRange *reader.InvalidRangeError
	require.ErrorAs(t, err, &invalidRange)
	assert.Equal(t, int64(100), invalidRange.SizeInBytes)
}

func TestReadEmptyZipEntry(t *testing.T) {
	f := newZipFixture(t, 0, nil)
	r := reader.New(testCipher(t), nil)

	var out bytes.Buffer
	require.NoError(t, r.ReadZipEntry(context.Background(), f.client, f.file, f.entry, &out))
	assert.Zero(t, out.Len())
}

func TestReadZipEntryUnsupportedMethod(t *testing.T) {
	f := newZipFixture(t, 0, randomPayload(t, 100))
	f.entry.CompressionMethod = 12

	r := reader.New(testCipher(t), nil)
	var out bytes.Buffer
	err := r.ReadZipEntry(context.Background(), f.client, f.file, f.entry, &out)
	assert.ErrorContains(t, err, "unsupported compression method")
}
