package upload_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/storagetest"
	"github.com/damian-krychowski/plikshare-sub002/pkg/upload"
)

type formFile struct {
	name string
	data []byte
}

func buildForm(t *testing.T, files []formFile) *multipart.Reader {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	return multipart.NewReader(&body, writer.Boundary())
}

func multiFileRequest(total int64, count int) upload.MultiFileRequest {
	return upload.MultiFileRequest{
		WorkspaceID:       "ws-1",
		StorageExternalID: testStorageID,
		Bucket:            "bucket",
		RequesterID:       "user-1",
		TotalSizeInBytes:  total,
		FileCount:         count,
	}
}

func TestDirectUploadMany(t *testing.T) {
	e := newEnv(t, storagetest.New(4096, 4096, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	files := []formFile{
		{name: "a.txt", data: randomPayload(t, 100)},
		{name: "b.bin", data: randomPayload(t, 500)},
		{name: "c.dat", data: randomPayload(t, 1)},
	}
	form := buildForm(t, files)

	results, err := e.uploads.DirectUploadMany(ctx, multiFileRequest(601, 3), form)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, result := range results {
		assert.Equal(t, files[i].name, result.FileName)
		assert.NotEmpty(t, result.UploadExternalID)

		record, err := e.store.GetFile(ctx, result.FileExternalID)
		require.NoError(t, err)
		assert.Equal(t, int64(len(files[i].data)), record.SizeInBytes)

		stored, ok := e.client.Object("bucket", record.Key)
		require.True(t, ok)
		assert.Equal(t, files[i].data, stored)
	}
}

func TestDirectUploadManyEncrypted(t *testing.T) {
	e := newEnv(t, storagetest.New(4096, 4096, filecrypt.EncryptionManaged), nil)
	ctx := context.Background()

	files := []formFile{
		{name: "a.txt", data: randomPayload(t, 300)},
		{name: "b.bin", data: randomPayload(t, 700)},
	}
	form := buildForm(t, files)

	results, err := e.uploads.DirectUploadMany(ctx, multiFileRequest(1000, 2), form)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, result := range results {
		record, err := e.store.GetFile(ctx, result.FileExternalID)
		require.NoError(t, err)
		assert.Equal(t, filecrypt.EncryptionManaged, record.Encryption.Type)

		stored, ok := e.client.Object("bucket", record.Key)
		require.True(t, ok)
		assert.Equal(t, filecrypt.EncryptedSize(record.SizeInBytes), int64(len(stored)))

		plaintext, err := e.cipher.DecryptPart(record.Encryption, 1, stored)
		require.NoError(t, err)
		assert.Equal(t, files[i].data, plaintext)
	}
}

func TestDirectUploadManyStagesSmallFilesIntoReusedBuffer(t *testing.T) {
	// Files well under the staging buffer's granularity, run twice so the
	// second batch stages into a recycled pooled buffer that still holds
	// the first batch's bytes. Every stored object must match what was
	// sent, byte for byte.
	e := newEnv(t, storagetest.New(4096, 4096, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	for round := 0; round < 2; round++ {
		files := []formFile{
			{name: "small.txt", data: randomPayload(t, 100)},
			{name: "tail.bin", data: randomPayload(t, 37)},
		}

		results, err := e.uploads.DirectUploadMany(ctx, multiFileRequest(137, 2), buildForm(t, files))
		require.NoError(t, err)
		require.Len(t, results, 2)

		for i, result := range results {
			record, err := e.store.GetFile(ctx, result.FileExternalID)
			require.NoError(t, err)

			stored, ok := e.client.Object("bucket", record.Key)
			require.True(t, ok)
			assert.Equal(t, files[i].data, stored, "round %d, file %q", round, files[i].name)
		}
	}
}

func TestDirectUploadManyRejectsCountMismatch(t *testing.T) {
	e := newEnv(t, storagetest.New(4096, 4096, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	files := []formFile{
		{name: "a.txt", data: randomPayload(t, 100)},
		{name: "b.bin", data: randomPayload(t, 100)},
	}

	_, err := e.uploads.DirectUploadMany(ctx, multiFileRequest(200, 3), buildForm(t, files))
	assert.ErrorIs(t, err, upload.ErrFileCountMismatch)

	_, err = e.uploads.DirectUploadMany(ctx, multiFileRequest(200, 1), buildForm(t, files))
	assert.ErrorIs(t, err, upload.ErrFileCountMismatch)
}

func TestDirectUploadManyRejectsSizeMismatch(t *testing.T) {
	e := newEnv(t, storagetest.New(4096, 4096, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	files := []formFile{
		{name: "a.txt", data: randomPayload(t, 100)},
		{name: "b.bin", data: randomPayload(t, 100)},
	}

	// Declared total larger than the body.
	_, err := e.uploads.DirectUploadMany(ctx, multiFileRequest(300, 2), buildForm(t, files))
	assert.ErrorIs(t, err, upload.ErrBodySizeMismatch)

	// Declared total smaller than the body.
	_, err = e.uploads.DirectUploadMany(ctx, multiFileRequest(150, 2), buildForm(t, files))
	assert.ErrorIs(t, err, upload.ErrBodySizeMismatch)
}

func TestDirectUploadManyRejectsMissingFileName(t *testing.T) {
	e := newEnv(t, storagetest.New(4096, 4096, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	field, err := writer.CreateFormField("files")
	require.NoError(t, err)
	_, err = field.Write([]byte("no file name"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	form := multipart.NewReader(&body, writer.Boundary())
	_, err = e.uploads.DirectUploadMany(ctx, multiFileRequest(12, 1), form)
	assert.ErrorIs(t, err, upload.ErrMissingFileName)
}

func TestDirectUploadManyRejectsOversizedFile(t *testing.T) {
	// Threshold of 256 bytes: a 500 byte file cannot go through the
	// batched direct path.
	e := newEnv(t, storagetest.New(256, 256, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	files := []formFile{{name: "big.bin", data: randomPayload(t, 500)}}
	_, err := e.uploads.DirectUploadMany(ctx, multiFileRequest(500, 1), buildForm(t, files))
	assert.ErrorIs(t, err, upload.ErrPayloadTooBig)
}
