package fs_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/fs"
)

const testBucket = "workspace-1"

func newClient(t *testing.T) *fs.Client {
	t.Helper()

	client, err := fs.New(fs.Config{
		Name:       "st-local",
		Path:       t.TempDir(),
		AppBaseURL: "http://localhost:8080",
		Encryption: filecrypt.EncryptionNone,
	})
	require.NoError(t, err)
	require.NoError(t, client.CreateBucketIfDoesntExist(context.Background(), testBucket))
	return client
}

func testKey() storage.FileKey {
	return storage.FileKey{ExternalID: "fi-1", SecretPart: storage.GenerateSecretPart()}
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	payload := make([]byte, n)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	return payload
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestNewRequiresPath(t *testing.T) {
	_, err := fs.New(fs.Config{Name: "st-local"})
	assert.ErrorContains(t, err, "path is required")
}

func TestPutAndGetObject(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	key := testKey()
	payload := randomPayload(t, 4096)

	require.NoError(t, client.PutObject(ctx, testBucket, key, bytes.NewReader(payload), int64(len(payload))))

	rc, err := client.GetObject(ctx, testBucket, key)
	require.NoError(t, err)
	assert.Equal(t, payload, readAll(t, rc))
}

func TestGetObjectRange(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	key := testKey()
	payload := randomPayload(t, 1000)

	require.NoError(t, client.PutObject(ctx, testBucket, key, bytes.NewReader(payload), int64(len(payload))))

	rc, err := client.GetObjectRange(ctx, testBucket, key, 100, 199)
	require.NoError(t, err)
	assert.Equal(t, payload[100:200], readAll(t, rc))
}

func TestGetMissingObject(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	_, err := client.GetObject(ctx, testBucket, testKey())
	assert.ErrorIs(t, err, storage.ErrFileNotFound)

	_, err = client.GetObjectRange(ctx, testBucket, testKey(), 0, 10)
	assert.ErrorIs(t, err, storage.ErrFileNotFound)
}

func TestPutObjectLeavesNoTempFileBehind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	client, err := fs.New(fs.Config{Name: "st-local", Path: dir, AppBaseURL: "http://localhost:8080"})
	require.NoError(t, err)
	require.NoError(t, client.CreateBucketIfDoesntExist(ctx, testBucket))
	key := testKey()

	require.NoError(t, client.PutObject(ctx, testBucket, key, bytes.NewReader([]byte("data")), 4))

	entries, err := os.ReadDir(filepath.Join(dir, testBucket))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, key.String(), entries[0].Name())
}

func TestResolveUploadAlgorithm(t *testing.T) {
	client := newClient(t)

	direct, err := client.ResolveUploadAlgorithm(16 * 1024 * 1024)
	require.NoError(t, err)
	assert.Equal(t, storage.DirectUpload, direct.Algorithm)
	assert.Equal(t, 1, direct.PartCount)

	chunked, err := client.ResolveUploadAlgorithm(40 * 1024 * 1024)
	require.NoError(t, err)
	assert.Equal(t, storage.MultiStepChunkUpload, chunked.Algorithm)
	assert.Equal(t, 3, chunked.PartCount)
	assert.Equal(t, int64(16*1024*1024), chunked.PartSize)

	_, err = client.ResolveUploadAlgorithm(-1)
	assert.Error(t, err)
}

func TestMultiPartUploadAssemblesParts(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	key := testKey()

	partOne := randomPayload(t, 300)
	partTwo := randomPayload(t, 200)

	uploadID, err := client.InitiateMultiPartUpload(ctx, testBucket, key)
	require.NoError(t, err)

	// Upload out of order; completion sorts by part number.
	tagTwo, err := client.UploadPart(ctx, testBucket, key, uploadID, 2, bytes.NewReader(partTwo), int64(len(partTwo)))
	require.NoError(t, err)
	tagOne, err := client.UploadPart(ctx, testBucket, key, uploadID, 1, bytes.NewReader(partOne), int64(len(partOne)))
	require.NoError(t, err)

	err = client.CompleteMultiPartUpload(ctx, testBucket, key, uploadID, []storage.CompletedPart{
		{PartNumber: 2, ETag: tagTwo},
		{PartNumber: 1, ETag: tagOne},
	})
	require.NoError(t, err)

	rc, err := client.GetObject(ctx, testBucket, key)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, partOne...), partTwo...), readAll(t, rc))
}

func TestUploadPartTagIsContentDigest(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	key := testKey()
	payload := randomPayload(t, 100)

	uploadID, err := client.InitiateMultiPartUpload(ctx, testBucket, key)
	require.NoError(t, err)

	first, err := client.UploadPart(ctx, testBucket, key, uploadID, 1, bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	second, err := client.UploadPart(ctx, testBucket, key, uploadID, 1, bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAbortMultiPartUploadRemovesParts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	client, err := fs.New(fs.Config{Name: "st-local", Path: dir, AppBaseURL: "http://localhost:8080"})
	require.NoError(t, err)
	require.NoError(t, client.CreateBucketIfDoesntExist(ctx, testBucket))
	key := testKey()

	uploadID, err := client.InitiateMultiPartUpload(ctx, testBucket, key)
	require.NoError(t, err)
	_, err = client.UploadPart(ctx, testBucket, key, uploadID, 1, bytes.NewReader([]byte("part")), 4)
	require.NoError(t, err)

	require.NoError(t, client.AbortMultiPartUpload(ctx, testBucket, key, uploadID))

	entries, err := os.ReadDir(filepath.Join(dir, testBucket))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Aborting again is a no-op.
	require.NoError(t, client.AbortMultiPartUpload(ctx, testBucket, key, uploadID))
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	key := testKey()

	require.NoError(t, client.PutObject(ctx, testBucket, key, bytes.NewReader([]byte("data")), 4))
	require.NoError(t, client.DeleteFile(ctx, testBucket, key))

	_, err := client.GetObject(ctx, testBucket, key)
	assert.ErrorIs(t, err, storage.ErrFileNotFound)

	// Deleting a missing object is not an error.
	require.NoError(t, client.DeleteFile(ctx, testBucket, key))
}

func TestDeleteFiles(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	keys := []storage.FileKey{testKey(), testKey(), testKey()}

	for _, key := range keys {
		require.NoError(t, client.PutObject(ctx, testBucket, key, bytes.NewReader([]byte("x")), 1))
	}
	require.NoError(t, client.DeleteFiles(ctx, testBucket, keys))

	for _, key := range keys {
		_, err := client.GetObject(ctx, testBucket, key)
		assert.ErrorIs(t, err, storage.ErrFileNotFound)
	}
}

func TestPreSignedLinksUseApplicationRoutes(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	upload, err := client.GetPreSignedUploadFilePartLink(ctx, "tok-upload")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/files/tok-upload", upload.URL)
	assert.False(t, upload.CompletionCallbackRequired)

	download, err := client.GetPreSignedDownloadFileLink(ctx, testBucket, testKey(), filecrypt.EncryptionNone, "tok-download")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/files/tok-download", download)
}
