package upload_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
	metadatabadger "github.com/damian-krychowski/plikshare-sub002/pkg/metadata/badger"
	"github.com/damian-krychowski/plikshare-sub002/pkg/queue"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/registry"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage/storagetest"
	"github.com/damian-krychowski/plikshare-sub002/pkg/token"
	"github.com/damian-krychowski/plikshare-sub002/pkg/upload"
)

const testStorageID = "st-1"

type env struct {
	store   metadata.Store
	queue   *queue.WriteQueue
	client  *storagetest.Client
	cipher  *filecrypt.Cipher
	uploads *upload.Orchestrator
}

// newEnv wires an orchestrator over in-memory metadata and the in-memory
// storage fake. wrap, when not nil, intercepts the store the orchestrator
// sees; the queue always writes through the real one.
func newEnv(t *testing.T, client *storagetest.Client, wrap func(metadata.Store) metadata.Store) *env {
	t.Helper()

	store, err := metadatabadger.New(metadatabadger.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q := queue.New(store, 0)
	t.Cleanup(q.Close)

	secret := make([]byte, 32)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	tokens, err := token.NewService(secret)
	require.NoError(t, err)

	masterKey := make([]byte, 32)
	_, err = rand.Read(masterKey)
	require.NoError(t, err)
	masterKeys, err := filecrypt.NewMasterKeys(1, map[uint8][]byte{1: masterKey})
	require.NoError(t, err)
	cipher := filecrypt.New(masterKeys)

	storages := registry.New()
	require.NoError(t, storages.Register(testStorageID, client))

	orchestratorStore := metadata.Store(store)
	if wrap != nil {
		orchestratorStore = wrap(store)
	}

	return &env{
		store:   store,
		queue:   q,
		client:  client,
		cipher:  cipher,
		uploads: upload.New(orchestratorStore, q, storages, tokens, cipher, nil),
	}
}

func initiateRequest(size int64) upload.InitiateRequest {
	return upload.InitiateRequest{
		WorkspaceID:       "ws-1",
		StorageExternalID: testStorageID,
		Bucket:            "bucket",
		SizeInBytes:       size,
		RequesterID:       "user-1",
	}
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func TestDirectUploadLifecycle(t *testing.T) {
	e := newEnv(t, storagetest.New(4096, 4096, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	initiation, err := e.uploads.Initiate(ctx, initiateRequest(1000))
	require.NoError(t, err)
	assert.Equal(t, storage.DirectUpload, initiation.Algorithm)
	assert.Equal(t, 1, initiation.ExpectedPartCount)

	payload := randomPayload(t, 1000)
	etag, err := e.uploads.TransferPart(ctx, initiation.UploadExternalID, 1, bytes.NewReader(payload), 1000)
	require.NoError(t, err)
	assert.Empty(t, etag)

	record, err := e.uploads.Finalize(ctx, initiation.UploadExternalID)
	require.NoError(t, err)
	assert.Equal(t, initiation.FileExternalID, record.ExternalID)
	assert.Equal(t, int64(1000), record.SizeInBytes)

	stored, ok := e.client.Object("bucket", record.Key)
	require.True(t, ok)
	assert.Equal(t, payload, stored)

	// The upload row is consumed by finalization.
	_, err = e.store.GetUpload(ctx, initiation.UploadExternalID)
	assert.True(t, metadata.IsCode(err, metadata.ErrNotFound))

	got, err := e.store.GetFile(ctx, record.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, record.Key, got.Key)
}

func TestMultiStepUploadOutOfOrder(t *testing.T) {
	e := newEnv(t, storagetest.New(256, 256, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	payload := randomPayload(t, 1200)
	initiation, err := e.uploads.Initiate(ctx, initiateRequest(1200))
	require.NoError(t, err)
	assert.Equal(t, storage.MultiStepChunkUpload, initiation.Algorithm)
	assert.Equal(t, 5, initiation.ExpectedPartCount)
	assert.Equal(t, int64(256), initiation.PartSize)

	partBody := func(partNumber int) []byte {
		start := int64(partNumber-1) * 256
		end := start + 256
		if end > 1200 {
			end = 1200
		}
		return payload[start:end]
	}

	for _, partNumber := range []int{5, 3, 1, 4} {
		body := partBody(partNumber)
		etag, err := e.uploads.TransferPart(ctx, initiation.UploadExternalID, partNumber, bytes.NewReader(body), int64(len(body)))
		require.NoError(t, err)
		assert.NotEmpty(t, etag)
	}

	// Part 2 is still missing.
	_, err = e.uploads.Finalize(ctx, initiation.UploadExternalID)
	assert.True(t, metadata.IsCode(err, metadata.ErrUploadNotYetCompleted))

	body := partBody(2)
	_, err = e.uploads.TransferPart(ctx, initiation.UploadExternalID, 2, bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)

	record, err := e.uploads.Finalize(ctx, initiation.UploadExternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), record.SizeInBytes)

	stored, ok := e.client.Object("bucket", record.Key)
	require.True(t, ok)
	assert.Equal(t, payload, stored)
}

func TestTransferPartRejectsBadSizes(t *testing.T) {
	e := newEnv(t, storagetest.New(4096, 4096, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	initiation, err := e.uploads.Initiate(ctx, initiateRequest(100))
	require.NoError(t, err)

	// Declared size disagrees with the layout.
	_, err = e.uploads.TransferPart(ctx, initiation.UploadExternalID, 1, bytes.NewReader(make([]byte, 50)), 50)
	assert.ErrorIs(t, err, upload.ErrBodySizeMismatch)

	// Body ends before the declared size.
	_, err = e.uploads.TransferPart(ctx, initiation.UploadExternalID, 1, bytes.NewReader(make([]byte, 50)), 100)
	assert.ErrorIs(t, err, upload.ErrBodySizeMismatch)

	// Body keeps going past the declared size.
	_, err = e.uploads.TransferPart(ctx, initiation.UploadExternalID, 1, bytes.NewReader(make([]byte, 200)), 100)
	assert.ErrorIs(t, err, upload.ErrBodySizeMismatch)

	// Part number outside the layout.
	_, err = e.uploads.TransferPart(ctx, initiation.UploadExternalID, 2, bytes.NewReader(make([]byte, 100)), 100)
	assert.True(t, metadata.IsCode(err, metadata.ErrPartNotAllowed))

	// Nothing was recorded for any of the failed attempts.
	fileUpload, err := e.store.GetUpload(ctx, initiation.UploadExternalID)
	require.NoError(t, err)
	assert.Empty(t, fileUpload.CompletedParts)
}

func TestManagedEncryptionEncryptsAtRest(t *testing.T) {
	e := newEnv(t, storagetest.New(4096, 4096, filecrypt.EncryptionManaged), nil)
	ctx := context.Background()

	payload := randomPayload(t, 1000)
	initiation, err := e.uploads.Initiate(ctx, initiateRequest(1000))
	require.NoError(t, err)

	_, err = e.uploads.TransferPart(ctx, initiation.UploadExternalID, 1, bytes.NewReader(payload), 1000)
	require.NoError(t, err)

	record, err := e.uploads.Finalize(ctx, initiation.UploadExternalID)
	require.NoError(t, err)
	assert.Equal(t, filecrypt.EncryptionManaged, record.Encryption.Type)

	stored, ok := e.client.Object("bucket", record.Key)
	require.True(t, ok)
	assert.Equal(t, filecrypt.EncryptedSize(1000), int64(len(stored)))
	assert.NotEqual(t, payload, stored[:1000])

	plaintext, err := e.cipher.DecryptPart(record.Encryption, 1, stored)
	require.NoError(t, err)
	assert.Equal(t, payload, plaintext)
}

// barrierStore, once armed, releases GetUpload only after two callers
// have arrived. Two finalize attempts are thereby guaranteed to pass the
// completeness pre-check before either reaches the write queue.
type barrierStore struct {
	metadata.Store
	mu      sync.Mutex
	armed   bool
	arrived int
	release chan struct{}
}

func (s *barrierStore) arm() {
	s.mu.Lock()
	s.armed = true
	s.release = make(chan struct{})
	s.mu.Unlock()
}

func (s *barrierStore) GetUpload(ctx context.Context, externalID string) (*metadata.FileUpload, error) {
	s.mu.Lock()
	if !s.armed {
		s.mu.Unlock()
		return s.Store.GetUpload(ctx, externalID)
	}
	s.arrived++
	if s.arrived == 2 {
		s.armed = false
		close(s.release)
	}
	release := s.release
	s.mu.Unlock()
	<-release
	return s.Store.GetUpload(ctx, externalID)
}

func TestConcurrentFinalizeCreatesOneFileRecord(t *testing.T) {
	var barrier *barrierStore
	e := newEnv(t, storagetest.New(4096, 4096, filecrypt.EncryptionNone), func(s metadata.Store) metadata.Store {
		barrier = &barrierStore{Store: s}
		return barrier
	})
	ctx := context.Background()

	initiation, err := e.uploads.Initiate(ctx, initiateRequest(100))
	require.NoError(t, err)

	_, err = e.uploads.TransferPart(ctx, initiation.UploadExternalID, 1, bytes.NewReader(make([]byte, 100)), 100)
	require.NoError(t, err)

	barrier.arm()

	records := make([]*metadata.FileRecord, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = e.uploads.Finalize(ctx, initiation.UploadExternalID)
		}(i)
	}
	wg.Wait()

	// Both callers report success with the same file record.
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, records[0].ExternalID, records[1].ExternalID)

	_, err = e.store.GetFile(ctx, initiation.FileExternalID)
	assert.NoError(t, err)
}

func TestConcurrentFinalizeMultiStepUpload(t *testing.T) {
	var barrier *barrierStore
	e := newEnv(t, storagetest.New(256, 256, filecrypt.EncryptionNone), func(s metadata.Store) metadata.Store {
		barrier = &barrierStore{Store: s}
		return barrier
	})
	ctx := context.Background()

	payload := randomPayload(t, 700)
	initiation, err := e.uploads.Initiate(ctx, initiateRequest(700))
	require.NoError(t, err)
	require.Equal(t, storage.MultiStepChunkUpload, initiation.Algorithm)

	for partNumber := 1; partNumber <= initiation.ExpectedPartCount; partNumber++ {
		start := int64(partNumber-1) * 256
		end := start + 256
		if end > 700 {
			end = 700
		}
		body := payload[start:end]
		_, err = e.uploads.TransferPart(ctx, initiation.UploadExternalID, partNumber, bytes.NewReader(body), int64(len(body)))
		require.NoError(t, err)
	}

	barrier.arm()

	// Both callers pass the completeness pre-check, then race the backend
	// assembly. Whichever loses finds the backend session already consumed
	// and must still report the same finalized file.
	records := make([]*metadata.FileRecord, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = e.uploads.Finalize(ctx, initiation.UploadExternalID)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, records[0].ExternalID, records[1].ExternalID)

	stored, ok := e.client.Object("bucket", records[0].Key)
	require.True(t, ok)
	assert.Equal(t, payload, stored)

	_, err = e.store.GetUpload(ctx, initiation.UploadExternalID)
	assert.True(t, metadata.IsCode(err, metadata.ErrNotFound))
}

func TestAbort(t *testing.T) {
	e := newEnv(t, storagetest.New(256, 256, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	initiation, err := e.uploads.Initiate(ctx, initiateRequest(1000))
	require.NoError(t, err)

	fileUpload, err := e.store.GetUpload(ctx, initiation.UploadExternalID)
	require.NoError(t, err)
	backendID := fileUpload.BackendUploadID
	require.NotEmpty(t, backendID)

	body := make([]byte, 256)
	_, err = e.uploads.TransferPart(ctx, initiation.UploadExternalID, 1, bytes.NewReader(body), 256)
	require.NoError(t, err)

	require.NoError(t, e.uploads.Abort(ctx, initiation.UploadExternalID))
	assert.True(t, e.client.Aborted(backendID))

	_, err = e.store.GetUpload(ctx, initiation.UploadExternalID)
	assert.True(t, metadata.IsCode(err, metadata.ErrNotFound))

	// Aborting an unknown upload is a no-op.
	assert.NoError(t, e.uploads.Abort(ctx, initiation.UploadExternalID))
}

func TestMintPartUploadLink(t *testing.T) {
	e := newEnv(t, storagetest.New(256, 256, filecrypt.EncryptionNone), nil)
	ctx := context.Background()

	initiation, err := e.uploads.Initiate(ctx, initiateRequest(1000))
	require.NoError(t, err)

	link, err := e.uploads.MintPartUploadLink(ctx, initiation.UploadExternalID, 2, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, link.URL)
	assert.True(t, link.CompletionCallbackRequired)

	for _, partNumber := range []int{0, initiation.ExpectedPartCount + 1} {
		_, err = e.uploads.MintPartUploadLink(ctx, initiation.UploadExternalID, partNumber, "user-1")
		assert.True(t, metadata.IsCode(err, metadata.ErrPartNotAllowed), "part %d", partNumber)
	}
}
