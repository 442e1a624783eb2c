// Package storagetest provides an in-memory storage.Client for tests.
//
// The client keeps objects in a map and exposes the thresholds that
// drive upload algorithm resolution as fields, so tests can exercise
// multi-step uploads with tiny part sizes.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// Client is an in-memory storage.Client.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	// DirectThreshold is the largest size handled as a direct upload.
	DirectThreshold int64

	// PartSize is the fixed part size for multi-step uploads.
	PartSize int64

	// Encryption is the mode the fake storage mandates.
	Encryption filecrypt.EncryptionType

	mu      sync.Mutex
	objects map[string][]byte
	parts   map[string]map[int][]byte
	aborted map[string]bool
}

var _ storage.Client = (*Client)(nil)

// New creates an empty in-memory client with the given thresholds.
func New(directThreshold, partSize int64, encryption filecrypt.EncryptionType) *Client {
	return &Client{
		DirectThreshold: directThreshold,
		PartSize:        partSize,
		Encryption:      encryption,
		objects:         make(map[string][]byte),
		parts:           make(map[string]map[int][]byte),
		aborted:         make(map[string]bool),
	}
}

// Object returns a stored object's raw bytes and whether it exists.
func (c *Client) Object(bucket string, key storage.FileKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[bucket+"/"+key.String()]
	return data, ok
}

// Aborted reports whether the given backend upload id was aborted.
func (c *Client) Aborted(uploadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted[uploadID]
}

func (c *Client) EncryptionMode() filecrypt.EncryptionType {
	if c.Encryption == "" {
		return filecrypt.EncryptionNone
	}
	return c.Encryption
}

func (c *Client) ResolveUploadAlgorithm(fileSizeInBytes int64) (storage.UploadAlgorithmResolution, error) {
	if fileSizeInBytes < 0 {
		return storage.UploadAlgorithmResolution{}, fmt.Errorf("negative file size %d", fileSizeInBytes)
	}
	if fileSizeInBytes <= c.DirectThreshold {
		return storage.UploadAlgorithmResolution{
			Algorithm: storage.DirectUpload,
			PartCount: 1,
			PartSize:  fileSizeInBytes,
		}, nil
	}
	partCount := int((fileSizeInBytes + c.PartSize - 1) / c.PartSize)
	return storage.UploadAlgorithmResolution{
		Algorithm: storage.MultiStepChunkUpload,
		PartCount: partCount,
		PartSize:  c.PartSize,
	}, nil
}

func (c *Client) GenerateFileS3KeySecretPart() string {
	return storage.GenerateSecretPart()
}

func (c *Client) GetPreSignedUploadFilePartLink(ctx context.Context, token string) (*storage.PreSignedUploadLink, error) {
	return &storage.PreSignedUploadLink{
		URL:                        "http://storagetest.local/api/files/" + token,
		CompletionCallbackRequired: true,
	}, nil
}

func (c *Client) GetPreSignedDownloadFileLink(ctx context.Context, bucket string, key storage.FileKey, encryption filecrypt.EncryptionType, token string) (string, error) {
	return "http://storagetest.local/api/files/" + token, nil
}

func (c *Client) PutObject(ctx context.Context, bucket string, key storage.FileKey, body io.Reader, sizeInBytes int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[bucket+"/"+key.String()] = data
	return nil
}

func (c *Client) InitiateMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey) (string, error) {
	uploadID := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parts[uploadID] = make(map[int][]byte)
	return uploadID, nil
}

func (c *Client) UploadPart(ctx context.Context, bucket string, key storage.FileKey, uploadID string, partNumber int, body io.Reader, sizeInBytes int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.parts[uploadID]
	if !ok {
		return "", fmt.Errorf("upload %q: %w", uploadID, storage.ErrUploadSessionNotFound)
	}
	session[partNumber] = data
	return fmt.Sprintf("etag-%d", partNumber), nil
}

func (c *Client) CompleteMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey, uploadID string, parts []storage.CompletedPart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.parts[uploadID]
	if !ok {
		return fmt.Errorf("upload %q: %w", uploadID, storage.ErrUploadSessionNotFound)
	}

	sorted := make([]storage.CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	var assembled bytes.Buffer
	for _, part := range sorted {
		data, ok := session[part.PartNumber]
		if !ok {
			return fmt.Errorf("part %d was never uploaded", part.PartNumber)
		}
		assembled.Write(data)
	}

	c.objects[bucket+"/"+key.String()] = assembled.Bytes()
	delete(c.parts, uploadID)
	return nil
}

func (c *Client) AbortMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey, uploadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.parts, uploadID)
	c.aborted[uploadID] = true
	return nil
}

func (c *Client) GetObject(ctx context.Context, bucket string, key storage.FileKey) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[bucket+"/"+key.String()]
	if !ok {
		return nil, fmt.Errorf("object %q: %w", key, storage.ErrFileNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *Client) GetObjectRange(ctx context.Context, bucket string, key storage.FileKey, start, end int64) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[bucket+"/"+key.String()]
	if !ok {
		return nil, fmt.Errorf("object %q: %w", key, storage.ErrFileNotFound)
	}
	if start < 0 || start >= int64(len(data)) {
		return nil, fmt.Errorf("range [%d, %d] out of bounds for %d bytes", start, end, len(data))
	}
	if end >= int64(len(data)) {
		end = int64(len(data)) - 1
	}
	return io.NopCloser(bytes.NewReader(data[start : end+1])), nil
}

func (c *Client) DeleteFile(ctx context.Context, bucket string, key storage.FileKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, bucket+"/"+key.String())
	return nil
}

func (c *Client) DeleteFiles(ctx context.Context, bucket string, keys []storage.FileKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.objects, bucket+"/"+key.String())
	}
	return nil
}

func (c *Client) CreateBucketIfDoesntExist(ctx context.Context, bucket string) error {
	return nil
}

func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	return nil
}
