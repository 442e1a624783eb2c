// Package fs implements the storage client for local hard-drive storage.
//
// Buckets are directories under the configured base path and objects are
// plain files named by their storage key. Direct writes land through a
// temp-file rename so a crashed upload never leaves a half-written object
// under the final name.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

const (
	// directUploadThreshold is generous for local disks: there is no
	// network hop to parallelize away, so only genuinely large files
	// are worth chunking.
	directUploadThreshold = 16 * 1024 * 1024

	partSize = 16 * 1024 * 1024
)

// Config describes one local filesystem storage.
type Config struct {
	// Name is the storage's external identifier, used in errors.
	Name string

	// Path is the base directory holding every bucket.
	Path string

	// AppBaseURL is the public base URL of this application's
	// pre-signed data-plane routes.
	AppBaseURL string

	// Encryption is the mode this storage mandates for its files.
	Encryption filecrypt.EncryptionType
}

// Client is the local filesystem storage client.
//
// Thread Safety: safe for concurrent use as long as no two writers target
// the same object key, which upload orchestration guarantees (keys carry
// a random secret suffix and parts have distinct names).
type Client struct {
	name       string
	basePath   string
	appBaseURL string
	encryption filecrypt.EncryptionType
}

var _ storage.Client = (*Client)(nil)

// New creates the base directory if needed and returns the client.
func New(cfg Config) (*Client, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("fs storage %q: path is required", cfg.Name)
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, &storage.ConnectivityError{Storage: cfg.Name, Err: err}
	}

	encryption := cfg.Encryption
	if encryption == "" {
		encryption = filecrypt.EncryptionNone
	}

	return &Client{
		name:       cfg.Name,
		basePath:   cfg.Path,
		appBaseURL: cfg.AppBaseURL,
		encryption: encryption,
	}, nil
}

// EncryptionMode reports the encryption this storage mandates.
func (c *Client) EncryptionMode() filecrypt.EncryptionType {
	return c.encryption
}

func (c *Client) bucketPath(bucket string) string {
	return filepath.Join(c.basePath, bucket)
}

func (c *Client) objectPath(bucket string, key storage.FileKey) string {
	return filepath.Join(c.basePath, bucket, key.String())
}

// ResolveUploadAlgorithm picks direct upload below 16 MiB and fixed
// 16 MiB parts otherwise.
func (c *Client) ResolveUploadAlgorithm(fileSizeInBytes int64) (storage.UploadAlgorithmResolution, error) {
	if fileSizeInBytes < 0 {
		return storage.UploadAlgorithmResolution{}, fmt.Errorf("negative file size %d", fileSizeInBytes)
	}

	if fileSizeInBytes <= directUploadThreshold {
		return storage.UploadAlgorithmResolution{
			Algorithm: storage.DirectUpload,
			PartCount: 1,
			PartSize:  fileSizeInBytes,
		}, nil
	}

	partCount := int((fileSizeInBytes + partSize - 1) / partSize)
	return storage.UploadAlgorithmResolution{
		Algorithm: storage.MultiStepChunkUpload,
		PartCount: partCount,
		PartSize:  partSize,
	}, nil
}

// GenerateFileS3KeySecretPart returns a fresh random key suffix.
func (c *Client) GenerateFileS3KeySecretPart() string {
	return storage.GenerateSecretPart()
}

// GetPreSignedUploadFilePartLink returns the application route. Local
// writes are confirmed synchronously, so no completion callback is needed.
func (c *Client) GetPreSignedUploadFilePartLink(ctx context.Context, token string) (*storage.PreSignedUploadLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &storage.PreSignedUploadLink{
		URL:                        c.appBaseURL + "/api/files/" + token,
		CompletionCallbackRequired: false,
	}, nil
}

// GetPreSignedDownloadFileLink returns the application route; local disk
// has no vendor link to hand out.
func (c *Client) GetPreSignedDownloadFileLink(ctx context.Context, bucket string, key storage.FileKey, encryption filecrypt.EncryptionType, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.appBaseURL + "/api/files/" + token, nil
}

// GetObject streams the whole object.
func (c *Client) GetObject(ctx context.Context, bucket string, key storage.FileKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(c.objectPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %q: %w", key, storage.ErrFileNotFound)
		}
		return nil, fmt.Errorf("failed to open object %q: %w", key, err)
	}
	return file, nil
}

// GetObjectRange streams the inclusive byte range [start, end].
func (c *Client) GetObjectRange(ctx context.Context, bucket string, key storage.FileKey, start, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(c.objectPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %q: %w", key, storage.ErrFileNotFound)
		}
		return nil, fmt.Errorf("failed to open object %q: %w", key, err)
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to seek object %q to %d: %w", key, start, err)
	}

	return &limitedReadCloser{
		Reader: io.LimitReader(file, end-start+1),
		closer: file,
	}, nil
}

type limitedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (l *limitedReadCloser) Close() error {
	return l.closer.Close()
}

// DeleteFile removes a single object. Missing objects are not an error.
func (c *Client) DeleteFile(ctx context.Context, bucket string, key storage.FileKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(c.objectPath(bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

// DeleteFiles removes a batch of objects one by one; local disks have no
// bulk delete to exploit.
func (c *Client) DeleteFiles(ctx context.Context, bucket string, keys []storage.FileKey) error {
	for _, key := range keys {
		if err := c.DeleteFile(ctx, bucket, key); err != nil {
			return err
		}
	}
	return nil
}

// CreateBucketIfDoesntExist creates the bucket directory.
func (c *Client) CreateBucketIfDoesntExist(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(c.bucketPath(bucket), 0o755); err != nil {
		return &storage.ConnectivityError{Storage: c.name, Err: err}
	}
	return nil
}

// DeleteBucket removes an empty bucket directory.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(c.bucketPath(bucket)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete bucket %q: %w", bucket, err)
	}
	return nil
}
