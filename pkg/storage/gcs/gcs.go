// Package gcs implements the storage client for Google Cloud Storage.
//
// GCS has no S3-style multipart upload, so the multi-step chunk algorithm
// writes every part as its own object and assembles the final object with
// the compose API on completion.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

const (
	directUploadThreshold = 5 * 1024 * 1024
	partSize              = 10 * 1024 * 1024

	// signedURLExpiry bounds vendor signed download links.
	signedURLExpiry = 15 * time.Minute

	// composeBatchLimit is the GCS ceiling on sources per compose call.
	composeBatchLimit = 32
)

// Config describes one Google Cloud Storage storage.
type Config struct {
	// Name is the storage's external identifier, used in errors.
	Name string

	// ProjectID is the project buckets are created in.
	ProjectID string

	// CredentialsJSON is the service account key file content.
	CredentialsJSON string

	// SigningEmail and SigningPrivateKey produce V4 signed URLs for
	// direct downloads of unencrypted files.
	SigningEmail      string
	SigningPrivateKey string

	// AppBaseURL is the public base URL of this application's
	// pre-signed data-plane routes.
	AppBaseURL string

	// Encryption is the mode this storage mandates for its files.
	Encryption filecrypt.EncryptionType
}

// Client is the Google Cloud Storage client.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	name              string
	projectID         string
	client            *gstorage.Client
	signingEmail      string
	signingPrivateKey []byte
	appBaseURL        string
	encryption        filecrypt.EncryptionType
}

var _ storage.Client = (*Client)(nil)

// New builds a GCS storage client from a service account key.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	client, err := gstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage %q: failed to create client: %w", cfg.Name, err)
	}

	encryption := cfg.Encryption
	if encryption == "" {
		encryption = filecrypt.EncryptionNone
	}

	// Key files carry literal \n sequences; signing needs real newlines.
	privateKey := strings.ReplaceAll(cfg.SigningPrivateKey, `\n`, "\n")

	return &Client{
		name:              cfg.Name,
		projectID:         cfg.ProjectID,
		client:            client,
		signingEmail:      cfg.SigningEmail,
		signingPrivateKey: []byte(privateKey),
		appBaseURL:        cfg.AppBaseURL,
		encryption:        encryption,
	}, nil
}

// EncryptionMode reports the encryption this storage mandates.
func (c *Client) EncryptionMode() filecrypt.EncryptionType {
	return c.encryption
}

// ResolveUploadAlgorithm mirrors the S3 thresholds: direct below 5 MiB,
// fixed 10 MiB parts otherwise.
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

// GetPreSignedUploadFilePartLink returns the application route. Part
// objects carry an ETag that must be recorded, so completion callbacks
// are required like on S3.
func (c *Client) GetPreSignedUploadFilePartLink(ctx context.Context, token string) (*storage.PreSignedUploadLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &storage.PreSignedUploadLink{
		URL:                        c.appBaseURL + "/api/files/" + token,
		CompletionCallbackRequired: true,
	}, nil
}

// GetPreSignedDownloadFileLink returns a V4 signed URL for unencrypted
// files and the application route for managed-encrypted ones.
func (c *Client) GetPreSignedDownloadFileLink(ctx context.Context, bucket string, key storage.FileKey, encryption filecrypt.EncryptionType, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if encryption == filecrypt.EncryptionManaged || c.signingEmail == "" {
		return c.appBaseURL + "/api/files/" + token, nil
	}

	url, err := gstorage.SignedURL(bucket, key.String(), &gstorage.SignedURLOptions{
		Scheme:         gstorage.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(signedURLExpiry),
		GoogleAccessID: c.signingEmail,
		PrivateKey:     c.signingPrivateKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign download URL for %q: %w", key, err)
	}
	return url, nil
}

// GetObject streams the whole object.
func (c *Client) GetObject(ctx context.Context, bucket string, key storage.FileKey) (io.ReadCloser, error) {
	reader, err := c.client.Bucket(bucket).Object(key.String()).NewReader(ctx)
	if err != nil {
		return nil, mapNotFound(key, err)
	}
	return reader, nil
}

// GetObjectRange streams the inclusive byte range [start, end].
func (c *Client) GetObjectRange(ctx context.Context, bucket string, key storage.FileKey, start, end int64) (io.ReadCloser, error) {
	reader, err := c.client.Bucket(bucket).Object(key.String()).NewRangeReader(ctx, start, end-start+1)
	if err != nil {
		return nil, mapNotFound(key, err)
	}
	return reader, nil
}

func mapNotFound(key storage.FileKey, err error) error {
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return fmt.Errorf("object %q: %w", key, storage.ErrFileNotFound)
	}
	return fmt.Errorf("failed to read object %q: %w", key, err)
}
