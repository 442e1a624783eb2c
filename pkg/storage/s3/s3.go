// Package s3 implements the storage client for S3-compatible object
// stores: AWS S3 itself plus compatible services (MinIO, Cloudflare R2,
// DigitalOcean Spaces) addressed through a custom endpoint.
package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

const (
	// directUploadThreshold is the file size under which a single-shot
	// direct upload is used instead of multipart.
	directUploadThreshold = 5 * 1024 * 1024

	// partSize is the fixed part size for multi-step chunk uploads.
	// S3 requires every part except the last to be at least 5 MiB.
	partSize = 10 * 1024 * 1024

	// presignExpiry bounds vendor pre-signed download links.
	presignExpiry = 15 * time.Minute
)

// Config describes one S3-compatible storage.
type Config struct {
	// Name is the storage's external identifier, used in errors.
	Name string

	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle addresses buckets as path segments instead of
	// subdomains. Required by MinIO and most self-hosted services.
	UsePathStyle bool

	// AppBaseURL is the public base URL of this application's
	// pre-signed data-plane routes.
	AppBaseURL string

	// Encryption is the mode this storage mandates for its files.
	Encryption filecrypt.EncryptionType
}

// Client is the S3-compatible storage client.
//
// Thread Safety: safe for concurrent use; the AWS SDK client is itself
// concurrency-safe and everything else is read-only after construction.
type Client struct {
	name       string
	client     *s3.Client
	presign    *s3.PresignClient
	appBaseURL string
	encryption filecrypt.EncryptionType
}

var _ storage.Client = (*Client)(nil)

// New builds an S3 storage client from static credentials.
//
// No network call happens here; connectivity is probed separately at
// registration time through CreateBucketIfDoesntExist so that validation
// failures carry the typed connectivity error.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("s3 storage %q: access key and secret are required", cfg.Name)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 storage %q: region is required", cfg.Name)
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion(cfg.Region),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("s3 storage %q: failed to load AWS config: %w", cfg.Name, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	encryption := cfg.Encryption
	if encryption == "" {
		encryption = filecrypt.EncryptionNone
	}

	return &Client{
		name:       cfg.Name,
		client:     client,
		presign:    s3.NewPresignClient(client),
		appBaseURL: cfg.AppBaseURL,
		encryption: encryption,
	}, nil
}

// EncryptionMode reports the encryption this storage mandates.
func (c *Client) EncryptionMode() filecrypt.EncryptionType {
	return c.encryption
}

// ResolveUploadAlgorithm picks direct upload for small files and fixed
// 10 MiB parts otherwise.
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

// GetPreSignedUploadFilePartLink returns the application route carrying
// the sealed token. S3 confirms multipart writes via ETag, so the client
// must report completion through the part-completion callback.
func (c *Client) GetPreSignedUploadFilePartLink(ctx context.Context, token string) (*storage.PreSignedUploadLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &storage.PreSignedUploadLink{
		URL:                        c.appBaseURL + "/api/files/" + token,
		CompletionCallbackRequired: true,
	}, nil
}

// GetPreSignedDownloadFileLink returns a download URL for the object.
//
// Unencrypted files are served straight from the vendor with a real
// pre-signed URL, skipping a full proxy hop through the application.
// Managed-encrypted bytes are useless without the server-side cipher, so
// those always go through the application route.
func (c *Client) GetPreSignedDownloadFileLink(ctx context.Context, bucket string, key storage.FileKey, encryption filecrypt.EncryptionType, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if encryption == filecrypt.EncryptionManaged {
		return c.appBaseURL + "/api/files/" + token, nil
	}

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key.String()),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign download for %q: %w", key, err)
	}
	return req.URL, nil
}
