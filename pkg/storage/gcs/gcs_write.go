package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	gstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// PutObject uploads the whole object in one write.
func (c *Client) PutObject(ctx context.Context, bucket string, key storage.FileKey, body io.Reader, sizeInBytes int64) error {
	writer := c.client.Bucket(bucket).Object(key.String()).NewWriter(ctx)
	writer.ChunkSize = partSize

	if _, err := io.Copy(writer, body); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write object %q: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize object %q: %w", key, err)
	}
	return nil
}

// InitiateMultiPartUpload allocates an upload id. Nothing is created on
// the vendor side until the first part object is written.
func (c *Client) InitiateMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

func partObjectName(key storage.FileKey, uploadID string, partNumber int) string {
	return fmt.Sprintf("%s.%s.part%d", key, uploadID, partNumber)
}

func partPrefix(key storage.FileKey, uploadID string) string {
	return fmt.Sprintf("%s.%s.part", key, uploadID)
}

// UploadPart stores one part as its own object and returns its ETag.
func (c *Client) UploadPart(ctx context.Context, bucket string, key storage.FileKey, uploadID string, partNumber int, body io.Reader, sizeInBytes int64) (string, error) {
	writer := c.client.Bucket(bucket).Object(partObjectName(key, uploadID, partNumber)).NewWriter(ctx)

	if _, err := io.Copy(writer, body); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to write part %d of %q: %w", partNumber, key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize part %d of %q: %w", partNumber, key, err)
	}
	return writer.Attrs().Etag, nil
}

// CompleteMultiPartUpload composes the part objects into the final
// object and deletes the parts. Compose accepts at most 32 sources per
// call, so larger uploads are assembled iteratively.
func (c *Client) CompleteMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey, uploadID string, parts []storage.CompletedPart) error {
	if len(parts) == 0 {
		return fmt.Errorf("cannot complete upload of %q without parts", key)
	}

	sorted := make([]storage.CompletedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})

	bkt := c.client.Bucket(bucket)
	dst := bkt.Object(key.String())

	sources := make([]*gstorage.ObjectHandle, 0, len(sorted))
	for _, part := range sorted {
		sources = append(sources, bkt.Object(partObjectName(key, uploadID, part.PartNumber)))
	}

	// First batch composes into the destination, later batches fold the
	// destination back in with up to 31 further parts each.
	batch := sources[:min(len(sources), composeBatchLimit)]
	rest := sources[len(batch):]
	if _, err := dst.ComposerFrom(batch...).Run(ctx); err != nil {
		return composeError(key, err)
	}
	for len(rest) > 0 {
		next := rest[:min(len(rest), composeBatchLimit-1)]
		rest = rest[len(next):]

		composeSources := append([]*gstorage.ObjectHandle{dst}, next...)
		if _, err := dst.ComposerFrom(composeSources...).Run(ctx); err != nil {
			return composeError(key, err)
		}
	}

	for _, source := range sources {
		if err := source.Delete(ctx); err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete part object of %q: %w", key, err)
		}
	}
	return nil
}

// composeError classifies a failed compose: missing part objects mean a
// concurrent completion already consumed (and deleted) them.
func composeError(key storage.FileKey, err error) error {
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return fmt.Errorf("multipart upload for %q: %w", key, storage.ErrUploadSessionNotFound)
	}
	return fmt.Errorf("failed to compose object %q: %w", key, err)
}

// AbortMultiPartUpload deletes any part objects written so far. Aborting
// an upload that never wrote a part is not an error.
func (c *Client) AbortMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey, uploadID string) error {
	bkt := c.client.Bucket(bucket)
	it := bkt.Objects(ctx, &gstorage.Query{Prefix: partPrefix(key, uploadID)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list part objects of %q: %w", key, err)
		}
		if err := bkt.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete part object %q: %w", attrs.Name, err)
		}
	}
}

// DeleteFile removes one object. Missing objects are not an error.
func (c *Client) DeleteFile(ctx context.Context, bucket string, key storage.FileKey) error {
	err := c.client.Bucket(bucket).Object(key.String()).Delete(ctx)
	if err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

// DeleteFiles removes many objects one by one. GCS has no batch delete
// on the JSON API, so failures stop at the first broken key.
func (c *Client) DeleteFiles(ctx context.Context, bucket string, keys []storage.FileKey) error {
	for _, key := range keys {
		if err := c.DeleteFile(ctx, bucket, key); err != nil {
			return err
		}
	}
	return nil
}

// CreateBucketIfDoesntExist provisions the bucket and verifies the
// credentials can reach it.
func (c *Client) CreateBucketIfDoesntExist(ctx context.Context, bucket string) error {
	bkt := c.client.Bucket(bucket)

	_, err := bkt.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gstorage.ErrBucketNotExist) {
		return &storage.ConnectivityError{Storage: c.name, Err: err}
	}

	if err := bkt.Create(ctx, c.projectID, nil); err != nil {
		return &storage.ConnectivityError{Storage: c.name, Err: fmt.Errorf("failed to create bucket %q: %w", bucket, err)}
	}
	return nil
}

// DeleteBucket removes an empty bucket.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	if err := c.client.Bucket(bucket).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete bucket %q: %w", bucket, err)
	}
	return nil
}
