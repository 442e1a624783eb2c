package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// PutObject writes a complete object in one shot (direct upload).
func (c *Client) PutObject(ctx context.Context, bucket string, key storage.FileKey, body io.Reader, sizeInBytes int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key.String()),
		Body:          body,
		ContentLength: aws.Int64(sizeInBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %q: %w", key, err)
	}
	return nil
}

// GetObject streams the whole object.
func (c *Client) GetObject(ctx context.Context, bucket string, key storage.FileKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key.String()),
	})
	if err != nil {
		return nil, mapNotFound(key, err)
	}
	return result.Body, nil
}

// GetObjectRange streams the inclusive byte range [start, end].
func (c *Client) GetObjectRange(ctx context.Context, bucket string, key storage.FileKey, start, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key.String()),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, mapNotFound(key, err)
	}
	return result.Body, nil
}

// DeleteFile removes a single object. Missing objects are not an error.
func (c *Client) DeleteFile(ctx context.Context, bucket string, key storage.FileKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key.String()),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

// DeleteFiles removes a batch of objects with one DeleteObjects call per
// thousand keys (the S3 per-call ceiling).
func (c *Client) DeleteFiles(ctx context.Context, bucket string, keys []storage.FileKey) error {
	const batchLimit = 1000

	for start := 0; start < len(keys); start += batchLimit {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+batchLimit, len(keys))
		identifiers := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			identifiers = append(identifiers, types.ObjectIdentifier{
				Key: aws.String(key.String()),
			})
		}

		_, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{
				Objects: identifiers,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete %d objects: %w", end-start, err)
		}
	}
	return nil
}

// mapNotFound translates the vendor "no such key" into the typed storage
// condition; everything else stays a wrapped unexpected error.
func mapNotFound(key storage.FileKey, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("object %q: %w", key, storage.ErrFileNotFound)
	}
	return fmt.Errorf("failed to get object %q: %w", key, err)
}
