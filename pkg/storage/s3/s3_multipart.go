// Multipart upload operations for the S3 storage client. Parts are
// uploaded independently (in any order, possibly in parallel) and
// assembled by the completion call; part state lives in metadata, not in
// this process, so any instance can complete an upload another started.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// InitiateMultiPartUpload starts a multipart session and returns the
// backend upload identifier.
func (c *Client) InitiateMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	result, err := c.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key.String()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload for %q: %w", key, err)
	}
	return aws.ToString(result.UploadId), nil
}

// UploadPart writes one part and returns the ETag the backend assigned.
// Part numbers must be in the 1-10000 range S3 allows.
func (c *Client) UploadPart(ctx context.Context, bucket string, key storage.FileKey, uploadID string, partNumber int, body io.Reader, sizeInBytes int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	result, err := c.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key.String()),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          body,
		ContentLength: aws.Int64(sizeInBytes),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d of %q: %w", partNumber, key, err)
	}
	return aws.ToString(result.ETag), nil
}

// CompleteMultiPartUpload assembles the uploaded parts into the final
// object. Parts are sorted by part number as S3 requires.
func (c *Client) CompleteMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey, uploadID string, parts []storage.CompletedPart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.PartNumber)),
		})
	}
	sort.Slice(completed, func(i, j int) bool {
		return *completed[i].PartNumber < *completed[j].PartNumber
	})

	_, err := c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key.String()),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if errors.As(err, &noSuchUpload) {
			return fmt.Errorf("multipart upload for %q: %w", key, storage.ErrUploadSessionNotFound)
		}
		return fmt.Errorf("failed to complete multipart upload for %q: %w", key, err)
	}
	return nil
}

// AbortMultiPartUpload cancels an in-progress multipart upload and
// discards parts already written. Idempotent: aborting an unknown or
// already-aborted session succeeds.
func (c *Client) AbortMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key.String()),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if !errors.As(err, &noSuchUpload) {
			return fmt.Errorf("failed to abort multipart upload for %q: %w", key, err)
		}
	}
	return nil
}
