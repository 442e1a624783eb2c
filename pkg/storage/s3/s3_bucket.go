package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// CreateBucketIfDoesntExist ensures the bucket exists.
//
// Failures wrap into *storage.ConnectivityError: this call doubles as the
// connectivity probe run when a storage configuration is registered, so
// bad credentials or endpoints fail fast instead of surfacing at upload
// time.
func (c *Client) CreateBucketIfDoesntExist(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return &storage.ConnectivityError{Storage: c.name, Err: err}
	}

	input := &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}

	// us-east-1 is the one region S3 rejects as an explicit location
	// constraint.
	region := c.client.Options().Region
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	_, err = c.client.CreateBucket(ctx, input)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return &storage.ConnectivityError{Storage: c.name, Err: err}
	}
	return nil
}

// DeleteBucket removes an empty bucket.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to delete bucket %q: %w", bucket, err)
	}
	return nil
}
