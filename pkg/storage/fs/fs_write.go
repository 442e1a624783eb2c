// Write operations for the filesystem storage client: direct puts and the
// multi-step chunk upload (part files assembled on completion).
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/damian-krychowski/plikshare-sub002/pkg/storage"
)

// PutObject writes a complete object through a temp file and a rename.
func (c *Client) PutObject(ctx context.Context, bucket string, key storage.FileKey, body io.Reader, sizeInBytes int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	finalPath := c.objectPath(bucket, key)
	tempPath := finalPath + ".tmp"

	if err := writeFileFrom(tempPath, body); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write object %q: %w", key, err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to finalize object %q: %w", key, err)
	}
	return nil
}

// InitiateMultiPartUpload mints a session identifier. Part files are
// namespaced by it, so two racing uploads to one key never mix parts.
func (c *Client) InitiateMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

func (c *Client) partPath(bucket string, key storage.FileKey, uploadID string, partNumber int) string {
	return c.objectPath(bucket, key) + fmt.Sprintf(".%s.part%d", uploadID, partNumber)
}

// UploadPart writes one part file and returns its content digest as the
// transport tag. The digest makes completion re-delivery detectable: the
// same bytes re-sent produce the same tag.
func (c *Client) UploadPart(ctx context.Context, bucket string, key storage.FileKey, uploadID string, partNumber int, body io.Reader, sizeInBytes int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	partPath := c.partPath(bucket, key, uploadID, partNumber)

	digest := sha256.New()
	if err := writeFileFrom(partPath, io.TeeReader(body, digest)); err != nil {
		_ = os.Remove(partPath)
		return "", fmt.Errorf("failed to write part %d of %q: %w", partNumber, key, err)
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// CompleteMultiPartUpload concatenates the part files in part-number
// order into the final object, then removes them.
func (c *Client) CompleteMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey, uploadID string, parts []storage.CompletedPart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ordered := make([]storage.CompletedPart, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].PartNumber < ordered[j].PartNumber
	})

	finalPath := c.objectPath(bucket, key)
	tempPath := finalPath + ".assembling"

	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create object %q: %w", key, err)
	}

	for _, part := range ordered {
		if err := ctx.Err(); err != nil {
			_ = out.Close()
			_ = os.Remove(tempPath)
			return err
		}
		if err := appendPart(out, c.partPath(bucket, key, uploadID, part.PartNumber)); err != nil {
			_ = out.Close()
			_ = os.Remove(tempPath)
			if os.IsNotExist(err) {
				// Parts are removed when the session completes or aborts.
				return fmt.Errorf("part %d of %q: %w", part.PartNumber, key, storage.ErrUploadSessionNotFound)
			}
			return fmt.Errorf("failed to assemble part %d of %q: %w", part.PartNumber, key, err)
		}
	}

	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to sync object %q: %w", key, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close object %q: %w", key, err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to finalize object %q: %w", key, err)
	}

	for _, part := range ordered {
		_ = os.Remove(c.partPath(bucket, key, uploadID, part.PartNumber))
	}
	return nil
}

// AbortMultiPartUpload removes every part file of the session. Idempotent.
func (c *Client) AbortMultiPartUpload(ctx context.Context, bucket string, key storage.FileKey, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pattern := c.objectPath(bucket, key) + fmt.Sprintf(".%s.part*", uploadID)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("failed to list parts of %q: %w", key, err)
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove part file %q: %w", match, err)
		}
	}
	return nil
}

func writeFileFrom(path string, body io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func appendPart(out *os.File, partPath string) error {
	in, err := os.Open(partPath)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	_, err = io.Copy(out, in)
	return err
}
