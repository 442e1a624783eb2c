// Package filecrypt implements the managed at-rest encryption of file
// bytes: per-part authenticated encryption with deterministic nonce
// derivation.
//
// Design:
// Every managed file gets its own AES-256 key, derived with Argon2id from a
// versioned master key and a random per-file salt. Plaintext is processed in
// fixed-size blocks; every block is sealed with AES-GCM under a nonce that
// is a deterministic function of (per-file nonce prefix, part number, block
// index within the part):
//
//	nonce[12] = prefix[4] || be32(part number) || be32(block index)
//
// This determinism is what allows parts to be encrypted independently and
// out of order (parallel multipart upload), and what allows a byte-range
// read to recompute the exact nonces for the blocks overlapping the
// requested range and decrypt only those blocks.
//
// Nonce uniqueness invariant: part numbers start at 1 and block indices at
// 0, so within one file key no (part, block) pair repeats; across files the
// keys themselves differ (random salt). MaxPartPlaintextSize bounds the
// block index space and keeps buffer-sizing arithmetic safe.
package filecrypt

import (
	"crypto/rand"
	"fmt"
)

// EncryptionType tells whether a file's bytes are stored encrypted.
type EncryptionType string

const (
	// EncryptionNone stores bytes exactly as the client sent them.
	EncryptionNone EncryptionType = "none"

	// EncryptionManaged stores bytes under server-controlled per-file
	// authenticated encryption.
	EncryptionManaged EncryptionType = "managed"
)

const (
	// BlockSize is the plaintext size of one sealed block.
	BlockSize = 64 * 1024

	// TagSize is the GCM authentication tag appended to every block.
	TagSize = 16

	// EncryptedBlockSize is the on-storage size of one full block.
	EncryptedBlockSize = BlockSize + TagSize

	// MaxPartPlaintextSize is the ceiling on a single part's plaintext.
	// Bounds nonce-space usage per part and keeps all buffer-sizing
	// calculations in safe integer range.
	MaxPartPlaintextSize = 1 << 30

	nonceSize       = 12
	noncePrefixSize = 4
	saltSize        = 16
)

// Encryption is the persisted encryption descriptor of a file or upload.
//
// Fixed at file/upload creation; every subsequent read or part-write must
// use exactly this descriptor.
type Encryption struct {
	Type        EncryptionType `json:"type"`
	KeyVersion  uint8          `json:"keyVersion,omitempty"`
	Salt        []byte         `json:"salt,omitempty"`
	NoncePrefix []byte         `json:"noncePrefix,omitempty"`
}

// None returns the descriptor of an unencrypted file.
func None() Encryption {
	return Encryption{Type: EncryptionNone}
}

// EncryptedSize returns the on-storage size of a part whose plaintext is
// plaintextSize bytes: the plaintext plus one tag per (possibly short)
// block.
func EncryptedSize(plaintextSize int64) int64 {
	if plaintextSize <= 0 {
		return 0
	}
	blocks := (plaintextSize + BlockSize - 1) / BlockSize
	return plaintextSize + blocks*TagSize
}

// EncryptedPartSize validates the part geometry and returns the buffer size
// needed to hold the encrypted form of a part. Pure function of the
// plaintext part size and the part number, so callers can pre-size pooled
// buffers before performing the transform.
func EncryptedPartSize(plaintextSize int64, partNumber int) (int64, error) {
	if partNumber < 1 {
		return 0, fmt.Errorf("invalid part number %d: parts are numbered from 1", partNumber)
	}
	if plaintextSize < 0 {
		return 0, fmt.Errorf("invalid plaintext size %d", plaintextSize)
	}
	if plaintextSize > MaxPartPlaintextSize {
		return 0, fmt.Errorf("part plaintext of %d bytes exceeds the %d byte ceiling", plaintextSize, int64(MaxPartPlaintextSize))
	}
	return EncryptedSize(plaintextSize), nil
}

// randomBytes fills a fresh slice from crypto/rand.
func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random source: %w", err)
	}
	return buf, nil
}
