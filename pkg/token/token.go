// Package token implements the transfer-token protocol: sealed,
// purpose-scoped, time-limited credentials that authorize a single
// client-to-storage transfer without a server round-trip to re-check
// business permissions.
//
// A token is the JSON payload encrypted and authenticated with AES-GCM
// under a key derived (HKDF-SHA256) from the server token secret and the
// token's purpose string. Deriving the key from the purpose means a token
// minted for one purpose fails verification on every other purpose's path,
// even if the raw ciphertext were replayed verbatim.
//
// Tokens are opaque to clients and are never persisted; the payload
// round-trips only through the sealed token string.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Purpose namespaces a token to exactly one transfer operation kind.
type Purpose string

const (
	PurposeUpload                Purpose = "upload"
	PurposeMultiFileDirectUpload Purpose = "multi-file-direct-upload"
	PurposeDownload              Purpose = "download"
	PurposeBulkDownload          Purpose = "bulk-download"
	PurposeZipContentDownload    Purpose = "zip-content-download"
)

// Status is the outcome of token verification. Expected failure modes are
// values, not errors: callers branch on the status and respond with the
// matching typed result.
type Status int

const (
	// StatusValid means the token decrypted, authenticated, deserialized
	// and has not expired.
	StatusValid Status = iota

	// StatusInvalid covers every tamper or misuse condition: wrong
	// purpose, corrupted ciphertext, undecodable payload.
	StatusInvalid

	// StatusExpired means the token was authentic but its expiration
	// timestamp has passed. The caller should request a fresh token.
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusInvalid:
		return "invalid"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

const (
	secretSize = 32
	nonceSize  = 12

	keyDerivationInfoPrefix = "plikshare:transfer-token:"
)

// envelope is the sealed wire form of every token, independent of purpose.
type envelope struct {
	ExpiresAt time.Time       `json:"exp"`
	Payload   json.RawMessage `json:"pld"`
}

// Service mints and verifies transfer tokens.
//
// Thread Safety: safe for concurrent use; all state is read-only after
// construction.
type Service struct {
	secret []byte
}

// NewService creates a token service over the 32-byte server token secret.
func NewService(secret []byte) (*Service, error) {
	if len(secret) != secretSize {
		return nil, fmt.Errorf("token secret has %d bytes, want %d", len(secret), secretSize)
	}
	return &Service{secret: append([]byte(nil), secret...)}, nil
}

// purposeKey derives the AES-256 key for one purpose.
func (s *Service) purposeKey(purpose Purpose) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, s.secret, nil, []byte(keyDerivationInfoPrefix+string(purpose)))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive purpose key: %w", err)
	}
	return key, nil
}

func (s *Service) aead(purpose Purpose) (cipher.AEAD, error) {
	key, err := s.purposeKey(purpose)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal serializes the payload, encrypts it under the purpose-derived key
// and returns the URL-safe token string.
//
// expiresAt is embedded in the sealed envelope and enforced by Open.
func (s *Service) Seal(purpose Purpose, expiresAt time.Time, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize transfer payload: %w", err)
	}
	plaintext, err := json.Marshal(envelope{ExpiresAt: expiresAt, Payload: raw})
	if err != nil {
		return "", fmt.Errorf("failed to serialize token envelope: %w", err)
	}

	aead, err := s.aead(purpose)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open verifies a token against a purpose and, when valid, deserializes
// the payload into out.
//
// Verification order:
//  1. decode + decrypt + authenticate under the purpose key (fail: Invalid)
//  2. expiration timestamp (fail: Expired)
//  3. payload deserialization (fail: Invalid)
//
// Purpose-specific consistency (content type at redemption matching the
// one at issuance, and similar) is the caller's responsibility once the
// payload is in hand.
func (s *Service) Open(purpose Purpose, tokenString string, out any) Status {
	sealed, err := base64.RawURLEncoding.DecodeString(tokenString)
	if err != nil || len(sealed) <= nonceSize {
		return StatusInvalid
	}

	aead, err := s.aead(purpose)
	if err != nil {
		return StatusInvalid
	}

	plaintext, err := aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return StatusInvalid
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return StatusInvalid
	}
	if time.Now().After(env.ExpiresAt) {
		return StatusExpired
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return StatusInvalid
	}
	return StatusValid
}
