package storage

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// secretPartBytes is the entropy of the random secret suffix. 16 bytes
// keeps the suffix unguessable while staying short enough for object names.
const secretPartBytes = 16

// FileKey is the physical object name of a file in a backend: the file's
// external identifier joined with a random secret part.
//
// The secret part exists so that knowing a file's external id (which leaks
// through URLs and API responses) is never enough to address the object in
// the backend directly.
type FileKey struct {
	ExternalID string
	SecretPart string
}

// String returns the external string form "{fileExternalId}_{secretPart}"
// used as the object name in every backend.
func (k FileKey) String() string {
	return k.ExternalID + "_" + k.SecretPart
}

// ParseFileKey decodes the external string form back into a FileKey.
func ParseFileKey(s string) (FileKey, error) {
	externalID, secretPart, found := strings.Cut(s, "_")
	if !found || externalID == "" || secretPart == "" {
		return FileKey{}, fmt.Errorf("malformed file key %q", s)
	}
	return FileKey{ExternalID: externalID, SecretPart: secretPart}, nil
}

// GenerateSecretPart returns a fresh random secret suffix from crypto/rand.
//
// Panics if the system randomness source fails: continuing with a guessable
// key would silently break the addressing scheme's security.
func GenerateSecretPart() string {
	buf := make([]byte, secretPartBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("storage: cannot read random source: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
