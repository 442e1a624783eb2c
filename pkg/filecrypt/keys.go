package filecrypt

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

// MasterKeys holds the versioned master key set used to derive per-file
// keys. New files are always encrypted under the current version; older
// versions stay available so files written before a rotation remain
// readable.
type MasterKeys struct {
	current uint8
	keys    map[uint8][]byte
}

// NewMasterKeys builds a key set. Every key must be 32 bytes and the
// current version must be present in the map.
func NewMasterKeys(current uint8, keys map[uint8][]byte) (*MasterKeys, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("no master keys provided")
	}
	for version, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("master key version %d has %d bytes, want 32", version, len(key))
		}
	}
	if _, ok := keys[current]; !ok {
		return nil, fmt.Errorf("current master key version %d is not in the key set", current)
	}

	owned := make(map[uint8][]byte, len(keys))
	for version, key := range keys {
		owned[version] = append([]byte(nil), key...)
	}

	return &MasterKeys{current: current, keys: owned}, nil
}

// CurrentVersion returns the key version new files are encrypted under.
func (m *MasterKeys) CurrentVersion() uint8 {
	return m.current
}

// masterKey returns the raw master key for a version.
func (m *MasterKeys) masterKey(version uint8) ([]byte, error) {
	key, ok := m.keys[version]
	if !ok {
		return nil, fmt.Errorf("unknown master key version %d", version)
	}
	return key, nil
}

// deriveFileKey derives the per-file AES-256 key with Argon2id from the
// versioned master key and the file's salt.
func (m *MasterKeys) deriveFileKey(descriptor Encryption) ([]byte, error) {
	master, err := m.masterKey(descriptor.KeyVersion)
	if err != nil {
		return nil, err
	}
	if len(descriptor.Salt) != saltSize {
		return nil, fmt.Errorf("encryption descriptor has %d byte salt, want %d", len(descriptor.Salt), saltSize)
	}
	return argon2.IDKey(master, descriptor.Salt, 1, 64*1024, 4, 32), nil
}
