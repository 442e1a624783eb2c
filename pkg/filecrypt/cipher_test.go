package filecrypt

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	masterKeys, err := NewMasterKeys(1, map[uint8][]byte{1: key})
	require.NoError(t, err)

	return New(masterKeys)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cipher := testCipher(t)

	descriptor, err := cipher.NewEncryption()
	require.NoError(t, err)

	sizes := []int{1, 100, BlockSize - 1, BlockSize, BlockSize + 1, 3 * BlockSize, 3*BlockSize + 7}
	partNumbers := []int{1, 2, 5, 1000}

	for _, size := range sizes {
		for _, partNumber := range partNumbers {
			plaintext := make([]byte, size)
			_, err := rand.Read(plaintext)
			require.NoError(t, err)

			sealed, err := cipher.EncryptPart(descriptor, partNumber, plaintext)
			require.NoError(t, err)
			assert.Equal(t, EncryptedSize(int64(size)), int64(len(sealed)))

			decrypted, err := cipher.DecryptPart(descriptor, partNumber, sealed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(plaintext, decrypted), "round trip mismatch for size %d part %d", size, partNumber)
		}
	}
}

func TestEncryptPartInPlaceMatchesEncryptPart(t *testing.T) {
	cipher := testCipher(t)

	descriptor, err := cipher.NewEncryption()
	require.NoError(t, err)

	for _, size := range []int{1, BlockSize, 2*BlockSize + 13} {
		plaintext := make([]byte, size)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		expected, err := cipher.EncryptPart(descriptor, 3, plaintext)
		require.NoError(t, err)

		buf := make([]byte, EncryptedSize(int64(size)))
		copy(buf, plaintext)
		n, err := cipher.EncryptPartInPlace(descriptor, 3, buf, size)
		require.NoError(t, err)

		assert.Equal(t, expected, buf[:n])
	}
}

func TestDecryptRejectsTamperedBlock(t *testing.T) {
	cipher := testCipher(t)

	descriptor, err := cipher.NewEncryption()
	require.NoError(t, err)

	plaintext := make([]byte, BlockSize+100)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)

	sealed, err := cipher.EncryptPart(descriptor, 1, plaintext)
	require.NoError(t, err)

	sealed[len(sealed)/2] ^= 0xff

	_, err = cipher.DecryptPart(descriptor, 1, sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsWrongPartNumber(t *testing.T) {
	cipher := testCipher(t)

	descriptor, err := cipher.NewEncryption()
	require.NoError(t, err)

	sealed, err := cipher.EncryptPart(descriptor, 1, []byte("part one's bytes"))
	require.NoError(t, err)

	_, err = cipher.DecryptPart(descriptor, 2, sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsForeignDescriptor(t *testing.T) {
	cipher := testCipher(t)

	descriptorA, err := cipher.NewEncryption()
	require.NoError(t, err)
	descriptorB, err := cipher.NewEncryption()
	require.NoError(t, err)

	sealed, err := cipher.EncryptPart(descriptorA, 1, []byte("secret content"))
	require.NoError(t, err)

	_, err = cipher.DecryptPart(descriptorB, 1, sealed)
	assert.Error(t, err)
}

func TestOpenBlockDecryptsSingleBlocks(t *testing.T) {
	cipher := testCipher(t)

	descriptor, err := cipher.NewEncryption()
	require.NoError(t, err)

	plaintext := make([]byte, 2*BlockSize+50)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)

	sealed, err := cipher.EncryptPart(descriptor, 7, plaintext)
	require.NoError(t, err)

	decrypter, err := cipher.NewDecrypter(descriptor)
	require.NoError(t, err)

	// Middle block on its own.
	block, err := decrypter.OpenBlock(7, 1, sealed[EncryptedBlockSize:2*EncryptedBlockSize])
	require.NoError(t, err)
	assert.Equal(t, plaintext[BlockSize:2*BlockSize], block)

	// Trailing partial block on its own.
	block, err = decrypter.OpenBlock(7, 2, sealed[2*EncryptedBlockSize:])
	require.NoError(t, err)
	assert.Equal(t, plaintext[2*BlockSize:], block)
}

func TestEncryptedPartSizeRejectsInvalidInput(t *testing.T) {
	_, err := EncryptedPartSize(100, 0)
	assert.Error(t, err)

	_, err = EncryptedPartSize(MaxPartPlaintextSize+1, 1)
	assert.Error(t, err)

	size, err := EncryptedPartSize(MaxPartPlaintextSize, 1)
	require.NoError(t, err)
	assert.Equal(t, EncryptedSize(MaxPartPlaintextSize), size)
}

func TestMasterKeysValidation(t *testing.T) {
	key := make([]byte, 32)

	_, err := NewMasterKeys(1, map[uint8][]byte{1: make([]byte, 16)})
	assert.Error(t, err, "short key must be rejected")

	_, err = NewMasterKeys(2, map[uint8][]byte{1: key})
	assert.Error(t, err, "current version must be among the keys")

	_, err = NewMasterKeys(1, map[uint8][]byte{1: key})
	assert.NoError(t, err)
}

func TestKeyRotationKeepsOldFilesReadable(t *testing.T) {
	keyV1 := make([]byte, 32)
	keyV2 := make([]byte, 32)
	_, err := rand.Read(keyV1)
	require.NoError(t, err)
	_, err = rand.Read(keyV2)
	require.NoError(t, err)

	oldKeys, err := NewMasterKeys(1, map[uint8][]byte{1: keyV1})
	require.NoError(t, err)
	oldCipher := New(oldKeys)

	descriptor, err := oldCipher.NewEncryption()
	require.NoError(t, err)
	require.Equal(t, uint8(1), descriptor.KeyVersion)

	sealed, err := oldCipher.EncryptPart(descriptor, 1, []byte("written before rotation"))
	require.NoError(t, err)

	// Rotate: v2 becomes current, v1 stays configured.
	newKeys, err := NewMasterKeys(2, map[uint8][]byte{1: keyV1, 2: keyV2})
	require.NoError(t, err)
	newCipher := New(newKeys)

	decrypted, err := newCipher.DecryptPart(descriptor, 1, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("written before rotation"), decrypted)

	freshDescriptor, err := newCipher.NewEncryption()
	require.NoError(t, err)
	assert.Equal(t, uint8(2), freshDescriptor.KeyVersion)
}
