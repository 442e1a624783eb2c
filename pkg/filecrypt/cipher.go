package filecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// Cipher performs the per-part encryption and decryption of file bytes.
//
// Thread Safety: safe for concurrent use; all state is read-only after
// construction.
type Cipher struct {
	masterKeys *MasterKeys
}

// New creates a Cipher over the given master key set.
func New(masterKeys *MasterKeys) *Cipher {
	if masterKeys == nil {
		panic("filecrypt: master keys cannot be nil")
	}
	return &Cipher{masterKeys: masterKeys}
}

// NewEncryption mints a managed encryption descriptor for a new file:
// current key version, fresh random salt and nonce prefix.
func (c *Cipher) NewEncryption() (Encryption, error) {
	salt, err := randomBytes(saltSize)
	if err != nil {
		return Encryption{}, err
	}
	prefix, err := randomBytes(noncePrefixSize)
	if err != nil {
		return Encryption{}, err
	}
	return Encryption{
		Type:        EncryptionManaged,
		KeyVersion:  c.masterKeys.CurrentVersion(),
		Salt:        salt,
		NoncePrefix: prefix,
	}, nil
}

// aead builds the AES-GCM instance for a file's descriptor.
func (c *Cipher) aead(descriptor Encryption) (cipher.AEAD, error) {
	if descriptor.Type != EncryptionManaged {
		return nil, fmt.Errorf("descriptor does not request managed encryption")
	}
	if len(descriptor.NoncePrefix) != noncePrefixSize {
		return nil, fmt.Errorf("encryption descriptor has %d byte nonce prefix, want %d", len(descriptor.NoncePrefix), noncePrefixSize)
	}

	key, err := c.masterKeys.deriveFileKey(descriptor)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// blockNonce derives the deterministic nonce of one block.
func blockNonce(prefix []byte, partNumber int, blockIndex int) []byte {
	nonce := make([]byte, nonceSize)
	copy(nonce, prefix)
	binary.BigEndian.PutUint32(nonce[noncePrefixSize:], uint32(partNumber))
	binary.BigEndian.PutUint32(nonce[noncePrefixSize+4:], uint32(blockIndex))
	return nonce
}

// EncryptPart encrypts one part's plaintext and returns the sealed form.
//
// Parts can be encrypted in any order and concurrently; the nonce depends
// only on the descriptor and the part number, never on encryption order.
func (c *Cipher) EncryptPart(descriptor Encryption, partNumber int, plaintext []byte) ([]byte, error) {
	size, err := EncryptedPartSize(int64(len(plaintext)), partNumber)
	if err != nil {
		return nil, err
	}

	aead, err := c.aead(descriptor)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, size)
	for blockIndex := 0; blockIndex*BlockSize < len(plaintext); blockIndex++ {
		start := blockIndex * BlockSize
		end := min(start+BlockSize, len(plaintext))
		nonce := blockNonce(descriptor.NoncePrefix, partNumber, blockIndex)
		out = aead.Seal(out, nonce, plaintext[start:end], nil)
	}
	return out, nil
}

// EncryptPartInPlace encrypts a part inside a caller-provided buffer.
//
// On entry buf[:plaintextSize] holds the plaintext and buf must be at least
// EncryptedPartSize(plaintextSize, partNumber) bytes long (typically a
// pooled buffer pre-sized with exactly that function). On success the
// sealed part occupies buf[:n].
//
// Blocks are processed from the last to the first: every block's output
// offset is greater than or equal to its plaintext offset, so writing right
// to left never clobbers plaintext that has not been read yet.
func (c *Cipher) EncryptPartInPlace(descriptor Encryption, partNumber int, buf []byte, plaintextSize int) (int, error) {
	size, err := EncryptedPartSize(int64(plaintextSize), partNumber)
	if err != nil {
		return 0, err
	}
	if int64(len(buf)) < size {
		return 0, fmt.Errorf("buffer of %d bytes is too small for %d encrypted bytes", len(buf), size)
	}

	aead, err := c.aead(descriptor)
	if err != nil {
		return 0, err
	}

	scratch := make([]byte, 0, EncryptedBlockSize)
	lastBlock := (plaintextSize - 1) / BlockSize
	if plaintextSize == 0 {
		return 0, nil
	}

	for blockIndex := lastBlock; blockIndex >= 0; blockIndex-- {
		start := blockIndex * BlockSize
		end := min(start+BlockSize, plaintextSize)
		nonce := blockNonce(descriptor.NoncePrefix, partNumber, blockIndex)
		sealed := aead.Seal(scratch[:0], nonce, buf[start:end], nil)
		copy(buf[blockIndex*EncryptedBlockSize:], sealed)
	}
	return int(size), nil
}

// Decrypter decrypts blocks of a single file. It holds the derived AEAD so
// that a ranged read spanning many blocks derives the file key once.
type Decrypter struct {
	descriptor Encryption
	aead       cipher.AEAD
}

// NewDecrypter prepares a Decrypter for the given descriptor.
func (c *Cipher) NewDecrypter(descriptor Encryption) (*Decrypter, error) {
	aead, err := c.aead(descriptor)
	if err != nil {
		return nil, err
	}
	return &Decrypter{descriptor: descriptor, aead: aead}, nil
}

// OpenBlock authenticates and decrypts one sealed block.
//
// An authentication failure is fatal for the read in progress: the caller
// must abort the stream rather than emit partial or garbled plaintext.
func (d *Decrypter) OpenBlock(partNumber int, blockIndex int, sealed []byte) ([]byte, error) {
	if len(sealed) <= TagSize {
		return nil, fmt.Errorf("sealed block of %d bytes is shorter than the authentication tag", len(sealed))
	}
	nonce := blockNonce(d.descriptor.NoncePrefix, partNumber, blockIndex)
	plaintext, err := d.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("block %d of part %d failed authentication: %w", blockIndex, partNumber, err)
	}
	return plaintext, nil
}

// DecryptPart authenticates and decrypts a whole sealed part.
func (c *Cipher) DecryptPart(descriptor Encryption, partNumber int, sealed []byte) ([]byte, error) {
	decrypter, err := c.NewDecrypter(descriptor)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(sealed))
	for blockIndex := 0; blockIndex*EncryptedBlockSize < len(sealed); blockIndex++ {
		start := blockIndex * EncryptedBlockSize
		end := min(start+EncryptedBlockSize, len(sealed))
		plaintext, err := decrypter.OpenBlock(partNumber, blockIndex, sealed[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, plaintext...)
	}
	return out, nil
}
