// Package crypto implements envelope encryption for document content:
// AES-256-CBC with PKCS7 padding under a per-call data key, and a Key
// Manager Adapter that wraps/unwraps those data keys through a master key,
// caching wrapped keys the way a real KMS client would cache ciphertext
// blobs. Grounded on
// original_source/src/backend/src/core/encryption.py (DocumentEncryption:
// BLOCK_SIZE, KEY_LENGTH, IV_LENGTH, KEY_CACHE_TTL, the encrypt/decrypt pair,
// and explicit key zeroization on every exit path) and
// original_source/src/backend/src/integrations/aws/kms.py (KMSClient:
// generate_data_key/decrypt_data_key/rotate_keys, TTL key cache).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

const (
	// KeyLength is the AES-256 data key size in bytes.
	KeyLength = 32
	// BlockSize is the AES block size PKCS7 pads to.
	BlockSize = aes.BlockSize // 16
	// IVLength is the initialization vector size in bytes.
	IVLength = 16
)

// EnvelopeCrypto performs symmetric encryption of document content under a
// caller-supplied data key. It holds no state; a data key never survives
// past the call that uses it.
type EnvelopeCrypto struct{}

// NewEnvelopeCrypto constructs an EnvelopeCrypto.
func NewEnvelopeCrypto() *EnvelopeCrypto { return &EnvelopeCrypto{} }

// Encrypt pads plaintext with PKCS7, generates a fresh random IV, and
// encrypts under dataKey with AES-256-CBC. It returns the ciphertext and the
// IV used, and zeroes its local copy of the padded plaintext before
// returning on every path, matching encrypt_document's finally block.
func (EnvelopeCrypto) Encrypt(dataKey, plaintext []byte) (ciphertext, iv []byte, err error) {
	if len(dataKey) != KeyLength {
		return nil, nil, apperr.Newf(apperr.Validation, "data key must be %d bytes, got %d", KeyLength, len(dataKey))
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Storage, err, "construct AES cipher")
	}

	padded := pkcs7Pad(plaintext, BlockSize)
	defer zero(padded)

	iv = make([]byte, IVLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, apperr.Wrap(apperr.Storage, err, "generate iv")
	}

	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out, padded)

	return out, iv, nil
}

// Decrypt reverses Encrypt: AES-256-CBC decrypt under dataKey and iv, then
// strip PKCS7 padding. The decrypted plaintext is returned to the caller,
// who owns zeroing it once consumed; the function's own intermediate
// buffers are zeroed before return.
func (EnvelopeCrypto) Decrypt(dataKey, iv, ciphertext []byte) ([]byte, error) {
	if len(dataKey) != KeyLength {
		return nil, apperr.Newf(apperr.Validation, "data key must be %d bytes, got %d", KeyLength, len(dataKey))
	}
	if len(iv) != IVLength {
		return nil, apperr.Newf(apperr.Validation, "iv must be %d bytes, got %d", IVLength, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, apperr.New(apperr.Validation, "ciphertext is not a whole number of blocks")
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "construct AES cipher")
	}

	padded := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(padded, ciphertext)
	defer zero(padded)

	plaintext, err := pkcs7Unpad(padded, BlockSize)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "remove padding")
	}
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, apperr.New(apperr.Storage, "invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, apperr.New(apperr.Storage, "invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, apperr.New(apperr.Storage, "invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}

// zero overwrites b in place. It does not guarantee the compiler won't have
// copied the data elsewhere, but it matches the belt-and-suspenders approach
// of SecureMemoryWiper.wipe in the original implementation.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
