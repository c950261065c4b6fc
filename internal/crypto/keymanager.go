package crypto

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/logging"
)

// KeyManager is the Key Manager Adapter contract: generate a fresh data key
// wrapped under a master key, unwrap one previously generated, and rotate
// the master key. It mirrors KMSClient's generate_data_key/decrypt_data_key/
// rotate_keys trio from the original implementation, minus its boto3-specific
// plumbing.
type KeyManager interface {
	GenerateDataKey(ctx context.Context, keyID string) (plaintext, wrapped []byte, err error)
	DecryptDataKey(ctx context.Context, wrapped []byte) (plaintext []byte, err error)
	RotateMasterKey(ctx context.Context, newKey []byte) error
}

// LocalKeyManager wraps data keys with a process-held master key using
// AES-256-CBC, the way a local/demo KMS stand-in would; production
// deployments swap this for a real KMS-backed implementation behind the same
// interface. Wrapped keys are cached in Redis with a TTL so repeated decrypts
// of the same wrapped key (the common case: every chunk of one document
// shares a data key) skip the unwrap operation, mirroring KMSClient's
// _key_cache.
type LocalKeyManager struct {
	masterKey []byte
	envelope  EnvelopeCrypto
	redis     redis.UniversalClient
	ttl       time.Duration
	log       logging.Logger
}

// NewLocalKeyManager constructs a LocalKeyManager. masterKey must be exactly
// KeyLength bytes. redisClient may be nil, in which case wrapped-key caching
// is disabled and every DecryptDataKey call unwraps directly.
func NewLocalKeyManager(masterKey []byte, redisClient redis.UniversalClient, ttl time.Duration, log logging.Logger) (*LocalKeyManager, error) {
	if len(masterKey) != KeyLength {
		return nil, apperr.Newf(apperr.Validation, "master key must be %d bytes, got %d", KeyLength, len(masterKey))
	}
	if ttl <= 0 {
		ttl = 3600 * time.Second
	}
	if log == nil {
		log = logging.Noop{}
	}
	return &LocalKeyManager{masterKey: masterKey, redis: redisClient, ttl: ttl, log: log}, nil
}

// GenerateDataKey produces a fresh random AES-256 data key and returns it
// alongside its ciphertext wrapped under the master key. keyID labels which
// master key wrapped it, for audit and future rotation.
func (m *LocalKeyManager) GenerateDataKey(ctx context.Context, keyID string) ([]byte, []byte, error) {
	plaintext := make([]byte, KeyLength)
	if _, err := rand.Read(plaintext); err != nil {
		return nil, nil, apperr.Wrap(apperr.Storage, err, "generate data key")
	}

	ciphertext, iv, err := m.envelope.Encrypt(m.masterKey, plaintext)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Storage, err, "wrap data key")
	}
	wrapped := wrapBlob{KeyID: keyID, IV: iv, Ciphertext: ciphertext}.encode()

	if m.redis != nil {
		cacheKey := wrappedKeyCacheKey(wrapped)
		if err := m.redis.Set(ctx, cacheKey, plaintext, m.ttl).Err(); err != nil {
			m.log.Warn("key manager cache write failed", logging.Fields{"error": err.Error()})
		}
	}

	return plaintext, wrapped, nil
}

// DecryptDataKey unwraps a wrapped key previously returned by
// GenerateDataKey, checking the Redis cache first.
func (m *LocalKeyManager) DecryptDataKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, apperr.New(apperr.Validation, "wrapped key cannot be empty")
	}

	if m.redis != nil {
		cacheKey := wrappedKeyCacheKey(wrapped)
		if val, err := m.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			return val, nil
		} else if err != redis.Nil {
			m.log.Warn("key manager cache read failed", logging.Fields{"error": err.Error()})
		}
	}

	blob, err := decodeWrapBlob(wrapped)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "decode wrapped key")
	}
	plaintext, err := m.envelope.Decrypt(m.masterKey, blob.IV, blob.Ciphertext)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "unwrap data key")
	}

	if m.redis != nil {
		cacheKey := wrappedKeyCacheKey(wrapped)
		if err := m.redis.Set(ctx, cacheKey, plaintext, m.ttl).Err(); err != nil {
			m.log.Warn("key manager cache write failed", logging.Fields{"error": err.Error()})
		}
	}

	return plaintext, nil
}

// RotateMasterKey swaps the master key used to wrap future data keys.
// Existing wrapped keys issued under the old master key remain decryptable
// only if the caller retains the old key out-of-band; this matches the
// original enable_key_rotation call, which rotates going forward without
// retroactively rewrapping already-issued ciphertext. The wrapped-key cache
// is cleared since cached plaintexts stay valid but the wrap blobs they're
// keyed by are about to go stale for anything generated after rotation.
func (m *LocalKeyManager) RotateMasterKey(ctx context.Context, newKey []byte) error {
	if len(newKey) != KeyLength {
		return apperr.Newf(apperr.Validation, "master key must be %d bytes, got %d", KeyLength, len(newKey))
	}
	m.masterKey = newKey
	if m.redis != nil {
		if err := m.redis.FlushDB(ctx).Err(); err != nil {
			return apperr.Wrap(apperr.Storage, err, "clear wrapped key cache on rotation")
		}
	}
	return nil
}

// wrapBlob is the on-the-wire shape of a wrapped data key: which master key
// id wrapped it, the IV used, and the AES-CBC ciphertext.
type wrapBlob struct {
	KeyID      string
	IV         []byte
	Ciphertext []byte
}

func (b wrapBlob) encode() []byte {
	keyIDB64 := base64.StdEncoding.EncodeToString([]byte(b.KeyID))
	ivB64 := base64.StdEncoding.EncodeToString(b.IV)
	ctB64 := base64.StdEncoding.EncodeToString(b.Ciphertext)
	return []byte(fmt.Sprintf("%s.%s.%s", keyIDB64, ivB64, ctB64))
}

func decodeWrapBlob(data []byte) (wrapBlob, error) {
	parts := splitThree(string(data))
	if parts == nil {
		return wrapBlob{}, apperr.New(apperr.Validation, "malformed wrapped key")
	}
	keyIDB64, ivB64, ctB64 := parts[0], parts[1], parts[2]

	keyID, err := base64.StdEncoding.DecodeString(keyIDB64)
	if err != nil {
		return wrapBlob{}, err
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return wrapBlob{}, err
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return wrapBlob{}, err
	}
	return wrapBlob{KeyID: string(keyID), IV: iv, Ciphertext: ct}, nil
}

func splitThree(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	if len(parts) != 3 {
		return nil
	}
	return parts
}

func wrappedKeyCacheKey(wrapped []byte) string {
	return "docmemory:wrappedkey:" + base64.RawURLEncoding.EncodeToString(wrapped)
}
