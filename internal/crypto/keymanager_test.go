package crypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/logging"
)

func TestLocalKeyManager_GenerateDecryptRoundTrip(t *testing.T) {
	master := randomKey(t)
	km, err := NewLocalKeyManager(master, nil, 0, logging.Noop{})
	require.NoError(t, err)

	plaintext, wrapped, err := km.GenerateDataKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Len(t, plaintext, KeyLength)
	assert.NotEmpty(t, wrapped)

	unwrapped, err := km.DecryptDataKey(context.Background(), wrapped)
	require.NoError(t, err)
	assert.Equal(t, plaintext, unwrapped)
}

func TestLocalKeyManager_RejectsWrongMasterKeyLength(t *testing.T) {
	_, err := NewLocalKeyManager([]byte("too-short"), nil, 0, logging.Noop{})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestLocalKeyManager_DecryptRejectsEmptyWrapped(t *testing.T) {
	km, err := NewLocalKeyManager(randomKey(t), nil, 0, logging.Noop{})
	require.NoError(t, err)

	_, err = km.DecryptDataKey(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestLocalKeyManager_RotateMasterKeyChangesWrapping(t *testing.T) {
	master1 := randomKey(t)
	km, err := NewLocalKeyManager(master1, nil, 0, logging.Noop{})
	require.NoError(t, err)

	_, wrapped1, err := km.GenerateDataKey(context.Background(), "key-1")
	require.NoError(t, err)

	master2 := randomKey(t)
	require.NoError(t, km.RotateMasterKey(context.Background(), master2))

	// A key wrapped under the old master is no longer decryptable after
	// rotation, since the in-process master key has moved on and there is no
	// cache (redis disabled) to paper over it.
	_, err = km.DecryptDataKey(context.Background(), wrapped1)
	require.Error(t, err)
}

func TestLocalKeyManager_DifferentKeyIDsProduceDifferentWrappedBytes(t *testing.T) {
	km, err := NewLocalKeyManager(randomKey(t), nil, 0, logging.Noop{})
	require.NoError(t, err)

	_, wrappedA, err := km.GenerateDataKey(context.Background(), "key-a")
	require.NoError(t, err)
	_, wrappedB, err := km.GenerateDataKey(context.Background(), "key-b")
	require.NoError(t, err)

	assert.NotEqual(t, wrappedA, wrappedB)
}
