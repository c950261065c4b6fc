package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

func TestMemoryStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	attrs, err := s.Put(ctx, "doc-1", []byte("hello world"), "application/octet-stream")
	require.NoError(t, err)
	assert.NotEmpty(t, attrs.VersionID)

	data, got, err := s.Get(ctx, "doc-1", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)
	assert.Equal(t, attrs.VersionID, got.VersionID)
}

func TestMemoryStore_GetMissingKeyIsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, _, err := s.Get(context.Background(), "missing", "")
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestMemoryStore_PutTwiceKeepsBothVersions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Put(ctx, "doc-1", []byte("v1"), "")
	require.NoError(t, err)
	second, err := s.Put(ctx, "doc-1", []byte("v2"), "")
	require.NoError(t, err)
	require.NotEqual(t, first.VersionID, second.VersionID)

	latest, _, err := s.Get(ctx, "doc-1", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), latest)

	old, _, err := s.Get(ctx, "doc-1", first.VersionID)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), old)
}

func TestMemoryStore_DeleteCreatesTombstoneNotHardDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	attrs, err := s.Put(ctx, "doc-1", []byte("v1"), "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "doc-1"))

	_, _, err = s.Get(ctx, "doc-1", "")
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	// The pre-delete version is still retrievable by explicit version id.
	data, _, err := s.Get(ctx, "doc-1", attrs.VersionID)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)
}

func TestMemoryStore_CheckConfigurationReportsMisconfigured(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CheckConfiguration(context.Background()))

	s.SetMisconfigured(true)
	err := s.CheckConfiguration(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.Storage, apperr.KindOf(err))
}
