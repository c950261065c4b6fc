package docservice

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/docmemory/internal/activities"
	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/blobstore"
	"github.com/intelligencedev/docmemory/internal/cache"
	"github.com/intelligencedev/docmemory/internal/catalog"
	"github.com/intelligencedev/docmemory/internal/chunker"
	"github.com/intelligencedev/docmemory/internal/crypto"
	"github.com/intelligencedev/docmemory/internal/kgraph"
	"github.com/intelligencedev/docmemory/internal/orchestrator"
	"github.com/intelligencedev/docmemory/internal/ragembed"
	"github.com/intelligencedev/docmemory/internal/ragllm"
	"github.com/intelligencedev/docmemory/internal/retrieval"
)

func TestStore_RejectsEmptyContent(t *testing.T) {
	s := New(nil)
	_, err := s.Store(context.Background(), StoreRequest{})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestRetrieve_RejectsEmptyDocumentID(t *testing.T) {
	s := New(nil)
	_, err := s.Retrieve(context.Background(), RetrieveRequest{})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestSearch_RejectsOverlongQuery(t *testing.T) {
	s := New(nil)
	longQuery := make([]byte, MaxQueryLength+1)
	for i := range longQuery {
		longQuery[i] = 'a'
	}
	_, err := s.Search(context.Background(), SearchRequest{Query: string(longQuery), Limit: 1})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestSearch_RejectsOutOfRangeLimit(t *testing.T) {
	s := New(nil)
	_, err := s.Search(context.Background(), SearchRequest{Query: "q", Limit: MaxSearchLimit + 1})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestSearch_ZeroLimitReturnsEmptyWithoutCallingEngine(t *testing.T) {
	s := New(nil)
	resp, err := s.Search(context.Background(), SearchRequest{Query: "q", Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestUpdate_RejectsEmptyDocumentID(t *testing.T) {
	s := New(nil)
	err := s.Update(context.Background(), UpdateRequest{})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestDelete_RejectsEmptyDocumentID(t *testing.T) {
	s := New(nil)
	err := s.Delete(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

// newIntegrationService connects to a real Postgres instance named by
// CATALOG_TEST_DSN and wires a full Service, the way catalog's own suite is
// environment-gated rather than run against a fake.
func newIntegrationService(t *testing.T) *Service {
	t.Helper()
	dsn := os.Getenv("CATALOG_TEST_DSN")
	if dsn == "" {
		t.Skip("CATALOG_TEST_DSN not set; skipping docservice integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cat, err := catalog.New(context.Background(), pool, 16)
	require.NoError(t, err)

	masterKey := make([]byte, crypto.KeyLength)
	km, err := crypto.NewLocalKeyManager(masterKey, nil, time.Hour, nil)
	require.NoError(t, err)

	chunkCache := cache.New(time.Hour, cache.WithMaxSize(1000))
	t.Cleanup(chunkCache.Close)

	graph := kgraph.New()
	acts := activities.New(
		blobstore.NewMemoryStore(), km, crypto.NewEnvelopeCrypto(), cat,
		chunker.New(), ragembed.NewDeterministic(16, true, 7), &echoLLM{},
		chunkCache, graph, "test-master-key", nil, nil,
	)
	planner := retrieval.New(acts, cat, graph, nil)
	engine := orchestrator.New(acts, planner, orchestrator.DefaultRetryPolicy(), orchestrator.DefaultTimeoutPolicy(), nil, nil)
	return New(engine)
}

type echoLLM struct{}

func (echoLLM) Complete(ctx context.Context, messages []ragllm.Message, temperature float64, maxTokens int) (string, error) {
	return "0", nil
}

func TestService_StoreRetrieveSearchUpdateDelete(t *testing.T) {
	s := newIntegrationService(t)
	ctx := context.Background()

	stored, err := s.Store(ctx, StoreRequest{
		RequestID: "req-docservice-1",
		Content:   []byte("the quick brown fox jumps over the lazy dog"),
		Format:    "text/plain",
		Metadata:  map[string]any{"source": "unit-test"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.DocumentID)
	assert.Greater(t, stored.ChunkCount, 0)

	retrieved, err := s.Retrieve(ctx, RetrieveRequest{DocumentID: stored.DocumentID, LoadContent: true})
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox jumps over the lazy dog", string(retrieved.Content))

	newContent := []byte("pack my box with five dozen liquor jugs")
	require.NoError(t, s.Update(ctx, UpdateRequest{DocumentID: stored.DocumentID, Content: newContent}))

	retrieved, err = s.Retrieve(ctx, RetrieveRequest{DocumentID: stored.DocumentID, LoadContent: true})
	require.NoError(t, err)
	assert.Equal(t, string(newContent), string(retrieved.Content))
	assert.Equal(t, "unit-test", retrieved.Document.Metadata["source"], "content-only update must not wipe prior non-reserved metadata")

	require.NoError(t, s.Delete(ctx, stored.DocumentID))

	_, err = s.Retrieve(ctx, RetrieveRequest{DocumentID: stored.DocumentID})
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}
