package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/docmemory/internal/activities"
	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/blobstore"
	"github.com/intelligencedev/docmemory/internal/cache"
	"github.com/intelligencedev/docmemory/internal/chunker"
	"github.com/intelligencedev/docmemory/internal/crypto"
	"github.com/intelligencedev/docmemory/internal/kgraph"
	"github.com/intelligencedev/docmemory/internal/ragembed"
	"github.com/intelligencedev/docmemory/internal/ragllm"
)

type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, messages []ragllm.Message, temperature float64, maxTokens int) (string, error) {
	return "ok", nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	masterKey := make([]byte, crypto.KeyLength)
	km, err := crypto.NewLocalKeyManager(masterKey, nil, time.Hour, nil)
	require.NoError(t, err)

	chunkCache := cache.New(time.Hour, cache.WithMaxSize(1000))
	t.Cleanup(chunkCache.Close)

	set := activities.New(
		blobstore.NewMemoryStore(),
		km,
		crypto.NewEnvelopeCrypto(),
		nil, // Catalog: the Postgres-backed store is exercised by internal/catalog's own integration tests
		chunker.New(),
		ragembed.NewDeterministic(16, true, 3),
		fakeLLM{},
		chunkCache,
		kgraph.New(),
		"test-master-key",
		nil, nil,
	)

	return New(set, nil, RetryPolicy{InitialInterval: time.Millisecond, BackoffCoefficient: 2, MaxInterval: 10 * time.Millisecond, MaxAttempts: 2}, TimeoutPolicy{ScheduleToClose: time.Second, ActivityStartToClose: 500 * time.Millisecond}, nil, nil)
}

func TestStoreDocument_RejectsEmptyContent(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.StoreDocument(context.Background(), StoreDocumentInput{RequestID: "r1", Content: ""})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestSearchDocuments_FailsWithoutPlanner(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SearchDocuments(context.Background(), SearchDocumentsInput{Query: "q"})
	require.Error(t, err)
	assert.Equal(t, apperr.Workflow, apperr.KindOf(err))
}

func TestDocumentIDFor_IsDeterministic(t *testing.T) {
	a := documentIDFor("same-request")
	b := documentIDFor("same-request")
	assert.Equal(t, a, b)

	c := documentIDFor("other-request")
	assert.NotEqual(t, a, c)
}

func TestDocumentIDFor_EmptyRequestIDIsRandom(t *testing.T) {
	a := documentIDFor("")
	b := documentIDFor("")
	assert.NotEqual(t, a, b)
}

func TestWorkflowID_Format(t *testing.T) {
	assert.Equal(t, "store_document_abc", WorkflowID("store_document", "abc"))
}

func TestKeyLock_SerializesAccessToSameKey(t *testing.T) {
	lk := newKeyLock()
	var order []int
	done := make(chan struct{})

	go func() {
		_ = lk.With("doc-1", func() error {
			time.Sleep(10 * time.Millisecond)
			order = append(order, 1)
			return nil
		})
		done <- struct{}{}
	}()
	time.Sleep(2 * time.Millisecond)
	_ = lk.With("doc-1", func() error {
		order = append(order, 2)
		return nil
	})
	<-done

	assert.Equal(t, []int{1, 2}, order)
}

func TestRunActivity_RetriesRetryableThenSucceeds(t *testing.T) {
	attempts := 0
	result, err := RunActivity(context.Background(), RetryPolicy{InitialInterval: time.Millisecond, BackoffCoefficient: 2, MaxInterval: time.Millisecond * 5, MaxAttempts: 3}, 0, func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", apperr.New(apperr.Storage, "transient")
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 2, attempts)
}

func TestMergeMetadataForUpdate_NilIncomingKeepsExistingVerbatim(t *testing.T) {
	existing := map[string]any{"author": "ada", "_blob_iv": "old-iv"}
	merged := mergeMetadataForUpdate(existing, nil)
	assert.Equal(t, existing, merged)
}

func TestMergeMetadataForUpdate_IncomingReplacesNonReservedKeys(t *testing.T) {
	existing := map[string]any{"author": "ada", "_blob_iv": "old-iv"}
	merged := mergeMetadataForUpdate(existing, map[string]any{"author": "grace"})
	assert.Equal(t, "grace", merged["author"])
	assert.Equal(t, "old-iv", merged["_blob_iv"])
}

func TestRunActivity_DoesNotRetryNonRetryable(t *testing.T) {
	attempts := 0
	_, err := RunActivity(context.Background(), DefaultRetryPolicy(), 0, func(ctx context.Context) (string, error) {
		attempts++
		return "", apperr.New(apperr.Validation, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
