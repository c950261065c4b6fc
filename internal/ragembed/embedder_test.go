package ragembed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/config"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, config.EmbeddingConfig) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.EmbeddingConfig{
		BaseURL:   srv.URL,
		Path:      "/v1/embeddings",
		Model:     "test-model",
		Dimension: 3,
	}
	return srv, cfg
}

func echoEmbeddingHandler(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	resp := embedResponse{}
	for range req.Input {
		resp.Data = append(resp.Data, struct {
			Embedding []float32 `json:"embedding"`
		}{Embedding: []float32{3, 4, 0}})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestHTTPClient_EmbedBatch_NormalizesVectors(t *testing.T) {
	_, cfg := newTestServer(t, echoEmbeddingHandler)
	c := NewHTTPClient(cfg, 2)

	out, err := c.EmbedBatch(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, v := range out {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
}

func TestHTTPClient_EmbedBatch_CachesByContent(t *testing.T) {
	var calls int64
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		echoEmbeddingHandler(w, r)
	}
	_, cfg := newTestServer(t, handler)
	c := NewHTTPClient(cfg, 2)

	_, err := c.EmbedBatch(context.Background(), []string{"same text"})
	require.NoError(t, err)
	_, err = c.EmbedBatch(context.Background(), []string{"same text"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestHTTPClient_EmbedBatch_EmptyInputReturnsNil(t *testing.T) {
	_, cfg := newTestServer(t, echoEmbeddingHandler)
	c := NewHTTPClient(cfg, 2)

	out, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestHTTPClient_RetriesOnRateLimit(t *testing.T) {
	var calls int64
	handler := func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		echoEmbeddingHandler(w, r)
	}
	_, cfg := newTestServer(t, handler)
	c := NewHTTPClient(cfg, 1)

	out, err := c.EmbedBatch(context.Background(), []string{"retry me"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestHTTPClient_NonRetryableErrorFailsFast(t *testing.T) {
	var calls int64
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}
	_, cfg := newTestServer(t, handler)
	c := NewHTTPClient(cfg, 1)

	_, err := c.EmbedBatch(context.Background(), []string{"boom"})
	require.Error(t, err)
	assert.Equal(t, apperr.Upstream, apperr.KindOf(err))
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestDeterministic_SameInputSameVector(t *testing.T) {
	d := NewDeterministic(32, true, 7)
	a, err := d.Embed(context.Background(), "repeatable text")
	require.NoError(t, err)
	b, err := d.Embed(context.Background(), "repeatable text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeterministic_DifferentInputDifferentVector(t *testing.T) {
	d := NewDeterministic(32, false, 0)
	a, err := d.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	b, err := d.Embed(context.Background(), "beta")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
