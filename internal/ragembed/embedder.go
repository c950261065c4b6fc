// Package ragembed implements the Embedding Client: text-to-vector
// conversion with bounded concurrency, retry on rate-limit responses, and a
// deterministic content-hash cache so the same chunk text is never embedded
// twice. Grounded on the teacher's internal/rag/embedder package (the
// Embedder interface, clientEmbedder's HTTP-backed implementation over
// internal/embedding.EmbedText, and deterministicEmbedder's hashed-3-gram
// test double) and internal/embedding/client.go for the HTTP transport
// shape, generalized with golang.org/x/sync/semaphore for the fixed-width
// concurrency bound and an explicit retry loop for Rate-kind failures that
// the teacher's rate limiting (a single minDelay gate) doesn't need because
// its embedding server is local and unthrottled.
package ragembed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/config"
)

// Limits mirror spec defaults for the Embedding Client.
const (
	MaxBatch           = 100
	DefaultConcurrency = 10
	MaxRetries         = 3
)

// Client embeds text into vectors.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// HTTPClient calls a configured embedding HTTP endpoint, the way the
// teacher's clientEmbedder calls internal/embedding.EmbedText, but with a
// fixed-width semaphore bounding in-flight requests instead of a single
// minimum-delay gate, and a cache keyed by content hash so a retried
// activity doesn't re-embed chunks it already has vectors for.
type HTTPClient struct {
	cfg  config.EmbeddingConfig
	sem  *semaphore.Weighted
	http *http.Client

	mu    sync.Mutex
	cache map[string][]float32
}

// NewHTTPClient constructs an HTTPClient. concurrency <= 0 uses
// DefaultConcurrency.
func NewHTTPClient(cfg config.EmbeddingConfig, concurrency int) *HTTPClient {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:   cfg,
		sem:   semaphore.NewWeighted(int64(concurrency)),
		http:  &http.Client{Timeout: timeout},
		cache: make(map[string][]float32),
	}
}

func (c *HTTPClient) Name() string   { return c.cfg.Model }
func (c *HTTPClient) Dimension() int { return c.cfg.Dimension }

// Embed embeds a single text.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds up to MaxBatch texts per call, chunking larger batches,
// checking the content-hash cache first, bounding concurrent HTTP calls with
// a semaphore of the width given to NewHTTPClient (DefaultConcurrency when
// that was <= 0), and L2-normalizing every
// resulting vector.
func (c *HTTPClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	var toFetch []string
	var toFetchIdx []int

	c.mu.Lock()
	for i, t := range texts {
		if v, ok := c.cache[contentHash(t)]; ok {
			result[i] = v
			continue
		}
		toFetch = append(toFetch, t)
		toFetchIdx = append(toFetchIdx, i)
	}
	c.mu.Unlock()

	if len(toFetch) == 0 {
		return result, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 0)
	var errsMu sync.Mutex

	for start := 0; start < len(toFetch); start += MaxBatch {
		end := start + MaxBatch
		if end > len(toFetch) {
			end = len(toFetch)
		}
		batch := toFetch[start:end]
		idxs := toFetchIdx[start:end]

		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, apperr.Wrap(apperr.Upstream, err, "acquire embedding semaphore")
		}
		wg.Add(1)
		go func(batch []string, idxs []int) {
			defer wg.Done()
			defer c.sem.Release(1)

			vectors, err := c.callWithRetry(ctx, batch)
			if err != nil {
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
				return
			}
			c.mu.Lock()
			for i, v := range vectors {
				normalized := l2Normalize(v)
				result[idxs[i]] = normalized
				c.cache[contentHash(batch[i])] = normalized
			}
			c.mu.Unlock()
		}(batch, idxs)
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errs[0]
	}
	return result, nil
}

// callWithRetry calls the embedding endpoint, retrying with exponential
// backoff up to MaxRetries when the failure is classified as Rate.
func (c *HTTPClient) callWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	interval := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		vectors, err := c.call(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if apperr.KindOf(err) != apperr.Rate || attempt == MaxRetries {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		interval *= 2
	}
	return nil, lastErr
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *HTTPClient) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "marshal embedding request")
	}

	url := c.cfg.BaseURL + c.cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.APIHeader != "" {
		req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "call embedding endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.New(apperr.Rate, "embedding endpoint rate limited the request")
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, apperr.Newf(apperr.Upstream, "embedding endpoint returned %s: %s", resp.Status, string(b))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "decode embedding response")
	}
	if len(er.Data) != len(texts) {
		return nil, apperr.Newf(apperr.Upstream, "embedding endpoint returned %d vectors for %d inputs", len(er.Data), len(texts))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

func contentHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
