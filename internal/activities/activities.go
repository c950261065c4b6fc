// Package activities implements the Activity Set: idempotent, retryable
// units wrapping the leaf adapters (blob store, catalog, chunker, embedder,
// LLM client, chunk cache, knowledge graph) for use by the Orchestrator.
// Grounded on the teacher's internal/orchestrator.HandleCommandMessage,
// which draws the same Validation/Authentication/Authorization-vs-everything-
// else line between non-retryable and retryable failures (there via
// isTransientError string sniffing, here via apperr.Kind.Retryable), and on
// internal/documents.Ingest for the worker-pool shape activities are called
// from.
package activities

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/blobstore"
	"github.com/intelligencedev/docmemory/internal/cache"
	"github.com/intelligencedev/docmemory/internal/catalog"
	"github.com/intelligencedev/docmemory/internal/chunker"
	"github.com/intelligencedev/docmemory/internal/crypto"
	"github.com/intelligencedev/docmemory/internal/kgraph"
	"github.com/intelligencedev/docmemory/internal/logging"
	"github.com/intelligencedev/docmemory/internal/obs"
	"github.com/intelligencedev/docmemory/internal/ragembed"
	"github.com/intelligencedev/docmemory/internal/ragllm"
)

// DefaultHeartbeat is how often a long-running activity must report
// liveness to its caller.
const DefaultHeartbeat = 2 * time.Second

// MaxBlobBytes is the default size ceiling enforced by store_blob.
const MaxBlobBytes = 10 * 1024 * 1024

// Heartbeater receives liveness pings from an in-flight activity. The
// Orchestrator passes one per activity invocation and forcibly cancels
// activities that stop reporting.
type Heartbeater interface {
	Heartbeat(ctx context.Context)
}

// HeartbeatFunc adapts a plain function to Heartbeater.
type HeartbeatFunc func(ctx context.Context)

func (f HeartbeatFunc) Heartbeat(ctx context.Context) { f(ctx) }

// NoopHeartbeat discards heartbeats, for direct/test invocation outside an
// orchestrator.
var NoopHeartbeat Heartbeater = HeartbeatFunc(func(context.Context) {})

// Set bundles every adapter an activity needs. One Set is constructed at
// process start and shared by every workflow invocation; activities
// themselves hold no per-call state beyond their arguments.
type Set struct {
	Blob        blobstore.Store
	Keys        crypto.KeyManager
	Envelope    *crypto.EnvelopeCrypto
	Catalog     *catalog.Store
	Chunker     *chunker.Chunker
	Embedder    ragembed.Client
	LLM         ragllm.Client
	Cache       *cache.Cache
	Graph       *kgraph.Graph
	MasterKeyID string
	Log         logging.Logger
	Metrics     obs.Metrics
}

// New constructs a Set from its adapters. Any nil Log/Metrics is replaced
// with a no-op implementation so callers never need a nil check.
func New(blob blobstore.Store, keys crypto.KeyManager, envelope *crypto.EnvelopeCrypto, cat *catalog.Store, ch *chunker.Chunker, embed ragembed.Client, llm ragllm.Client, chunkCache *cache.Cache, graph *kgraph.Graph, masterKeyID string, log logging.Logger, metrics obs.Metrics) *Set {
	if log == nil {
		log = logging.Noop{}
	}
	if metrics == nil {
		metrics = obs.NoopMetrics{}
	}
	return &Set{
		Blob: blob, Keys: keys, Envelope: envelope, Catalog: cat,
		Chunker: ch, Embedder: embed, LLM: llm, Cache: chunkCache,
		Graph: graph, MasterKeyID: masterKeyID, Log: log, Metrics: metrics,
	}
}

func (s *Set) beat(ctx context.Context, hb Heartbeater) {
	if hb == nil {
		return
	}
	hb.Heartbeat(ctx)
}

// BlobMeta carries the encryption envelope alongside the plain blobstore
// attributes, so retrieve_blob can hand back both the content IV and the
// wrapped data key needed to decrypt it.
type BlobMeta struct {
	IV         []byte
	WrappedKey []byte
	Version    string
}

// StoreBlob encrypts plaintext under a freshly generated data key and
// writes the ciphertext to the blob store, keyed deterministically from the
// document id so repeated execution (retry) overwrites the same version
// line rather than creating duplicates.
func (s *Set) StoreBlob(ctx context.Context, hb Heartbeater, docID string, plaintext []byte) (blobID string, meta BlobMeta, err error) {
	s.beat(ctx, hb)
	if len(plaintext) > MaxBlobBytes {
		return "", BlobMeta{}, apperr.Newf(apperr.Validation, "blob of %d bytes exceeds %d byte limit", len(plaintext), MaxBlobBytes)
	}

	dataKey, wrapped, err := s.Keys.GenerateDataKey(ctx, s.MasterKeyID)
	if err != nil {
		return "", BlobMeta{}, apperr.Wrap(apperr.Storage, err, "generate data key")
	}
	defer zero(dataKey)

	ciphertext, iv, err := s.Envelope.Encrypt(dataKey, plaintext)
	if err != nil {
		return "", BlobMeta{}, apperr.Wrap(apperr.Storage, err, "encrypt blob")
	}

	blobID = "doc/" + docID
	attrs, err := s.Blob.Put(ctx, blobID, ciphertext, "application/octet-stream")
	if err != nil {
		return "", BlobMeta{}, err
	}
	return blobID, BlobMeta{IV: iv, WrappedKey: wrapped, Version: attrs.VersionID}, nil
}

// RetrieveBlob reads ciphertext from the blob store and decrypts it using
// the data key wrapped under meta.WrappedKey.
func (s *Set) RetrieveBlob(ctx context.Context, hb Heartbeater, blobID string, meta BlobMeta) ([]byte, error) {
	s.beat(ctx, hb)
	ciphertext, _, err := s.Blob.Get(ctx, blobID, meta.Version)
	if err != nil {
		return nil, err
	}
	dataKey, err := s.Keys.DecryptDataKey(ctx, meta.WrappedKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "unwrap data key")
	}
	defer zero(dataKey)

	plaintext, err := s.Envelope.Decrypt(dataKey, meta.IV, ciphertext)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "decrypt blob")
	}
	return plaintext, nil
}

// DeleteBlob writes a tombstone for blobID. Re-running this activity is a
// no-op: deleting an already-deleted key succeeds.
func (s *Set) DeleteBlob(ctx context.Context, hb Heartbeater, blobID string) error {
	s.beat(ctx, hb)
	if _, _, err := s.Blob.Get(ctx, blobID, ""); apperr.KindOf(err) == apperr.NotFound {
		// Already deleted (or never written): no second tombstone.
		return nil
	}
	err := s.Blob.Delete(ctx, blobID)
	if err != nil && apperr.KindOf(err) == apperr.NotFound {
		return nil
	}
	return err
}

// ChunkDocument splits text into model-bounded chunks.
func (s *Set) ChunkDocument(ctx context.Context, hb Heartbeater, text, model string, targetSize, overlap int) ([]chunker.Chunk, error) {
	s.beat(ctx, hb)
	return s.Chunker.Chunk(text, targetSize, overlap, model)
}

// EmbedChunks vectorizes chunk text in batch.
func (s *Set) EmbedChunks(ctx context.Context, hb Heartbeater, texts []string) ([][]float32, error) {
	s.beat(ctx, hb)
	return s.Embedder.EmbedBatch(ctx, texts)
}

// PersistDocument writes the document row and its chunks in a single
// catalog transaction. Re-running with the same document id replaces rather
// than duplicates chunk rows: an existing document goes through
// catalog.Store.UpdateDocument, which deletes the old chunks before
// inserting the new ones; only an unknown id goes through CreateDocument.
func (s *Set) PersistDocument(ctx context.Context, hb Heartbeater, doc catalog.Document, chunks []catalog.Chunk) (string, error) {
	s.beat(ctx, hb)
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	_, err := s.Catalog.GetDocument(ctx, doc.ID)
	switch {
	case err == nil:
		if err := s.Catalog.UpdateDocument(ctx, doc.ID, doc.Title, doc.Metadata, doc.BlobKey, doc.BlobVersion, chunks); err != nil {
			return "", err
		}
	case apperr.KindOf(err) == apperr.NotFound:
		if err := s.Catalog.CreateDocument(ctx, doc, chunks); err != nil {
			return "", err
		}
	default:
		return "", err
	}
	return doc.ID, nil
}

// CacheResult reports whether cache_chunk actually stored the payload, or
// skipped it under memory pressure (not an error: see internal/cache).
type CacheResult struct {
	Stored  bool
	Skipped bool
}

// CacheChunk stores a chunk payload in the chunk cache, best-effort.
func (s *Set) CacheChunk(ctx context.Context, hb Heartbeater, chunkID string, payload []byte) CacheResult {
	s.beat(ctx, hb)
	skipped := s.Cache.Put(chunkID, payload, int64(len(payload)))
	return CacheResult{Stored: !skipped, Skipped: skipped}
}

// InvalidateCache drops the cache entry of every id in chunkIDs (a
// document's chunks) and returns len(chunkIDs); ids that were not cached
// are counted too.
func (s *Set) InvalidateCache(ctx context.Context, hb Heartbeater, chunkIDs []string) int {
	s.beat(ctx, hb)
	for _, id := range chunkIDs {
		s.Cache.Delete(id)
	}
	return len(chunkIDs)
}

// GraphInsert projects a document's content and chunk text into the
// knowledge graph as weighted entity edges.
func (s *Set) GraphInsert(ctx context.Context, hb Heartbeater, docID, content string, chunkTexts []string, metadata map[string]any) error {
	s.beat(ctx, hb)
	return s.Graph.Upsert(docID, content, chunkTexts, metadata)
}

// GraphUpdate re-projects a document's entities, replacing its prior edges
// entirely (force_full semantics). When both content and chunkTexts are
// empty the document is removed from the graph; otherwise Upsert replaces
// its entities from whatever text is given.
func (s *Set) GraphUpdate(ctx context.Context, hb Heartbeater, docID, content string, chunkTexts []string, metadata map[string]any) error {
	s.beat(ctx, hb)
	if len(chunkTexts) == 0 && content == "" {
		s.Graph.Remove(docID)
		return nil
	}
	return s.Graph.Upsert(docID, content, chunkTexts, metadata)
}

// VectorCandidate is a scored chunk returned by vector_candidates.
type VectorCandidate struct {
	Chunk catalog.Chunk
	Score float64
}

// VectorCandidates runs a k-nearest-neighbor catalog search, optionally
// restricted to a single document.
func (s *Set) VectorCandidates(ctx context.Context, hb Heartbeater, queryVec []float32, documentID string, k int) ([]VectorCandidate, error) {
	s.beat(ctx, hb)
	matches, err := s.Catalog.VectorSearch(ctx, queryVec, k, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]VectorCandidate, len(matches))
	for i, m := range matches {
		out[i] = VectorCandidate{Chunk: m.Chunk, Score: m.Score}
	}
	return out, nil
}

// ReasonResult is the output of llm_reason.
type ReasonResult struct {
	Reasoning  string
	Confidence float64
	Tokens     int
}

// LLMReason asks the LLM client to reason over a query and candidate
// document texts, returning its rationale. Confidence is always 1.0; the
// model's response is not scored. Tokens is estimated as len(response)/4.
func (s *Set) LLMReason(ctx context.Context, hb Heartbeater, query string, docTexts []string) (ReasonResult, error) {
	s.beat(ctx, hb)
	messages := []ragllm.Message{
		{Role: "system", Content: "Assess how well the candidate documents answer the query. Respond with a brief rationale."},
		{Role: "user", Content: buildReasonPrompt(query, docTexts)},
	}
	out, err := s.LLM.Complete(ctx, messages, 0, 512)
	if err != nil {
		return ReasonResult{}, err
	}
	return ReasonResult{Reasoning: out, Confidence: 1.0, Tokens: len(out) / 4}, nil
}

// LLMSelect asks the LLM client to select the subset of docTexts relevant
// to query, returning them in the order the model ranked them.
func (s *Set) LLMSelect(ctx context.Context, hb Heartbeater, query string, docTexts []string) ([]string, error) {
	s.beat(ctx, hb)
	if len(docTexts) == 0 {
		return nil, nil
	}
	messages := []ragllm.Message{
		{Role: "system", Content: "Select and return, one per line and in relevance order, only the candidate numbers that help answer the query. Respond with numbers only, e.g. \"2\\n0\\n1\"."},
		{Role: "user", Content: buildSelectPrompt(query, docTexts)},
	}
	out, err := s.LLM.Complete(ctx, messages, 0, 256)
	if err != nil {
		return nil, err
	}
	return parseSelection(out, docTexts), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
