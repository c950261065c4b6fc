// Workflows implements the five named workflows from the spec: store,
// retrieve, search, update, delete. Each sequences Activity Set calls in
// program order (ordering guarantee (ii)) and is keyed by a deterministic
// workflow id so a client retrying the same logical request is idempotent
// at the orchestrator boundary, the way the teacher's dedupe-by-
// correlation-id keeps redelivered Kafka commands from double-processing.
package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/intelligencedev/docmemory/internal/activities"
	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/catalog"
	"github.com/intelligencedev/docmemory/internal/logging"
	"github.com/intelligencedev/docmemory/internal/obs"
	"github.com/intelligencedev/docmemory/internal/retrieval"
)

// Reserved metadata keys. The spec requires keys prefixed "_" to survive
// metadata-only updates; these carry the blob encryption envelope, which is
// an implementation detail of storage rather than caller-supplied metadata.
const (
	metaBlobIV  = "_blob_iv"
	metaBlobKey = "_blob_wrapped_key"
)

// Engine sequences Activity Set calls into the five named workflows, under
// the configured retry/timeout policies and per-document serialization.
type Engine struct {
	Activities *activities.Set
	Planner    *retrieval.Planner
	Retry      RetryPolicy
	Timeout    TimeoutPolicy
	locks      *keyLock
	log        logging.Logger
	metrics    obs.Metrics
}

// New constructs an Engine. A nil retry/timeout policy is replaced by the
// spec defaults. planner may be nil if search_documents will never be
// called (e.g. a worker that only stores/retrieves).
func New(acts *activities.Set, planner *retrieval.Planner, retry RetryPolicy, timeout TimeoutPolicy, log logging.Logger, metrics obs.Metrics) *Engine {
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	if timeout.ScheduleToClose == 0 {
		timeout = DefaultTimeoutPolicy()
	}
	if log == nil {
		log = logging.Noop{}
	}
	if metrics == nil {
		metrics = obs.NoopMetrics{}
	}
	return &Engine{Activities: acts, Planner: planner, Retry: retry, Timeout: timeout, locks: newKeyLock(), log: log, metrics: metrics}
}

// WorkflowID returns the deterministic id for a named workflow over a
// business key, e.g. WorkflowID("store_document", requestID).
func WorkflowID(workflow, businessKey string) string {
	return fmt.Sprintf("%s_%s", workflow, businessKey)
}

// documentIDFor derives a deterministic document id from a client-supplied
// request id, so a retried store_document call (same request id) lands on
// the same document rather than creating a duplicate. An empty request id
// (the client didn't ask for idempotent retries) falls back to a fresh
// random id, the way qdrant_vector.go's ID derivation does for un-keyed
// writes.
func documentIDFor(requestID string) string {
	if requestID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(requestID)).String()
}

func (e *Engine) runActivity(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := RunActivity(ctx, e.Retry, e.Timeout.ActivityStartToClose, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// StoreDocumentInput is the input to the store_document workflow.
type StoreDocumentInput struct {
	RequestID string
	Content   string
	Format    string
	Metadata  map[string]any
	Model     string
}

// StoreDocumentResult is what store_document returns on success.
type StoreDocumentResult struct {
	DocumentID string
	ChunkCount int
	TokenCount int
}

// StoreDocument runs: validate -> chunk -> embed_chunks -> store_blob ->
// persist_document -> cache_chunk (best-effort, per chunk) -> graph_insert.
// If persist_document fails after store_blob has already written a version,
// that version is garbage; the compensation step deletes it so a successful
// workflow yields exactly one logically-committed Document (the atomicity
// contract from the spec).
func (e *Engine) StoreDocument(ctx context.Context, in StoreDocumentInput) (result StoreDocumentResult, err error) {
	if in.Content == "" {
		return StoreDocumentResult{}, apperr.New(apperr.Validation, "content cannot be empty")
	}
	docID := documentIDFor(in.RequestID)
	wfCtx, cancel := context.WithTimeout(ctx, e.Timeout.ScheduleToClose)
	defer cancel()

	err = e.locks.With(docID, func() error {
		var chunks []catalogChunkWithText
		if lockErr := e.runActivity(wfCtx, func(ctx context.Context) error {
			cs, cerr := e.Activities.ChunkDocument(ctx, activities.NoopHeartbeat, in.Content, in.Model, 0, 0)
			if cerr != nil {
				return cerr
			}
			chunks = make([]catalogChunkWithText, len(cs))
			for i, c := range cs {
				chunks[i] = catalogChunkWithText{chunkNumber: c.ChunkNumber, text: c.Text, tokenCount: c.TokenCount}
			}
			return nil
		}); lockErr != nil {
			return lockErr
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.text
		}
		var vectors [][]float32
		if lockErr := e.runActivity(wfCtx, func(ctx context.Context) error {
			vs, eerr := e.Activities.EmbedChunks(ctx, activities.NoopHeartbeat, texts)
			if eerr != nil {
				return eerr
			}
			vectors = vs
			return nil
		}); lockErr != nil {
			return lockErr
		}

		var blobID string
		var meta activities.BlobMeta
		if lockErr := e.runActivity(wfCtx, func(ctx context.Context) error {
			id, m, serr := e.Activities.StoreBlob(ctx, activities.NoopHeartbeat, docID, []byte(in.Content))
			if serr != nil {
				return serr
			}
			blobID, meta = id, m
			return nil
		}); lockErr != nil {
			return lockErr
		}

		doc := buildDocument(docID, in.Format, in.Metadata, blobID, meta)
		catalogChunks := make([]catalog.Chunk, len(chunks))
		totalTokens := 0
		for i, c := range chunks {
			catalogChunks[i] = catalog.Chunk{
				ID:          uuid.NewString(),
				DocumentID:  docID,
				ChunkNumber: c.chunkNumber,
				Text:        c.text,
				TokenCount:  c.tokenCount,
				Embedding:   vectors[i],
			}
			totalTokens += c.tokenCount
		}

		if lockErr := e.runActivity(wfCtx, func(ctx context.Context) error {
			_, perr := e.Activities.PersistDocument(ctx, activities.NoopHeartbeat, doc, catalogChunks)
			return perr
		}); lockErr != nil {
			// Compensation: the blob version written above is now orphaned.
			_ = e.Activities.DeleteBlob(wfCtx, activities.NoopHeartbeat, blobID)
			return lockErr
		}

		for _, c := range catalogChunks {
			e.Activities.CacheChunk(wfCtx, activities.NoopHeartbeat, c.ID, []byte(c.Text))
		}

		if lockErr := e.runActivity(wfCtx, func(ctx context.Context) error {
			return e.Activities.GraphInsert(ctx, activities.NoopHeartbeat, docID, in.Content, texts, in.Metadata)
		}); lockErr != nil {
			return lockErr
		}

		result = StoreDocumentResult{DocumentID: docID, ChunkCount: len(catalogChunks), TokenCount: totalTokens}
		return nil
	})
	return result, err
}

// catalogChunkWithText is an intermediate shape between the chunker's
// output and the catalog.Chunk rows persisted once embeddings are known.
type catalogChunkWithText struct {
	chunkNumber int
	text        string
	tokenCount  int
}

func buildDocument(docID, format string, metadata map[string]any, blobKey string, meta activities.BlobMeta) catalog.Document {
	merged := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		merged[k] = v
	}
	merged["format"] = format
	merged[metaBlobIV] = base64.StdEncoding.EncodeToString(meta.IV)
	merged[metaBlobKey] = base64.StdEncoding.EncodeToString(meta.WrappedKey)
	return catalog.Document{
		ID:          docID,
		Metadata:    merged,
		BlobKey:     blobKey,
		BlobVersion: meta.Version,
	}
}

func blobMetaFromDocument(doc catalog.Document) (activities.BlobMeta, error) {
	ivB64, _ := doc.Metadata[metaBlobIV].(string)
	keyB64, _ := doc.Metadata[metaBlobKey].(string)
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return activities.BlobMeta{}, apperr.Wrap(apperr.Storage, err, "decode blob iv")
	}
	wrapped, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return activities.BlobMeta{}, apperr.Wrap(apperr.Storage, err, "decode wrapped key")
	}
	return activities.BlobMeta{IV: iv, WrappedKey: wrapped, Version: doc.BlobVersion}, nil
}

// RetrieveDocumentInput is the input to retrieve_document.
type RetrieveDocumentInput struct {
	DocumentID  string
	LoadContent bool
}

// RetrieveDocumentResult is what retrieve_document returns.
type RetrieveDocumentResult struct {
	Document catalog.Document
	Chunks   []catalog.Chunk
	Content  []byte
}

// RetrieveDocument looks up a document's catalog row (and chunks), loads its
// blob content if requested, and records the access fire-and-forget, not
// failing the workflow if recording fails.
func (e *Engine) RetrieveDocument(ctx context.Context, in RetrieveDocumentInput) (RetrieveDocumentResult, error) {
	wfCtx, cancel := context.WithTimeout(ctx, e.Timeout.ScheduleToClose)
	defer cancel()

	doc, err := e.Activities.Catalog.GetDocument(wfCtx, in.DocumentID)
	if err != nil {
		return RetrieveDocumentResult{}, err
	}
	chunks, err := e.Activities.Catalog.GetChunks(wfCtx, in.DocumentID)
	if err != nil {
		return RetrieveDocumentResult{}, err
	}

	result := RetrieveDocumentResult{Document: doc, Chunks: chunks}
	if in.LoadContent {
		meta, merr := blobMetaFromDocument(doc)
		if merr != nil {
			return RetrieveDocumentResult{}, merr
		}
		content, rerr := e.Activities.RetrieveBlob(wfCtx, activities.NoopHeartbeat, doc.BlobKey, meta)
		if rerr != nil {
			return RetrieveDocumentResult{}, rerr
		}
		result.Content = content
	}

	go func() {
		recordCtx, recordCancel := context.WithTimeout(context.Background(), e.Timeout.ActivityStartToClose)
		defer recordCancel()
		if rerr := e.Activities.Catalog.RecordAccess(recordCtx, in.DocumentID); rerr != nil {
			e.log.Warn("record access failed", logging.Fields{"document_id": in.DocumentID, "error": rerr.Error()})
		}
	}()

	return result, nil
}

// SearchDocumentsInput is the input to search_documents.
type SearchDocumentsInput struct {
	Query    string
	Strategy string
	Filters  map[string]any
	Limit    int
}

// SearchDocuments delegates to the Retrieval Planner, which owns
// per-strategy dispatch, scoring, and the degraded-result fallback.
func (e *Engine) SearchDocuments(ctx context.Context, in SearchDocumentsInput) (retrieval.SearchResult, error) {
	if e.Planner == nil {
		return retrieval.SearchResult{}, apperr.New(apperr.Workflow, "search_documents: no retrieval planner configured")
	}
	return e.Planner.Search(ctx, retrieval.SearchInput{
		Query:    in.Query,
		Strategy: in.Strategy,
		Filters:  in.Filters,
		Limit:    in.Limit,
	})
}

// UpdateDocumentInput is the input to update_document. A nil Content means a
// metadata-only update, which skips chunking and embedding entirely.
type UpdateDocumentInput struct {
	DocumentID string
	Content    *string
	Metadata   map[string]any
	Model      string
}

// UpdateDocument replaces content (chunk -> embed_chunks -> store_blob ->
// persist_document -> invalidate_cache -> graph_update(force_full=true)) or,
// for metadata-only updates, rewrites only the document row.
func (e *Engine) UpdateDocument(ctx context.Context, in UpdateDocumentInput) error {
	wfCtx, cancel := context.WithTimeout(ctx, e.Timeout.ScheduleToClose)
	defer cancel()

	return e.locks.With(in.DocumentID, func() error {
		existing, err := e.Activities.Catalog.GetDocument(wfCtx, in.DocumentID)
		if err != nil {
			return err
		}

		if in.Content == nil {
			merged := mergeMetadataForUpdate(existing.Metadata, in.Metadata)
			return e.Activities.Catalog.UpdateDocument(wfCtx, in.DocumentID, existing.Title, merged, existing.BlobKey, existing.BlobVersion, nil)
		}

		chunks, err := e.Activities.ChunkDocument(wfCtx, activities.NoopHeartbeat, *in.Content, in.Model, 0, 0)
		if err != nil {
			return err
		}
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := e.Activities.EmbedChunks(wfCtx, activities.NoopHeartbeat, texts)
		if err != nil {
			return err
		}

		oldChunks, err := e.Activities.Catalog.GetChunks(wfCtx, in.DocumentID)
		if err != nil {
			return err
		}

		blobID, meta, err := e.Activities.StoreBlob(wfCtx, activities.NoopHeartbeat, in.DocumentID, []byte(*in.Content))
		if err != nil {
			return err
		}

		merged := mergeMetadataForUpdate(existing.Metadata, in.Metadata)
		merged[metaBlobIV] = base64.StdEncoding.EncodeToString(meta.IV)
		merged[metaBlobKey] = base64.StdEncoding.EncodeToString(meta.WrappedKey)

		newChunks := make([]catalog.Chunk, len(chunks))
		for i, c := range chunks {
			newChunks[i] = catalog.Chunk{
				ID:          uuid.NewString(),
				DocumentID:  in.DocumentID,
				ChunkNumber: c.ChunkNumber,
				Text:        c.Text,
				TokenCount:  c.TokenCount,
				Embedding:   vectors[i],
			}
		}

		if err := e.Activities.Catalog.UpdateDocument(wfCtx, in.DocumentID, existing.Title, merged, blobID, meta.Version, newChunks); err != nil {
			_ = e.Activities.DeleteBlob(wfCtx, activities.NoopHeartbeat, blobID)
			return err
		}

		oldIDs := make([]string, len(oldChunks))
		for i, c := range oldChunks {
			oldIDs[i] = c.ID
		}
		e.Activities.InvalidateCache(wfCtx, activities.NoopHeartbeat, oldIDs)

		return e.Activities.GraphUpdate(wfCtx, activities.NoopHeartbeat, in.DocumentID, *in.Content, texts, merged)
	})
}

// mergeMetadataForUpdate applies the spec's "metadata untouched when absent"
// rule: a caller who didn't send Metadata keeps existing metadata verbatim,
// reserved keys included. A caller who did send Metadata gets it merged over
// the existing reserved keys only, so encryption bookkeeping set by the
// storage layer (_blob_iv, _blob_wrapped_key) can't be clobbered or dropped
// by a caller-supplied metadata map that doesn't mention them.
func mergeMetadataForUpdate(existing, incoming map[string]any) map[string]any {
	if incoming == nil {
		out := make(map[string]any, len(existing))
		for k, v := range existing {
			out[k] = v
		}
		return out
	}
	return mergeReservedMetadata(existing, incoming)
}

func mergeReservedMetadata(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		if isReservedMetaKey(k) {
			out[k] = v
		}
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func isReservedMetaKey(k string) bool {
	return len(k) > 0 && k[0] == '_'
}

// DeleteDocument runs: delete_blob -> catalog delete (cascading) ->
// invalidate_cache -> graph_update(force_full=true, empty).
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) error {
	wfCtx, cancel := context.WithTimeout(ctx, e.Timeout.ScheduleToClose)
	defer cancel()

	return e.locks.With(documentID, func() error {
		doc, err := e.Activities.Catalog.GetDocument(wfCtx, documentID)
		if err != nil {
			return err
		}
		chunks, err := e.Activities.Catalog.GetChunks(wfCtx, documentID)
		if err != nil {
			return err
		}

		if err := e.Activities.DeleteBlob(wfCtx, activities.NoopHeartbeat, doc.BlobKey); err != nil {
			return err
		}
		if err := e.Activities.Catalog.DeleteDocument(wfCtx, documentID); err != nil {
			return err
		}

		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		e.Activities.InvalidateCache(wfCtx, activities.NoopHeartbeat, ids)

		return e.Activities.GraphUpdate(wfCtx, activities.NoopHeartbeat, documentID, "", nil, nil)
	})
}
