// Package docservice implements the Document Service: a thin façade over
// the Orchestrator that translates plain request structs into workflow
// input, returns strongly-typed results, and leaves orchestrator errors in
// the shared apperr taxonomy rather than inventing a second one. Grounded
// on the teacher's internal/rag/service package (a narrow façade type
// wrapping a lower-level engine, returning request/response structs to its
// HTTP handlers) generalized from a single RAG pipeline call to the five
// document-memory operations.
package docservice

import (
	"context"

	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/catalog"
	"github.com/intelligencedev/docmemory/internal/orchestrator"
	"github.com/intelligencedev/docmemory/internal/retrieval"
)

// MaxQueryLength bounds search_documents' query input.
const MaxQueryLength = 1000

// MaxSearchLimit bounds search_documents' limit input.
const MaxSearchLimit = 100

// Service is the public entry point into the document memory system.
type Service struct {
	engine *orchestrator.Engine
}

// New constructs a Service over a configured Orchestrator Engine.
func New(engine *orchestrator.Engine) *Service {
	return &Service{engine: engine}
}

// StoreRequest is the input to Store.
type StoreRequest struct {
	RequestID string
	Content   []byte
	Format    string
	Metadata  map[string]any
	Model     string
}

// StoreResponse is the output of Store.
type StoreResponse struct {
	DocumentID string
	ChunkCount int
	TokenCount int
}

// Store ingests a document: validate, chunk, embed, persist.
func (s *Service) Store(ctx context.Context, req StoreRequest) (StoreResponse, error) {
	if len(req.Content) == 0 {
		return StoreResponse{}, apperr.New(apperr.Validation, "content cannot be empty")
	}
	result, err := s.engine.StoreDocument(ctx, orchestrator.StoreDocumentInput{
		RequestID: req.RequestID,
		Content:   string(req.Content),
		Format:    req.Format,
		Metadata:  req.Metadata,
		Model:     req.Model,
	})
	if err != nil {
		return StoreResponse{}, err
	}
	return StoreResponse{DocumentID: result.DocumentID, ChunkCount: result.ChunkCount, TokenCount: result.TokenCount}, nil
}

// RetrieveRequest is the input to Retrieve.
type RetrieveRequest struct {
	DocumentID  string
	LoadContent bool
}

// RetrieveResponse is the output of Retrieve.
type RetrieveResponse struct {
	Document catalog.Document
	Chunks   []catalog.Chunk
	Content  []byte
}

// Retrieve loads a document's catalog row, its chunks, and optionally its
// blob content.
func (s *Service) Retrieve(ctx context.Context, req RetrieveRequest) (RetrieveResponse, error) {
	if req.DocumentID == "" {
		return RetrieveResponse{}, apperr.New(apperr.Validation, "document_id cannot be empty")
	}
	result, err := s.engine.RetrieveDocument(ctx, orchestrator.RetrieveDocumentInput{
		DocumentID:  req.DocumentID,
		LoadContent: req.LoadContent,
	})
	if err != nil {
		return RetrieveResponse{}, err
	}
	return RetrieveResponse{Document: result.Document, Chunks: result.Chunks, Content: result.Content}, nil
}

// SearchRequest is the input to Search.
type SearchRequest struct {
	Query    string
	Strategy string
	Filters  map[string]any
	Limit    int
}

// SearchResponse is the output of Search.
type SearchResponse struct {
	Results  []retrieval.ScoredDocument
	Degraded bool
}

// Search runs one of the four retrieval strategies and returns a ranked,
// distinct, filtered document list.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if req.Query == "" {
		return SearchResponse{}, apperr.New(apperr.Validation, "query cannot be empty")
	}
	if len(req.Query) > MaxQueryLength {
		return SearchResponse{}, apperr.Newf(apperr.Validation, "query exceeds %d characters", MaxQueryLength)
	}
	if req.Limit < 0 || req.Limit > MaxSearchLimit {
		return SearchResponse{}, apperr.Newf(apperr.Validation, "limit must be in [0, %d]", MaxSearchLimit)
	}
	if req.Limit == 0 {
		return SearchResponse{}, nil
	}

	result, err := s.engine.SearchDocuments(ctx, orchestrator.SearchDocumentsInput{
		Query:    req.Query,
		Strategy: req.Strategy,
		Filters:  req.Filters,
		Limit:    req.Limit,
	})
	if err != nil {
		return SearchResponse{}, err
	}
	return SearchResponse{Results: result.Documents, Degraded: result.Degraded}, nil
}

// UpdateRequest is the input to Update. A nil Content means a
// metadata-only update.
type UpdateRequest struct {
	DocumentID string
	Content    []byte
	Metadata   map[string]any
	Model      string
}

// Update replaces a document's content and/or metadata.
func (s *Service) Update(ctx context.Context, req UpdateRequest) error {
	if req.DocumentID == "" {
		return apperr.New(apperr.Validation, "document_id cannot be empty")
	}
	var content *string
	if req.Content != nil {
		c := string(req.Content)
		content = &c
	}
	return s.engine.UpdateDocument(ctx, orchestrator.UpdateDocumentInput{
		DocumentID: req.DocumentID,
		Content:    content,
		Metadata:   req.Metadata,
		Model:      req.Model,
	})
}

// Delete removes a document and its derived state (blob, chunks, cache
// entries, graph projection).
func (s *Service) Delete(ctx context.Context, documentID string) error {
	if documentID == "" {
		return apperr.New(apperr.Validation, "document_id cannot be empty")
	}
	return s.engine.DeleteDocument(ctx, documentID)
}
