// Package catalog implements the Catalog Store: the transactional system of
// record for documents, their chunks, and chunk embeddings. Grounded on the
// teacher's internal/persistence/databases package (pgxpool usage in
// pool.go, the pgvector-backed VectorStore in postgres_vector.go for the
// vector column and similarity operator, and postgres_graph.go for the
// plain-SQL upsert style), generalized from the teacher's single flat
// `embeddings` table to the spec's documents/chunks schema with named
// constraints and cascading delete.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

// Document is a catalog entry for one logical document. Content lives in
// the Blob Store; the catalog holds metadata and the chunk/embedding index
// over it.
type Document struct {
	ID          string
	Title       string
	Metadata    map[string]any
	BlobKey     string
	BlobVersion string
	TokenCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	AccessCount int64
	LastAccess  *time.Time
}

// Chunk is one chunk of a Document, with its embedding if computed.
type Chunk struct {
	ID          string
	DocumentID  string
	ChunkNumber int
	Text        string
	TokenCount  int
	Embedding   []float32
}

// VectorMatch is one result of a similarity search.
type VectorMatch struct {
	Chunk
	Score float64
}

// Store is the Catalog Store. It owns three tables: documents, chunks, and
// chunk_embeddings (kept separate from chunks so a chunk can exist, and be
// retrieved by text, before its embedding has been computed).
type Store struct {
	pool      *pgxpool.Pool
	vectorDim int
}

// New constructs a Store and ensures its schema exists. vectorDim is the
// fixed embedding dimensionality enforced by the chunk_embeddings table.
func New(ctx context.Context, pool *pgxpool.Pool, vectorDim int) (*Store, error) {
	s := &Store{pool: pool, vectorDim: vectorDim}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			blob_key TEXT NOT NULL,
			blob_version TEXT NOT NULL,
			token_count INT NOT NULL DEFAULT 0,
			access_count BIGINT NOT NULL DEFAULT 0,
			last_access TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_number INT NOT NULL,
			text TEXT NOT NULL,
			token_count INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT fk_chunk_doc FOREIGN KEY (document_id)
				REFERENCES documents(id) ON DELETE CASCADE,
			CONSTRAINT uq_chunk_doc_number UNIQUE (document_id, chunk_number),
			CONSTRAINT ck_chunk_tokens_nonneg CHECK (token_count >= 0)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
			embedding vector(%d) NOT NULL
		)`, s.vectorDim),
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return apperr.Wrap(apperr.Storage, err, "ensure catalog schema")
		}
	}
	return nil
}

// CreateDocument inserts a document together with its chunks and any
// embeddings already computed for them, in a single transaction: either the
// whole document is visible to readers or none of it is.
func (s *Store) CreateDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err, "begin create document")
	}
	defer tx.Rollback(ctx)

	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.Validation, err, "marshal document metadata")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, title, metadata, blob_key, blob_version, token_count)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.Title, metaJSON, doc.BlobKey, doc.BlobVersion, sumTokenCounts(chunks))
	if err != nil {
		return apperr.Wrap(apperr.Storage, err, "insert document")
	}

	if err := s.insertChunks(ctx, tx, doc.ID, chunks); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Storage, err, "commit create document")
	}
	return nil
}

// sumTokenCounts is the storage-side Token-sum invariant: a document's
// token_count is defined as the sum of its (post-overlap-fold) chunk
// token counts, never measured independently against the raw blob.
func sumTokenCounts(chunks []Chunk) int {
	total := 0
	for _, c := range chunks {
		total += c.TokenCount
	}
	return total
}

func (s *Store) insertChunks(ctx context.Context, tx pgx.Tx, documentID string, chunks []Chunk) error {
	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, chunk_number, text, token_count)
			VALUES ($1, $2, $3, $4, $5)`,
			c.ID, documentID, c.ChunkNumber, c.Text, c.TokenCount)
		if err != nil {
			return apperr.Wrap(apperr.Storage, err, "insert chunk")
		}
		if len(c.Embedding) == 0 {
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO chunk_embeddings (chunk_id, embedding)
			VALUES ($1, $2)`,
			c.ID, pgvector.NewVector(c.Embedding))
		if err != nil {
			return apperr.Wrap(apperr.Storage, err, "insert chunk embedding")
		}
	}
	return nil
}

// UpdateDocument replaces a document's chunk set transactionally: the old
// chunks (and their embeddings, via ON DELETE CASCADE) are removed and the
// new ones inserted, with the document row's blob pointer and updated_at
// bumped in the same transaction.
func (s *Store) UpdateDocument(ctx context.Context, documentID, title string, metadata map[string]any, blobKey, blobVersion string, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err, "begin update document")
	}
	defer tx.Rollback(ctx)

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return apperr.Wrap(apperr.Validation, err, "marshal document metadata")
	}

	tag, err := tx.Exec(ctx, `
		UPDATE documents SET title=$2, metadata=$3, blob_key=$4, blob_version=$5, token_count=$6, updated_at=now()
		WHERE id=$1`,
		documentID, title, metaJSON, blobKey, blobVersion, sumTokenCounts(chunks))
	if err != nil {
		return apperr.Wrap(apperr.Storage, err, "update document")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "document %q not found", documentID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id=$1`, documentID); err != nil {
		return apperr.Wrap(apperr.Storage, err, "delete old chunks")
	}
	if err := s.insertChunks(ctx, tx, documentID, chunks); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.Storage, err, "commit update document")
	}
	return nil
}

// DeleteDocument removes a document and, via ON DELETE CASCADE, its chunks
// and their embeddings.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err, "delete document")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "document %q not found", documentID)
	}
	return nil
}

// GetDocument loads a document's row. It does not load chunks; call
// GetChunks separately.
func (s *Store) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	var metaJSON []byte
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, metadata, blob_key, blob_version, token_count, access_count, last_access, created_at, updated_at
		FROM documents WHERE id=$1`, documentID)
	if err := row.Scan(&doc.ID, &doc.Title, &metaJSON, &doc.BlobKey, &doc.BlobVersion,
		&doc.TokenCount, &doc.AccessCount, &doc.LastAccess, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Document{}, apperr.Newf(apperr.NotFound, "document %q not found", documentID)
		}
		return Document{}, apperr.Wrap(apperr.Storage, err, "get document")
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &doc.Metadata)
	}
	return doc, nil
}

// GetChunks loads every chunk of a document, in chunk_number order, with
// embeddings populated where present.
func (s *Store) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.chunk_number, c.text, c.token_count, e.embedding
		FROM chunks c
		LEFT JOIN chunk_embeddings e ON e.chunk_id = c.id
		WHERE c.document_id = $1
		ORDER BY c.chunk_number ASC`, documentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "get chunks")
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var emb *pgvector.Vector
		if err := rows.Scan(&c.ID, &c.ChunkNumber, &c.Text, &c.TokenCount, &emb); err != nil {
			return nil, apperr.Wrap(apperr.Storage, err, "scan chunk")
		}
		c.DocumentID = documentID
		if emb != nil {
			c.Embedding = emb.Slice()
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "iterate chunks")
	}
	return out, nil
}

// RecordAccess bumps a document's access counter and last-access timestamp.
// It is not idempotent: every call adds one to access_count, so a call
// retried after a timeout whose first attempt actually committed counts the
// same logical access twice. The chunk/document rows themselves are never
// partially written thanks to the transactional inserts above.
func (s *Store) RecordAccess(ctx context.Context, documentID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET access_count = access_count + 1, last_access = now()
		WHERE id=$1`, documentID)
	if err != nil {
		return apperr.Wrap(apperr.Storage, err, "record access")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "document %q not found", documentID)
	}
	return nil
}

// ListDocuments returns up to limit documents ordered by most recently
// updated, for strategies that need a bounded candidate set independent of
// a query vector (the llm retrieval strategy's catalog/filters scan).
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, metadata, blob_key, blob_version, token_count, access_count, last_access, created_at, updated_at
		FROM documents ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "list documents")
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var doc Document
		var metaJSON []byte
		if err := rows.Scan(&doc.ID, &doc.Title, &metaJSON, &doc.BlobKey, &doc.BlobVersion,
			&doc.TokenCount, &doc.AccessCount, &doc.LastAccess, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Storage, err, "scan document")
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &doc.Metadata)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "iterate documents")
	}
	return out, nil
}

// VectorSearch returns the k chunks whose embeddings are closest to query by
// cosine similarity, optionally restricted to one document.
func (s *Store) VectorSearch(ctx context.Context, query []float32, k int, documentID string) ([]VectorMatch, error) {
	if k <= 0 {
		k = 10
	}
	vec := pgvector.NewVector(query)

	var rows pgx.Rows
	var err error
	if documentID != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT c.id, c.document_id, c.chunk_number, c.text, c.token_count,
			       1 - (e.embedding <=> $1) AS score
			FROM chunk_embeddings e
			JOIN chunks c ON c.id = e.chunk_id
			WHERE c.document_id = $3
			ORDER BY e.embedding <=> $1 ASC
			LIMIT $2`, vec, k, documentID)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT c.id, c.document_id, c.chunk_number, c.text, c.token_count,
			       1 - (e.embedding <=> $1) AS score
			FROM chunk_embeddings e
			JOIN chunks c ON c.id = e.chunk_id
			ORDER BY e.embedding <=> $1 ASC
			LIMIT $2`, vec, k)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "vector search")
	}
	defer rows.Close()

	var out []VectorMatch
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.ChunkNumber, &m.Text, &m.TokenCount, &m.Score); err != nil {
			return nil, apperr.Wrap(apperr.Storage, err, "scan vector match")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "iterate vector matches")
	}
	return out, nil
}
