package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/intelligencedev/docmemory/internal/activities"
	"github.com/intelligencedev/docmemory/internal/catalog"
)

func TestCanonicalStrategy_AcceptsBothGraphSpellings(t *testing.T) {
	assert.Equal(t, RAGKG, CanonicalStrategy("rag_kg"))
	assert.Equal(t, RAGKG, CanonicalStrategy("rag+kg"))
	assert.Equal(t, Hybrid, CanonicalStrategy("hybrid"))
	assert.Equal(t, LLM, CanonicalStrategy("llm"))
	assert.Equal(t, Vector, CanonicalStrategy("vector"))
	assert.Equal(t, Vector, CanonicalStrategy("unknown"))
}

func TestCandidatesFromMatches_DropsBelowThresholdAndKeepsBestPerDocument(t *testing.T) {
	matches := []activities.VectorCandidate{
		{Chunk: catalog.Chunk{DocumentID: "doc-a", ID: "c1"}, Score: 0.95},
		{Chunk: catalog.Chunk{DocumentID: "doc-a", ID: "c2"}, Score: 0.60},
		{Chunk: catalog.Chunk{DocumentID: "doc-b", ID: "c3"}, Score: 0.82},
		{Chunk: catalog.Chunk{DocumentID: "doc-c", ID: "c4"}, Score: 0.55},
	}
	cands := candidatesFromMatches(matches)

	byID := make(map[string]float64, len(cands))
	for _, c := range cands {
		byID[c.documentID] = c.score
	}
	assert.Len(t, cands, 2)
	assert.Equal(t, 0.95, byID["doc-a"])
	assert.Equal(t, 0.82, byID["doc-b"])
	_, hasC := byID["doc-c"]
	assert.False(t, hasC)
}

func TestMatchesFilters_ExactAndNestedLookup(t *testing.T) {
	metadata := map[string]any{
		"source": "wiki",
		"author": map[string]any{"team": "platform"},
	}
	assert.True(t, matchesFilters(metadata, map[string]any{"source": "wiki"}))
	assert.True(t, matchesFilters(metadata, map[string]any{"author.team": "platform"}))
	assert.False(t, matchesFilters(metadata, map[string]any{"source": "docs"}))
	assert.False(t, matchesFilters(metadata, map[string]any{"author.team": "infra"}))
	assert.False(t, matchesFilters(metadata, map[string]any{"missing": "x"}))
}

func TestRankSelection_OrdersBySelectionAndSkipsDuplicateTextMismatch(t *testing.T) {
	docs := []catalog.Document{{ID: "doc-0"}, {ID: "doc-1"}, {ID: "doc-2"}}
	texts := []string{"alpha", "beta", "gamma"}
	selected := []string{"gamma", "alpha", "gamma", "delta"}

	ranked := rankSelection(docs, texts, selected)
	assert.Len(t, ranked, 2)
	assert.Equal(t, "doc-2", ranked[0].documentID)
	assert.Equal(t, "doc-0", ranked[1].documentID)
	assert.Greater(t, ranked[0].score, ranked[1].score)
}

func TestSortScoredDocuments_OrdersByScoreThenLastAccessThenID(t *testing.T) {
	now := time.Now()
	older := now.Add(-time.Hour)

	docA := catalog.Document{ID: "doc-a", LastAccess: &now}
	docB := catalog.Document{ID: "doc-b", LastAccess: &older}
	docC := catalog.Document{ID: "doc-c"}

	results := []ScoredDocument{
		{Document: docC, Score: 0.5},
		{Document: docB, Score: 0.9},
		{Document: docA, Score: 0.9},
	}
	sortScoredDocuments(results)
	assert.Equal(t, "doc-a", results[0].Document.ID)
	assert.Equal(t, "doc-b", results[1].Document.ID)
	assert.Equal(t, "doc-c", results[2].Document.ID)
}
