// Package retrieval implements the Retrieval Planner: it dispatches a
// search_documents request to one of four candidate-generation strategies,
// scores and ranks the result at document granularity, and enforces a
// per-strategy latency budget. Grounded on the teacher's
// internal/sefii.Engine.SearchRelevantChunks (vector-then-optional-rerank
// composition) and internal/sefii/rerank.go (score map + sort.Slice
// tie-break ranking), generalized from sefii's single vector-plus-reranker
// pipeline into four selectable strategies, with the reranker's external
// HTTP call replaced by the LLM client's llm_select activity.
package retrieval

import "strings"

// Strategy selects which candidate-generation pipeline search_documents
// runs.
type Strategy string

const (
	Vector Strategy = "vector"
	LLM    Strategy = "llm"
	Hybrid Strategy = "hybrid"
	RAGKG  Strategy = "rag_kg"
)

// CanonicalStrategy normalizes a caller-supplied strategy spelling. The
// source material spells the graph strategy both "rag_kg" and "rag+kg";
// both are accepted and canonicalized to "rag_kg".
func CanonicalStrategy(s string) Strategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rag+kg", "rag_kg":
		return RAGKG
	case "hybrid":
		return Hybrid
	case "llm":
		return LLM
	default:
		return Vector
	}
}

// SimilarityThreshold is the minimum cosine similarity a vector candidate
// must clear to survive into ranking.
const SimilarityThreshold = 0.8
