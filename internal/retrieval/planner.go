package retrieval

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/intelligencedev/docmemory/internal/activities"
	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/catalog"
	"github.com/intelligencedev/docmemory/internal/kgraph"
	"github.com/intelligencedev/docmemory/internal/logging"
)

// Budgets are the per-strategy latency ceilings from the composition table:
// vector is cheapest (one embedding call plus a kNN lookup), rag_kg is most
// expensive (a graph traversal on top of vector seeding).
var Budgets = map[Strategy]time.Duration{
	Vector: 500 * time.Millisecond,
	LLM:    3000 * time.Millisecond,
	Hybrid: 3500 * time.Millisecond,
	RAGKG:  4000 * time.Millisecond,
}

const (
	defaultCandidatePoolSize = 50
	graphMaxDepth            = kgraph.DefaultMaxDepth
	graphMinSimilarity       = 0.3
)

// ScoredDocument is one ranked result: a document plus its retrieval score
// (distinctness keeps only the best chunk's score per document; the chunk
// itself is not carried).
type ScoredDocument struct {
	Document catalog.Document
	Score    float64
}

// SearchInput is the input to Search.
type SearchInput struct {
	Query    string
	Strategy string
	Filters  map[string]any
	Limit    int
	Model    string
}

// SearchResult is what Search returns. Degraded is set when the planner
// fell back to a partial ranked set after the primary strategy failed or
// exceeded its latency budget.
type SearchResult struct {
	Documents []ScoredDocument
	Degraded  bool
}

// Planner dispatches search_documents to one of the four retrieval
// strategies and ranks the result at document granularity.
type Planner struct {
	Activities *activities.Set
	Catalog    *catalog.Store
	Graph      *kgraph.Graph
	log        logging.Logger
}

// New constructs a Planner. A nil log is replaced with a no-op logger.
func New(acts *activities.Set, cat *catalog.Store, graph *kgraph.Graph, log logging.Logger) *Planner {
	if log == nil {
		log = logging.Noop{}
	}
	return &Planner{Activities: acts, Catalog: cat, Graph: graph, log: log}
}

// candidate is an intermediate ranked reference to a document, carried
// between strategy stages before the final catalog.Document is resolved.
type candidate struct {
	documentID string
	score      float64
}

// Search runs the requested strategy under its latency budget and returns
// an ordered, distinct, filtered result set. Access recording for every
// returned document is fire-and-forget.
func (p *Planner) Search(ctx context.Context, in SearchInput) (SearchResult, error) {
	if in.Query == "" {
		return SearchResult{}, apperr.New(apperr.Validation, "query cannot be empty")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}
	strategy := CanonicalStrategy(in.Strategy)

	budget := Budgets[strategy]
	wfCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var cands []candidate
	var err error
	switch strategy {
	case Vector:
		cands, err = p.vectorCandidates(wfCtx, in.Query, limit)
	case LLM:
		cands, err = p.llmCandidates(wfCtx, in.Query, limit, in.Filters)
	case Hybrid:
		cands, err = p.hybridCandidates(wfCtx, in.Query, limit)
	case RAGKG:
		cands, err = p.ragKGCandidates(wfCtx, in.Query, limit)
	}

	degraded := false
	if err != nil {
		if isEmbeddingUnavailable(err) && strategy != LLM {
			return SearchResult{}, apperr.Wrap(apperr.Upstream, err, "embedding client unavailable")
		}
		degraded = true
	}

	docs, rerr := p.resolveAndRank(ctx, cands, in.Filters, limit)
	if rerr != nil {
		return SearchResult{}, rerr
	}

	result := SearchResult{Documents: docs, Degraded: degraded}
	p.recordAccess(result.Documents)
	return result, nil
}

func isEmbeddingUnavailable(err error) bool {
	return apperr.KindOf(err) == apperr.Upstream && !errors.Is(err, context.DeadlineExceeded)
}

// vectorCandidates: embed(query) -> vector_candidates(k=limit).
func (p *Planner) vectorCandidates(ctx context.Context, query string, limit int) ([]candidate, error) {
	vecs, err := p.Activities.EmbedChunks(ctx, activities.NoopHeartbeat, []string{query})
	if err != nil {
		return nil, err
	}
	matches, err := p.Activities.VectorCandidates(ctx, activities.NoopHeartbeat, vecs[0], "", limit)
	if err != nil {
		return nil, err
	}
	return candidatesFromMatches(matches), nil
}

// llmCandidates: bounded catalog/filters scan -> llm_reason -> llm_select.
func (p *Planner) llmCandidates(ctx context.Context, query string, limit int, filters map[string]any) ([]candidate, error) {
	docs, err := p.Catalog.ListDocuments(ctx, defaultCandidatePoolSize)
	if err != nil {
		return nil, err
	}
	docs = filterDocuments(docs, filters)
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = documentText(d)
	}

	if _, err := p.Activities.LLMReason(ctx, activities.NoopHeartbeat, query, texts); err != nil {
		return nil, err
	}
	selected, err := p.Activities.LLMSelect(ctx, activities.NoopHeartbeat, query, texts)
	if err != nil {
		return nil, err
	}

	ranked := rankSelection(docs, texts, selected)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// hybridCandidates: vector_candidates(k=2*limit) -> llm_select to rerank ->
// top limit.
func (p *Planner) hybridCandidates(ctx context.Context, query string, limit int) ([]candidate, error) {
	vecs, err := p.Activities.EmbedChunks(ctx, activities.NoopHeartbeat, []string{query})
	if err != nil {
		return nil, err
	}
	matches, err := p.Activities.VectorCandidates(ctx, activities.NoopHeartbeat, vecs[0], "", 2*limit)
	if err != nil {
		return nil, err
	}
	initial := candidatesFromMatches(matches)
	if len(initial) == 0 {
		return nil, nil
	}

	docs, texts, err := p.resolveTexts(ctx, initial)
	if err != nil {
		return initial, err
	}
	selected, err := p.Activities.LLMSelect(ctx, activities.NoopHeartbeat, query, texts)
	if err != nil {
		return initial, err
	}
	ranked := rankSelection(docs, texts, selected)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// ragKGCandidates: vector_candidates(k=limit) as seeds -> graph neighbors
// merged by max strength -> llm_select over the merged set -> top limit.
func (p *Planner) ragKGCandidates(ctx context.Context, query string, limit int) ([]candidate, error) {
	vecs, err := p.Activities.EmbedChunks(ctx, activities.NoopHeartbeat, []string{query})
	if err != nil {
		return nil, err
	}
	matches, err := p.Activities.VectorCandidates(ctx, activities.NoopHeartbeat, vecs[0], "", limit)
	if err != nil {
		return nil, err
	}
	seeds := candidatesFromMatches(matches)

	merged := make(map[string]float64, len(seeds))
	for _, s := range seeds {
		merged[s.documentID] = maxScore(merged[s.documentID], s.score)
		related, rerr := p.Graph.FindRelated(s.documentID, graphMaxDepth, graphMinSimilarity)
		if rerr != nil {
			continue // not in the graph yet; the seed itself still counts
		}
		for _, r := range related {
			merged[r.DocumentID] = maxScore(merged[r.DocumentID], r.RelevanceScore)
		}
	}
	mergedList := make([]candidate, 0, len(merged))
	for id, score := range merged {
		mergedList = append(mergedList, candidate{documentID: id, score: score})
	}
	if len(mergedList) == 0 {
		return nil, nil
	}

	docs, texts, err := p.resolveTexts(ctx, mergedList)
	if err != nil {
		return mergedList, err
	}
	selected, err := p.Activities.LLMSelect(ctx, activities.NoopHeartbeat, query, texts)
	if err != nil {
		return mergedList, err
	}
	ranked := rankSelection(docs, texts, selected)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func maxScore(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func candidatesFromMatches(matches []activities.VectorCandidate) []candidate {
	bestPerDoc := make(map[string]float64)
	for _, m := range matches {
		if m.Score < SimilarityThreshold {
			continue
		}
		if existing, ok := bestPerDoc[m.Chunk.DocumentID]; !ok || m.Score > existing {
			bestPerDoc[m.Chunk.DocumentID] = m.Score
		}
	}
	out := make([]candidate, 0, len(bestPerDoc))
	for id, score := range bestPerDoc {
		out = append(out, candidate{documentID: id, score: score})
	}
	return out
}

// resolveTexts loads the catalog document for every candidate, in the same
// order, for strategies that pass document text to the LLM client.
func (p *Planner) resolveTexts(ctx context.Context, cands []candidate) ([]catalog.Document, []string, error) {
	docs := make([]catalog.Document, len(cands))
	texts := make([]string, len(cands))
	for i, c := range cands {
		doc, err := p.Catalog.GetDocument(ctx, c.documentID)
		if err != nil {
			return nil, nil, err
		}
		docs[i] = doc
		texts[i] = documentText(doc)
	}
	return docs, texts, nil
}

// documentText is the stand-in document representation passed to the LLM
// client; the planner ranks against catalog metadata rather than paying to
// decrypt and load every candidate's blob content.
func documentText(d catalog.Document) string {
	if d.Title != "" {
		return d.Title
	}
	return d.ID
}

// rankSelection turns an llm_select response (a reordered subset of texts)
// back into scored candidates, using selection order as score: the first
// selected text scores highest.
func rankSelection(docs []catalog.Document, texts []string, selected []string) []candidate {
	byText := make(map[string][]int, len(texts))
	for i, t := range texts {
		byText[t] = append(byText[t], i)
	}
	used := make(map[int]bool, len(texts))

	out := make([]candidate, 0, len(selected))
	n := len(selected)
	for rank, text := range selected {
		indices := byText[text]
		idx := -1
		for _, cand := range indices {
			if !used[cand] {
				idx = cand
				break
			}
		}
		if idx == -1 {
			continue
		}
		used[idx] = true
		out = append(out, candidate{documentID: docs[idx].ID, score: float64(n-rank) / float64(n)})
	}
	return out
}

// resolveAndRank loads each candidate's Document, applies filters, sorts by
// score descending with last_accessed/document-id tie-breaks, and truncates
// to limit.
func (p *Planner) resolveAndRank(ctx context.Context, cands []candidate, filters map[string]any, limit int) ([]ScoredDocument, error) {
	out := make([]ScoredDocument, 0, len(cands))
	for _, c := range cands {
		doc, err := p.Catalog.GetDocument(ctx, c.documentID)
		if err != nil {
			if apperr.KindOf(err) == apperr.NotFound {
				continue
			}
			return nil, err
		}
		if !matchesFilters(doc.Metadata, filters) {
			continue
		}
		out = append(out, ScoredDocument{Document: doc, Score: c.score})
	}

	sortScoredDocuments(out)

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortScoredDocuments orders by score descending; ties break by
// last_accessed descending, then by document id ascending.
func sortScoredDocuments(docs []ScoredDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ai, bi := lastAccess(a.Document), lastAccess(b.Document)
		if !ai.Equal(bi) {
			return ai.After(bi)
		}
		return a.Document.ID < b.Document.ID
	})
}

func lastAccess(d catalog.Document) time.Time {
	if d.LastAccess == nil {
		return time.Time{}
	}
	return *d.LastAccess
}

// matchesFilters reports whether doc metadata satisfies every key/value
// pair in filters (exact match; dot-separated keys address nested
// maps).
func matchesFilters(metadata map[string]any, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := lookupPath(metadata, key)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func lookupPath(m map[string]any, path string) (any, bool) {
	cur := any(m)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		segment := path[start:i]
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := asMap[segment]
		if !ok {
			return nil, false
		}
		cur = v
		start = i + 1
	}
	return cur, true
}

func filterDocuments(docs []catalog.Document, filters map[string]any) []catalog.Document {
	if len(filters) == 0 {
		return docs
	}
	out := make([]catalog.Document, 0, len(docs))
	for _, d := range docs {
		if matchesFilters(d.Metadata, filters) {
			out = append(out, d)
		}
	}
	return out
}

// recordAccess submits one access-record call per returned document
// without waiting on it, the way the Orchestrator's
// retrieve_document workflow treats access bookkeeping as best-effort.
func (p *Planner) recordAccess(docs []ScoredDocument) {
	for _, d := range docs {
		id := d.Document.ID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.Catalog.RecordAccess(ctx, id); err != nil {
				p.log.Warn("record access failed", logging.Fields{"document_id": id, "error": err.Error()})
			}
		}()
	}
}
