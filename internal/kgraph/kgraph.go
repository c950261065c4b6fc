// Package kgraph implements the Knowledge Graph: a weighted bipartite graph
// of document and entity nodes used to surface documents related to a given
// one through shared vocabulary. Grounded on
// original_source/src/backend/src/services/graph.py (GraphService:
// SIMILARITY_THRESHOLD, MAX_GRAPH_DEPTH, MIN_RELATIONSHIP_WEIGHT, the
// add_document/update_relationships/find_related_documents trio, entity
// extraction with 0.6/0.4 main-content/chunk weighting normalized against
// the maximum weight, and the weighted BFS over entity neighbors), carried
// into Go with an explicit adjacency map in place of networkx.Graph. Entity
// node ids are derived from the word itself ("entity:"+word), so the same
// entity merges across documents; no random ids are generated.
package kgraph

import (
	"sort"
	"strings"
	"sync"

	"github.com/intelligencedev/docmemory/internal/apperr"
)

// Defaults mirror graph.py's module constants.
const (
	DefaultSimilarityThreshold = 0.7
	DefaultMaxDepth            = 3
	MinEdgeWeight              = 0.1

	mainContentWeight = 0.6
	chunkWeight       = 0.4
)

// RelatedDocument is one result of a related-documents traversal.
type RelatedDocument struct {
	DocumentID     string
	RelevanceScore float64
	Depth          int
	CommonEntities []CommonEntity
}

// CommonEntity names a shared entity and the averaged weight of the two
// documents' edges to it.
type CommonEntity struct {
	Entity string
	Weight float64
}

type nodeKind int

const (
	kindDocument nodeKind = iota
	kindEntity
)

type node struct {
	kind     nodeKind
	metadata map[string]any
}

// edgeKey identifies one document-entity edge, mirroring how the original
// implementation keys networkx edges by the (document_id, entity_id) pair.
type edgeKey struct {
	documentID string
	entity     string
}

// Graph is the bipartite document/entity graph. It is safe for concurrent
// use; reads take a read lock, and the single write path (Upsert) takes the
// exclusive lock, matching GraphService's threading.Lock guarding the whole
// structure.
type Graph struct {
	mu          sync.RWMutex
	nodes       map[string]*node     // document id or "entity:"+word -> node
	edges       map[edgeKey]float64  // weight of document<->entity edge
	docEntities map[string][]string  // document id -> its entity keys, insertion order
}

// New constructs an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:       make(map[string]*node),
		edges:       make(map[edgeKey]float64),
		docEntities: make(map[string][]string),
	}
}

func entityNodeID(word string) string { return "entity:" + word }

// Upsert inserts or replaces a document node's entities, extracted from its
// main content and chunk texts. It takes no force flag (unlike the Python
// update_relationships' force_update): Upsert always replaces the full
// entity set for documentID, since the Activity Set always
// recomputes entities from current content rather than incrementally
// patching them.
func (g *Graph) Upsert(documentID, content string, chunkTexts []string, metadata map[string]any) error {
	if documentID == "" {
		return apperr.New(apperr.Validation, "document id cannot be empty")
	}
	entities := extractEntities(content, chunkTexts)

	g.mu.Lock()
	defer g.mu.Unlock()

	// Remove the document's previous edges before replacing them, pruning any
	// entity left with no remaining document.
	if prev, ok := g.docEntities[documentID]; ok {
		for _, e := range prev {
			delete(g.edges, edgeKey{documentID: documentID, entity: e})
			g.pruneEntityIfOrphaned(e)
		}
	}

	g.nodes[documentID] = &node{kind: kindDocument, metadata: metadata}

	keys := make([]string, 0, len(entities))
	for word, weight := range entities {
		eid := entityNodeID(word)
		if _, ok := g.nodes[eid]; !ok {
			g.nodes[eid] = &node{kind: kindEntity, metadata: map[string]any{"name": word}}
		}
		g.edges[edgeKey{documentID: documentID, entity: eid}] = weight
		keys = append(keys, eid)
	}
	g.docEntities[documentID] = keys
	return nil
}

// Remove deletes a document node and its edges. An entity node whose
// document_count drops to zero as a result is pruned along with it, matching
// GraphService's expectation that the graph never carries orphaned entities.
func (g *Graph) Remove(documentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.docEntities[documentID] {
		delete(g.edges, edgeKey{documentID: documentID, entity: e})
		g.pruneEntityIfOrphaned(e)
	}
	delete(g.docEntities, documentID)
	delete(g.nodes, documentID)
}

// pruneEntityIfOrphaned deletes entityID's node once no edge references it,
// i.e. its document_count has reached zero. Caller must hold the write lock.
func (g *Graph) pruneEntityIfOrphaned(entityID string) {
	for k := range g.edges {
		if k.entity == entityID {
			return
		}
	}
	delete(g.nodes, entityID)
}

// FindRelated performs a weighted breadth-first traversal from documentID
// through shared entities, matching find_related_documents: depth bounded by
// maxDepth (0 uses DefaultMaxDepth), path strength is the product of edge
// weights along the path, and a candidate is only admitted (and only then
// explored further) once its path strength clears minSimilarity (0 uses
// DefaultSimilarityThreshold). Results are capped at 100 and sorted by
// relevance score descending.
func (g *Graph) FindRelated(documentID string, maxDepth int, minSimilarity float64) ([]RelatedDocument, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if minSimilarity <= 0 {
		minSimilarity = DefaultSimilarityThreshold
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[documentID]; !ok {
		return nil, apperr.Newf(apperr.NotFound, "document %q not found in knowledge graph", documentID)
	}

	type queued struct {
		id       string
		depth    int
		strength float64
	}

	visited := map[string]bool{documentID: true}
	queue := []queued{{id: documentID, depth: 0, strength: 1.0}}
	var results []RelatedDocument

	for len(queue) > 0 && len(results) < 100 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}

		for _, entityID := range g.docEntities[cur.id] {
			for otherDoc, weight := range g.documentsAtEntity(entityID) {
				if visited[otherDoc] {
					continue
				}
				strength := cur.strength * weight
				if strength < minSimilarity {
					continue
				}
				visited[otherDoc] = true
				queue = append(queue, queued{id: otherDoc, depth: cur.depth + 1, strength: strength})
				results = append(results, RelatedDocument{
					DocumentID:     otherDoc,
					RelevanceScore: strength,
					Depth:          cur.depth + 1,
					CommonEntities: g.commonEntitiesLocked(documentID, otherDoc),
				})
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].RelevanceScore > results[j].RelevanceScore })
	if len(results) > 100 {
		results = results[:100]
	}
	return results, nil
}

// documentsAtEntity returns every document sharing entityID along with the
// edge weight of its own connection to that entity. Caller must hold at
// least a read lock.
func (g *Graph) documentsAtEntity(entityID string) map[string]float64 {
	out := make(map[string]float64)
	for k, w := range g.edges {
		if k.entity == entityID {
			out[k.documentID] = w
		}
	}
	return out
}

// commonEntitiesLocked returns the entities shared by two documents with
// their averaged edge weight, sorted by weight descending, matching
// _get_common_entities. Caller must hold at least a read lock.
func (g *Graph) commonEntitiesLocked(docA, docB string) []CommonEntity {
	setA := make(map[string]bool, len(g.docEntities[docA]))
	for _, e := range g.docEntities[docA] {
		setA[e] = true
	}
	var common []CommonEntity
	for _, e := range g.docEntities[docB] {
		if !setA[e] {
			continue
		}
		wA := g.edges[edgeKey{documentID: docA, entity: e}]
		wB := g.edges[edgeKey{documentID: docB, entity: e}]
		name := strings.TrimPrefix(e, "entity:")
		common = append(common, CommonEntity{Entity: name, Weight: (wA + wB) / 2})
	}
	sort.Slice(common, func(i, j int) bool { return common[i].Weight > common[j].Weight })
	return common
}

// extractEntities implements _extract_entities/_process_content: lowercase,
// split on whitespace, keep words longer than 3 characters, weight main
// content at 0.6 and chunk text at 0.4 of their respective within-text
// frequency, then normalize every entity's combined weight against the
// maximum observed weight and floor it at MinEdgeWeight.
func extractEntities(content string, chunkTexts []string) map[string]float64 {
	combined := make(map[string]float64)

	addWeighted := func(text string, scale float64) {
		freqs := wordFrequencies(text)
		for word, freq := range freqs {
			combined[word] += freq * scale
		}
	}
	addWeighted(content, mainContentWeight)
	for _, c := range chunkTexts {
		addWeighted(c, chunkWeight)
	}

	if len(combined) == 0 {
		return combined
	}
	maxWeight := 0.0
	for _, w := range combined {
		if w > maxWeight {
			maxWeight = w
		}
	}
	if maxWeight == 0 {
		maxWeight = 1.0
	}

	out := make(map[string]float64, len(combined))
	for word, w := range combined {
		norm := w / maxWeight
		if norm < MinEdgeWeight {
			norm = MinEdgeWeight
		}
		out[word] = norm
	}
	return out
}

// wordFrequencies lowercases text, splits on whitespace, keeps words longer
// than 3 characters, and returns each word's fraction of the total word
// count — the same normalization _process_content applies before the
// document-level weighting pass.
func wordFrequencies(text string) map[string]float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, w := range words {
		w = trimPunct(w)
		if len(w) > 3 {
			counts[w]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	total := float64(len(words))
	out := make(map[string]float64, len(counts))
	for w, c := range counts {
		out[w] = float64(c) / total
	}
	return out
}

func trimPunct(w string) string {
	return strings.Trim(w, ".,;:!?\"'()[]{}")
}
